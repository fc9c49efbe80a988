package observability

import "testing"

func TestRequestTrackerEndRequestRecordsStagesAndTotal(t *testing.T) {
	tr := newRequestTracker(8)
	tr.StartRequest("c1", "s1", "u1")
	tr.StartStage("c1", "stt")
	tr.EndStage("c1", "stt")
	tr.EndRequest("c1", true, "", false)

	snap := tr.Stats(0)
	if snap.Count != 1 {
		t.Fatalf("Count = %d, want 1", snap.Count)
	}
	if snap.SuccessCount != 1 {
		t.Fatalf("SuccessCount = %d, want 1", snap.SuccessCount)
	}

	var sawTotal bool
	for _, s := range snap.Stages {
		if s.Stage == "total" {
			sawTotal = true
		}
	}
	if !sawTotal {
		t.Fatalf("expected a total stage entry, got %+v", snap.Stages)
	}
}

func TestRequestTrackerDiscardDoesNotRecord(t *testing.T) {
	tr := newRequestTracker(8)
	tr.StartRequest("c1", "s1", "u1")
	tr.Discard("c1")

	snap := tr.Stats(0)
	if snap.Count != 0 {
		t.Fatalf("Count = %d, want 0 after discard", snap.Count)
	}
}

func TestRequestTrackerStatsCountsStageSamples(t *testing.T) {
	tr := newRequestTracker(8)
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		tr.StartRequest(id, "s1", "u1")
		tr.StartStage(id, "llm")
		tr.EndStage(id, "llm")
		tr.EndRequest(id, true, "", false)
	}

	snap := tr.Stats(0)
	if snap.Count != 5 {
		t.Fatalf("Count = %d, want 5", snap.Count)
	}
	for _, s := range snap.Stages {
		if s.Stage == "llm" && s.Samples != 5 {
			t.Fatalf("llm samples = %d, want 5", s.Samples)
		}
	}
}

func TestRequestTrackerRingEvictsOldestBeyondCapacity(t *testing.T) {
	tr := newRequestTracker(3)
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		tr.StartRequest(id, "s1", "u1")
		tr.EndRequest(id, true, "", false)
	}

	snap := tr.Stats(0)
	if snap.Count != 3 {
		t.Fatalf("Count = %d, want 3 (ring capacity)", snap.Count)
	}
}

func TestRequestTrackerErrorRate(t *testing.T) {
	tr := newRequestTracker(8)
	tr.StartRequest("ok", "s1", "u1")
	tr.EndRequest("ok", true, "", false)
	tr.StartRequest("fail", "s1", "u1")
	tr.EndRequest("fail", false, "provider_failure", false)

	snap := tr.Stats(0)
	if snap.ErrorRate != 0.5 {
		t.Fatalf("ErrorRate = %v, want 0.5", snap.ErrorRate)
	}
}
