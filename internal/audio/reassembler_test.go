package audio

import (
	"bytes"
	"context"
	"testing"
)

func webmFragment(n int) []byte {
	f := make([]byte, n)
	copy(f, []byte{0x1A, 0x45, 0xDF, 0xA3})
	return f
}

func TestValidMagicAcceptsKnownContainers(t *testing.T) {
	if !ValidMagic(webmFragment(20)) {
		t.Fatalf("expected WebM magic to validate")
	}
	if !ValidMagic(append([]byte("RIFF"), make([]byte, 16)...)) {
		t.Fatalf("expected RIFF magic to validate")
	}
}

func TestValidMagicRejectsUnknownOrShort(t *testing.T) {
	if ValidMagic([]byte{0, 1, 2}) {
		t.Fatalf("expected short fragment to be rejected")
	}
	if ValidMagic([]byte("junkjunkjunk")) {
		t.Fatalf("expected unrecognized header to be rejected")
	}
}

func TestIsLargeAtExactThreshold(t *testing.T) {
	exact := make([]byte, LargeThreshold)
	if !IsLarge(exact) {
		t.Fatalf("expected exact threshold size to be large")
	}
	underThreshold := make([]byte, LargeThreshold-1)
	if IsLarge(underThreshold) {
		t.Fatalf("expected one byte under threshold not to be large")
	}
}

func TestAddDropsInvalidFragments(t *testing.T) {
	r := NewReassembler(16000, nil, nil)
	accepted, large := r.Add([]byte("bad"))
	if accepted || large {
		t.Fatalf("expected invalid fragment to be rejected")
	}
	if len(r.Fragments()) != 0 {
		t.Fatalf("expected no fragments accumulated")
	}
}

func TestAddFlagsLargeFragment(t *testing.T) {
	r := NewReassembler(16000, nil, nil)
	big := webmFragment(LargeThreshold + 1)
	accepted, large := r.Add(big)
	if !accepted || !large {
		t.Fatalf("expected large valid fragment to be accepted and flagged")
	}
}

func TestFinishUsesDecoderWhenAvailable(t *testing.T) {
	decodeCalled := false
	decoder := func(fragments [][]byte, sampleRate int) ([]byte, error) {
		decodeCalled = true
		return bytes.Join(fragments, nil), nil
	}
	r := NewReassembler(16000, decoder, nil)
	r.Add(webmFragment(20))

	got, err := r.Finish(context.Background(), func(ctx context.Context, wav []byte) (string, error) {
		return "merged transcript", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decodeCalled {
		t.Fatalf("expected decoder to be invoked")
	}
	if got != "merged transcript" {
		t.Fatalf("got %q", got)
	}
}

func TestFinishFallsBackToPerFragmentTranscription(t *testing.T) {
	calls := 0
	transcriber := func(ctx context.Context, fragment []byte) (string, error) {
		calls++
		if calls == 1 {
			return "hello", nil
		}
		return "world", nil
	}
	r := NewReassembler(16000, nil, transcriber)
	r.Add(webmFragment(20))
	r.Add(webmFragment(20))

	got, err := r.Finish(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello world" {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
}

func TestFinishEmptyFragmentsReturnsEmptyString(t *testing.T) {
	r := NewReassembler(16000, nil, nil)
	got, err := r.Finish(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty transcript, got %q", got)
	}
}
