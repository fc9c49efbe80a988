package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Stages is the fixed set of per-turn latency stages the spec tracks.
var Stages = []string{"stt", "llm", "tts", "search", "total"}

// TurnRecord is one completed (or discarded-then-dropped) turn's timing
// and outcome, the unit the metrics ring retains.
type TurnRecord struct {
	CorrelationID string
	SessionID     string
	UserID        string
	StageMS       map[string]float64
	Success       bool
	ErrKind       string
	UsedSearch    bool
	EndedAt       time.Time
}

type inflightTurn struct {
	sessionID  string
	userID     string
	startedAt  time.Time
	stageStart map[string]time.Time
	stageMS    map[string]float64
}

// requestTracker is a bounded ring of TurnRecord plus the in-flight turns
// still accumulating stage timings, keyed by correlation id.
type requestTracker struct {
	mu       sync.Mutex
	capacity int
	inflight map[string]*inflightTurn
	ring     []TurnRecord
	next     int
	filled   bool
}

func newRequestTracker(capacity int) *requestTracker {
	if capacity <= 0 {
		capacity = 1000
	}
	return &requestTracker{
		capacity: capacity,
		inflight: make(map[string]*inflightTurn),
		ring:     make([]TurnRecord, capacity),
	}
}

func (t *requestTracker) StartRequest(correlationID, sessionID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[correlationID] = &inflightTurn{
		sessionID:  sessionID,
		userID:     userID,
		startedAt:  time.Now(),
		stageStart: make(map[string]time.Time),
		stageMS:    make(map[string]float64),
	}
}

func (t *requestTracker) StartStage(correlationID, stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	turn, ok := t.inflight[correlationID]
	if !ok {
		return
	}
	turn.stageStart[stage] = time.Now()
}

func (t *requestTracker) EndStage(correlationID, stage string) (ms float64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	turn, found := t.inflight[correlationID]
	if !found {
		return 0, false
	}
	start, started := turn.stageStart[stage]
	if !started {
		return 0, false
	}
	ms = float64(time.Since(start).Milliseconds())
	turn.stageMS[stage] = ms
	return ms, true
}

func (t *requestTracker) EndRequest(correlationID string, success bool, errKind string, usedSearch bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	turn, ok := t.inflight[correlationID]
	if !ok {
		return
	}
	delete(t.inflight, correlationID)

	record := TurnRecord{
		CorrelationID: correlationID,
		SessionID:     turn.sessionID,
		UserID:        turn.userID,
		StageMS:       turn.stageMS,
		Success:       success,
		ErrKind:       errKind,
		UsedSearch:    usedSearch,
		EndedAt:       time.Now(),
	}
	record.StageMS["total"] = float64(time.Since(turn.startedAt).Milliseconds())

	t.ring[t.next] = record
	t.next++
	if t.next >= t.capacity {
		t.next = 0
		t.filled = true
	}
}

// Discard drops an in-flight turn without recording it (the empty
// transcript case — not a failure, just never happened).
func (t *requestTracker) Discard(correlationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, correlationID)
}

func (t *requestTracker) recent(lastN int) []TurnRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.next
	if t.filled {
		n = t.capacity
	}
	if n == 0 {
		return nil
	}

	ordered := make([]TurnRecord, n)
	if !t.filled {
		copy(ordered, t.ring[:n])
	} else {
		copy(ordered, t.ring[t.next:])
		copy(ordered[t.capacity-t.next:], t.ring[:t.next])
	}

	if lastN > 0 && lastN < len(ordered) {
		ordered = ordered[len(ordered)-lastN:]
	}
	return ordered
}

// StageStats summarizes one stage's latency distribution over a window.
type StageStats struct {
	Stage   string  `json:"stage"`
	Samples int     `json:"samples"`
	MeanMS  float64 `json:"mean_ms"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
	P99MS   float64 `json:"p99_ms"`
}

// StatsSnapshot is the aggregate turn-latency report served by the
// admin metrics endpoint.
type StatsSnapshot struct {
	GeneratedAt     time.Time    `json:"generated_at"`
	Count           int          `json:"count"`
	SuccessCount    int          `json:"success_count"`
	ErrorCount      int          `json:"error_count"`
	ErrorRate       float64      `json:"error_rate"`
	UsedSearchCount int          `json:"used_search_count"`
	Stages          []StageStats `json:"stages"`
}

func (t *requestTracker) Stats(lastN int) StatsSnapshot {
	records := t.recent(lastN)

	snap := StatsSnapshot{GeneratedAt: time.Now().UTC(), Count: len(records)}
	byStage := make(map[string][]float64, len(Stages))

	for _, r := range records {
		if r.Success {
			snap.SuccessCount++
		} else {
			snap.ErrorCount++
		}
		if r.UsedSearch {
			snap.UsedSearchCount++
		}
		for stage, ms := range r.StageMS {
			byStage[stage] = append(byStage[stage], ms)
		}
	}
	if snap.Count > 0 {
		snap.ErrorRate = round2(float64(snap.ErrorCount) / float64(snap.Count))
	}

	stages := make([]StageStats, 0, len(byStage))
	for _, stage := range Stages {
		values := byStage[stage]
		if len(values) == 0 {
			continue
		}
		sort.Float64s(values)
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		stages = append(stages, StageStats{
			Stage:   stage,
			Samples: len(values),
			MeanMS:  round2(sum / float64(len(values))),
			P50MS:   round2(quantile(values, 0.50)),
			P95MS:   round2(quantile(values, 0.95)),
			P99MS:   round2(quantile(values, 0.99)),
		})
	}
	snap.Stages = stages
	return snap
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
