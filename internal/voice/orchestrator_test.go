package voice

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/antoniostano/samantha/internal/audio"
	"github.com/antoniostano/samantha/internal/cache"
	"github.com/antoniostano/samantha/internal/kvstore"
	"github.com/antoniostano/samantha/internal/memory"
	"github.com/antoniostano/samantha/internal/observability"
	"github.com/antoniostano/samantha/internal/protocol"
	"github.com/antoniostano/samantha/internal/provider"
	"github.com/antoniostano/samantha/internal/session"
)

type stubSTT struct{ transcript string }

func (s *stubSTT) Name() string                                     { return "stub-stt" }
func (s *stubSTT) Priority() int                                     { return 0 }
func (s *stubSTT) HealthCheck(context.Context) (bool, error)        { return true, nil }
func (s *stubSTT) Transcribe(context.Context, []byte) (string, error) { return s.transcript, nil }

type stubLLM struct {
	reply        string
	searchNeeded bool
	calls        int
}

func (l *stubLLM) Name() string                              { return "stub-llm" }
func (l *stubLLM) Priority() int                              { return 0 }
func (l *stubLLM) HealthCheck(context.Context) (bool, error) { return true, nil }
func (l *stubLLM) Complete(context.Context, []provider.Message) (string, error) {
	return l.reply, nil
}
func (l *stubLLM) StreamComplete(context.Context, []provider.Message) (<-chan provider.Token, error) {
	l.calls++
	return tokenChan(l.reply), nil
}
func (l *stubLLM) StreamCompleteWithContext(context.Context, []provider.Message, string, string) (<-chan provider.Token, error) {
	l.calls++
	return tokenChan(l.reply), nil
}
func (l *stubLLM) DetectSearchNeeded(context.Context, string) (bool, string, error) {
	return l.searchNeeded, "weather today", nil
}

func tokenChan(reply string) <-chan provider.Token {
	ch := make(chan provider.Token, 4)
	words := strings.Fields(reply)
	for i, w := range words {
		text := w
		if i < len(words)-1 {
			text += " "
		} else {
			text += ".\n"
		}
		ch <- provider.Token{Text: text}
	}
	ch <- provider.Token{Done: true}
	close(ch)
	return ch
}

type stubTTS struct{ calls int }

func (t *stubTTS) Name() string                              { return "stub-tts" }
func (t *stubTTS) Priority() int                              { return 0 }
func (t *stubTTS) HealthCheck(context.Context) (bool, error) { return true, nil }
func (t *stubTTS) Synthesize(context.Context, string, provider.TTSSettings) ([]byte, error) {
	t.calls++
	return []byte("audio-bytes"), nil
}

type stubSearch struct{ calls int }

func (s *stubSearch) Name() string                              { return "stub-search" }
func (s *stubSearch) Priority() int                              { return 0 }
func (s *stubSearch) HealthCheck(context.Context) (bool, error) { return true, nil }
func (s *stubSearch) Search(context.Context, string, int) ([]provider.SearchResult, error) {
	s.calls++
	return []provider.SearchResult{{Title: "t", URL: "u", Snippet: "s", Score: 1}}, nil
}
func (s *stubSearch) FormatContext(results []provider.SearchResult) string {
	return "context: " + results[0].Snippet
}
func (s *stubSearch) FormatCitation(results []provider.SearchResult) string {
	return "source: " + results[0].URL
}

func newTestOrchestrator(t *testing.T, stt *stubSTT, llm *stubLLM, tts *stubTTS, search *stubSearch) (*Orchestrator, *session.Store) {
	t.Helper()
	store := kvstore.NewMemoryStore()
	sessions := session.NewStore(store, time.Hour)
	semanticCache := cache.New(store, 0.85, time.Hour)
	metrics := observability.NewMetrics(t.Name(), 16)

	sttMgr := provider.NewManager[provider.STTAdapter](provider.TypeSTT, stt)
	llmMgr := provider.NewManager[provider.LLMAdapter](provider.TypeLLM, llm)
	ttsMgr := provider.NewManager[provider.TTSAdapter](provider.TypeTTS, tts)
	searchMgr := provider.NewManager[provider.SearchAdapter](provider.TypeSearch, search)

	orch := NewOrchestrator(sessions, memory.NewInMemoryStore(), semanticCache, sttMgr, llmMgr, ttsMgr, searchMgr, metrics, 16000, provider.TTSSettings{}, nil)
	return orch, sessions
}

func drain(ch <-chan any, n int) []any {
	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		select {
		case m := <-ch:
			out = append(out, m)
		case <-time.After(time.Second):
			return out
		}
	}
	return out
}

func containsType(msgs []any, want protocol.MessageType) bool {
	for _, m := range msgs {
		switch v := m.(type) {
		case protocol.StateChange:
			if v.Type == want {
				return true
			}
		case protocol.TranscriptUpdate:
			if v.Type == want {
				return true
			}
		case protocol.Audio:
			if v.Type == want {
				return true
			}
		case protocol.InterruptAck:
			if v.Type == want {
				return true
			}
		case protocol.ErrorMessage:
			if v.Type == want {
				return true
			}
		}
	}
	return false
}

func TestRunConnectionFallbackModeFiresTurnAfterMaxChunks(t *testing.T) {
	stt := &stubSTT{transcript: "hello there"}
	llm := &stubLLM{reply: "hi"}
	tts := &stubTTS{}
	search := &stubSearch{}
	orch, sessions := newTestOrchestrator(t, stt, llm, tts, search)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := sessions.Create(ctx, "", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	inbound := make(chan Inbound, 8)
	outbound := make(chan any, 32)
	done := make(chan error, 1)
	go func() { done <- orch.RunConnection(ctx, sess.SessionID, sess.UserID, inbound, outbound) }()

	for i := 0; i < MaxChunksFallback; i++ {
		inbound <- Inbound{Kind: InboundAudio, Audio: []byte("RIFFfragmentdata")}
	}

	msgs := drain(outbound, 6)
	if !containsType(msgs, protocol.TypeTranscriptUpdate) {
		t.Fatalf("expected a transcript_update message, got %+v", msgs)
	}
	if !containsType(msgs, protocol.TypeAudio) {
		t.Fatalf("expected an audio message, got %+v", msgs)
	}
	if tts.calls == 0 {
		t.Fatalf("expected TTS to be invoked")
	}

	close(inbound)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("RunConnection did not exit after inbound closed")
	}
}

func TestRunConnectionEmptyTranscriptDiscardsTurnSilently(t *testing.T) {
	stt := &stubSTT{transcript: ""}
	llm := &stubLLM{reply: "hi"}
	tts := &stubTTS{}
	search := &stubSearch{}
	orch, sessions := newTestOrchestrator(t, stt, llm, tts, search)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := sessions.Create(ctx, "", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	inbound := make(chan Inbound, 8)
	outbound := make(chan any, 32)
	go orch.RunConnection(ctx, sess.SessionID, sess.UserID, inbound, outbound)

	for i := 0; i < MaxChunksFallback; i++ {
		inbound <- Inbound{Kind: InboundAudio, Audio: []byte("RIFFfragmentdata")}
	}

	msgs := drain(outbound, 3)
	if containsType(msgs, protocol.TypeTranscriptUpdate) {
		t.Fatalf("did not expect a transcript_update for an empty transcript, got %+v", msgs)
	}
	if tts.calls != 0 {
		t.Fatalf("did not expect TTS to be invoked for an empty transcript")
	}
}

func TestRunConnectionControlInterruptSendsAck(t *testing.T) {
	stt := &stubSTT{transcript: "hello"}
	llm := &stubLLM{reply: "hi"}
	tts := &stubTTS{}
	search := &stubSearch{}
	orch, sessions := newTestOrchestrator(t, stt, llm, tts, search)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := sessions.Create(ctx, "", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	inbound := make(chan Inbound, 8)
	outbound := make(chan any, 32)
	go orch.RunConnection(ctx, sess.SessionID, sess.UserID, inbound, outbound)

	inbound <- Inbound{Kind: InboundControl, Control: protocol.ClientControl{Type: protocol.TypeStateChange, Action: protocol.ActionInterrupt}}

	msgs := drain(outbound, 3)
	if !containsType(msgs, protocol.TypeInterruptAck) {
		t.Fatalf("expected an interrupt_ack message, got %+v", msgs)
	}
}

func TestRunConnectionCacheHitSkipsSearchDecision(t *testing.T) {
	stt := &stubSTT{transcript: "what time is it"}
	llm := &stubLLM{reply: "it is noon", searchNeeded: true}
	tts := &stubTTS{}
	search := &stubSearch{}
	orch, sessions := newTestOrchestrator(t, stt, llm, tts, search)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := sessions.Create(ctx, "", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := orch.cache.Set(ctx, "what time is it", "it is noon", time.Hour, nil); err != nil {
		t.Fatalf("cache.Set() error = %v", err)
	}

	inbound := make(chan Inbound, 8)
	outbound := make(chan any, 32)
	go orch.RunConnection(ctx, sess.SessionID, sess.UserID, inbound, outbound)

	// One large fragment fires the turn on its own, so the fallback
	// transcriber runs once and the transcript matches the cached query.
	utterance := make([]byte, audio.LargeThreshold+1)
	copy(utterance, "RIFF")
	inbound <- Inbound{Kind: InboundAudio, Audio: utterance}

	msgs := drain(outbound, 6)
	if !containsType(msgs, protocol.TypeAudio) {
		t.Fatalf("expected an audio message from the cached reply, got %+v", msgs)
	}
	if search.calls != 0 {
		t.Fatalf("cache hit must short-circuit the search decision, search.calls = %d", search.calls)
	}
	if llm.calls != 0 {
		t.Fatalf("cache hit must short-circuit LLM streaming, llm.calls = %d", llm.calls)
	}
}

// blockingLLM streams an initial sentence immediately, then blocks until
// hold is closed, so a test can barge in while a turn is still speaking.
type blockingLLM struct {
	first string
	hold  chan struct{}
	calls int
}

func (l *blockingLLM) Name() string                              { return "blocking-llm" }
func (l *blockingLLM) Priority() int                              { return 0 }
func (l *blockingLLM) HealthCheck(context.Context) (bool, error) { return true, nil }
func (l *blockingLLM) Complete(context.Context, []provider.Message) (string, error) {
	return l.first, nil
}
func (l *blockingLLM) StreamComplete(context.Context, []provider.Message) (<-chan provider.Token, error) {
	l.calls++
	ch := make(chan provider.Token, 8)
	go func() {
		defer close(ch)
		words := strings.Fields(l.first)
		for i, w := range words {
			text := w
			if i < len(words)-1 {
				text += " "
			} else {
				text += ".\n"
			}
			ch <- provider.Token{Text: text}
		}
		<-l.hold
		ch <- provider.Token{Done: true}
	}()
	return ch, nil
}
func (l *blockingLLM) StreamCompleteWithContext(ctx context.Context, msgs []provider.Message, _, _ string) (<-chan provider.Token, error) {
	return l.StreamComplete(ctx, msgs)
}
func (l *blockingLLM) DetectSearchNeeded(context.Context, string) (bool, string, error) {
	return false, "", nil
}

func lastStateChange(msgs []any) (protocol.StateChange, bool) {
	var last protocol.StateChange
	found := false
	for _, m := range msgs {
		if sc, ok := m.(protocol.StateChange); ok {
			last = sc
			found = true
		}
	}
	return last, found
}

func TestRunConnectionBargeInDuringStreamingCancelsActiveTurn(t *testing.T) {
	stt := &stubSTT{transcript: "hello there"}
	llm := &blockingLLM{first: "hello world this is a longer reply than one sentence", hold: make(chan struct{})}
	tts := &stubTTS{}
	search := &stubSearch{}
	orch, sessions := newTestOrchestrator(t, stt, llm, tts, search)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := sessions.Create(ctx, "", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	inbound := make(chan Inbound, 8)
	outbound := make(chan any, 32)
	go orch.RunConnection(ctx, sess.SessionID, sess.UserID, inbound, outbound)

	for i := 0; i < MaxChunksFallback; i++ {
		inbound <- Inbound{Kind: InboundAudio, Audio: []byte("RIFFfragmentdata")}
	}

	// Wait for the first sentence to reach TTS; the turn is now "speaking"
	// and blocked mid-stream on llm.hold.
	msgs := drain(outbound, 5)
	if !containsType(msgs, protocol.TypeAudio) {
		t.Fatalf("expected a first-sentence audio frame before barge-in, got %+v", msgs)
	}
	if sc, ok := lastStateChange(msgs); !ok || sc.State != string(session.StateSpeaking) {
		t.Fatalf("expected state to reach speaking before barge-in, got %+v", msgs)
	}

	// A large fragment arrives while still speaking: this must cancel the
	// in-flight turn right away, not after the blocked stream finishes.
	inbound <- Inbound{Kind: InboundAudio, Audio: make([]byte, BargeInThreshold+1)}

	msgs = drain(outbound, 2)
	if !containsType(msgs, protocol.TypeInterruptAck) {
		t.Fatalf("expected an interrupt_ack from the mid-turn barge-in, got %+v", msgs)
	}
	if sc, ok := lastStateChange(msgs); !ok || sc.State != string(session.StateListening) {
		t.Fatalf("expected state to return to listening immediately, got %+v", msgs)
	}

	// The blocked LLM stream is released after the fact; RunConnection
	// must already have moved on rather than waiting for it.
	close(llm.hold)
	close(inbound)
}

func TestIsSentenceBoundaryRecognizesTerminators(t *testing.T) {
	cases := map[string]bool{"hi.": true, "wait!": true, "really?": true, "line\n": true, "word": false, "": false}
	for in, want := range cases {
		if got := isSentenceBoundary(in); got != want {
			t.Fatalf("isSentenceBoundary(%q) = %v, want %v", in, got, want)
		}
	}
}
