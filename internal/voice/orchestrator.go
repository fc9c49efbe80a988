// Package voice implements the per-session turn orchestrator (§4.8): the
// state machine that turns inbound audio fragments into STT transcripts,
// routes them through the semantic cache and an optional search decision,
// and streams the LLM's reply back out as sentence-chunked TTS audio.
package voice

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/samantha/internal/audio"
	"github.com/antoniostano/samantha/internal/audiometrics"
	"github.com/antoniostano/samantha/internal/cache"
	"github.com/antoniostano/samantha/internal/memory"
	"github.com/antoniostano/samantha/internal/observability"
	"github.com/antoniostano/samantha/internal/protocol"
	"github.com/antoniostano/samantha/internal/provider"
	"github.com/antoniostano/samantha/internal/session"
)

// Turn segmentation tunables (§4.8).
const (
	SilenceThreshold  = 0.02
	MinSpeechChunks   = 1
	SilenceDuration   = 2500 * time.Millisecond
	MaxChunksFallback = 6
	BargeInThreshold  = 500 // bytes
	MinCachedReplyLen = 20
	MinSentenceLen    = 10
)

// InboundKind distinguishes the two frame shapes the connection handler
// demultiplexes off the wire (§4.9).
type InboundKind int

const (
	InboundAudio InboundKind = iota
	InboundControl
)

// Inbound is one frame handed to the orchestrator, already classified by
// the connection handler.
type Inbound struct {
	Kind    InboundKind
	Audio   []byte
	Control protocol.ClientControl
}

// Orchestrator runs the turn state machine for each connection handed to
// RunConnection. Its fields are fixed at construction and all
// per-connection state lives inside RunConnection, so one Orchestrator
// serves concurrent connections.
type Orchestrator struct {
	sessions    *session.Store
	memoryStore memory.Store
	cache       *cache.SemanticCache
	sttMgr      *provider.Manager[provider.STTAdapter]
	llmMgr      *provider.Manager[provider.LLMAdapter]
	ttsMgr      *provider.Manager[provider.TTSAdapter]
	searchMgr   *provider.Manager[provider.SearchAdapter]
	metrics     *observability.Metrics

	sampleRate  int
	ttsSettings provider.TTSSettings
	decode      audio.Decoder
}

func NewOrchestrator(
	sessions *session.Store,
	memoryStore memory.Store,
	semanticCache *cache.SemanticCache,
	sttMgr *provider.Manager[provider.STTAdapter],
	llmMgr *provider.Manager[provider.LLMAdapter],
	ttsMgr *provider.Manager[provider.TTSAdapter],
	searchMgr *provider.Manager[provider.SearchAdapter],
	metrics *observability.Metrics,
	sampleRate int,
	ttsSettings provider.TTSSettings,
	decode audio.Decoder,
) *Orchestrator {
	return &Orchestrator{
		sessions:    sessions,
		memoryStore: memoryStore,
		cache:       semanticCache,
		sttMgr:      sttMgr,
		llmMgr:      llmMgr,
		ttsMgr:      ttsMgr,
		searchMgr:   searchMgr,
		metrics:     metrics,
		sampleRate:  sampleRate,
		ttsSettings: ttsSettings,
		decode:      decode,
	}
}

// stateHolder guards the session state value shared between the inbound
// read loop and the goroutine running the in-flight turn.
type stateHolder struct {
	mu    sync.Mutex
	value session.State
}

func (s *stateHolder) Load() session.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

func (s *stateHolder) Store(v session.State) {
	s.mu.Lock()
	s.value = v
	s.mu.Unlock()
}

// turnState accumulates fragments and VAD bookkeeping for the turn
// currently being assembled on one connection.
type turnState struct {
	reassembler *audio.Reassembler
	speechSeen  int
	inSilence   bool
	silenceAt   time.Time
}

func (o *Orchestrator) newTurnState() *turnState {
	return &turnState{reassembler: audio.NewReassembler(o.sampleRate, o.decode, o.transcribeFragment)}
}

func (ts *turnState) reset() {
	ts.reassembler.Reset()
	ts.speechSeen = 0
	ts.inSilence = false
}

// RunConnection drives the turn state machine for one session until
// inbound is closed or ctx is cancelled. Outbound messages are written to
// outbound for a connection-handler writer goroutine to serialize onto
// the wire (§4.9); RunConnection itself never touches the network.
//
// The inbound loop stays free-running at all times: the end-of-turn
// pipeline executes on its own goroutine (startTurn) so a barge-in
// fragment or an interrupt control frame arriving mid-turn can cancel it
// immediately instead of queuing behind it (§4.8 Barge-in). At most one
// turn runs at a time; a segmentation boundary reached while one is
// already in flight is held as pending and dispatched the instant the
// in-flight turn's goroutine exits.
func (o *Orchestrator) RunConnection(ctx context.Context, sessionID, userID string, inbound <-chan Inbound, outbound chan<- any) error {
	state := &stateHolder{value: session.StateListening}
	o.sendState(outbound, state.Load())

	var interrupted atomic.Bool
	ts := o.newTurnState()

	var turnCancel context.CancelFunc
	var turnDone chan struct{}
	pendingTurn := false

	dispatch := func() {
		turnReassembler := ts.reassembler
		ts = o.newTurnState()
		turnCancel, turnDone = o.startTurn(ctx, sessionID, userID, turnReassembler, outbound, &interrupted, state)
	}

	for {
		var doneCh <-chan struct{} = turnDone

		select {
		case <-ctx.Done():
			if turnCancel != nil {
				turnCancel()
			}
			return ctx.Err()

		case <-doneCh:
			turnCancel = nil
			turnDone = nil
			if state.Load() != session.StateListening {
				state.Store(session.StateListening)
				o.sendState(outbound, session.StateListening)
			}
			if pendingTurn {
				pendingTurn = false
				dispatch()
			}

		case in, open := <-inbound:
			if !open {
				if turnCancel != nil {
					turnCancel()
				}
				return nil
			}

			switch in.Kind {
			case InboundControl:
				if o.handleControl(outbound, in.Control, state) && turnCancel != nil {
					interrupted.Store(true)
					turnCancel()
					pendingTurn = false
				}

			case InboundAudio:
				if turnCancel != nil && state.Load() == session.StateSpeaking && len(in.Audio) > BargeInThreshold {
					interrupted.Store(true)
					turnCancel()
					state.Store(session.StateListening)
					o.sendState(outbound, session.StateListening)
					o.send(outbound, protocol.NewInterruptAck("barge-in"))
					ts.reset()
					ts.reassembler.Add(in.Audio)
					ts.speechSeen++
					pendingTurn = false
					continue
				}

				if !o.handleAudioFragment(outbound, ts, in.Audio) {
					continue
				}
				if turnCancel != nil {
					// A turn is already streaming; hold the freshly
					// assembled audio and dispatch it the moment that
					// turn's goroutine reports completion.
					pendingTurn = true
					continue
				}
				dispatch()
			}
		}
	}
}

// startTurn runs the end-of-turn pipeline on its own goroutine under a
// child context so the caller's select loop can cancel it without
// blocking on it.
func (o *Orchestrator) startTurn(
	ctx context.Context,
	sessionID, userID string,
	r *audio.Reassembler,
	outbound chan<- any,
	interrupted *atomic.Bool,
	state *stateHolder,
) (context.CancelFunc, chan struct{}) {
	turnCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	interrupted.Store(false)
	state.Store(session.StateThinking)
	o.sendState(outbound, session.StateThinking)

	go func() {
		defer close(done)
		o.runTurn(turnCtx, sessionID, userID, r, outbound, interrupted, func(s session.State) {
			state.Store(s)
			o.sendState(outbound, s)
		})
	}()

	return cancel, done
}

// handleControl applies a control frame's action and reports whether it
// was an interrupt, so the caller can cancel an in-flight turn.
func (o *Orchestrator) handleControl(outbound chan<- any, ctrl protocol.ClientControl, state *stateHolder) bool {
	switch ctrl.Action {
	case protocol.ActionInterrupt, protocol.ActionCancelAudio:
		state.Store(session.StateListening)
		o.sendState(outbound, session.StateListening)
		o.send(outbound, protocol.NewInterruptAck(string(ctrl.Action)))
		return true
	default:
		log.Printf("voice: unrecognized control action %q", ctrl.Action)
		return false
	}
}

// handleAudioFragment applies turn segmentation to one incoming audio
// fragment, returning true once an end-of-turn condition has fired.
// Barge-in is handled by the caller, which has access to the in-flight
// turn's cancel func.
func (o *Orchestrator) handleAudioFragment(outbound chan<- any, ts *turnState, fragment []byte) bool {
	accepted, large := ts.reassembler.Add(fragment)
	if !accepted {
		return false
	}
	if large {
		return true
	}

	if !ts.reassembler.HasDecoder() {
		return len(ts.reassembler.Fragments()) >= MaxChunksFallback
	}

	if o.isSpeech(fragment) {
		ts.speechSeen++
		ts.inSilence = false
		o.send(outbound, protocol.NewVADStatus(protocol.VADStatusData{IsSpeech: true, SpeechEnded: false}))
		return false
	}

	if ts.speechSeen < MinSpeechChunks {
		return false
	}
	if !ts.inSilence {
		ts.inSilence = true
		ts.silenceAt = time.Now()
		return false
	}
	if time.Since(ts.silenceAt) >= SilenceDuration {
		o.send(outbound, protocol.NewVADStatus(protocol.VADStatusData{IsSpeech: false, SpeechEnded: true}))
		return true
	}
	return false
}

func (o *Orchestrator) isSpeech(fragment []byte) bool {
	if o.decode == nil {
		return true
	}
	pcm, err := o.decode([][]byte{fragment}, o.sampleRate)
	if err != nil {
		return true
	}
	return audiometrics.RMS(audiometrics.DecodePCM16LE(pcm)) > SilenceThreshold
}

// transcribeFragment is the per-fragment fallback transcriber used by the
// reassembler when no decode helper is configured (§4.7).
func (o *Orchestrator) transcribeFragment(ctx context.Context, fragment []byte) (string, error) {
	return provider.Execute(o.sttMgr, ctx, func(a provider.STTAdapter) (string, error) {
		return a.Transcribe(ctx, fragment)
	})
}

func (o *Orchestrator) transcribeWAV(ctx context.Context, wav []byte) (string, error) {
	return provider.Execute(o.sttMgr, ctx, func(a provider.STTAdapter) (string, error) {
		return a.Transcribe(ctx, wav)
	})
}

// runTurn executes the end-of-turn pipeline (§4.8 steps 1-9).
func (o *Orchestrator) runTurn(
	ctx context.Context,
	sessionID, userID string,
	r *audio.Reassembler,
	outbound chan<- any,
	interrupted *atomic.Bool,
	setState func(session.State),
) {
	interrupted.Store(false)
	correlationID := uuid.NewString()
	o.metrics.StartRequest(correlationID, sessionID, userID)

	o.sendAudioMetrics(outbound, r)

	o.metrics.StartStage(correlationID, "stt")
	transcript, err := r.Finish(ctx, o.transcribeWAV)
	o.metrics.EndStage(correlationID, "stt")
	if err != nil {
		o.metrics.EndRequest(correlationID, false, "stt_failure", false)
		o.send(outbound, protocol.NewErrorMessage(fmt.Sprintf("speech recognition failed: %v", err)))
		return
	}
	transcript = strings.TrimSpace(transcript)
	if len(transcript) <= 1 {
		o.metrics.Discard(correlationID)
		return
	}

	now := time.Now()
	o.send(outbound, protocol.NewTranscriptUpdate(protocol.TranscriptData{ID: correlationID, Speaker: "user", Text: transcript, Timestamp: now.UnixMilli(), IsFinal: true}))
	sess, err := o.sessions.Update(ctx, sessionID, session.UpdateOptions{
		AddMessage: &session.Message{Role: "user", Content: transcript, Timestamp: now},
	})
	if err != nil {
		log.Printf("voice: session update failed for %s: %v", sessionID, err)
	}
	o.saveMemoryBestEffort(ctx, sessionID, userID, "user", transcript)

	if hit, hitErr := o.cache.Get(ctx, transcript); hitErr == nil && hit != nil {
		o.finishFromCache(ctx, correlationID, sessionID, transcript, hit.Response, outbound, setState)
		return
	}

	searchContext, citation, usedSearch := o.maybeSearch(ctx, correlationID, transcript)

	messages := append([]provider.Message{{
		Role:    "system",
		Content: "You are a voice assistant. Answer in one to three short, conversational sentences.",
	}}, historyMessages(sess)...)
	o.metrics.StartStage(correlationID, "llm")
	tokens, err := provider.Execute(o.llmMgr, ctx, func(a provider.LLMAdapter) (<-chan provider.Token, error) {
		if searchContext != "" {
			return a.StreamCompleteWithContext(ctx, messages, searchContext, citation)
		}
		return a.StreamComplete(ctx, messages)
	})
	if err != nil {
		o.metrics.EndStage(correlationID, "llm")
		o.metrics.EndRequest(correlationID, false, "llm_failure", usedSearch)
		o.send(outbound, protocol.NewErrorMessage(fmt.Sprintf("assistant is unavailable: %v", err)))
		return
	}

	// streamAndSpeak ends the llm stage itself, at the first TTS dispatch,
	// so the llm and tts stages never overlap (§8 "sum(per-stage
	// latencies) ≤ total_latency").
	full, ttsErr := o.streamAndSpeak(ctx, correlationID, tokens, outbound, interrupted, setState)

	if interrupted.Load() {
		o.metrics.EndRequest(correlationID, false, "interrupted", usedSearch)
		return
	}
	if ttsErr != nil {
		o.metrics.EndRequest(correlationID, false, "tts_failure", usedSearch)
		o.send(outbound, protocol.NewErrorMessage(fmt.Sprintf("speech synthesis failed: %v", ttsErr)))
		return
	}

	full = strings.TrimSpace(full)
	o.send(outbound, protocol.NewTranscriptUpdate(protocol.TranscriptData{ID: correlationID, Speaker: "assistant", Text: full, Timestamp: time.Now().UnixMilli(), IsFinal: true}))
	if _, err := o.sessions.Update(ctx, sessionID, session.UpdateOptions{
		AddMessage: &session.Message{Role: "assistant", Content: full, Timestamp: time.Now()},
	}); err != nil {
		log.Printf("voice: session update failed for %s: %v", sessionID, err)
	}
	o.saveMemoryBestEffort(ctx, sessionID, userID, "assistant", full)

	if !usedSearch && len(full) > MinCachedReplyLen {
		if err := o.cache.Set(ctx, transcript, full, 0, nil); err != nil {
			log.Printf("voice: cache set failed: %v", err)
		}
	}

	o.metrics.EndRequest(correlationID, true, "", usedSearch)
}

// finishFromCache handles the cache-hit short-circuit: the search
// decision is never evaluated once the cache has answered (§4.8 step 4).
func (o *Orchestrator) finishFromCache(ctx context.Context, correlationID, sessionID, transcript, response string, outbound chan<- any, setState func(session.State)) {
	o.metrics.StartStage(correlationID, "tts")
	audioBytes, err := provider.Execute(o.ttsMgr, ctx, func(a provider.TTSAdapter) ([]byte, error) {
		return a.Synthesize(ctx, sanitizeSpeechText(response), o.ttsSettings)
	})
	o.metrics.EndStage(correlationID, "tts")
	if err != nil {
		o.metrics.EndRequest(correlationID, false, "tts_failure", false)
		o.send(outbound, protocol.NewErrorMessage(fmt.Sprintf("speech synthesis failed: %v", err)))
		return
	}

	setState(session.StateSpeaking)
	o.send(outbound, protocol.NewTranscriptUpdate(protocol.TranscriptData{ID: correlationID, Speaker: "assistant", Text: response, Timestamp: time.Now().UnixMilli(), IsFinal: true}))
	o.send(outbound, protocol.NewAudio(base64.StdEncoding.EncodeToString(audioBytes)))

	if _, err := o.sessions.Update(ctx, sessionID, session.UpdateOptions{
		AddMessage: &session.Message{Role: "assistant", Content: response, Timestamp: time.Now()},
	}); err != nil {
		log.Printf("voice: session update failed for %s: %v", sessionID, err)
	}
	o.metrics.EndRequest(correlationID, true, "", false)
}

// searchOutcome bundles a search provider call's formatted results so the
// whole round trip runs under a single Manager.Execute call.
type searchOutcome struct {
	context  string
	citation string
}

// maybeSearch runs the LLM adapter's keyword-gated search decision and,
// if needed, queries the search provider manager for formatted context
// and a voice-friendly citation (§4.8 step 5).
func (o *Orchestrator) maybeSearch(ctx context.Context, correlationID, transcript string) (searchContext, citation string, used bool) {
	needed, query, err := detectSearchNeeded(ctx, o.llmMgr, transcript)
	if err != nil || !needed {
		return "", "", false
	}
	if query == "" {
		query = transcript
	}

	o.metrics.StartStage(correlationID, "search")
	outcome, err := provider.Execute(o.searchMgr, ctx, func(a provider.SearchAdapter) (searchOutcome, error) {
		results, err := a.Search(ctx, query, 3)
		if err != nil {
			return searchOutcome{}, err
		}
		if len(results) == 0 {
			return searchOutcome{}, nil
		}
		return searchOutcome{context: a.FormatContext(results), citation: a.FormatCitation(results)}, nil
	})
	o.metrics.EndStage(correlationID, "search")
	if err != nil || outcome.context == "" {
		return "", "", false
	}
	return outcome.context, outcome.citation, true
}

// detectSearchNeeded runs through the LLM manager's fallback chain; it
// returns query alongside needed since Manager.Execute only carries a
// single result value.
func detectSearchNeeded(ctx context.Context, llmMgr *provider.Manager[provider.LLMAdapter], transcript string) (bool, string, error) {
	type decision struct {
		needed bool
		query  string
	}
	d, err := provider.Execute(llmMgr, ctx, func(a provider.LLMAdapter) (decision, error) {
		needed, query, err := a.DetectSearchNeeded(ctx, transcript)
		return decision{needed: needed, query: query}, err
	})
	return d.needed, d.query, err
}

// streamAndSpeak consumes the LLM token stream, accumulating a sentence
// buffer and dispatching TTS synthesis whenever a sentence boundary is
// crossed and the buffer exceeds the minimum sentence length (§4.8 step
// 7). The interrupted flag is checked before every dispatch. The llm
// stage is closed out the instant the first sentence is handed to TTS
// and the tts stage opens in the same instant, so the two stages never
// overlap (§8 "sum(per-stage latencies) ≤ total_latency").
func (o *Orchestrator) streamAndSpeak(
	ctx context.Context,
	correlationID string,
	tokens <-chan provider.Token,
	outbound chan<- any,
	interrupted *atomic.Bool,
	setState func(session.State),
) (string, error) {
	var full strings.Builder
	var sentence strings.Builder
	dispatched := false
	llmStageOpen := true
	ttsStageOpen := false

	endLLMStage := func() {
		if llmStageOpen {
			o.metrics.EndStage(correlationID, "llm")
			llmStageOpen = false
		}
	}
	endTTSStage := func() {
		if ttsStageOpen {
			o.metrics.EndStage(correlationID, "tts")
			ttsStageOpen = false
		}
	}

	flush := func() error {
		text := strings.TrimSpace(sentence.String())
		sentence.Reset()
		if text == "" || interrupted.Load() {
			return nil
		}
		if !dispatched {
			endLLMStage()
			o.metrics.StartStage(correlationID, "tts")
			ttsStageOpen = true
		}
		audioBytes, err := provider.Execute(o.ttsMgr, ctx, func(a provider.TTSAdapter) ([]byte, error) {
			return a.Synthesize(ctx, sanitizeSpeechText(text), o.ttsSettings)
		})
		if err != nil {
			return err
		}
		if interrupted.Load() {
			return nil
		}
		if !dispatched {
			dispatched = true
			setState(session.StateSpeaking)
		}
		o.send(outbound, protocol.NewAudio(base64.StdEncoding.EncodeToString(audioBytes)))
		return nil
	}

	for tok := range tokens {
		if interrupted.Load() {
			break
		}
		full.WriteString(tok.Text)
		sentence.WriteString(tok.Text)
		if isSentenceBoundary(tok.Text) && len(strings.TrimSpace(sentence.String())) > MinSentenceLen {
			if err := flush(); err != nil {
				endTTSStage()
				return full.String(), err
			}
		}
		if tok.Done {
			break
		}
	}
	if !interrupted.Load() {
		if err := flush(); err != nil {
			endTTSStage()
			return full.String(), err
		}
	}
	endLLMStage()
	endTTSStage()
	return full.String(), nil
}

func isSentenceBoundary(tok string) bool {
	if tok == "" {
		return false
	}
	switch tok[len(tok)-1] {
	case '.', '!', '?', '\n':
		return true
	default:
		return false
	}
}

func historyMessages(sess *session.Data) []provider.Message {
	if sess == nil {
		return nil
	}
	out := make([]provider.Message, 0, len(sess.ConversationHistory))
	for _, m := range sess.ConversationHistory {
		out = append(out, provider.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func (o *Orchestrator) saveMemoryBestEffort(ctx context.Context, sessionID, userID, role, content string) {
	if o.memoryStore == nil {
		return
	}
	err := o.memoryStore.SaveTurn(ctx, memory.TurnRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	})
	if err != nil {
		log.Printf("voice: best-effort memory save failed: %v", err)
	}
}

// sendAudioMetrics emits the audio_metrics frame computed over the turn's
// decoded audio, when a decode helper is configured (§6.1, §12).
func (o *Orchestrator) sendAudioMetrics(outbound chan<- any, r *audio.Reassembler) {
	if !r.HasDecoder() {
		return
	}
	result := r.AnalyzeLatest()
	o.send(outbound, protocol.NewAudioMetrics(protocol.AudioMetricsData{
		RMS:   result.RMS,
		Peak:  result.Peak,
		SNRdB: result.SNRdB,
		Clipping: protocol.ClippingData{
			IsClipping:     result.Clipping.IsClipping,
			ClippedSamples: result.Clipping.ClippedSamples,
			ClipPercentage: result.Clipping.ClipPercentage,
		},
		QualityScore: result.QualityScore,
		QualityLabel: result.QualityLabel,
		DurationMS:   result.DurationMS,
	}))
}

func (o *Orchestrator) sendState(outbound chan<- any, state session.State) {
	o.send(outbound, protocol.NewStateChange(string(state)))
}

// send forwards msg to the connection's writer goroutine. A full buffer
// logs and drops rather than blocking the turn pipeline; transient send
// failures must never crash the connection (§4.8 Failure semantics).
func (o *Orchestrator) send(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
		log.Printf("voice: outbound buffer full, dropping %T", msg)
	}
}
