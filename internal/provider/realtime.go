package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antoniostano/samantha/internal/reliability"
	"github.com/gorilla/websocket"
)

// RealtimeVendorConfig configures a websocket-framed STT+TTS vendor in the
// style of a realtime speech API: one connection per call, JSON control
// frames, base64 audio payloads.
type RealtimeVendorConfig struct {
	Name                string
	APIKey              string
	WSBaseURL           string
	STTModelID          string
	DefaultVoiceID      string
	DefaultModelID      string
	DefaultOutputFormat string
	Priority            int
}

// RealtimeVendorAdapter implements both STTAdapter and TTSAdapter against a
// single websocket-framed vendor, adapted from a continuous-session realtime
// protocol into the spec's batch Transcribe/Synthesize calls: one session is
// opened, driven to completion, and closed per invocation.
type RealtimeVendorAdapter struct {
	cfg RealtimeVendorConfig
}

func NewRealtimeVendorAdapter(cfg RealtimeVendorConfig) *RealtimeVendorAdapter {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.STTModelID) == "" {
		cfg.STTModelID = "scribe_v1"
	}
	if strings.TrimSpace(cfg.DefaultModelID) == "" {
		cfg.DefaultModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.DefaultOutputFormat) == "" {
		cfg.DefaultOutputFormat = "mp3_44100_128"
	}
	return &RealtimeVendorAdapter{cfg: cfg}
}

func (a *RealtimeVendorAdapter) Name() string  { return a.cfg.Name }
func (a *RealtimeVendorAdapter) Priority() int { return a.cfg.Priority }

func (a *RealtimeVendorAdapter) HealthCheck(ctx context.Context) (bool, error) {
	if strings.TrimSpace(a.cfg.APIKey) == "" {
		return false, fmt.Errorf("%s: missing api key", a.cfg.Name)
	}
	return true, nil
}

// Transcribe opens an STT session, streams the whole buffer as a single
// committed chunk, and waits for the committed transcript or an error,
// for at most 60 seconds.
func (a *RealtimeVendorAdapter) Transcribe(ctx context.Context, audio []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	u, err := url.Parse(strings.TrimRight(a.cfg.WSBaseURL, "/") + "/v1/speech-to-text/realtime")
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model_id", a.cfg.STTModelID)
	q.Set("commit_strategy", "manual")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", a.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return "", fmt.Errorf("dial stt websocket: %w", err)
	}
	defer conn.Close()

	payload := map[string]any{
		"message_type":  "input_audio_chunk",
		"audio_base_64": base64.StdEncoding.EncodeToString(audio),
		"commit":        true,
	}
	if err := conn.WriteJSON(payload); err != nil {
		return "", fmt.Errorf("send audio: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if ok {
		_ = conn.SetReadDeadline(deadline)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("read stt response: %w", err)
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		messageType := asString(raw["message_type"])
		switch messageType {
		case "committed_transcript", "committed_transcript_with_timestamps":
			return asString(raw["text"]), nil
		case "session_started", "partial_transcript", "", "input_audio_chunk":
			continue
		default:
			detail := asString(raw["error"])
			if !reliability.IsRetryableRealtimeMessageType(messageType) {
				return "", fmt.Errorf("stt vendor error %s: %s", messageType, detail)
			}
			return "", fmt.Errorf("stt vendor retryable error %s: %s", messageType, detail)
		}
	}
}

// Synthesize opens a TTS stream-input session, sends the text once, closes
// input, and concatenates every audio chunk until the final event arrives,
// for at most 30 seconds.
func (a *RealtimeVendorAdapter) Synthesize(ctx context.Context, text string, settings TTSSettings) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	voiceID := settings.VoiceID
	if strings.TrimSpace(voiceID) == "" {
		voiceID = a.cfg.DefaultVoiceID
	}
	if strings.TrimSpace(voiceID) == "" {
		return nil, fmt.Errorf("voice_id is required")
	}
	modelID := settings.ModelID
	if strings.TrimSpace(modelID) == "" {
		modelID = a.cfg.DefaultModelID
	}

	u, err := url.Parse(strings.TrimRight(a.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model_id", modelID)
	q.Set("output_format", a.cfg.DefaultOutputFormat)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", a.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("dial tts websocket: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{
		"text": text,
		"voice_settings": map[string]any{
			"stability":        0.42,
			"similarity_boost": 0.85,
		},
	}); err != nil {
		return nil, fmt.Errorf("send text: %w", err)
	}
	if err := conn.WriteJSON(map[string]any{"text": ""}); err != nil {
		return nil, fmt.Errorf("close input: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if ok {
		_ = conn.SetReadDeadline(deadline)
	}

	var audio []byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read tts response: %w", err)
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		if b64 := asString(raw["audio"]); b64 != "" {
			chunk, decErr := base64.StdEncoding.DecodeString(b64)
			if decErr == nil {
				audio = append(audio, chunk...)
			}
		}
		if errMsg := asString(raw["error"]); errMsg != "" {
			return nil, fmt.Errorf("tts vendor error: %s", errMsg)
		}
		if asBool(raw["isFinal"]) || asBool(raw["is_final"]) {
			return audio, nil
		}
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}
