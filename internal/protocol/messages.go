// Package protocol defines the client-gateway wire messages for the
// /voice/{session_id} duplex connection (§6.1). Inbound audio travels as
// raw binary frames; everything else is JSON.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies a server-to-client text frame's payload shape.
type MessageType string

const (
	TypeStateChange      MessageType = "state_change"
	TypeTranscriptUpdate MessageType = "transcript_update"
	TypeAudio            MessageType = "audio"
	TypeAudioMetrics     MessageType = "audio_metrics"
	TypeVADStatus        MessageType = "vad_status"
	TypeInterruptAck     MessageType = "interrupt_ack"
	TypeError            MessageType = "error"
)

// ControlAction names a client-to-server control message's action.
type ControlAction string

const (
	ActionInterrupt   ControlAction = "interrupt"
	ActionCancelAudio ControlAction = "cancel_audio"
)

var ErrUnsupportedControl = errors.New("unsupported control action")

// ClientControl is the JSON text frame a client sends to interrupt or
// cancel in-flight audio. The action is read from the action field, or
// from type when action is absent, so {"type":"interrupt"} and
// {"type":"control","action":"interrupt"} are both accepted. Any other
// inbound frame is raw binary audio, handled outside this package.
type ClientControl struct {
	Type   MessageType   `json:"type"`
	Action ControlAction `json:"action"`
}

// ParseClientControl decodes a text frame into a ClientControl, or
// ErrUnsupportedControl for an unrecognized action (the connection
// handler counts these in its metrics and drops them rather than closing).
func ParseClientControl(raw []byte) (ClientControl, error) {
	var c ClientControl
	if err := json.Unmarshal(raw, &c); err != nil {
		return ClientControl{}, fmt.Errorf("invalid control envelope: %w", err)
	}
	if c.Action == "" {
		c.Action = ControlAction(c.Type)
	}
	switch c.Action {
	case ActionInterrupt, ActionCancelAudio:
		return c, nil
	default:
		return ClientControl{}, ErrUnsupportedControl
	}
}

// StateChange reports the turn orchestrator's current state.
type StateChange struct {
	Type  MessageType `json:"type"`
	State string      `json:"state"`
}

func NewStateChange(state string) StateChange {
	return StateChange{Type: TypeStateChange, State: state}
}

// TranscriptData is the payload of a TranscriptUpdate message.
type TranscriptData struct {
	ID        string `json:"id"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	IsFinal   bool   `json:"is_final"`
}

type TranscriptUpdate struct {
	Type MessageType     `json:"type"`
	Data TranscriptData `json:"data"`
}

func NewTranscriptUpdate(data TranscriptData) TranscriptUpdate {
	return TranscriptUpdate{Type: TypeTranscriptUpdate, Data: data}
}

// AudioData carries one base64-encoded synthesized audio frame.
type AudioData struct {
	Data string `json:"data"`
}

type Audio struct {
	Type MessageType `json:"type"`
	Data string      `json:"data"`
}

func NewAudio(base64Audio string) Audio {
	return Audio{Type: TypeAudio, Data: base64Audio}
}

// ClippingData mirrors audiometrics.Clipping for the wire.
type ClippingData struct {
	IsClipping     bool    `json:"is_clipping"`
	ClippedSamples int     `json:"clipped_samples"`
	ClipPercentage float64 `json:"clip_percentage"`
}

// AudioMetricsData is the payload of an AudioMetrics message.
type AudioMetricsData struct {
	RMS          float64      `json:"rms"`
	Peak         float64      `json:"peak"`
	SNRdB        float64      `json:"snr_db"`
	Clipping     ClippingData `json:"clipping"`
	QualityScore int          `json:"quality_score"`
	QualityLabel string       `json:"quality_label"`
	DurationMS   int          `json:"duration_ms"`
}

type AudioMetrics struct {
	Type MessageType      `json:"type"`
	Data AudioMetricsData `json:"data"`
}

func NewAudioMetrics(data AudioMetricsData) AudioMetrics {
	return AudioMetrics{Type: TypeAudioMetrics, Data: data}
}

// VADStatusData is the payload of a VADStatus message.
type VADStatusData struct {
	IsSpeech    bool `json:"is_speech"`
	SpeechEnded bool `json:"speech_ended"`
}

type VADStatus struct {
	Type MessageType   `json:"type"`
	Data VADStatusData `json:"data"`
}

func NewVADStatus(data VADStatusData) VADStatus {
	return VADStatus{Type: TypeVADStatus, Data: data}
}

// InterruptAck acknowledges a barge-in interrupt.
type InterruptAck struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func NewInterruptAck(message string) InterruptAck {
	return InterruptAck{Type: TypeInterruptAck, Message: message}
}

// ErrorMessage is a fatal turn-ending error surfaced to the client.
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func NewErrorMessage(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}
