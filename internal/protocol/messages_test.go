package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseClientControlInterrupt(t *testing.T) {
	raw := []byte(`{"type":"control","action":"interrupt"}`)
	c, err := ParseClientControl(raw)
	if err != nil {
		t.Fatalf("ParseClientControl() error = %v", err)
	}
	if c.Action != ActionInterrupt {
		t.Fatalf("Action = %q, want %q", c.Action, ActionInterrupt)
	}
}

func TestParseClientControlCancelAudio(t *testing.T) {
	raw := []byte(`{"type":"control","action":"cancel_audio"}`)
	c, err := ParseClientControl(raw)
	if err != nil {
		t.Fatalf("ParseClientControl() error = %v", err)
	}
	if c.Action != ActionCancelAudio {
		t.Fatalf("Action = %q, want %q", c.Action, ActionCancelAudio)
	}
}

func TestParseClientControlRejectsUnknownAction(t *testing.T) {
	_, err := ParseClientControl([]byte(`{"type":"control","action":"reboot"}`))
	if !errors.Is(err, ErrUnsupportedControl) {
		t.Fatalf("error = %v, want %v", err, ErrUnsupportedControl)
	}
}

func TestNewStateChangeSerializesType(t *testing.T) {
	raw, err := json.Marshal(NewStateChange("listening"))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded["type"] != "state_change" || decoded["state"] != "listening" {
		t.Fatalf("unexpected payload: %v", decoded)
	}
}

func TestNewTranscriptUpdateRoundTrips(t *testing.T) {
	msg := NewTranscriptUpdate(TranscriptData{
		ID:      "t1",
		Speaker: "user",
		Text:    "hello",
		IsFinal: true,
	})
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded TranscriptUpdate
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.Data.Text != "hello" || !decoded.Data.IsFinal {
		t.Fatalf("unexpected round trip: %+v", decoded)
	}
}

func TestNewAudioMetricsRoundTrips(t *testing.T) {
	msg := NewAudioMetrics(AudioMetricsData{
		RMS:          0.2,
		Peak:         0.5,
		SNRdB:        22.5,
		QualityScore: 85,
		QualityLabel: "excellent",
	})
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded AudioMetrics
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.Data.QualityLabel != "excellent" {
		t.Fatalf("QualityLabel = %q, want excellent", decoded.Data.QualityLabel)
	}
}
