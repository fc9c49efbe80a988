package audio

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/antoniostano/samantha/internal/audiometrics"
)

// LargeThreshold is the byte size at or above which a single fragment is treated
// as a complete push-to-talk utterance, bypassing segmentation entirely.
const LargeThreshold = 10 * 1024

// magicHeaders lists the 4-byte container signatures the reassembler
// recognizes. A fragment matching none of these is dropped.
var magicHeaders = [][]byte{
	{0x1A, 0x45, 0xDF, 0xA3}, // WebM / Matroska EBML
	[]byte("RIFF"),           // WAV
	[]byte("OggS"),           // Ogg
	{0xFF, 0xFB, 0x00, 0x00}, // MPEG audio frame sync (masked below)
}

// ValidMagic reports whether fragment begins with a recognized container
// signature. Fragments shorter than 4 bytes never validate.
func ValidMagic(fragment []byte) bool {
	if len(fragment) < 4 {
		return false
	}
	for _, magic := range magicHeaders {
		if len(magic) > len(fragment) {
			continue
		}
		if bytes.Equal(fragment[:4], magic[:4]) {
			return true
		}
		// MPEG frame sync only fixes its top 11 bits: all of byte 0 and the
		// top 3 bits of byte 1; bytes 2-3 are ignored entirely.
		if magic[0] == 0xFF && fragment[0] == 0xFF && fragment[1]&0xE0 == 0xE0 {
			return true
		}
	}
	return false
}

// IsLarge reports whether fragment reaches or exceeds LargeThreshold and
// should bypass segmentation.
func IsLarge(fragment []byte) bool {
	return len(fragment) >= LargeThreshold
}

// Decoder turns a sequence of container-format fragments into one
// normalized mono 16kHz PCM-in-WAV blob. It stands in for the
// out-of-scope external decode/merge helper; when nil, the Reassembler
// falls back to per-fragment transcription (§4.7).
type Decoder func(fragments [][]byte, sampleRate int) ([]byte, error)

// Transcriber transcribes a single fragment, used by the fallback path
// when no Decoder is configured.
type Transcriber func(ctx context.Context, fragment []byte) (string, error)

// Reassembler validates, classifies, and concatenates audio fragments
// for one turn.
type Reassembler struct {
	sampleRate  int
	decode      Decoder
	transcriber Transcriber
	fragments   [][]byte
}

func NewReassembler(sampleRate int, decode Decoder, transcriber Transcriber) *Reassembler {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Reassembler{sampleRate: sampleRate, decode: decode, transcriber: transcriber}
}

// Add validates and appends a fragment, returning whether it was
// accepted (false means the fragment failed magic validation and was
// dropped) and whether it is large enough to fire end-of-turn
// immediately.
func (r *Reassembler) Add(fragment []byte) (accepted, large bool) {
	if !ValidMagic(fragment) {
		return false, false
	}
	r.fragments = append(r.fragments, fragment)
	return true, IsLarge(fragment)
}

// Reset clears accumulated fragments, starting a fresh turn.
func (r *Reassembler) Reset() {
	r.fragments = nil
}

// Fragments returns the fragments accumulated so far.
func (r *Reassembler) Fragments() [][]byte {
	return r.fragments
}

// HasDecoder reports whether a Decoder is configured; the turn segmenter
// uses this to pick normal vs. fallback segmentation mode.
func (r *Reassembler) HasDecoder() bool {
	return r.decode != nil
}

// Finish produces the turn's final transcript. When a Decoder is
// configured it concatenates fragments into one WAV blob and hands that
// to transcribe; otherwise it falls back to transcribing each fragment
// individually and joining the results with single spaces (§4.7).
func (r *Reassembler) Finish(ctx context.Context, transcribe func(ctx context.Context, wav []byte) (string, error)) (string, error) {
	if len(r.fragments) == 0 {
		return "", nil
	}

	if r.decode != nil {
		blob, err := r.decode(r.fragments, r.sampleRate)
		if err != nil {
			return "", fmt.Errorf("decode/merge fragments: %w", err)
		}
		return transcribe(ctx, blob)
	}

	if r.transcriber == nil {
		return "", fmt.Errorf("no decoder and no fallback transcriber configured")
	}

	var parts []string
	for _, f := range r.fragments {
		text, err := r.transcriber(ctx, f)
		if err != nil {
			return "", fmt.Errorf("transcribe fragment: %w", err)
		}
		text = strings.TrimSpace(text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// AnalyzeLatest runs audio quality metrics over the most recently added
// fragment, decoded as raw PCM16LE (the fallback/no-container case used
// for local VAD fragments rather than full container blobs).
func (r *Reassembler) AnalyzeLatest() audiometrics.Result {
	if len(r.fragments) == 0 {
		return audiometrics.Result{QualityLabel: "unknown"}
	}
	return audiometrics.Analyze(r.fragments[len(r.fragments)-1], r.sampleRate)
}
