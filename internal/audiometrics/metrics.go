// Package audiometrics computes RMS, peak, clipping, and SNR over PCM16LE
// audio as pure functions. It never filters, resamples, or otherwise
// touches the waveform — that DSP surface is out of scope.
package audiometrics

import (
	"encoding/binary"
	"math"
)

const (
	// noiseFloor separates signal from noise when estimating SNR.
	noiseFloor = 0.01
	// clipThreshold is the amplitude above which a sample is considered clipped.
	clipThreshold = 0.99
)

// Clipping reports how much of a buffer sits at or above clipThreshold.
type Clipping struct {
	IsClipping     bool    `json:"is_clipping"`
	ClippedSamples int     `json:"clipped_samples"`
	ClipPercentage float64 `json:"clip_percentage"`
}

// Result is the full audio quality analysis for one fragment.
type Result struct {
	RMS          float64  `json:"rms"`
	Peak         float64  `json:"peak"`
	SNRdB        float64  `json:"snr_db"`
	Clipping     Clipping `json:"clipping"`
	QualityScore int      `json:"quality_score"`
	QualityLabel string   `json:"quality_label"`
	DurationMS   int      `json:"duration_ms"`
}

// DecodePCM16LE converts little-endian 16-bit PCM bytes into samples
// normalized to [-1, 1]. An odd trailing byte is dropped.
func DecodePCM16LE(pcm []byte) []float64 {
	n := len(pcm) / 2
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float64(v) / 32768.0
	}
	return samples
}

// RMS computes the root-mean-square energy level.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		sumSq += s * s
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}

// Peak computes the maximum absolute amplitude.
func Peak(samples []float64) float64 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	return peak
}

// SNR estimates signal-to-noise ratio in dB by splitting samples into
// signal and noise populations at the noise floor threshold.
func SNR(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}

	var signalSumSq, noiseSumSq float64
	var signalCount, noiseCount int
	for _, s := range samples {
		a := math.Abs(s)
		if a > noiseFloor {
			signalSumSq += s * s
			signalCount++
		} else {
			noiseSumSq += s * s
			noiseCount++
		}
	}

	if signalCount == 0 {
		return 0
	}

	noisePower := noiseFloor * noiseFloor
	if noiseCount > 0 {
		noisePower = noiseSumSq / float64(noiseCount)
	}
	if noisePower <= 0 {
		noisePower = 1e-10
	}
	signalPower := signalSumSq / float64(signalCount)

	snr := 10 * math.Log10(signalPower/noisePower)
	return math.Max(0, snr)
}

// DetectClipping reports the clipped-sample count and percentage.
func DetectClipping(samples []float64) Clipping {
	if len(samples) == 0 {
		return Clipping{}
	}
	clipped := 0
	for _, s := range samples {
		if math.Abs(s) >= clipThreshold {
			clipped++
		}
	}
	pct := float64(clipped) / float64(len(samples)) * 100
	return Clipping{
		IsClipping:     clipped > 0,
		ClippedSamples: clipped,
		ClipPercentage: math.Round(pct*100) / 100,
	}
}

// QualityScore combines SNR, RMS, peak, and clipping into a 0-100 score.
func QualityScore(snr, rms, peak float64, isClipping bool) int {
	score := 0

	switch {
	case snr >= 20:
		score += 40
	case snr >= 10:
		score += int(20 + (snr-10)*2)
	default:
		score += int(snr * 2)
	}

	switch {
	case rms >= 0.1 && rms <= 0.3:
		score += 30
	case rms >= 0.05 && rms < 0.1:
		score += 20
	case rms > 0.3 && rms <= 0.5:
		score += 20
	default:
		score += 10
	}

	switch {
	case peak >= 0.3 && peak <= 0.8:
		score += 20
	case peak >= 0.2 && peak < 0.3:
		score += 15
	case peak > 0.8 && peak < 0.95:
		score += 15
	default:
		score += 10
	}

	if isClipping {
		score -= 20
	}

	return int(math.Max(0, math.Min(100, float64(score))))
}

func qualityLabel(score int) string {
	switch {
	case score >= 80:
		return "excellent"
	case score >= 60:
		return "good"
	case score >= 40:
		return "fair"
	default:
		return "poor"
	}
}

// Analyze runs the full quality analysis over a PCM16LE fragment at the
// given sample rate.
func Analyze(pcm []byte, sampleRate int) Result {
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	samples := DecodePCM16LE(pcm)
	if len(samples) == 0 {
		return Result{QualityLabel: "unknown"}
	}

	rms := round4(RMS(samples))
	peak := round4(Peak(samples))
	snr := round1(SNR(samples))
	clipping := DetectClipping(samples)
	score := QualityScore(snr, rms, peak, clipping.IsClipping)

	return Result{
		RMS:          rms,
		Peak:         peak,
		SNRdB:        snr,
		Clipping:     clipping,
		QualityScore: score,
		QualityLabel: qualityLabel(score),
		DurationMS:   len(samples) * 1000 / sampleRate,
	}
}

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }
