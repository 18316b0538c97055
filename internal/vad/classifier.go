package vad

import (
	"math"
	"time"
)

// DefaultEnergyThreshold is the RMS level separating speech from silence on
// a [0,1] normalized scale.
const DefaultEnergyThreshold = 0.01

// Frame is one fixed-size block of PCM16LE mono samples. Energy carries the
// client-side precomputed RMS when EnergySet is true; otherwise the
// classifier computes it from the samples.
type Frame struct {
	PCM        []byte
	SampleRate int
	Timestamp  time.Time
	Energy     float64
	EnergySet  bool
}

// Result is the per-frame speech/silence decision.
type Result struct {
	IsSpeech  bool
	Energy    float64
	Timestamp time.Time
}

// Classifier converts frame energy into a binary speech/silence decision.
// It is a pure function of its input: no side effects, no failure modes.
type Classifier struct {
	threshold float64
}

func NewClassifier(threshold float64) Classifier {
	if threshold <= 0 {
		threshold = DefaultEnergyThreshold
	}
	return Classifier{threshold: threshold}
}

func (c Classifier) Classify(f Frame) Result {
	energy := f.Energy
	if !f.EnergySet {
		energy = RMSEnergy(f.PCM)
	}
	return Result{
		IsSpeech:  energy > c.threshold,
		Energy:    energy,
		Timestamp: f.Timestamp,
	}
}

// RMSEnergy computes the root-mean-square energy of PCM16LE samples,
// normalized to [0,1].
func RMSEnergy(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var sum float64
	count := len(pcm) / 2
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum/float64(count)) / 32768.0
}
