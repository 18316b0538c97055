package vad

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func pcmWithAmplitude(amplitude float64, samples int) []byte {
	out := make([]byte, samples*2)
	v := int16(amplitude * 32767)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func TestClassifyUsesPrecomputedEnergy(t *testing.T) {
	c := NewClassifier(0.01)
	r := c.Classify(Frame{Energy: 0.5, EnergySet: true, Timestamp: time.Unix(1, 0)})
	if !r.IsSpeech {
		t.Fatalf("IsSpeech = false, want true for energy 0.5")
	}
	if r.Energy != 0.5 {
		t.Fatalf("Energy = %v, want 0.5", r.Energy)
	}

	r = c.Classify(Frame{Energy: 0.0, EnergySet: true})
	if r.IsSpeech {
		t.Fatalf("IsSpeech = true, want false for energy 0.0")
	}
}

func TestClassifyComputesRMSWhenUnset(t *testing.T) {
	c := NewClassifier(0.01)
	loud := c.Classify(Frame{PCM: pcmWithAmplitude(0.5, 1600), SampleRate: 16000})
	if !loud.IsSpeech {
		t.Fatalf("IsSpeech = false, want true for loud frame (energy %v)", loud.Energy)
	}
	quiet := c.Classify(Frame{PCM: pcmWithAmplitude(0.001, 1600), SampleRate: 16000})
	if quiet.IsSpeech {
		t.Fatalf("IsSpeech = true, want false for quiet frame (energy %v)", quiet.Energy)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := NewClassifier(0.01)
	f := Frame{PCM: pcmWithAmplitude(0.3, 1600), SampleRate: 16000}
	first := c.Classify(f)
	for i := 0; i < 10; i++ {
		if got := c.Classify(f); got != first {
			t.Fatalf("Classify() not stable: %+v != %+v", got, first)
		}
	}
}

func TestRMSEnergy(t *testing.T) {
	if e := RMSEnergy(nil); e != 0 {
		t.Fatalf("RMSEnergy(nil) = %v, want 0", e)
	}
	if e := RMSEnergy(make([]byte, 3200)); e != 0 {
		t.Fatalf("RMSEnergy(zeros) = %v, want 0", e)
	}
	e := RMSEnergy(pcmWithAmplitude(0.5, 1600))
	if math.Abs(e-0.5) > 0.01 {
		t.Fatalf("RMSEnergy(const 0.5) = %v, want ~0.5", e)
	}
}

func TestNewClassifierDefaultThreshold(t *testing.T) {
	c := NewClassifier(0)
	r := c.Classify(Frame{Energy: 0.02, EnergySet: true})
	if !r.IsSpeech {
		t.Fatalf("IsSpeech = false, want true for 0.02 against default threshold")
	}
}
