package vad

import (
	"errors"
	"time"
)

// Tier classifies the length of an ongoing contiguous silence run.
type Tier int

const (
	TierNone Tier = iota
	TierShort
	TierMedium
	TierLong
)

func (t Tier) String() string {
	switch t {
	case TierShort:
		return "short"
	case TierMedium:
		return "medium"
	case TierLong:
		return "long"
	default:
		return "none"
	}
}

var ErrZeroLengthFrame = errors.New("zero-length audio frame")

// Thresholds are the tunable turn-taking constants. Short and Medium are
// tier upper bounds: a silence run below Short is a natural gap, below
// Medium marks end of thought (the processing trigger point), and anything
// past Medium means the user is waiting. MinSpeech is the minimum utterance
// length required before a silence run may trigger processing.
type Thresholds struct {
	Short     time.Duration
	Medium    time.Duration
	MinSpeech time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Short:     700 * time.Millisecond,
		Medium:    2000 * time.Millisecond,
		MinSpeech: 300 * time.Millisecond,
	}
}

// Classification is the tracker's view of the current silence episode.
type Classification struct {
	Silence       time.Duration
	Speech        time.Duration
	Tier          Tier
	ShouldTrigger bool
	StateChanged  bool
}

// Tracker accumulates consecutive speech/silence duration for one session
// and decides when a conversational turn has ended. Within one contiguous
// silence run the tier is monotonic non-decreasing, and ShouldTrigger fires
// at most once per episode.
type Tracker struct {
	thresholds Thresholds

	silence   time.Duration
	speech    time.Duration
	lastTier  Tier
	triggered bool
}

func NewTracker(th Thresholds) *Tracker {
	if th.Short <= 0 || th.Medium <= th.Short {
		th = DefaultThresholds()
	}
	if th.MinSpeech <= 0 {
		th.MinSpeech = DefaultThresholds().MinSpeech
	}
	return &Tracker{thresholds: th}
}

// Update folds one classified frame into the episode state. frameDur is the
// play time of the frame; zero-length frames signal malformed input.
func (t *Tracker) Update(r Result, frameDur time.Duration) (Classification, error) {
	if frameDur <= 0 {
		return Classification{}, ErrZeroLengthFrame
	}

	if r.IsSpeech {
		if t.silence > 0 {
			// New episode: the previous speech run ended in silence.
			t.speech = 0
		}
		t.speech += frameDur
		t.silence = 0
		t.triggered = false
		changed := t.lastTier != TierNone
		t.lastTier = TierNone
		return Classification{
			Speech:       t.speech,
			Tier:         TierNone,
			StateChanged: changed,
		}, nil
	}

	t.silence += frameDur
	tier := t.classify(t.silence)
	trigger := false
	if !t.triggered && tier >= TierMedium && t.speech >= t.thresholds.MinSpeech {
		trigger = true
		t.triggered = true
	}
	changed := tier != t.lastTier
	t.lastTier = tier

	return Classification{
		Silence:       t.silence,
		Speech:        t.speech,
		Tier:          tier,
		ShouldTrigger: trigger,
		StateChanged:  changed,
	}, nil
}

// Reset clears all episode state, e.g. after a turn has been dispatched.
func (t *Tracker) Reset() {
	t.silence = 0
	t.speech = 0
	t.lastTier = TierNone
	t.triggered = false
}

// SpeechDuration reports the accumulated speech in the current episode.
func (t *Tracker) SpeechDuration() time.Duration {
	return t.speech
}

func (t *Tracker) classify(silence time.Duration) Tier {
	switch {
	case silence <= 0:
		return TierNone
	case silence < t.thresholds.Short:
		return TierShort
	case silence < t.thresholds.Medium:
		return TierMedium
	default:
		return TierLong
	}
}
