// Package vad implements the semantic voice-turn detector: a three-state
// machine (silence, speech, barge-in) driven by quality-gated activity
// signals. It decides when the speaker has started and stopped talking and
// when they are interrupting assistant playback, and it is the sole writer
// of the per-stream turn state.
package vad

import (
	"log/slog"
	"time"

	"github.com/voxwire/voxwire/internal/quality"
)

// Default turn-detection parameters.
const (
	defaultFrameDuration     = 20 * time.Millisecond
	defaultStartDebounce     = 3
	defaultEndHold           = 700 * time.Millisecond
	defaultPoorGrace         = 2 * time.Second
	defaultSpeechFloorFactor = 3.0
	defaultMinSpeechEnergy   = 0.01
)

// State is the voice-turn state. Exactly one instance exists per stream and
// only the [Detector] mutates it.
type State int

const (
	// StateSilence means no open speech turn.
	StateSilence State = iota

	// StateSpeech means an open speech turn.
	StateSpeech

	// StateBargeIn means the user started speaking while the assistant was
	// playing audio. It transitions onward to [StateSpeech] once the caller
	// clears assistant-speaking mode.
	StateBargeIn
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateSilence:
		return "silence"
	case StateSpeech:
		return "speech"
	case StateBargeIn:
		return "barge_in"
	default:
		return "unknown"
	}
}

// EventType identifies a turn-boundary event emitted by the detector.
type EventType int

const (
	// EventNone is the zero value: the frame caused no turn boundary.
	EventNone EventType = iota

	// EventSpeechStart fires when the start debounce is met.
	EventSpeechStart

	// EventTurnComplete fires when the end-of-turn hold elapses (or the
	// poor-quality grace expires on an open turn). SpeechDuration carries
	// the accumulated speech time excluding the trailing hold.
	EventTurnComplete

	// EventBargeIn fires immediately — no debounce — when activity is
	// detected during assistant-speaking mode.
	EventBargeIn

	// EventStreamDiscontinuity fires when sequence numbers go backwards or
	// skip; the detector has reset itself to silence.
	EventStreamDiscontinuity
)

// String returns the wire-style name of the event type.
func (t EventType) String() string {
	switch t {
	case EventNone:
		return "none"
	case EventSpeechStart:
		return "speech_start"
	case EventTurnComplete:
		return "turn_complete"
	case EventBargeIn:
		return "barge_in"
	case EventStreamDiscontinuity:
		return "stream_discontinuity"
	default:
		return "unknown"
	}
}

// Event is a turn-boundary notification.
type Event struct {
	// Type identifies the boundary; EventNone means no event this frame.
	Type EventType

	// Seq is the sequence number of the frame that triggered the event.
	Seq uint64

	// SpeechDuration is the accumulated speech time for EventTurnComplete.
	SpeechDuration time.Duration
}

// Config holds tuning knobs for the [Detector]. Zero-value fields are
// replaced with defaults.
type Config struct {
	// FrameDuration is the fixed duration of one frame. Default: 20ms.
	FrameDuration time.Duration

	// StartDebounceFrames is the consecutive-active-frame run required to
	// open a turn, debouncing against transients. Default: 3.
	StartDebounceFrames int

	// EndHold is how long activity must stay absent before an open turn
	// completes. Longer than the start debounce so brief pauses within an
	// utterance do not end the turn. Default: 700ms.
	EndHold time.Duration

	// PoorGrace bounds how long an open turn is held while quality is poor
	// and activity detection is suppressed. When it expires the turn is
	// force-completed rather than left open indefinitely. Default: 2s.
	PoorGrace time.Duration

	// SpeechFloorFactor scales the activity threshold with the noise floor:
	// louder ambient noise requires louder speech to trigger. Default: 3.0.
	SpeechFloorFactor float64

	// MinSpeechEnergy is the absolute lower bound on the activity threshold,
	// so a near-zero floor in a dead-quiet room does not make the detector
	// fire on numeric noise. Default: 0.01.
	MinSpeechEnergy float64
}

// Detector is the per-stream voice-turn state machine. Not safe for
// concurrent use from multiple goroutines except [Detector.SetAssistantSpeaking],
// which only flips an input flag read on the next frame.
type Detector struct {
	cfg Config

	state             State
	assistantSpeaking bool

	activeRun   int // consecutive active frames while in silence
	inactiveRun int // consecutive inactive frames while in speech
	speechRun   int // frames since the turn opened
	poorRun     int // consecutive suppressed frames while a turn is open

	lastSeq uint64
	haveSeq bool
}

// New creates a [Detector] in the silence state, replacing zero-value config
// fields with defaults.
func New(cfg Config) *Detector {
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = defaultFrameDuration
	}
	if cfg.StartDebounceFrames <= 0 {
		cfg.StartDebounceFrames = defaultStartDebounce
	}
	if cfg.EndHold <= 0 {
		cfg.EndHold = defaultEndHold
	}
	if cfg.PoorGrace <= 0 {
		cfg.PoorGrace = defaultPoorGrace
	}
	if cfg.SpeechFloorFactor <= 0 {
		cfg.SpeechFloorFactor = defaultSpeechFloorFactor
	}
	if cfg.MinSpeechEnergy <= 0 {
		cfg.MinSpeechEnergy = defaultMinSpeechEnergy
	}
	return &Detector{cfg: cfg}
}

// SetAssistantSpeaking flags whether the assistant is currently playing
// audio. While set, any detected activity is treated as a barge-in and
// emitted without debounce.
func (d *Detector) SetAssistantSpeaking(on bool) {
	d.assistantSpeaking = on
}

// State returns the current turn state.
func (d *Detector) State() State {
	return d.state
}

// ProcessFrame advances the state machine by one frame and returns the
// resulting event, if any. Metrics must come from the same frame sequence
// the detector has been fed so far: a non-monotonic or skipped sequence
// number resets the detector to silence and emits a stream-discontinuity
// event instead of silently accepting misordered data.
func (d *Detector) ProcessFrame(m quality.Metrics, noise quality.NoiseProfile) Event {
	if d.haveSeq && m.Seq != d.lastSeq+1 {
		slog.Warn("voice-turn detector: stream discontinuity, resetting",
			"last_seq", d.lastSeq,
			"got_seq", m.Seq,
		)
		d.Reset()
		d.lastSeq = m.Seq
		d.haveSeq = true
		return Event{Type: EventStreamDiscontinuity, Seq: m.Seq}
	}
	d.lastSeq = m.Seq
	d.haveSeq = true

	// Adaptive activity threshold: scales with the noise floor, bounded
	// below so a silent room cannot trigger on numeric noise.
	threshold := noise.FloorEnergy * d.cfg.SpeechFloorFactor
	if threshold < d.cfg.MinSpeechEnergy {
		threshold = d.cfg.MinSpeechEnergy
	}
	active := m.Energy >= threshold

	// Quality gating: poor frames cannot be trusted for activity — noise
	// bursts and clipping would fabricate turn boundaries.
	suppressed := m.Level == quality.LevelPoor
	if suppressed {
		active = false
	}

	// Barge-in preempts the normal transitions: responsiveness during
	// playback interruption is prioritised over false-positive tolerance.
	if d.assistantSpeaking && active && d.state != StateBargeIn {
		if d.state == StateSilence {
			d.speechRun = 0
		}
		d.state = StateBargeIn
		d.speechRun++
		d.inactiveRun = 0
		d.poorRun = 0
		return Event{Type: EventBargeIn, Seq: m.Seq}
	}

	switch d.state {
	case StateSilence:
		if active {
			d.activeRun++
			if d.activeRun >= d.cfg.StartDebounceFrames {
				d.state = StateSpeech
				d.speechRun = d.activeRun
				d.inactiveRun = 0
				d.poorRun = 0
				d.activeRun = 0
				return Event{Type: EventSpeechStart, Seq: m.Seq}
			}
		} else {
			d.activeRun = 0
		}

	case StateSpeech, StateBargeIn:
		if d.state == StateBargeIn && !d.assistantSpeaking {
			// Assistant playback stopped; the barge-in continues as a
			// regular speech turn.
			d.state = StateSpeech
		}
		d.speechRun++

		if suppressed {
			// Hold the open turn rather than ending it on untrustworthy
			// frames, but bound the hold by the grace duration.
			d.poorRun++
			if time.Duration(d.poorRun)*d.cfg.FrameDuration > d.cfg.PoorGrace {
				return d.completeTurn(m.Seq, d.poorRun)
			}
			return Event{Type: EventNone}
		}
		d.poorRun = 0

		if active {
			d.inactiveRun = 0
		} else {
			d.inactiveRun++
			if time.Duration(d.inactiveRun)*d.cfg.FrameDuration > d.cfg.EndHold {
				return d.completeTurn(m.Seq, d.inactiveRun)
			}
		}
	}

	return Event{Type: EventNone}
}

// completeTurn closes the open turn and returns the turn-complete event. The
// reported duration excludes the trailing frames counted by tail (the
// end-of-turn hold or the poor-quality grace).
func (d *Detector) completeTurn(seq uint64, tail int) Event {
	speechFrames := d.speechRun - tail
	if speechFrames < 0 {
		speechFrames = 0
	}
	dur := time.Duration(speechFrames) * d.cfg.FrameDuration

	d.state = StateSilence
	d.activeRun = 0
	d.inactiveRun = 0
	d.speechRun = 0
	d.poorRun = 0

	return Event{Type: EventTurnComplete, Seq: seq, SpeechDuration: dur}
}

// Reset returns the detector to silence and clears all rolling counters.
// Sequence tracking restarts from the next frame.
func (d *Detector) Reset() {
	d.state = StateSilence
	d.activeRun = 0
	d.inactiveRun = 0
	d.speechRun = 0
	d.poorRun = 0
	d.haveSeq = false
}
