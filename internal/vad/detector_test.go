package vad

import (
	"testing"
	"time"

	"github.com/voxwire/voxwire/internal/quality"
)

// feed is a test driver that generates consecutive frame metrics against a
// fixed noise floor (threshold = max(floor×3, 0.01) = 0.01).
type feed struct {
	t     *testing.T
	d     *Detector
	noise quality.NoiseProfile
	seq   uint64
}

func newFeed(t *testing.T, cfg Config) *feed {
	t.Helper()
	return &feed{
		t:     t,
		d:     New(cfg),
		noise: quality.NoiseProfile{FloorEnergy: 0.002, Seeded: true},
	}
}

// frame feeds one frame with the given energy and level and returns the event.
func (f *feed) frame(energy float64, level quality.Level) Event {
	f.t.Helper()
	m := quality.Metrics{Seq: f.seq, Energy: energy, Level: level}
	f.seq++
	return f.d.ProcessFrame(m, f.noise)
}

func (f *feed) speech() Event  { return f.frame(0.05, quality.LevelGood) }
func (f *feed) silence() Event { return f.frame(0.001, quality.LevelGood) }

// run feeds n frames via fn and fails on any non-None event.
func (f *feed) run(n int, fn func() Event) {
	f.t.Helper()
	for i := 0; i < n; i++ {
		if ev := fn(); ev.Type != EventNone {
			f.t.Fatalf("frame %d: unexpected event %v", i, ev.Type)
		}
	}
}

func TestSpeechStart_FiresOnceAfterDebounce(t *testing.T) {
	f := newFeed(t, Config{StartDebounceFrames: 3})

	f.run(10, f.silence)

	// Two active frames: still below the debounce.
	f.run(2, f.speech)

	ev := f.speech()
	if ev.Type != EventSpeechStart {
		t.Fatalf("event = %v, want speech_start on the 3rd active frame", ev.Type)
	}

	// Continued speech must not re-fire.
	f.run(20, f.speech)
}

func TestSpeechStart_DebounceRejectsTransients(t *testing.T) {
	f := newFeed(t, Config{StartDebounceFrames: 3})

	// Isolated one-frame bursts never open a turn.
	for i := 0; i < 5; i++ {
		if ev := f.speech(); ev.Type != EventNone {
			t.Fatalf("burst %d: unexpected event %v", i, ev.Type)
		}
		f.run(3, f.silence)
	}
	if f.d.State() != StateSilence {
		t.Errorf("state = %v, want silence", f.d.State())
	}
}

func TestTurnComplete_HoldDuration(t *testing.T) {
	// End-of-turn hold 700ms at 20ms frames: 34 silent frames (680ms) keep
	// the turn open, 36 (720ms) close it.
	f := newFeed(t, Config{StartDebounceFrames: 3, EndHold: 700 * time.Millisecond})

	f.run(2, f.speech)
	if ev := f.speech(); ev.Type != EventSpeechStart {
		t.Fatalf("event = %v, want speech_start", ev.Type)
	}
	f.run(47, f.speech) // 50 active frames total

	f.run(34, f.silence)
	if f.d.State() != StateSpeech {
		t.Fatal("turn closed before end-of-turn hold elapsed")
	}

	if ev := f.silence(); ev.Type != EventNone { // frame 35: exactly 700ms, not over
		t.Fatalf("event = %v at exactly the hold boundary, want none", ev.Type)
	}

	ev := f.silence() // frame 36: 720ms > 700ms
	if ev.Type != EventTurnComplete {
		t.Fatalf("event = %v, want turn_complete", ev.Type)
	}

	// Duration covers the 50 speech frames, excluding the trailing hold.
	if want := 50 * 20 * time.Millisecond; ev.SpeechDuration != want {
		t.Errorf("speech duration = %v, want %v", ev.SpeechDuration, want)
	}
}

func TestTurnStaysOpenThroughBriefPause(t *testing.T) {
	f := newFeed(t, Config{StartDebounceFrames: 3, EndHold: 700 * time.Millisecond})

	f.run(2, f.speech)
	if ev := f.speech(); ev.Type != EventSpeechStart {
		t.Fatalf("event = %v, want speech_start", ev.Type)
	}

	// Pause shorter than the hold, then resume: the turn never closes and
	// no second speech_start fires.
	f.run(20, f.silence)
	f.run(20, f.speech)
	if f.d.State() != StateSpeech {
		t.Errorf("state = %v, want speech", f.d.State())
	}
}

func TestBargeIn_ImmediateNoDebounce(t *testing.T) {
	f := newFeed(t, Config{StartDebounceFrames: 5})

	f.run(10, f.silence)
	f.d.SetAssistantSpeaking(true)

	// A single active frame fires barge_in — no debounce.
	ev := f.speech()
	if ev.Type != EventBargeIn {
		t.Fatalf("event = %v, want barge_in within one frame", ev.Type)
	}
	if f.d.State() != StateBargeIn {
		t.Errorf("state = %v, want barge_in", f.d.State())
	}

	// Once the caller clears assistant-speaking mode, the barge-in becomes a
	// regular open speech turn.
	f.d.SetAssistantSpeaking(false)
	if ev := f.speech(); ev.Type != EventNone {
		t.Fatalf("event = %v, want none (barge-in already reported)", ev.Type)
	}
	if f.d.State() != StateSpeech {
		t.Errorf("state = %v, want speech after assistant-speaking cleared", f.d.State())
	}
}

func TestBargeIn_FromOpenSpeechTurn(t *testing.T) {
	f := newFeed(t, Config{StartDebounceFrames: 3})

	f.run(2, f.speech)
	if ev := f.speech(); ev.Type != EventSpeechStart {
		t.Fatalf("event = %v, want speech_start", ev.Type)
	}

	f.d.SetAssistantSpeaking(true)
	ev := f.speech()
	if ev.Type != EventBargeIn {
		t.Fatalf("event = %v, want barge_in while assistant speaking", ev.Type)
	}
}

func TestPoorQuality_SuppressesActivity(t *testing.T) {
	f := newFeed(t, Config{StartDebounceFrames: 3})

	// Loud but poor-quality frames must not open a turn.
	for i := 0; i < 20; i++ {
		if ev := f.frame(0.5, quality.LevelPoor); ev.Type != EventNone {
			t.Fatalf("frame %d: unexpected event %v", i, ev.Type)
		}
	}
	if f.d.State() != StateSilence {
		t.Errorf("state = %v, want silence", f.d.State())
	}
}

func TestPoorQuality_GraceForcesTurnComplete(t *testing.T) {
	f := newFeed(t, Config{
		StartDebounceFrames: 3,
		EndHold:             700 * time.Millisecond,
		PoorGrace:           200 * time.Millisecond,
	})

	f.run(2, f.speech)
	if ev := f.speech(); ev.Type != EventSpeechStart {
		t.Fatalf("event = %v, want speech_start", ev.Type)
	}
	f.run(7, f.speech) // 10 speech frames total

	// Poor-quality frames hold the turn open without accumulating the
	// end-of-turn hold...
	f.run(10, func() Event { return f.frame(0.5, quality.LevelPoor) }) // 200ms, not over

	// ...until the grace bound expires.
	ev := f.frame(0.5, quality.LevelPoor)
	if ev.Type != EventTurnComplete {
		t.Fatalf("event = %v, want forced turn_complete after grace", ev.Type)
	}
	if want := 10 * 20 * time.Millisecond; ev.SpeechDuration != want {
		t.Errorf("speech duration = %v, want %v (grace tail excluded)", ev.SpeechDuration, want)
	}
	if f.d.State() != StateSilence {
		t.Errorf("state = %v, want silence", f.d.State())
	}
}

func TestPoorQuality_RecoveryClearsGrace(t *testing.T) {
	f := newFeed(t, Config{StartDebounceFrames: 3, PoorGrace: 200 * time.Millisecond})

	f.run(2, f.speech)
	if ev := f.speech(); ev.Type != EventSpeechStart {
		t.Fatalf("want speech_start")
	}

	// Alternate poor and good frames: grace never accumulates to the bound.
	for i := 0; i < 30; i++ {
		if ev := f.frame(0.5, quality.LevelPoor); ev.Type != EventNone {
			t.Fatalf("poor frame %d: unexpected event %v", i, ev.Type)
		}
		if ev := f.speech(); ev.Type != EventNone {
			t.Fatalf("good frame %d: unexpected event %v", i, ev.Type)
		}
	}
	if f.d.State() != StateSpeech {
		t.Errorf("state = %v, want speech", f.d.State())
	}
}

func TestStreamDiscontinuity_ResetsToSilence(t *testing.T) {
	f := newFeed(t, Config{StartDebounceFrames: 3})

	f.run(2, f.speech)
	if ev := f.speech(); ev.Type != EventSpeechStart {
		t.Fatalf("want speech_start")
	}

	// Skip ahead in the sequence: the detector must reset, not guess.
	m := quality.Metrics{Seq: f.seq + 100, Energy: 0.05, Level: quality.LevelGood}
	ev := f.d.ProcessFrame(m, f.noise)
	if ev.Type != EventStreamDiscontinuity {
		t.Fatalf("event = %v, want stream_discontinuity", ev.Type)
	}
	if f.d.State() != StateSilence {
		t.Errorf("state = %v, want silence after reset", f.d.State())
	}

	// The discontinuity frame becomes the new sequence baseline.
	m = quality.Metrics{Seq: f.seq + 101, Energy: 0.05, Level: quality.LevelGood}
	if ev := f.d.ProcessFrame(m, f.noise); ev.Type != EventNone {
		t.Errorf("event = %v, want none on the next in-order frame", ev.Type)
	}
}

func TestAdaptiveThreshold_ScalesWithNoiseFloor(t *testing.T) {
	f := newFeed(t, Config{StartDebounceFrames: 1})
	f.noise = quality.NoiseProfile{FloorEnergy: 0.1, Seeded: true}

	// Energy 0.2 would be speech in a quiet room, but the floor is 0.1 and
	// the threshold scales to 0.3.
	if ev := f.frame(0.2, quality.LevelGood); ev.Type != EventNone {
		t.Fatalf("event = %v, want none below the adaptive threshold", ev.Type)
	}

	if ev := f.frame(0.35, quality.LevelGood); ev.Type != EventSpeechStart {
		t.Errorf("event = %v, want speech_start above the adaptive threshold", ev.Type)
	}
}
