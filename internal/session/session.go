// Package session assembles the per-stream audio pipeline: quality analysis,
// voice-turn detection and connection resilience, wired to one transport
// sender. A [Session] processes frames strictly in capture order on a single
// goroutine and reports turn boundaries and health transitions through
// caller-supplied callbacks.
package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/quality"
	"github.com/voxwire/voxwire/internal/resilience"
	"github.com/voxwire/voxwire/internal/vad"
	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/transport"
)

// ErrSessionClosed is returned by [Session.ProcessFrame] after [Session.Close].
var ErrSessionClosed = errors.New("session: closed")

// Events carries the callbacks a session invokes as it processes frames. All
// fields are optional. Callbacks run synchronously on the frame-processing
// goroutine (or, for OnConnectionMode, on the reconnect timer goroutine) and
// must not block.
type Events struct {
	// OnSpeechStart fires when a speech turn opens.
	OnSpeechStart func(vad.Event)

	// OnTurnComplete fires when a speech turn closes. The event carries the
	// accumulated speech duration.
	OnTurnComplete func(vad.Event)

	// OnBargeIn fires when the user interrupts assistant playback.
	OnBargeIn func(vad.Event)

	// OnStreamDiscontinuity fires when frame sequence numbers skip or go
	// backwards and the turn state has been reset.
	OnStreamDiscontinuity func(vad.Event)

	// OnQualityChange fires when the committed quality level transitions.
	OnQualityChange func(from, to quality.Level, seq uint64)

	// OnConnectionMode fires on every connection-mode transition.
	OnConnectionMode func(resilience.Mode)
}

// Config holds the per-session tuning. Zero-value sub-configs use the
// component defaults.
type Config struct {
	// ID identifies the session in logs and the manager.
	ID string

	// Analyzer tunes quality analysis and the noise estimator.
	Analyzer quality.AnalyzerConfig

	// Turn tunes the voice-turn detector.
	Turn vad.Config

	// Resilience tunes connection-health tracking and reconnect behaviour.
	// Its OnModeChange and OnRetry fields are owned by the session and must
	// be left nil.
	Resilience resilience.Config

	// Events are the session callbacks.
	Events Events

	// Metrics receives the session's instrumentation. Nil selects
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Session is one live audio stream through the pipeline. ProcessFrame must be
// called from a single goroutine; Close, Health and SetAssistantSpeaking may
// be called from others.
type Session struct {
	id       string
	analyzer *quality.Analyzer
	detector *vad.Detector
	ctrl     *resilience.Controller
	events   Events
	metrics  *observe.Metrics

	closed atomic.Bool

	lastLevel   quality.Level
	lastDropped uint64
	lastDepth   int
}

// New creates a [Session] bound to the given transport sender.
func New(cfg Config, sender transport.Sender) *Session {
	s := &Session{
		id:       cfg.ID,
		analyzer: quality.NewAnalyzer(cfg.Analyzer),
		detector: vad.New(cfg.Turn),
		events:   cfg.Events,
		metrics:  cfg.Metrics,
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	rcfg := cfg.Resilience
	rcfg.OnModeChange = func(m resilience.Mode) {
		if s.events.OnConnectionMode != nil {
			s.events.OnConnectionMode(m)
		}
	}
	rcfg.OnRetry = func() {
		s.metrics.RecordReconnect(context.Background())
	}
	s.ctrl = resilience.NewController(rcfg, sender)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// ProcessFrame runs one frame through analysis, turn detection and
// submission, and returns the turn event it produced, if any. Frames whose
// length deviates from the configured frame size are rejected with
// [audio.ErrInvalidFrameSize] and leave all state untouched.
func (s *Session) ProcessFrame(ctx context.Context, frame audio.Frame) (vad.Event, error) {
	if s.closed.Load() {
		return vad.Event{}, ErrSessionClosed
	}
	start := time.Now()

	m, err := s.analyzer.Analyze(frame)
	if err != nil {
		return vad.Event{}, err
	}

	if m.Level != s.lastLevel {
		s.metrics.RecordQualityChange(ctx, s.lastLevel.String(), m.Level.String())
		if s.events.OnQualityChange != nil {
			s.events.OnQualityChange(s.lastLevel, m.Level, m.Seq)
		}
		s.lastLevel = m.Level
	}

	ev := s.detector.ProcessFrame(m, s.analyzer.NoiseProfile())

	// Turn boundaries reach the controller before the frame itself so a
	// completed turn drains ahead of the next turn's first frame.
	s.ctrl.OnTurnEvent(ev)
	outcome := s.ctrl.Submit(frame)

	s.record(ctx, m, ev, outcome)
	s.dispatch(ev)

	s.metrics.FrameAnalysisDuration.Record(ctx, time.Since(start).Seconds())
	return ev, nil
}

// OnHealthSample records one delivery outcome observed by the transport and
// returns the updated connection health.
func (s *Session) OnHealthSample(rtt time.Duration, success bool) resilience.ConnectionHealth {
	if success && rtt > 0 {
		s.metrics.TransportRTT.Record(context.Background(), rtt.Seconds())
	}
	return s.ctrl.OnHealthSample(rtt, success)
}

// SetAssistantSpeaking flags whether assistant audio is currently playing, so
// detected activity is treated as a barge-in.
func (s *Session) SetAssistantSpeaking(on bool) {
	s.detector.SetAssistantSpeaking(on)
}

// Health returns a snapshot of the connection health.
func (s *Session) Health() resilience.ConnectionHealth {
	return s.ctrl.Health()
}

// TurnState returns the current voice-turn state.
func (s *Session) TurnState() vad.State {
	return s.detector.State()
}

// Close shuts the session down. When flush is true, frames still buffered for
// a healthy connection are sent before the transport is released. Safe to
// call more than once.
func (s *Session) Close(flush bool) {
	if s.closed.Swap(true) {
		return
	}
	s.ctrl.Close(flush)
}

// record updates the session's instrumentation for one processed frame.
func (s *Session) record(ctx context.Context, m quality.Metrics, ev vad.Event, outcome resilience.Outcome) {
	s.metrics.RecordFrame(ctx, m.Level.String())
	if ev.Type != vad.EventNone {
		s.metrics.RecordTurnEvent(ctx, ev.Type.String())
	}

	h := s.ctrl.Health()
	if outcome == resilience.OutcomeDropped {
		s.metrics.RecordDrop(ctx, "offline")
	}
	// Overflow drops happen inside the controller while the frame itself is
	// reported buffered; pick them up from the counter delta.
	if extra := h.FramesDropped - s.lastDropped; outcome != resilience.OutcomeDropped && extra > 0 {
		for i := uint64(0); i < extra; i++ {
			s.metrics.RecordDrop(ctx, "overflow")
		}
	}
	s.lastDropped = h.FramesDropped

	depth := s.ctrl.Buffered()
	if depth != s.lastDepth {
		s.metrics.QueueDepth.Add(ctx, int64(depth-s.lastDepth))
		s.lastDepth = depth
	}
}

// dispatch routes a turn event to the matching callback.
func (s *Session) dispatch(ev vad.Event) {
	switch ev.Type {
	case vad.EventSpeechStart:
		if s.events.OnSpeechStart != nil {
			s.events.OnSpeechStart(ev)
		}
	case vad.EventTurnComplete:
		if s.events.OnTurnComplete != nil {
			s.events.OnTurnComplete(ev)
		}
	case vad.EventBargeIn:
		if s.events.OnBargeIn != nil {
			s.events.OnBargeIn(ev)
		}
	case vad.EventStreamDiscontinuity:
		if s.events.OnStreamDiscontinuity != nil {
			s.events.OnStreamDiscontinuity(ev)
		}
	}
}
