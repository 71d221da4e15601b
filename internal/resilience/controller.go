package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/vad"
	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/transport"
)

// ErrReconnectExhausted is reported when the retry budget runs out. It is
// terminal for the session: the pipeline must be explicitly restarted.
var ErrReconnectExhausted = errors.New("resilience: reconnect retry budget exhausted")

// Default controller parameters.
const (
	defaultFailureThreshold = 3
	defaultDegradedRTT      = 300 * time.Millisecond
	defaultRTTAlpha         = 0.2
	defaultBufferCapacity   = 256
	defaultBackoffBase      = 500 * time.Millisecond
	defaultBackoffMax       = 30 * time.Second
	defaultJitterFraction   = 0.2
	defaultRetryBudget      = 10
	defaultAttemptTimeout   = 5 * time.Second
)

// Mode classifies the connection health.
type Mode int

const (
	// ModeNormal: failures below threshold, RTT nominal.
	ModeNormal Mode = iota

	// ModeDegraded: elevated RTT or intermittent failures. The transport is
	// hinted to reduce bandwidth.
	ModeDegraded

	// ModeReconnecting: consecutive failures exceeded the threshold; frames
	// are buffered while backoff-paced reconnect attempts run.
	ModeReconnecting

	// ModeOffline: the retry budget is exhausted. Terminal.
	ModeOffline
)

// String returns the human-readable name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeDegraded:
		return "degraded"
	case ModeReconnecting:
		return "reconnecting"
	case ModeOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// ConnectionHealth is a snapshot of the connection state. Mutated only by
// the [Controller]; callers receive copies.
type ConnectionHealth struct {
	// Mode is the current connection mode.
	Mode Mode

	// RTT is the exponentially weighted round-trip-time estimate.
	RTT time.Duration

	// ConsecutiveFailures counts delivery failures since the last success.
	ConsecutiveFailures int

	// RetryCount is the total number of reconnect attempts this session.
	RetryCount uint64

	// FramesDropped is the total number of frames dropped this session,
	// whether by buffer overflow or by submission while offline.
	FramesDropped uint64
}

// Outcome reports what happened to a submitted frame.
type Outcome int

const (
	// OutcomeSent: the frame was handed to the transport.
	OutcomeSent Outcome = iota

	// OutcomeBuffered: the frame was queued for transmission after
	// reconnect.
	OutcomeBuffered

	// OutcomeDropped: the frame was discarded.
	OutcomeDropped
)

// String returns the human-readable name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeBuffered:
		return "buffered"
	case OutcomeDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Config holds tuning knobs for a [Controller]. Zero-value fields are
// replaced with defaults.
type Config struct {
	// FailureThreshold is the consecutive-failure count that triggers
	// reconnecting mode. Default: 3.
	FailureThreshold int

	// DegradedRTT is the EWMA round-trip time above which a healthy
	// connection is classified degraded. Default: 300ms.
	DegradedRTT time.Duration

	// RTTAlpha is the EWMA weight for round-trip-time samples. Default: 0.2.
	RTTAlpha float64

	// BufferCapacity bounds the frame queue used while reconnecting.
	// Default: 256.
	BufferCapacity int

	// BackoffBase is the first retry delay; it doubles per consecutive
	// failed attempt. Default: 500ms.
	BackoffBase time.Duration

	// BackoffMax caps the retry delay. Default: 30s.
	BackoffMax time.Duration

	// JitterFraction bounds the random jitter added to each retry delay, as
	// a fraction of the current delay, to avoid thundering-herd
	// reconnection. Default: 0.2.
	JitterFraction float64

	// RetryBudget is the number of failed reconnect attempts before the
	// session goes offline. Default: 10.
	RetryBudget int

	// AttemptTimeout bounds a single reconnect attempt; exceeding it counts
	// as a failure. Default: 5s.
	AttemptTimeout time.Duration

	// OnModeChange, when non-nil, is invoked (without internal locks held)
	// after every connection-mode transition.
	OnModeChange func(Mode)

	// OnRetry, when non-nil, is invoked (without internal locks held) at the
	// start of every reconnect attempt.
	OnRetry func()
}

// Controller owns the connection health and the buffered frame queue for one
// session. Frame submission and health samples may arrive on different
// goroutines; all state is guarded by one mutex. Submit never blocks on
// network round-trips — the transport's Send contract is non-blocking, and
// backpressure is expressed through the returned [Outcome].
type Controller struct {
	cfg    Config
	sender transport.Sender

	mu         sync.Mutex
	health     ConnectionHealth
	queue      *frameQueue
	attempt    int // failed reconnect attempts in the current cycle
	retryTimer *time.Timer
	closed     bool
}

// NewController creates a [Controller] in normal mode, replacing zero-value
// config fields with defaults.
func NewController(cfg Config, sender transport.Sender) *Controller {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.DegradedRTT <= 0 {
		cfg.DegradedRTT = defaultDegradedRTT
	}
	if cfg.RTTAlpha <= 0 || cfg.RTTAlpha > 1 {
		cfg.RTTAlpha = defaultRTTAlpha
	}
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = defaultBufferCapacity
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}
	if cfg.JitterFraction <= 0 {
		cfg.JitterFraction = defaultJitterFraction
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = defaultRetryBudget
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	return &Controller{
		cfg:    cfg,
		sender: sender,
		queue:  newFrameQueue(cfg.BufferCapacity),
	}
}

// OnHealthSample records one delivery outcome from the transport and returns
// the updated health snapshot.
func (c *Controller) OnHealthSample(rtt time.Duration, success bool) ConnectionHealth {
	c.mu.Lock()
	if c.closed || c.health.Mode == ModeOffline {
		h := c.health
		c.mu.Unlock()
		return h
	}

	var changed *Mode
	if success {
		if rtt > 0 {
			a := c.cfg.RTTAlpha
			c.health.RTT = time.Duration((1-a)*float64(c.health.RTT) + a*float64(rtt))
		}
		c.health.ConsecutiveFailures = 0
		if c.health.Mode != ModeReconnecting {
			changed = c.setModeLocked(c.idleModeLocked())
		}
	} else {
		c.health.ConsecutiveFailures++
		if c.health.Mode != ModeReconnecting && c.health.ConsecutiveFailures >= c.cfg.FailureThreshold {
			changed = c.setModeLocked(ModeReconnecting)
			c.attempt = 0
			c.scheduleRetryLocked()
		} else if c.health.Mode == ModeNormal {
			// Intermittent failures below the threshold degrade the
			// connection without triggering a reconnect.
			changed = c.setModeLocked(ModeDegraded)
		}
	}
	h := c.health
	c.mu.Unlock()

	c.notify(changed)
	return h
}

// Submit hands one frame to the resilience layer. It returns immediately:
// sent when the transport accepted it, buffered while reconnecting, dropped
// when offline or closed.
func (c *Controller) Submit(frame audio.Frame) Outcome {
	c.mu.Lock()

	if c.closed || c.health.Mode == ModeOffline {
		c.health.FramesDropped++
		c.mu.Unlock()
		return OutcomeDropped
	}

	if c.health.Mode == ModeReconnecting {
		if c.queue.push(frame) {
			c.health.FramesDropped++
			slog.Debug("frame buffer overflow, oldest frame dropped",
				"seq", frame.Seq,
				"dropped_total", c.health.FramesDropped,
			)
		}
		c.mu.Unlock()
		return OutcomeBuffered
	}

	// Healthy mode. Drain any leftovers first so per-utterance order is
	// preserved across a reconnect.
	c.drainLocked()

	var changed *Mode
	outcome := OutcomeSent
	if err := c.sender.Send(frame); err != nil {
		// The transport would not even queue the frame — treat it like a
		// delivery failure and buffer.
		c.health.ConsecutiveFailures++
		if c.health.ConsecutiveFailures >= c.cfg.FailureThreshold {
			changed = c.setModeLocked(ModeReconnecting)
			c.attempt = 0
			c.scheduleRetryLocked()
		}
		if c.queue.push(frame) {
			c.health.FramesDropped++
		}
		outcome = OutcomeBuffered
	}
	c.mu.Unlock()

	c.notify(changed)
	return outcome
}

// OnTurnEvent lets turn boundaries influence buffering. On turn completion
// any frames still queued for that turn are drained ahead of frames from a
// subsequent turn.
func (c *Controller) OnTurnEvent(ev vad.Event) {
	if ev.Type != vad.EventTurnComplete {
		return
	}
	c.mu.Lock()
	if !c.closed && c.queue.len() > 0 &&
		(c.health.Mode == ModeNormal || c.health.Mode == ModeDegraded) {
		c.drainLocked()
	}
	c.mu.Unlock()
}

// Health returns a snapshot of the connection health.
func (c *Controller) Health() ConnectionHealth {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

// Buffered returns the number of frames currently queued.
func (c *Controller) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.len()
}

// Close stops the controller: the retry timer is cancelled and the buffer is
// flushed to the transport (when flush is true and the connection is
// healthy) or discarded. Safe to call more than once.
func (c *Controller) Close(flush bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	if flush && (c.health.Mode == ModeNormal || c.health.Mode == ModeDegraded) {
		c.drainLocked()
	} else {
		c.queue.discard()
	}
}

// drainLocked flushes the queue to the transport in sequence order. Must be
// called with c.mu held; relies on Send being non-blocking.
func (c *Controller) drainLocked() {
	for {
		f, ok := c.queue.peek()
		if !ok {
			return
		}
		if err := c.sender.Send(f); err != nil {
			// Leave it queued; the next health sample decides what happens.
			return
		}
		c.queue.pop()
	}
}

// scheduleRetryLocked arms the retry timer with the current backoff delay
// plus bounded jitter. Must be called with c.mu held.
func (c *Controller) scheduleRetryLocked() {
	delay := backoffDelay(c.attempt, c.cfg.BackoffBase, c.cfg.BackoffMax)
	jitter := time.Duration(rand.Float64() * c.cfg.JitterFraction * float64(delay))
	c.retryTimer = time.AfterFunc(delay+jitter, c.attemptReconnect)
}

// attemptReconnect runs one bounded reconnect attempt. Invoked from the
// retry timer goroutine, concurrent with frame submission.
func (c *Controller) attemptReconnect() {
	c.mu.Lock()
	if c.closed || c.health.Mode != ModeReconnecting {
		c.mu.Unlock()
		return
	}
	c.health.RetryCount++
	attempt := c.attempt
	c.mu.Unlock()

	if c.cfg.OnRetry != nil {
		c.cfg.OnRetry()
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.AttemptTimeout)
	ctx, span := observe.StartSpan(ctx, "resilience.reconnect",
		trace.WithAttributes(attribute.Int("attempt", attempt+1)),
	)
	err := c.sender.Reconnect(ctx)
	if err != nil {
		span.RecordError(err)
	}
	span.End()
	cancel()
	log := observe.Logger(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	var changed *Mode
	if err == nil {
		log.Info("reconnected", "attempt", attempt+1, "buffered_frames", c.queue.len())
		c.attempt = 0
		c.health.ConsecutiveFailures = 0
		changed = c.setModeLocked(c.idleModeLocked())
		// Buffered frames go out in order before any new frame can be
		// submitted in the restored mode.
		c.drainLocked()
	} else {
		c.attempt++
		if c.attempt >= c.cfg.RetryBudget {
			log.Error("reconnect retry budget exhausted, session offline",
				"attempts", c.attempt,
				"err", err,
			)
			changed = c.setModeLocked(ModeOffline)
			if c.retryTimer != nil {
				c.retryTimer.Stop()
			}
		} else {
			log.Warn("reconnect attempt failed",
				"attempt", c.attempt,
				"err", err,
			)
			c.scheduleRetryLocked()
		}
	}
	c.mu.Unlock()

	c.notify(changed)
}

// idleModeLocked classifies a healthy connection by its RTT trend. Must be
// called with c.mu held.
func (c *Controller) idleModeLocked() Mode {
	if c.health.RTT > c.cfg.DegradedRTT {
		return ModeDegraded
	}
	return ModeNormal
}

// setModeLocked transitions the connection mode and returns the new mode
// when it actually changed, for post-unlock notification. Must be called
// with c.mu held.
func (c *Controller) setModeLocked(m Mode) *Mode {
	if c.health.Mode == m {
		return nil
	}
	slog.Info("connection mode changed",
		"from", c.health.Mode.String(),
		"to", m.String(),
	)
	c.health.Mode = m
	return &m
}

// notify delivers mode-change side effects without holding the lock: the
// transmission-mode hint to the transport and the caller's callback.
func (c *Controller) notify(changed *Mode) {
	if changed == nil {
		return
	}
	switch *changed {
	case ModeNormal:
		c.sender.SetMode(transport.ModeNormal)
	case ModeDegraded:
		c.sender.SetMode(transport.ModeDegraded)
	}
	if c.cfg.OnModeChange != nil {
		c.cfg.OnModeChange(*changed)
	}
}

// backoffDelay returns the delay before the given zero-based attempt:
// base·2^attempt, capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
