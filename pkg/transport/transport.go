// Package transport abstracts the streaming connection to the remote speech
// service. The pipeline core never talks to the network directly: it submits
// frames through a [Sender] and learns about delivery outcomes via the
// result callback. This decouples the resilience logic from any concrete
// protocol and allows testing without a live service.
package transport

import (
	"context"
	"time"

	"github.com/voxwire/voxwire/pkg/audio"
)

// Mode is the transmission-mode hint passed to the transport when connection
// quality changes. It is a hint, not a guarantee — implementations may
// ignore it.
type Mode int

const (
	// ModeNormal transmits frames at full fidelity.
	ModeNormal Mode = iota

	// ModeDegraded asks the transport to reduce bandwidth (e.g., compress
	// frames at a lower bitrate) while the connection is struggling.
	ModeDegraded
)

// String returns the human-readable name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Result reports the outcome of a single send attempt. The resilience layer
// feeds these into its connection-health classification.
type Result struct {
	// Seq is the sequence number of the frame the attempt was for.
	Seq uint64

	// RTT is the observed round-trip time of the attempt. Only meaningful
	// when Err is nil.
	RTT time.Duration

	// Err is non-nil when the attempt failed.
	Err error
}

// Sender is the frame transmission capability consumed by the resilience
// controller.
//
// Send must not block on network round-trips: implementations queue the
// frame internally and report the delivery outcome asynchronously through
// the result callback supplied at construction. Backpressure is therefore
// expressed by the resilience layer (buffer/drop), never by stalling the
// audio analysis path.
type Sender interface {
	// Send queues a frame for transmission. An error means the frame could
	// not even be queued (e.g., the sender is closed); delivery failures are
	// reported via the result callback instead.
	Send(frame audio.Frame) error

	// SetMode applies a transmission-mode hint. Safe to call concurrently
	// with Send.
	SetMode(mode Mode)

	// Reconnect tears down the current connection (if any) and establishes a
	// new one. The attempt is bounded by ctx; exceeding it counts as a
	// failed attempt.
	Reconnect(ctx context.Context) error

	// Close releases the connection and all resources. Calling Close more
	// than once is safe.
	Close() error
}
