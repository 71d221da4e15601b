// Package mock provides an in-memory [transport.Sender] for tests. It
// records every sent frame and mode change, and lets tests script reconnect
// failures.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/transport"
)

// ErrClosed is returned by Send after the sender has been closed.
var ErrClosed = errors.New("mock transport: closed")

// Sender is a scriptable in-memory transport. All methods are safe for
// concurrent use.
type Sender struct {
	mu         sync.Mutex
	sent       []audio.Frame
	modes      []transport.Mode
	reconnects int
	closed     bool

	// ReconnectErr is returned by Reconnect while non-nil. Tests flip it to
	// nil to simulate the network coming back.
	ReconnectErr error

	// SendErr is returned by Send while non-nil.
	SendErr error
}

// New creates an empty mock sender.
func New() *Sender {
	return &Sender{}
}

// Send records the frame.
func (s *Sender) Send(frame audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.sent = append(s.sent, frame)
	return nil
}

// SetMode records the mode hint.
func (s *Sender) SetMode(mode transport.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes = append(s.modes, mode)
}

// Reconnect counts the attempt and returns the scripted error, honouring
// context cancellation first.
func (s *Sender) Reconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	return s.ReconnectErr
}

// Close marks the sender closed.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SetReconnectErr scripts the error returned by subsequent Reconnect calls.
func (s *Sender) SetReconnectErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReconnectErr = err
}

// Sent returns a copy of all frames sent so far.
func (s *Sender) Sent() []audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Frame, len(s.sent))
	copy(out, s.sent)
	return out
}

// Modes returns a copy of all mode hints received so far.
func (s *Sender) Modes() []transport.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.Mode, len(s.modes))
	copy(out, s.modes)
	return out
}

// Reconnects returns the number of Reconnect calls.
func (s *Sender) Reconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}
