// Package ws implements [transport.Sender] over a WebSocket connection to
// the remote speech service. Frames are sent as binary messages: raw
// little-endian PCM in normal mode, Opus packets at a reduced bitrate in
// degraded mode.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"layeh.com/gopus"

	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/transport"
)

// ErrClosed is returned by Send after the sender has been closed.
var ErrClosed = errors.New("ws: sender is closed")

// ErrQueueFull is returned by Send when the internal send queue is at
// capacity. The caller's resilience layer decides whether to buffer or drop.
var ErrQueueFull = errors.New("ws: send queue is full")

const (
	defaultQueueSize       = 64
	defaultDialTimeout     = 5 * time.Second
	defaultDegradedBitrate = 12000
	defaultWriteTimeout    = 10 * time.Second
)

// Config configures a [Sender].
type Config struct {
	// URL is the WebSocket endpoint (ws:// or wss://).
	URL string

	// Header carries additional HTTP headers for the dial handshake, such as
	// authorization.
	Header http.Header

	// DialTimeout bounds the initial Connect. Reconnect attempts are bounded
	// by their caller's context instead. Default: 5s.
	DialTimeout time.Duration

	// SampleRate is the PCM sample rate in Hz, required for the degraded-mode
	// Opus encoder. Default: 16000.
	SampleRate int

	// DegradedBitrate is the Opus bitrate in bits/s used in degraded mode.
	// Default: 12000.
	DegradedBitrate int

	// QueueSize bounds the internal send queue. Default: 64.
	QueueSize int

	// OnResult, when non-nil, receives the outcome of every send attempt.
	// Called from the writer goroutine; must not block.
	OnResult func(transport.Result)
}

// Sender streams audio frames over one WebSocket connection. Send queues
// frames without blocking on the network; a single writer goroutine performs
// the actual writes and reports outcomes through the result callback.
type Sender struct {
	cfg Config

	mu      sync.Mutex
	conn    *websocket.Conn
	mode    transport.Mode
	encoder *gopus.Encoder
	closed  bool

	sendq chan audio.Frame
	done  chan struct{}
	wg    sync.WaitGroup
}

// New creates a [Sender] and dials the configured endpoint. The returned
// sender owns the connection; call Close to release it.
func New(ctx context.Context, cfg Config) (*Sender, error) {
	if cfg.URL == "" {
		return nil, errors.New("ws: URL must not be empty")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.DegradedBitrate <= 0 {
		cfg.DegradedBitrate = defaultDegradedBitrate
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	s := &Sender{
		cfg:   cfg,
		sendq: make(chan audio.Frame, cfg.QueueSize),
		done:  make(chan struct{}),
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	conn, err := s.dial(dialCtx)
	if err != nil {
		return nil, err
	}
	s.conn = conn

	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

// dial establishes a new WebSocket connection.
func (s *Sender) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, s.cfg.URL, &websocket.DialOptions{
		HTTPHeader: s.cfg.Header,
	})
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", s.cfg.URL, err)
	}
	return conn, nil
}

// Send queues one frame for transmission. It never blocks on the network:
// a full queue returns [ErrQueueFull] immediately.
func (s *Sender) Send(frame audio.Frame) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	select {
	case s.sendq <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// SetMode switches between raw PCM (normal) and low-bitrate Opus (degraded).
// Takes effect from the next queued frame.
func (s *Sender) SetMode(mode transport.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// Reconnect tears down the current connection and dials a new one, bounded by
// ctx. Frames queued while disconnected remain queued and are written once
// the new connection is up.
func (s *Sender) Reconnect(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "sender closed")
		return ErrClosed
	}
	old := s.conn
	s.conn = conn
	s.mu.Unlock()

	if old != nil {
		old.Close(websocket.StatusGoingAway, "reconnecting")
	}
	return nil
}

// Close stops the writer goroutine and releases the connection. Safe to call
// more than once.
func (s *Sender) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "sender closed")
	}
	return nil
}

// writeLoop is the single writer: it drains the send queue, encodes each
// frame for the current mode and reports per-send outcomes.
func (s *Sender) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case frame := <-s.sendq:
			s.write(frame)
		case <-s.done:
			return
		}
	}
}

// write performs one send attempt and reports the result.
func (s *Sender) write(frame audio.Frame) {
	s.mu.Lock()
	conn := s.conn
	mode := s.mode
	s.mu.Unlock()

	res := transport.Result{Seq: frame.Seq}
	defer func() {
		if s.cfg.OnResult != nil {
			s.cfg.OnResult(res)
		}
	}()

	if conn == nil {
		res.Err = errors.New("ws: not connected")
		return
	}

	payload, err := s.encode(frame, mode)
	if err != nil {
		res.Err = err
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()

	start := time.Now()
	if err := conn.Write(ctx, websocket.MessageBinary, payload); err != nil {
		res.Err = fmt.Errorf("ws: write frame %d: %w", frame.Seq, err)
		return
	}
	res.RTT = time.Since(start)
}

// encode produces the wire payload for one frame: raw little-endian PCM in
// normal mode, an Opus packet in degraded mode. The Opus encoder is created
// lazily on the first degraded frame and kept for the sender's lifetime,
// since Opus carries state between consecutive frames.
func (s *Sender) encode(frame audio.Frame, mode transport.Mode) ([]byte, error) {
	if mode != transport.ModeDegraded {
		return audio.Int16sToBytes(frame.Samples), nil
	}

	s.mu.Lock()
	if s.encoder == nil {
		enc, err := gopus.NewEncoder(s.cfg.SampleRate, 1, gopus.Voip)
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("ws: create opus encoder: %w", err)
		}
		enc.SetBitrate(s.cfg.DegradedBitrate)
		s.encoder = enc
	}
	enc := s.encoder
	s.mu.Unlock()

	packet, err := enc.Encode(frame.Samples, len(frame.Samples), len(frame.Samples)*2)
	if err != nil {
		return nil, fmt.Errorf("ws: opus encode frame %d: %w", frame.Seq, err)
	}
	return packet, nil
}
