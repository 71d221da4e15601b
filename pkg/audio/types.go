// Package audio defines the frame type and PCM sample math shared by the
// voxwire pipeline. Frames are the atomic unit of processing: captured
// upstream, analysed for quality, gated by the voice-turn detector, and
// handed to the resilience layer for transmission.
package audio

import (
	"errors"
	"time"
)

// FullScale is the largest magnitude a 16-bit signed PCM sample can carry.
// Thresholds expressed as "fraction of full scale" are relative to this value.
const FullScale = 32767

// ErrInvalidFrameSize is returned when a frame's sample count does not match
// the frame size configured for the session. The offending frame is rejected
// and no pipeline state is updated.
var ErrInvalidFrameSize = errors.New("audio: frame size does not match configured frame size")

// Frame is a fixed-duration slice of mono PCM samples flowing through the
// pipeline. Frames are immutable once produced: the pipeline only reads
// Samples and never retains the slice beyond the call that received it.
type Frame struct {
	// Samples is mono 16-bit PCM.
	Samples []int16

	// SampleRate in Hz (e.g., 16000 for speech service input).
	SampleRate int

	// Seq is the monotonically increasing capture sequence number. The
	// voice-turn detector treats any gap or reversal as a stream
	// discontinuity.
	Seq uint64

	// Captured is the capture timestamp assigned by the audio source.
	Captured time.Time
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}
