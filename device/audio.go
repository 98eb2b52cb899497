// Package device abstracts the microphone and speaker as blocking byte streams.
//
// Captured and played bytes are raw linear PCM in the layout described by Format;
// by default that is the call wire format: mono, 16-bit, 8000 Hz, big-endian.
package device

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDeviceClosed is returned by Read and Write once the device was stopped or closed.
	ErrDeviceClosed = errors.New("audio device closed")

	// ErrUnsupportedFormat is returned by Open for formats the device cannot handle.
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrNotOpen is returned by Start before a successful Open.
	ErrNotOpen = errors.New("audio device not open")
)

// Format describes a linear PCM stream.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	BigEndian     bool
}

// DefaultFormat is the call wire format.
var DefaultFormat = Format{SampleRate: 8000, Channels: 1, BitsPerSample: 16, BigEndian: true}

// FrameSize is the number of bytes per sample frame.
func (f Format) FrameSize() int {
	return f.Channels * f.BitsPerSample / 8
}

// Duration reports how much audio n bytes hold.
func (f Format) Duration(n int) time.Duration {
	bps := f.SampleRate * f.FrameSize()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// Validate rejects formats other than signed 16-bit PCM.
func (f Format) Validate() error {
	if f.BitsPerSample != 16 {
		return fmt.Errorf("%w: %d-bit samples", ErrUnsupportedFormat, f.BitsPerSample)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, f.Channels)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrUnsupportedFormat, f.SampleRate)
	}
	return nil
}

// Capture is an audio source. Read blocks until data is available and is
// unblocked by Stop or Close, after which it returns ErrDeviceClosed.
type Capture interface {
	Open(Format) error
	Start() error
	Read(p []byte) (int, error)
	Stop() error
	Close() error
}

// Playback is an audio sink. Write queues p for playback and may block while the
// internal queue is full. Drain waits up to timeout for queued audio to play out.
type Playback interface {
	Open(Format) error
	Start() error
	Write(p []byte) (int, error)
	Drain(timeout time.Duration)
	Stop() error
	Close() error
}

// Provider hands out fresh, unopened devices; one pair is used per call.
type Provider interface {
	NewCapture() Capture
	NewPlayback() Playback
}
