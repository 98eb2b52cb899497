package device

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	malgo "github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"
)

// speakerQueueChunks bounds how many written chunks wait for the device.
const speakerQueueChunks = 32

// Speaker plays PCM on the default output device through malgo.
type Speaker struct {
	format   Format
	ctx      *malgo.AllocatedContext
	dev      *malgo.Device
	queue    chan []byte
	buffered atomic.Int64
	stopped  chan struct{}

	stopOnce  sync.Once
	closeOnce sync.Once
}

// NewSpeaker returns an unopened speaker.
func NewSpeaker() *Speaker {
	return &Speaker{stopped: make(chan struct{})}
}

// Open initializes the playback device for f.
func (s *Speaker) Open(f Format) error {
	if err := f.Validate(); err != nil {
		return err
	}
	s.format = f
	s.queue = make(chan []byte, speakerQueueChunks)

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logrus.Debugf("[audio/speaker] malgo: %s", message)
	})
	if err != nil {
		return fmt.Errorf("speaker context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(f.Channels)
	cfg.SampleRate = uint32(f.SampleRate)

	// pending is only touched from the device callback.
	var pending []byte

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			filled := 0
			for filled < len(pOutput) {
				if len(pending) == 0 {
					select {
					case b := <-s.queue:
						pending = b
					default:
					}
				}
				if len(pending) == 0 {
					break
				}
				n := copy(pOutput[filled:], pending)
				pending = pending[n:]
				filled += n
				s.buffered.Add(int64(-n))
			}
			for i := filled; i < len(pOutput); i++ {
				pOutput[i] = 0
			}
		},
	}

	dev, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("speaker device: %w", err)
	}
	s.ctx = ctx
	s.dev = dev
	return nil
}

// Start begins playback.
func (s *Speaker) Start() error {
	if s.dev == nil {
		return ErrNotOpen
	}
	return s.dev.Start()
}

// Write queues a copy of p, blocking while the queue is full.
func (s *Speaker) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b := make([]byte, len(p))
	copy(b, p)
	toNative(s.format, b)
	select {
	case <-s.stopped:
		return 0, ErrDeviceClosed
	default:
	}
	s.buffered.Add(int64(len(b)))
	select {
	case s.queue <- b:
		return len(p), nil
	case <-s.stopped:
		s.buffered.Add(int64(-len(b)))
		return 0, ErrDeviceClosed
	}
}

// Drain waits until queued audio has been handed to the device or timeout elapses.
func (s *Speaker) Drain(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for s.buffered.Load() > 0 && time.Now().Before(deadline) {
		select {
		case <-s.stopped:
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Stop halts playback and unblocks a pending Write.
func (s *Speaker) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopped)
		if s.dev != nil {
			err = s.dev.Stop()
		}
	})
	return err
}

// Close stops playback and releases device resources.
func (s *Speaker) Close() error {
	err := s.Stop()
	s.closeOnce.Do(func() {
		if s.dev != nil {
			s.dev.Uninit()
		}
		if s.ctx != nil {
			_ = s.ctx.Uninit()
			s.ctx.Free()
		}
	})
	return err
}

// Malgo provides system microphone and speaker devices.
type Malgo struct{}

// NewCapture returns a new Microphone.
func (Malgo) NewCapture() Capture { return NewMicrophone() }

// NewPlayback returns a new Speaker.
func (Malgo) NewPlayback() Playback { return NewSpeaker() }
