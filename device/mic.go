package device

import (
	"fmt"
	"sync"

	malgo "github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"
)

// Microphone captures PCM from the default input device through malgo.
type Microphone struct {
	format  Format
	ctx     *malgo.AllocatedContext
	dev     *malgo.Device
	frames  chan []byte
	pending []byte
	stopped chan struct{}

	stopOnce  sync.Once
	closeOnce sync.Once
}

// NewMicrophone returns an unopened microphone.
func NewMicrophone() *Microphone {
	return &Microphone{stopped: make(chan struct{})}
}

// Open initializes the capture device for f.
func (m *Microphone) Open(f Format) error {
	if err := f.Validate(); err != nil {
		return err
	}
	m.format = f
	m.frames = make(chan []byte, 32)

	mCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logrus.Debugf("[audio/mic] malgo: %s", message)
	})
	if err != nil {
		return fmt.Errorf("mic context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(f.Channels)
	cfg.SampleRate = uint32(f.SampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			if len(pInput) == 0 {
				return
			}
			b := make([]byte, len(pInput))
			copy(b, pInput)
			fromNative(m.format, b)
			select {
			case m.frames <- b:
			default:
				// reader is behind; stale audio is worth less than a gap
			}
		},
	}

	dev, err := malgo.InitDevice(mCtx.Context, cfg, callbacks)
	if err != nil {
		_ = mCtx.Uninit()
		mCtx.Free()
		return fmt.Errorf("mic device: %w", err)
	}
	m.ctx = mCtx
	m.dev = dev
	return nil
}

// Start begins capturing.
func (m *Microphone) Start() error {
	if m.dev == nil {
		return ErrNotOpen
	}
	return m.dev.Start()
}

// Read fills p with captured audio. It blocks until p is full or the device is
// stopped; in the latter case it returns what was gathered so far, or
// ErrDeviceClosed when nothing was.
func (m *Microphone) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(m.pending) == 0 {
			select {
			case b := <-m.frames:
				m.pending = b
			case <-m.stopped:
				if n > 0 {
					return n, nil
				}
				return 0, ErrDeviceClosed
			}
		}
		c := copy(p[n:], m.pending)
		m.pending = m.pending[c:]
		n += c
	}
	return n, nil
}

// Stop halts capture and unblocks a pending Read.
func (m *Microphone) Stop() error {
	var err error
	m.stopOnce.Do(func() {
		close(m.stopped)
		if m.dev != nil {
			err = m.dev.Stop()
		}
	})
	return err
}

// Close stops the device and releases malgo resources.
func (m *Microphone) Close() error {
	err := m.Stop()
	m.closeOnce.Do(func() {
		if m.dev != nil {
			m.dev.Uninit()
		}
		if m.ctx != nil {
			_ = m.ctx.Uninit()
			m.ctx.Free()
		}
	})
	return err
}
