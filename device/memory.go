package device

import (
	"sync"
	"time"
)

// MemoryCapture is an in-process audio source. Chunks passed to Feed are
// returned by Read in order; a zero-length chunk makes Read return 0.
type MemoryCapture struct {
	OpenErr error

	mu      sync.Mutex
	format  Format
	opened  bool
	started bool
	stopped bool
	closed  bool

	chunks  chan []byte
	done    chan struct{}
	once    sync.Once
	pending []byte
}

// NewMemoryCapture returns an unopened in-memory source.
func NewMemoryCapture() *MemoryCapture {
	return &MemoryCapture{chunks: make(chan []byte, 256), done: make(chan struct{})}
}

// Feed queues b for a later Read. It reports false once the capture was stopped.
func (m *MemoryCapture) Feed(b []byte) bool {
	c := make([]byte, len(b))
	copy(c, b)
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.chunks <- c:
		return true
	case <-m.done:
		return false
	}
}

func (m *MemoryCapture) Open(f Format) error {
	if m.OpenErr != nil {
		return m.OpenErr
	}
	if err := f.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.format, m.opened = f, true
	m.mu.Unlock()
	return nil
}

func (m *MemoryCapture) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened {
		return ErrNotOpen
	}
	m.started = true
	return nil
}

func (m *MemoryCapture) Read(p []byte) (int, error) {
	if len(m.pending) == 0 {
		select {
		case b := <-m.chunks:
			if len(b) == 0 {
				return 0, nil
			}
			m.pending = b
		case <-m.done:
			return 0, ErrDeviceClosed
		}
	}
	n := copy(p, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

func (m *MemoryCapture) Stop() error {
	m.once.Do(func() { close(m.done) })
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryCapture) Close() error {
	_ = m.Stop()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Released reports whether Close was called.
func (m *MemoryCapture) Released() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MemoryPlayback is an in-process audio sink that records every Write.
// With Discard set it only counts bytes.
type MemoryPlayback struct {
	OpenErr error
	Discard bool

	mu      sync.Mutex
	opened  bool
	stopped bool
	closed  bool
	drained bool
	writes  [][]byte
	total   int
}

func (m *MemoryPlayback) Open(f Format) error {
	if m.OpenErr != nil {
		return m.OpenErr
	}
	if err := f.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.opened = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryPlayback) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened {
		return ErrNotOpen
	}
	return nil
}

func (m *MemoryPlayback) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return 0, ErrDeviceClosed
	}
	m.total += len(p)
	if !m.Discard {
		c := make([]byte, len(p))
		copy(c, p)
		m.writes = append(m.writes, c)
	}
	return len(p), nil
}

func (m *MemoryPlayback) Drain(time.Duration) {
	m.mu.Lock()
	m.drained = true
	m.mu.Unlock()
}

func (m *MemoryPlayback) Stop() error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryPlayback) Close() error {
	m.mu.Lock()
	m.stopped, m.closed = true, true
	m.mu.Unlock()
	return nil
}

// Writes returns copies of the recorded writes in order.
func (m *MemoryPlayback) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// Total returns the number of bytes written so far.
func (m *MemoryPlayback) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Released reports whether Close was called.
func (m *MemoryPlayback) Released() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Drained reports whether Drain was called.
func (m *MemoryPlayback) Drained() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drained
}

// Memory provides in-memory devices and remembers the ones it handed out.
// A zero Memory with Discard set is a silent headless audio backend.
type Memory struct {
	Discard    bool
	CaptureErr error
	PlayErr    error

	mu        sync.Mutex
	captures  []*MemoryCapture
	playbacks []*MemoryPlayback
}

func (m *Memory) NewCapture() Capture {
	c := NewMemoryCapture()
	m.mu.Lock()
	c.OpenErr = m.CaptureErr
	m.captures = append(m.captures, c)
	m.mu.Unlock()
	return c
}

func (m *Memory) NewPlayback() Playback {
	m.mu.Lock()
	p := &MemoryPlayback{Discard: m.Discard, OpenErr: m.PlayErr}
	m.playbacks = append(m.playbacks, p)
	m.mu.Unlock()
	return p
}

// LastCapture returns the most recently created capture, or nil.
func (m *Memory) LastCapture() *MemoryCapture {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.captures) == 0 {
		return nil
	}
	return m.captures[len(m.captures)-1]
}

// LastPlayback returns the most recently created playback, or nil.
func (m *Memory) LastPlayback() *MemoryPlayback {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.playbacks) == 0 {
		return nil
	}
	return m.playbacks[len(m.playbacks)-1]
}
