package mediactrl

import (
	"sync"
	"sync/atomic"
)

// State describes the current microphone and speaker switches.
type State struct {
	CaptureEnabled  bool
	PlaybackEnabled bool
}

// Switches mutes the microphone (uplink) and the speaker (downlink) without
// touching the call itself. Both switches start enabled.
type Switches struct {
	capture  atomic.Bool
	playback atomic.Bool

	mu        sync.Mutex
	listeners map[int]func(State)
	nextID    int
}

// New returns switches with capture and playback enabled.
func New() *Switches {
	s := &Switches{listeners: make(map[int]func(State))}
	s.capture.Store(true)
	s.playback.Store(true)
	return s
}

// CaptureEnabled reports whether captured audio is sent. A nil receiver reports true.
func (s *Switches) CaptureEnabled() bool {
	return s == nil || s.capture.Load()
}

// PlaybackEnabled reports whether received audio is played. A nil receiver reports true.
func (s *Switches) PlaybackEnabled() bool {
	return s == nil || s.playback.Load()
}

// SetCaptureEnabled updates the capture switch and notifies listeners.
func (s *Switches) SetCaptureEnabled(enabled bool) {
	if s.capture.Swap(enabled) == enabled {
		return
	}
	s.notify()
}

// SetPlaybackEnabled updates the playback switch and notifies listeners.
func (s *Switches) SetPlaybackEnabled(enabled bool) {
	if s.playback.Swap(enabled) == enabled {
		return
	}
	s.notify()
}

// ToggleCapture flips the capture state and returns the new value.
func (s *Switches) ToggleCapture() bool {
	return s.toggle(&s.capture)
}

// TogglePlayback flips the playback state and returns the new value.
func (s *Switches) TogglePlayback() bool {
	return s.toggle(&s.playback)
}

func (s *Switches) toggle(b *atomic.Bool) bool {
	for {
		current := b.Load()
		if b.CompareAndSwap(current, !current) {
			s.notify()
			return !current
		}
	}
}

// Snapshot returns a copy of the current switches.
func (s *Switches) Snapshot() State {
	return State{CaptureEnabled: s.CaptureEnabled(), PlaybackEnabled: s.PlaybackEnabled()}
}

// Subscribe registers a callback invoked whenever either switch flips.
// It returns a function that removes the listener.
func (s *Switches) Subscribe(fn func(State)) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Switches) notify() {
	state := s.Snapshot()
	s.mu.Lock()
	snapshot := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		snapshot = append(snapshot, fn)
	}
	s.mu.Unlock()
	for _, fn := range snapshot {
		func(cb func(State)) {
			defer func() { recover() }()
			cb(state)
		}(fn)
	}
}
