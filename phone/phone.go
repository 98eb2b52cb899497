// Package phone implements call control for a two-party IP phone: the
// Idle/Dialing/Listening/Connected state machine, the DIAL/ACCEPT/HANGUP
// signaling on a TCP control channel and the per-call Session that runs the UDP
// media workers and tears everything down exactly once.
package phone

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/svanichkin/ipphone/device"
	"github.com/svanichkin/ipphone/logs"
	"github.com/svanichkin/ipphone/mediactrl"
	"github.com/svanichkin/ipphone/network"
	"github.com/svanichkin/ipphone/network/tcp"
	"github.com/svanichkin/ipphone/network/udp"
)

// Config configures a Phone. Zero values select the defaults.
type Config struct {
	// BindHost is the local address for the listener, the media socket and the
	// source of outgoing control connections. Empty means all interfaces.
	BindHost string
	// DialTimeout bounds the TCP connect of Dial (5s by default).
	DialTimeout time.Duration
	// ChunkSize is the capture unit and largest datagram (1024 bytes by default).
	ChunkSize int
	// Format of the audio devices and of the wire (8 kHz mono 16-bit big-endian).
	Format device.Format
	// Devices creates the microphone and speaker for each call (malgo by default).
	Devices device.Provider
	// Switches mute capture or playback; nil means never muted.
	Switches *mediactrl.Switches
	// DrainTimeout bounds how long hangup waits for queued playback.
	DrainTimeout time.Duration
	// SignalEvents enables an EventSignal for every captured chunk.
	SignalEvents bool
	// OnEvent receives status events from phone goroutines.
	OnEvent EventHandler
}

// Phone is the caller-facing side of the system. Its methods never block on
// network or device I/O; results arrive as events.
type Phone struct {
	cfg Config

	mu         sync.Mutex
	state      CallState
	closed     bool
	session    *Session
	listener   net.Listener
	pending    *tcp.Control
	cancelDial context.CancelFunc

	wg sync.WaitGroup
}

// New returns an idle phone.
func New(cfg Config) *Phone {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = tcp.DefaultDialTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = udp.DefaultChunkSize
	}
	if cfg.Format == (device.Format{}) {
		cfg.Format = device.DefaultFormat
	}
	if cfg.Devices == nil {
		cfg.Devices = device.Malgo{}
	}
	return &Phone{cfg: cfg}
}

// State returns the current call state.
func (p *Phone) State() CallState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// transition moves the state machine; p.mu must be held. It is the only place
// that assigns p.state.
func (p *Phone) transition(to CallState) error {
	if !canTransition(p.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.state, to)
	}
	logs.LogV("[phone] %s -> %s", p.state, to)
	p.state = to
	return nil
}

// Dial starts an outgoing call to ep. It returns at once; the outcome is reported
// through EventConnected, EventError or EventCallEnded.
func (p *Phone) Dial(ep network.Endpoint) error {
	if err := ep.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancel()
		return ErrClosed
	}
	if err := p.transition(StateDialing); err != nil {
		p.mu.Unlock()
		cancel()
		return err
	}
	p.cancelDial = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	p.emit(Event{Kind: EventConnecting, Remote: ep})
	go p.dial(ctx, cancel, ep)
	return nil
}

func (p *Phone) dial(ctx context.Context, cancel context.CancelFunc, ep network.Endpoint) {
	defer p.wg.Done()
	defer cancel()

	ctrl, err := tcp.Dial(ctx, ep, tcp.DialOptions{Timeout: p.cfg.DialTimeout, LocalHost: p.cfg.BindHost})

	p.mu.Lock()
	p.cancelDial = nil
	if err == nil && ctx.Err() != nil {
		// Hangup raced the answer.
		_ = ctrl.Close()
		err = ctx.Err()
	}
	if err != nil {
		_ = p.transition(StateIdle)
		p.mu.Unlock()
		if errors.Is(err, context.Canceled) {
			logrus.WithField("remote", ep.String()).Info("[p2p] dial cancelled")
			p.emit(Event{Kind: EventCallEnded, Remote: ep, Reason: ReasonCancelled})
			return
		}
		logrus.WithField("remote", ep.String()).WithError(err).Warn("[p2p] dial failed")
		p.emit(Event{Kind: EventError, Remote: ep, Err: err})
		return
	}
	s := newSession(p.sessionConfig(), ctrl, ep, ep.Media(), ep.Port+1, p.onSessionEnd)
	_ = p.transition(StateConnected)
	p.session = s
	p.mu.Unlock()

	p.startSession(s)
}

// Listen binds the control listener on port and waits for one incoming call in
// the background. Bind errors are returned directly.
func (p *Phone) Listen(port int) error {
	if err := network.ValidatePort(port); err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if !canTransition(p.state, StateListening) {
		err := p.transition(StateListening)
		p.mu.Unlock()
		return err
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(p.cfg.BindHost, strconv.Itoa(port)))
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("listen on port %d: %w", port, err)
	}
	_ = p.transition(StateListening)
	p.listener = ln
	p.wg.Add(1)
	p.mu.Unlock()

	logrus.WithField("addr", ln.Addr().String()).Info("[p2p] waiting for a call")
	p.emit(Event{Kind: EventListening, Remote: network.Endpoint{Host: p.cfg.BindHost, Port: port}})
	go p.accept(ln, port)
	return nil
}

func (p *Phone) accept(ln net.Listener, port int) {
	defer p.wg.Done()

	conn, err := ln.Accept()
	// One call per Listen.
	_ = ln.Close()
	if err != nil {
		p.mu.Lock()
		current := p.listener == ln
		if current {
			p.listener = nil
			_ = p.transition(StateIdle)
		}
		p.mu.Unlock()
		if current && !errors.Is(err, net.ErrClosed) {
			logrus.WithError(err).Error("[p2p] accept failed")
			p.emit(Event{Kind: EventError, Err: err})
		}
		p.emit(Event{Kind: EventListenStopped})
		return
	}

	ctrl := tcp.NewControl(conn)
	remote := network.Endpoint{Host: network.HostOf(conn.RemoteAddr())}
	if ta, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		remote.Port = ta.Port
	}

	p.mu.Lock()
	if p.listener != ln {
		p.mu.Unlock()
		_ = ctrl.Close()
		p.emit(Event{Kind: EventListenStopped})
		return
	}
	p.pending = ctrl
	p.mu.Unlock()

	logrus.WithField("remote", remote.String()).Info("[p2p] incoming call")
	p.emit(Event{Kind: EventIncoming, Remote: remote})
	err = tcp.Answer(ctrl)

	p.mu.Lock()
	p.pending = nil
	if p.listener != ln {
		p.mu.Unlock()
		_ = ctrl.Close()
		p.emit(Event{Kind: EventListenStopped})
		return
	}
	p.listener = nil
	if err != nil {
		_ = p.transition(StateIdle)
		p.mu.Unlock()
		// No reply token exists for a refusal; closing the connection is the refusal.
		_ = ctrl.Close()
		logrus.WithField("remote", remote.String()).WithError(err).Warn("[p2p] handshake failed")
		p.emit(Event{Kind: EventError, Remote: remote, Err: err})
		p.emit(Event{Kind: EventListenStopped})
		return
	}
	media := network.Endpoint{Host: remote.Host, Port: port + 1}
	s := newSession(p.sessionConfig(), ctrl, remote, media, port+1, p.onSessionEnd)
	_ = p.transition(StateConnected)
	p.session = s
	p.mu.Unlock()

	p.startSession(s)
}

// StopListening cancels a pending Listen. The background accept treats the
// closed listener as a cancellation and reports EventListenStopped.
func (p *Phone) StopListening() error {
	p.mu.Lock()
	if p.state != StateListening {
		p.mu.Unlock()
		return ErrNotListening
	}
	ln, pending := p.listener, p.pending
	p.listener, p.pending = nil, nil
	_ = p.transition(StateIdle)
	p.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	if pending != nil {
		_ = pending.Close()
	}
	logrus.Info("[p2p] stopped listening")
	return nil
}

// Hangup ends the current call, sending HANGUP to the peer first. While dialing
// it abandons the dial; while listening it stops listening.
func (p *Phone) Hangup() error {
	p.mu.Lock()
	switch p.state {
	case StateConnected:
		s := p.session
		p.mu.Unlock()
		s.Hangup(ReasonLocalHangup)
		return nil
	case StateDialing:
		if p.cancelDial != nil {
			p.cancelDial()
		}
		p.mu.Unlock()
		return nil
	case StateListening:
		p.mu.Unlock()
		return p.StopListening()
	}
	p.mu.Unlock()
	return ErrNotConnected
}

// Close ends whatever is in progress and waits for background work to finish.
// The phone cannot be used afterwards.
func (p *Phone) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.cancelDial != nil {
		p.cancelDial()
	}
	listening := p.state == StateListening
	p.mu.Unlock()

	if listening {
		_ = p.StopListening()
	}
	p.wg.Wait()

	p.mu.Lock()
	s := p.session
	p.mu.Unlock()
	if s != nil {
		s.Hangup(ReasonShutdown)
	}
	return nil
}

// Stats returns a snapshot of the current call; outside a call only State is set.
func (p *Phone) Stats() Stats {
	p.mu.Lock()
	state, s := p.state, p.session
	p.mu.Unlock()
	if s == nil {
		return Stats{State: state}
	}
	return s.stats()
}

func (p *Phone) sessionConfig() sessionConfig {
	media := udp.Options{
		DrainTimeout: p.cfg.DrainTimeout,
		Switches:     p.cfg.Switches,
	}
	if p.cfg.SignalEvents {
		media.OnChunk = func(n int) { p.emit(Event{Kind: EventSignal, Bytes: n}) }
	}
	return sessionConfig{
		bindHost:  p.cfg.BindHost,
		format:    p.cfg.Format,
		chunkSize: p.cfg.ChunkSize,
		devices:   p.cfg.Devices,
		media:     media,
	}
}

func (p *Phone) startSession(s *Session) {
	p.emit(Event{Kind: EventConnected, Remote: s.remote, CallID: s.id})
	if err := s.start(); err != nil {
		if !errors.Is(err, ErrSessionEnded) {
			s.log.WithError(err).Error("[phone] call setup failed")
			p.emit(Event{Kind: EventError, Remote: s.remote, Err: err, CallID: s.id})
		}
		s.Hangup(ReasonMediaFailure)
	}
}

func (p *Phone) onSessionEnd(s *Session, reason Reason) {
	p.mu.Lock()
	if p.session == s {
		p.session = nil
		_ = p.transition(StateIdle)
	}
	p.mu.Unlock()
	p.emit(Event{
		Kind:     EventCallEnded,
		Remote:   s.remote,
		Reason:   reason,
		Duration: s.Duration(),
		CallID:   s.id,
	})
}
