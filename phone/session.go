package phone

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/svanichkin/ipphone/device"
	"github.com/svanichkin/ipphone/logs"
	"github.com/svanichkin/ipphone/network"
	"github.com/svanichkin/ipphone/network/tcp"
	"github.com/svanichkin/ipphone/network/udp"
)

const (
	// hangupWriteTimeout bounds the best-effort HANGUP send.
	hangupWriteTimeout = time.Second
	// workerExitTimeout bounds how long teardown waits for the media loops to exit.
	workerExitTimeout = 2 * time.Second
)

// sessionConfig is the part of the phone configuration a call needs.
type sessionConfig struct {
	bindHost  string
	format    device.Format
	chunkSize int
	devices   device.Provider
	media     udp.Options
}

// Session is one accepted call. It is created when the handshake succeeds and
// is finished by Teardown; a new call always gets a new Session.
type Session struct {
	id        string
	cfg       sessionConfig
	ctrl      *tcp.Control
	remote    network.Endpoint
	peer      network.Endpoint
	localPort int
	log       *logrus.Entry
	onEnd     func(*Session, Reason)

	closing atomic.Bool

	mu        sync.Mutex
	media     net.PacketConn
	uplink    *udp.Worker
	downlink  *udp.Worker
	watchDone <-chan struct{}
	started   time.Time

	once sync.Once
}

// newSession wraps an answered control channel. peer is the media endpoint of the
// other side and localPort the media port bound here.
func newSession(cfg sessionConfig, ctrl *tcp.Control, remote, peer network.Endpoint, localPort int, onEnd func(*Session, Reason)) *Session {
	id := uuid.NewString()
	return &Session{
		id:        id,
		cfg:       cfg,
		ctrl:      ctrl,
		remote:    remote,
		peer:      peer,
		localPort: localPort,
		log:       logrus.WithFields(logrus.Fields{"call": id, "remote": remote.String()}),
		onEnd:     onEnd,
	}
}

// Peer returns the media endpoint datagrams are sent to.
func (s *Session) Peer() network.Endpoint { return s.peer }

// active reports whether the session has not begun tearing down.
func (s *Session) active() bool { return !s.closing.Load() }

// start binds the media socket, opens both audio devices and launches the
// uplink, downlink and hangup-watcher. On error the caller must Teardown.
func (s *Session) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return ErrSessionEnded
	}

	peerAddr, err := s.peer.UDPAddr()
	if err != nil {
		return err
	}
	pc, err := network.ListenMedia(context.Background(), s.cfg.bindHost, s.localPort)
	if err != nil {
		return fmt.Errorf("media socket on port %d: %w", s.localPort, err)
	}
	s.media = pc

	src := s.cfg.devices.NewCapture()
	if err := openDevice(src, s.cfg.format); err != nil {
		_ = src.Close()
		return fmt.Errorf("%w: microphone: %v", ErrDeviceUnavailable, err)
	}
	sink := s.cfg.devices.NewPlayback()
	if err := openDevice(sink, s.cfg.format); err != nil {
		_ = sink.Close()
		_ = src.Close()
		return fmt.Errorf("%w: speaker: %v", ErrDeviceUnavailable, err)
	}

	opts := s.cfg.media
	opts.ChunkSize = s.cfg.chunkSize
	opts.Fields = logrus.Fields{"call": s.id}
	s.uplink = udp.StartUplink(pc, peerAddr, src, opts)
	s.downlink = udp.StartDownlink(pc, sink, opts)
	s.watchDone = tcp.Watch(s.ctrl, s.active, s.onControlEnd)
	s.started = time.Now()

	s.log.WithFields(logrus.Fields{
		"media_local": pc.LocalAddr().String(),
		"media_peer":  s.Peer().String(),
	}).Info("[phone] call started")
	return nil
}

type openable interface {
	Open(device.Format) error
	Start() error
}

func openDevice(d openable, f device.Format) error {
	if err := d.Open(f); err != nil {
		return err
	}
	return d.Start()
}

func (s *Session) onControlEnd(r tcp.WatchResult) {
	if r.Remote {
		s.Teardown(ReasonRemoteHangup)
		return
	}
	s.Teardown(ReasonConnectionLost)
}

// Hangup tells the peer the call is over, best effort, and tears the session down.
func (s *Session) Hangup(reason Reason) {
	// closing is set before the send: once the peer sees HANGUP it may close the
	// connection, and the watcher must read that EOF as our own teardown.
	if s.closing.CompareAndSwap(false, true) {
		if err := s.ctrl.Send(tcp.TokenHangup, hangupWriteTimeout); err != nil {
			s.log.WithError(err).Warn("[phone] could not send hangup")
		} else {
			logs.LogV("[p2p] sent %s", tcp.TokenHangup)
		}
	}
	s.Teardown(reason)
}

// Teardown stops media, closes both sockets and reports the end of the call.
// It may be called any number of times from any goroutine; only the first call
// does the work and the others wait until it is finished.
func (s *Session) Teardown(reason Reason) {
	s.once.Do(func() { s.teardown(reason) })
}

func (s *Session) teardown(reason Reason) {
	// From here on the watcher and the media loops treat I/O errors as shutdown.
	s.closing.Store(true)

	s.mu.Lock()
	media, up, down := s.media, s.uplink, s.downlink
	s.mu.Unlock()

	up.Stop()
	down.Stop()
	if err := s.ctrl.Close(); err != nil {
		logs.LogV("[p2p] control close: %v", err)
	}
	if media != nil {
		if err := media.Close(); err != nil {
			logs.LogV("[voice/udp] media close: %v", err)
		}
	}
	waitWorker(up)
	waitWorker(down)

	s.log.WithField("reason", reason.String()).Info("[phone] call ended")
	if s.onEnd != nil {
		s.onEnd(s, reason)
	}
}

func waitWorker(w *udp.Worker) {
	if w == nil {
		return
	}
	select {
	case <-w.Done():
	case <-time.After(workerExitTimeout):
		logrus.Warn("[voice/udp] media worker did not exit in time")
	}
}

// Duration returns how long media has been flowing, zero before start.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started.IsZero() {
		return 0
	}
	return time.Since(s.started)
}

// Stats is a snapshot of the current call.
type Stats struct {
	State     CallState
	CallID    string
	Remote    network.Endpoint
	Since     time.Time
	TxPackets uint64
	TxBytes   uint64
	RxPackets uint64
	RxBytes   uint64
}

func (s *Session) stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{State: StateConnected, CallID: s.id, Remote: s.remote, Since: s.started}
	if s.uplink != nil {
		st.TxPackets, st.TxBytes = s.uplink.Stats()
	}
	if s.downlink != nil {
		st.RxPackets, st.RxBytes = s.downlink.Stats()
	}
	return st
}
