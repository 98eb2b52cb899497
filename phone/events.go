package phone

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/svanichkin/ipphone/network"
)

// EventKind classifies an Event.
type EventKind int

const (
	// EventListening: the listener is bound and waiting.
	EventListening EventKind = iota
	// EventListenStopped: the listener ended without a call (cancelled or bad handshake).
	EventListenStopped
	// EventIncoming: a connection was accepted and its handshake is being read.
	EventIncoming
	// EventConnecting: an outgoing dial started.
	EventConnecting
	// EventConnected: the handshake succeeded and the call is starting.
	EventConnected
	// EventCallEnded: the call or dial is over; Reason says why.
	EventCallEnded
	// EventError: something failed; Err holds the cause.
	EventError
	// EventSignal: Bytes of audio were captured (signal present).
	EventSignal
)

func (k EventKind) String() string {
	switch k {
	case EventListening:
		return "listening"
	case EventListenStopped:
		return "listen-stopped"
	case EventIncoming:
		return "incoming"
	case EventConnecting:
		return "connecting"
	case EventConnected:
		return "connected"
	case EventCallEnded:
		return "call-ended"
	case EventError:
		return "error"
	case EventSignal:
		return "signal"
	default:
		return "unknown"
	}
}

// Reason explains why a call ended.
type Reason int

const (
	ReasonLocalHangup Reason = iota
	ReasonRemoteHangup
	ReasonConnectionLost
	ReasonMediaFailure
	ReasonCancelled
	ReasonShutdown
)

func (r Reason) String() string {
	switch r {
	case ReasonLocalHangup:
		return "local hangup"
	case ReasonRemoteHangup:
		return "remote hangup"
	case ReasonConnectionLost:
		return "connection lost"
	case ReasonMediaFailure:
		return "media failure"
	case ReasonCancelled:
		return "cancelled"
	case ReasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Event is emitted to the Config.OnEvent callback.
type Event struct {
	Kind     EventKind
	Remote   network.Endpoint
	Reason   Reason
	Err      error
	Bytes    int
	Duration time.Duration
	CallID   string
}

// EventHandler receives events from phone goroutines. It must not block for long
// and must not call back into the phone synchronously from an EventSignal.
type EventHandler func(Event)

func (p *Phone) emit(ev Event) {
	h := p.cfg.OnEvent
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("event", ev.Kind.String()).Errorf("[phone] event handler panic: %v", r)
		}
	}()
	h(ev)
}
