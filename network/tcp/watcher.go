package tcp

import (
	"github.com/sirupsen/logrus"
	"github.com/svanichkin/ipphone/logs"
)

// WatchResult tells the hangup watcher's callback why the control channel ended.
type WatchResult struct {
	// Remote is true when the peer sent HANGUP.
	Remote bool
	// Err is the read error when the channel broke instead.
	Err error
}

// Watch starts the hangup watcher: a goroutine reading control lines until the
// peer sends HANGUP or the channel fails. active is consulted after a read error;
// when it reports false the error is the expected result of a local teardown and
// onEnd is not called. Watch never writes to the channel. The returned channel is
// closed when the goroutine exits.
func Watch(ctrl *Control, active func() bool, onEnd func(WatchResult)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			line, err := ctrl.Receive()
			if err != nil {
				if !active() {
					return
				}
				logrus.WithError(err).Warn("[p2p] control channel lost")
				onEnd(WatchResult{Err: err})
				return
			}
			switch line {
			case TokenHangup:
				logrus.WithField("remote", ctrl.RemoteAddr().String()).Info("[p2p] peer hung up")
				onEnd(WatchResult{Remote: true})
				return
			default:
				logs.LogV("[p2p] ignoring control line %q", line)
			}
		}
	}()
	return done
}
