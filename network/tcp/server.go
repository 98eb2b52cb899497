package tcp

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/svanichkin/ipphone/logs"
)

// Answer runs the callee side of the handshake on a freshly accepted control
// connection: it reads exactly one line and replies ACCEPT when it is DIAL.
// Any other first line is answered with silence and ErrUnexpectedToken; the caller
// decides what to do with the connection.
func Answer(ctrl *Control) error {
	line, err := ctrl.Receive()
	if err != nil {
		return fmt.Errorf("handshake read: %w", err)
	}
	logs.LogV("[p2p] handshake from %s: %q", ctrl.RemoteAddr(), line)
	if line != TokenDial {
		return fmt.Errorf("%w: %q", ErrUnexpectedToken, line)
	}
	if err := ctrl.Send(TokenAccept, 0); err != nil {
		return fmt.Errorf("send %s: %w", TokenAccept, err)
	}
	logrus.WithField("remote", ctrl.RemoteAddr().String()).Info("[p2p] call accepted")
	return nil
}
