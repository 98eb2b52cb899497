package tcp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/svanichkin/ipphone/logs"
	"github.com/svanichkin/ipphone/network"
)

// DefaultDialTimeout bounds the TCP connect of an outgoing call.
const DefaultDialTimeout = 5 * time.Second

// DialOptions tunes an outgoing call.
type DialOptions struct {
	// Timeout bounds the TCP connect only; the wait for the answer is unbounded
	// and ends with the callee's reply, a closed connection or ctx.
	Timeout time.Duration
	// LocalHost, when set, pins the source address of the control connection.
	LocalHost string
}

// Dial connects to ep and performs the DIAL/ACCEPT handshake. Cancelling ctx
// aborts both the connect and the wait for the reply. On success the returned
// Control is ready for the hangup watcher.
func Dial(ctx context.Context, ep network.Endpoint, opts DialOptions) (*Control, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultDialTimeout
	}
	d := net.Dialer{Timeout: opts.Timeout}
	if opts.LocalHost != "" {
		local, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(opts.LocalHost, "0"))
		if err != nil {
			return nil, fmt.Errorf("%w: bind host %q: %v", network.ErrInvalidEndpoint, opts.LocalHost, err)
		}
		d.LocalAddr = local
	}

	logrus.WithField("remote", ep.String()).Info("[p2p] dialing")
	conn, err := d.DialContext(ctx, "tcp", ep.Address())
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", ep, err)
	}
	ctrl := NewControl(conn)

	// The reply wait has no deadline of its own; ctx is the only way out.
	stop := context.AfterFunc(ctx, func() { _ = ctrl.Close() })
	defer stop()

	if err := ctrl.Send(TokenDial, opts.Timeout); err != nil {
		_ = ctrl.Close()
		return nil, fmt.Errorf("send %s: %w", TokenDial, err)
	}
	logs.LogV("[p2p] sent %s to %s", TokenDial, ep)

	reply, err := ctrl.Receive()
	if err != nil {
		_ = ctrl.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if reply != TokenAccept {
		_ = ctrl.Close()
		return nil, fmt.Errorf("%w: unexpected reply %q", ErrRejected, reply)
	}
	if !stop() {
		// ctx fired after the reply arrived; the connection is already closing.
		return nil, ctx.Err()
	}
	logs.LogV("[p2p] %s accepted", ep)
	return ctrl, nil
}
