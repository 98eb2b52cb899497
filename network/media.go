package network

import (
	"context"
	"net"
	"strconv"
	"syscall"

	"github.com/svanichkin/ipphone/logs"
)

// mediaTOS marks voice datagrams as Expedited Forwarding (DSCP 46).
const mediaTOS = 0xb8

// ListenMedia binds the UDP socket that carries one call's audio in both directions.
// bindHost may be empty to listen on all interfaces.
func ListenMedia(ctx context.Context, bindHost string, port int) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = setMediaSockopts(fd, network)
			})
			if err != nil {
				return err
			}
			if sockErr != nil {
				// QoS marking is advisory; some platforms refuse it for unprivileged users.
				logs.LogV("[net] media socket tos: %v", sockErr)
			}
			return nil
		},
	}
	pc, err := lc.ListenPacket(ctx, "udp", net.JoinHostPort(bindHost, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}
