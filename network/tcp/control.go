package tcp

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Control channel tokens. Each is sent as one '\n'-terminated line.
const (
	TokenDial   = "DIAL"
	TokenAccept = "ACCEPT"
	TokenHangup = "HANGUP"
)

var (
	// ErrRejected is returned by Dial when the callee answers anything but ACCEPT
	// or closes the connection instead of answering.
	ErrRejected = errors.New("call rejected")

	// ErrUnexpectedToken is returned by Answer when the first line is not DIAL.
	ErrUnexpectedToken = errors.New("unexpected control message")

	// ErrClosed is returned when sending on a closed control channel.
	ErrClosed = errors.New("control channel closed")
)

// Control wraps the TCP connection that carries call signaling. Writes are
// serialized so that lines from different goroutines never interleave; reads are
// expected from one goroutine at a time. Close is idempotent.
type Control struct {
	conn net.Conn
	br   *bufio.Reader

	mu     sync.Mutex
	closed atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// NewControl wraps conn and applies the socket tuning used for signaling.
func NewControl(conn net.Conn) *Control {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(15 * time.Second)
	}
	return &Control{conn: conn, br: bufio.NewReader(conn)}
}

// Send writes one token line. A zero timeout means no write deadline.
func (c *Control) Send(token string, timeout time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	_, err := fmt.Fprintf(c.conn, "%s\n", token)
	return err
}

// Receive blocks for the next line and returns it without the line terminator.
// A final line cut short by EOF is discarded and the read error returned.
func (c *Control) Receive() (string, error) {
	line, err := c.br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Close closes the underlying connection exactly once; later calls return the
// first result.
func (c *Control) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the peer address of the control connection.
func (c *Control) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
