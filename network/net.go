package network

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultListenPort is the control port used when neither flags nor config name one.
var DefaultListenPort = 5000

// ErrInvalidEndpoint is returned for endpoints whose host or port cannot be used.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// Endpoint identifies the remote party. The media channel lives on Port+1.
type Endpoint struct {
	Host string
	Port int
}

// Media returns the endpoint of the media channel paired with this control endpoint.
func (e Endpoint) Media() Endpoint {
	return Endpoint{Host: e.Host, Port: e.Port + 1}
}

// Validate checks that the endpoint can carry both the control and the media channel.
func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidEndpoint)
	}
	if err := ValidatePort(e.Port); err != nil {
		return err
	}
	return nil
}

// Address returns host:port suitable for net.Dial.
func (e Endpoint) Address() string {
	return net.JoinHostPort(strings.Trim(e.Host, "[]"), strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return PrettyAddr(e.Host, e.Port)
}

// UDPAddr resolves the endpoint for datagram sends.
func (e Endpoint) UDPAddr() (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp", e.Address())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	return addr, nil
}

// ValidatePort accepts control ports that leave room for the media port above them.
func ValidatePort(port int) error {
	if port <= 0 || port >= 65535 {
		return fmt.Errorf("%w: port %d out of range 1-65534", ErrInvalidEndpoint, port)
	}
	return nil
}

// PrettyAddr formats an IPv4/IPv6 host and port string safely, adding brackets
// around IPv6 addresses so that host:port parsing remains valid.
func PrettyAddr(host string, port int) string {
	host = strings.Trim(host, "[]")
	if strings.Contains(host, ":") {
		return fmt.Sprintf("[%s]:%d", host, port)
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// ParseEndpoint parses a dial target and fills in defPort when none is given.
// Supported forms:
//  1. Raw IPv6 without port: "fe80::1"            → (host, defPort)
//  2. Bracketed IPv6 with port: "[fe80::1]:9999"  → (host, 9999)
//  3. Hostname/IPv4 without port: "host"          → (host, defPort)
//  4. Hostname/IPv4 with port: "host:1234"        → (host, 1234)
//
// For IPv6 with a port, brackets are required.
func ParseEndpoint(raw string, defPort int) (Endpoint, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Endpoint{}, fmt.Errorf("%w: empty dial target", ErrInvalidEndpoint)
	}
	ep := Endpoint{Host: strings.Trim(s, "[]"), Port: defPort}
	switch {
	case strings.HasPrefix(s, "["):
		if h, p, err := net.SplitHostPort(s); err == nil {
			pi, err := strconv.Atoi(p)
			if err != nil {
				return Endpoint{}, fmt.Errorf("%w: bad port %q", ErrInvalidEndpoint, p)
			}
			ep = Endpoint{Host: strings.Trim(h, "[]"), Port: pi}
		}
	case strings.Count(s, ":") == 1 && !strings.Contains(s, " "):
		h, p, err := net.SplitHostPort(s)
		if err != nil {
			return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
		}
		pi, err := strconv.Atoi(p)
		if err != nil {
			return Endpoint{}, fmt.Errorf("%w: bad port %q", ErrInvalidEndpoint, p)
		}
		ep = Endpoint{Host: h, Port: pi}
	}
	if err := ep.Validate(); err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}

// HostOf extracts the bare host from a net.Addr such as conn.RemoteAddr().
func HostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.String()
	case *net.UDPAddr:
		return a.IP.String()
	}
	h, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return h
}
