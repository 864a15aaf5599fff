package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// Network names accepted in addresses.
const (
	NetworkTCP  = "tcp"
	NetworkUnix = "unix"
)

// ErrInvalidAddress indicates a device address that cannot be parsed.
var ErrInvalidAddress = errors.New("invalid device address")

// Address identifies a device attach point.
type Address struct {
	Network string
	Target  string
}

// String returns the address in URL form.
func (a Address) String() string {
	if a.Network == NetworkUnix {
		return "unix://" + a.Target
	}
	return "tcp://" + a.Target
}

// ParseAddress parses a device address.
//
// Accepted forms: "tcp://host:port", "unix:///path/to/sock", a bare
// "host:port", or a bare path containing a slash.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	switch {
	case strings.HasPrefix(s, "tcp://"):
		return tcpAddress(strings.TrimPrefix(s, "tcp://"))
	case strings.HasPrefix(s, "unix://"):
		path := strings.TrimPrefix(s, "unix://")
		if path == "" {
			return Address{}, fmt.Errorf("%w: empty socket path", ErrInvalidAddress)
		}
		return Address{Network: NetworkUnix, Target: path}, nil
	case strings.Contains(s, "://"):
		return Address{}, fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidAddress, s)
	case strings.Contains(s, "/"):
		return Address{Network: NetworkUnix, Target: s}, nil
	default:
		return tcpAddress(s)
	}
}

func tcpAddress(hostport string) (Address, error) {
	if _, _, err := net.SplitHostPort(hostport); err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return Address{Network: NetworkTCP, Target: hostport}, nil
}

// Listen opens a listener for addr. A stale unix socket file left by a
// previous run is removed first.
func Listen(addr Address) (net.Listener, error) {
	if addr.Network == NetworkUnix {
		if info, err := os.Stat(addr.Target); err == nil && info.Mode()&os.ModeSocket != 0 {
			os.Remove(addr.Target)
		}
	}
	l, err := net.Listen(addr.Network, addr.Target)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return l, nil
}

// Dial connects to addr.
func Dial(ctx context.Context, addr Address) (net.Conn, error) {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, addr.Network, addr.Target)
	if err != nil {
		return nil, fmt.Errorf("dial %s failed: %w", addr, err)
	}
	tuneConn(conn)
	return conn, nil
}

// tuneConn disables Nagle on TCP: round trips are latency-bound, one small
// packet at a time.
func tuneConn(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
}
