package relay

import (
	"fmt"
	"net"

	"github.com/postalsys/udprelay/internal/netaddr"
)

// openSocket creates a non-blocking UDP socket in addr's family, bound to
// addr, with reuseAddr applied through a net.ListenConfig.Control hook
// (see listener_unix.go / listener_other.go). It is used both for the
// inside listener (spec.md §4.3) and for each new flow's upstream socket
// (spec.md §4.4), which is why it lives at package scope rather than on a
// single Listener type: the two call sites share every concern except
// what happens to the resulting socket afterward.
func openSocket(addr netaddr.Addr) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: setReuseAddr}
	pc, err := lc.ListenPacket(nil, addr.Network(), addr.String())
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("bind %s: unexpected packet conn type %T", addr, pc)
	}
	return conn, nil
}

// Listener is the inside-facing bound socket: the source of new flows.
type Listener struct {
	Addr netaddr.Addr
	conn *net.UDPConn
}

// Open creates a datagram socket in the listener's address family and
// binds it, placing it in non-blocking mode (the default for Go's
// net.UDPConn, whose Read/WriteTo calls are driven by the runtime's own
// edge-triggered poller — see SPEC_FULL.md §1 on the concurrency
// mapping).
func Open(addr netaddr.Addr) (*Listener, error) {
	conn, err := openSocket(addr)
	if err != nil {
		return nil, err
	}
	return &Listener{Addr: addr, conn: conn}, nil
}

// Conn returns the underlying UDP connection.
func (l *Listener) Conn() *net.UDPConn { return l.conn }

// LocalAddr returns the address the listener is actually bound to.
func (l *Listener) LocalAddr() netaddr.Addr {
	return netaddr.FromUDPAddr(l.conn.LocalAddr().(*net.UDPAddr))
}

// Close closes the listener socket.
func (l *Listener) Close() error { return l.conn.Close() }
