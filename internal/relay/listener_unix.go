//go:build unix

package relay

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setReuseAddr is installed as a net.ListenConfig.Control hook so the
// pinned-source-bind-port case (spec.md §4.3, §4.4: "only one socket can
// hold that port at a time") can rebind that port immediately after the
// previous flow holding it is force-expired and closed, instead of
// waiting out the kernel's TIME_WAIT-like linger for UDP sockets.
func setReuseAddr(network, address string, c syscall.RawConn) error {
	var setErr error
	err := c.Control(func(fd uintptr) {
		setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return setErr
}
