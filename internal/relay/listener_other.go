//go:build !unix

package relay

import "syscall"

// setReuseAddr is a no-op on non-unix targets; SO_REUSEADDR is not needed
// there for this relay to function, only for fast pinned-port reuse.
func setReuseAddr(network, address string, c syscall.RawConn) error {
	return nil
}
