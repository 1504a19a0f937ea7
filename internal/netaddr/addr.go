// Package netaddr provides an immutable socket address value used to key
// and translate the relay's flow table.
package netaddr

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrInvalidLiteral is returned when an IP literal cannot be parsed.
var ErrInvalidLiteral = errors.New("invalid IP literal")

// Addr is a value-type socket address: family, raw address bytes, port,
// and (for v6) the interface scope id used for link-local addresses.
// Two Addrs compare equal with ==; it is safe to use as a map key.
type Addr struct {
	v6    bool
	lo    [16]byte // IPv6 form; for v4 only the first 4 bytes are meaningful
	port  uint16
	scope uint32
}

// Parse builds an Addr from a textual IP literal and a port. A ':' in the
// literal is the sole discriminator for IPv6 — there is no bracketed host
// notation. For a link-local v6 literal (0xfe, top two bits of the next
// byte == 0b10), the scope id is resolved by enumerating host interfaces
// and matching each interface's v6 addresses against the literal; the
// first match's interface index is used, 0 otherwise.
func Parse(text string, port uint16) (Addr, error) {
	if strings.Contains(text, ":") {
		ip := net.ParseIP(text)
		if ip == nil || ip.To4() != nil {
			return Addr{}, fmt.Errorf("%w: %q", ErrInvalidLiteral, text)
		}
		ip16 := ip.To16()
		if ip16 == nil {
			return Addr{}, fmt.Errorf("%w: %q", ErrInvalidLiteral, text)
		}
		a := Addr{v6: true, port: port}
		copy(a.lo[:], ip16)
		if isLinkLocal(ip16) {
			a.scope = resolveScope(text)
		}
		return a, nil
	}

	ip := net.ParseIP(text)
	if ip == nil {
		return Addr{}, fmt.Errorf("%w: %q", ErrInvalidLiteral, text)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return Addr{}, fmt.Errorf("%w: %q", ErrInvalidLiteral, text)
	}
	a := Addr{port: port}
	copy(a.lo[:4], ip4)
	return a, nil
}

// isLinkLocal checks the IN6_IS_ADDR_LINKLOCAL pattern: high byte 0xfe,
// next two bits 10.
func isLinkLocal(ip net.IP) bool {
	return ip[0] == 0xfe && ip[1]&0xc0 == 0x80
}

// resolveScope enumerates host interface addresses and returns the index
// of the interface whose textual v6 address matches text, or 0 if none do.
func resolveScope(text string) uint32 {
	ifaces, err := net.Interfaces()
	if err != nil {
		return 0
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip6 := ipNet.IP.To16()
			if ip6 == nil || ipNet.IP.To4() != nil {
				continue
			}
			if ip6.String() == text {
				return uint32(iface.Index)
			}
		}
	}
	return 0
}

// FromUDPAddr builds an Addr from a kernel-form *net.UDPAddr, as returned
// by net.UDPConn.ReadFromUDP or LocalAddr.
func FromUDPAddr(raw *net.UDPAddr) Addr {
	ip4 := raw.IP.To4()
	if ip4 != nil {
		a := Addr{port: uint16(raw.Port)}
		copy(a.lo[:4], ip4)
		return a
	}
	a := Addr{v6: true, port: uint16(raw.Port)}
	ip16 := raw.IP.To16()
	copy(a.lo[:], ip16)
	if raw.Zone != "" {
		if iface, err := net.InterfaceByName(raw.Zone); err == nil {
			a.scope = uint32(iface.Index)
		}
	}
	return a
}

// ToUDPAddr is the inverse of FromUDPAddr/Parse; used for sendto/bind.
func (a Addr) ToUDPAddr() *net.UDPAddr {
	if a.v6 {
		u := &net.UDPAddr{IP: append(net.IP(nil), a.lo[:]...), Port: int(a.port)}
		if a.scope != 0 {
			if iface, err := net.InterfaceByIndex(int(a.scope)); err == nil {
				u.Zone = iface.Name
			}
		}
		return u
	}
	return &net.UDPAddr{IP: append(net.IP(nil), a.lo[:4]...), Port: int(a.port)}
}

// IsV6 reports whether the address is IPv6.
func (a Addr) IsV6() bool { return a.v6 }

// Network returns "udp6" or "udp4", suitable for net.ListenUDP /
// net.ResolveUDPAddr's network argument.
func (a Addr) Network() string {
	if a.v6 {
		return "udp6"
	}
	return "udp4"
}

// IPText returns the canonical numeric form of the address, with no
// interface suffix.
func (a Addr) IPText() string {
	if a.v6 {
		return net.IP(a.lo[:]).String()
	}
	return net.IP(a.lo[:4]).String()
}

// Port returns the port number.
func (a Addr) Port() uint16 { return a.port }

// Scope returns the IPv6 zone/scope id (0 for v4 or non-link-local v6).
func (a Addr) Scope() uint32 { return a.scope }

// String renders "ip:port", matching net.JoinHostPort formatting.
func (a Addr) String() string {
	return net.JoinHostPort(a.IPText(), strconv.Itoa(int(a.port)))
}

// Zero is the unspecified wildcard address for the given family and port,
// used as the default bind template when no source-bind is configured.
func Zero(v6 bool, port uint16) Addr {
	if v6 {
		return Addr{v6: true, port: port}
	}
	return Addr{port: port}
}
