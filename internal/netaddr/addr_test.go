package netaddr

import (
	"net"
	"testing"
)

func TestParse_V4(t *testing.T) {
	a, err := Parse("127.0.0.1", 5000)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if a.IsV6() {
		t.Errorf("expected v4 address")
	}
	if a.IPText() != "127.0.0.1" {
		t.Errorf("IPText() = %q, want 127.0.0.1", a.IPText())
	}
	if a.Port() != 5000 {
		t.Errorf("Port() = %d, want 5000", a.Port())
	}
	if a.Scope() != 0 {
		t.Errorf("v4 address should have zero scope, got %d", a.Scope())
	}
}

func TestParse_V6(t *testing.T) {
	a, err := Parse("::1", 5001)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if !a.IsV6() {
		t.Errorf("expected v6 address")
	}
	if a.IPText() != "::1" {
		t.Errorf("IPText() = %q, want ::1", a.IPText())
	}
	// loopback is not link-local, scope must stay 0
	if a.Scope() != 0 {
		t.Errorf("loopback scope = %d, want 0", a.Scope())
	}
}

func TestParse_DiscriminatesOnColon(t *testing.T) {
	// Sanity check on the sole-discriminator rule from spec.md §4.1.
	if _, err := Parse("127.0.0.1", 1); err != nil {
		t.Fatalf("v4 literal without colon should parse as v4: %v", err)
	}
	if _, err := Parse("2001:db8::1", 1); err != nil {
		t.Fatalf("v6 literal with colon should parse as v6: %v", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse("not-an-ip", 1); err == nil {
		t.Error("expected error for invalid literal")
	}
	if _, err := Parse("256.1.1.1", 1); err == nil {
		t.Error("expected error for out-of-range v4 literal")
	}
}

func TestFromUDPAddrRoundTrip_V4(t *testing.T) {
	u := &net.UDPAddr{IP: net.ParseIP("192.168.1.1"), Port: 4242}
	a := FromUDPAddr(u)
	if a.IsV6() {
		t.Errorf("expected v4")
	}
	back := a.ToUDPAddr()
	if !back.IP.Equal(u.IP) || back.Port != u.Port {
		t.Errorf("round trip mismatch: got %v, want %v", back, u)
	}
}

func TestFromUDPAddrRoundTrip_V6(t *testing.T) {
	u := &net.UDPAddr{IP: net.ParseIP("2001:db8::1"), Port: 443}
	a := FromUDPAddr(u)
	if !a.IsV6() {
		t.Errorf("expected v6")
	}
	back := a.ToUDPAddr()
	if !back.IP.Equal(u.IP) || back.Port != u.Port {
		t.Errorf("round trip mismatch: got %v, want %v", back, u)
	}
}

func TestEquality(t *testing.T) {
	a1, _ := Parse("10.0.0.1", 53)
	a2, _ := Parse("10.0.0.1", 53)
	a3, _ := Parse("10.0.0.2", 53)

	if a1 != a2 {
		t.Error("identical addresses should compare equal")
	}
	if a1 == a3 {
		t.Error("different addresses should not compare equal")
	}
}

func TestEquality_UsableAsMapKey(t *testing.T) {
	m := make(map[Addr]int)
	a1, _ := Parse("127.0.0.1", 40001)
	a2, _ := Parse("127.0.0.1", 40002)
	m[a1] = 1
	m[a2] = 2

	if len(m) != 2 {
		t.Fatalf("expected 2 distinct keys, got %d", len(m))
	}
	if m[a1] != 1 || m[a2] != 2 {
		t.Errorf("map lookup mismatch")
	}
}

func TestZero(t *testing.T) {
	v4 := Zero(false, 0)
	if v4.IsV6() {
		t.Error("Zero(false, ...) should be v4")
	}
	if v4.IPText() != "0.0.0.0" {
		t.Errorf("IPText() = %q, want 0.0.0.0", v4.IPText())
	}

	v6 := Zero(true, 7777)
	if !v6.IsV6() {
		t.Error("Zero(true, ...) should be v6")
	}
	if v6.IPText() != "::" {
		t.Errorf("IPText() = %q, want ::", v6.IPText())
	}
	if v6.Port() != 7777 {
		t.Errorf("Port() = %d, want 7777", v6.Port())
	}
}

func TestNetwork(t *testing.T) {
	v4, _ := Parse("127.0.0.1", 1)
	if v4.Network() != "udp4" {
		t.Errorf("Network() = %q, want udp4", v4.Network())
	}
	v6, _ := Parse("::1", 1)
	if v6.Network() != "udp6" {
		t.Errorf("Network() = %q, want udp6", v6.Network())
	}
}

func TestString(t *testing.T) {
	a, _ := Parse("127.0.0.1", 5000)
	if a.String() != "127.0.0.1:5000" {
		t.Errorf("String() = %q, want 127.0.0.1:5000", a.String())
	}
}
