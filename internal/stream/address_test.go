package stream

import (
	"errors"
	"net"
	"testing"
)

func mustCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	ip, ipNet, err := net.ParseCIDR(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	ipNet.IP = ip
	return ipNet
}

func TestPickAddressPrefersRequestedFamily(t *testing.T) {
	addrs := []net.Addr{
		mustCIDR(t, "fd00::5/64"),
		mustCIDR(t, "192.168.1.10/24"),
	}

	got, err := pickAddress(addrs, FamilyIPv4, "eth0")
	if err != nil {
		t.Fatalf("pickAddress error: %v", err)
	}
	if got != "192.168.1.10" {
		t.Fatalf("expected ipv4 address, got %q", got)
	}

	got, err = pickAddress(addrs, FamilyIPv6, "eth0")
	if err != nil {
		t.Fatalf("pickAddress error: %v", err)
	}
	if got != "fd00::5" {
		t.Fatalf("expected ipv6 address, got %q", got)
	}
}

func TestPickAddressFallsBackAcrossFamilies(t *testing.T) {
	addrs := []net.Addr{mustCIDR(t, "192.168.1.10/24")}

	got, err := pickAddress(addrs, FamilyIPv6, "eth0")
	if err != nil {
		t.Fatalf("pickAddress error: %v", err)
	}
	if got != "192.168.1.10" {
		t.Fatalf("expected cross-family fallback, got %q", got)
	}
}

func TestPickAddressSkipsLoopbackAndLinkLocal(t *testing.T) {
	addrs := []net.Addr{
		mustCIDR(t, "127.0.0.1/8"),
		mustCIDR(t, "169.254.1.1/16"),
		mustCIDR(t, "fe80::1/64"),
	}

	_, err := pickAddress(addrs, FamilyIPv4, "lo")
	if err == nil {
		t.Fatal("expected error when only unusable addresses exist")
	}
	var resErr *AddressResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected AddressResolutionError, got %T", err)
	}
	if resErr.Interface != "lo" {
		t.Fatalf("expected interface name in error, got %q", resErr.Interface)
	}
}

func TestResolveAddressUnknownInterface(t *testing.T) {
	_, err := ResolveAddress(FamilyIPv4, "does-not-exist-0")
	if err == nil {
		t.Fatal("expected error for unknown interface")
	}
	var resErr *AddressResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected AddressResolutionError, got %T", err)
	}
	if resErr.Interface != "does-not-exist-0" {
		t.Fatalf("expected interface name in error, got %q", resErr.Interface)
	}
	if resErr.Err == nil {
		t.Fatal("expected the lookup failure to be carried as the cause")
	}
}

func TestMatchesFamily(t *testing.T) {
	v4 := net.ParseIP("10.0.0.1")
	v6 := net.ParseIP("fd00::1")

	if !matchesFamily(v4, FamilyIPv4) || matchesFamily(v4, FamilyIPv6) {
		t.Fatal("ipv4 classification wrong")
	}
	if !matchesFamily(v6, FamilyIPv6) || matchesFamily(v6, FamilyIPv4) {
		t.Fatal("ipv6 classification wrong")
	}
}
