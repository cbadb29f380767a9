package stream

import (
	"net"
)

// ResolveAddress determines the local address to advertise as the session
// return path. When ifaceName is empty the system's interfaces are scanned in
// order and the first up, non-loopback interface with a usable address wins.
// An address matching the requested family is preferred; when none matches,
// the first non-internal address of any family is used as a fallback.
func ResolveAddress(family AddressFamily, ifaceName string) (string, error) {
	if ifaceName != "" {
		iface, err := net.InterfaceByName(ifaceName)
		if err != nil {
			return "", &AddressResolutionError{Interface: ifaceName, Family: family, Err: err}
		}
		addrs, err := iface.Addrs()
		if err != nil {
			return "", &AddressResolutionError{Interface: ifaceName, Family: family, Err: err}
		}
		return pickAddress(addrs, family, ifaceName)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "", &AddressResolutionError{Family: family, Err: err}
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if addr, err := pickAddress(addrs, family, iface.Name); err == nil {
			return addr, nil
		}
	}
	return "", &AddressResolutionError{Family: family}
}

func pickAddress(addrs []net.Addr, family AddressFamily, ifaceName string) (string, error) {
	var fallback string
	for _, addr := range addrs {
		ip := ipFromAddr(addr)
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		if matchesFamily(ip, family) {
			return ip.String(), nil
		}
		if fallback == "" {
			fallback = ip.String()
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", &AddressResolutionError{Interface: ifaceName, Family: family}
}

func ipFromAddr(addr net.Addr) net.IP {
	switch v := addr.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	default:
		return nil
	}
}

func matchesFamily(ip net.IP, family AddressFamily) bool {
	if family == FamilyIPv6 {
		return ip.To4() == nil
	}
	return ip.To4() != nil
}
