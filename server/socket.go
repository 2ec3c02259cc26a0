package server

import (
	"net"

	"github.com/nikandfor/errors"
	"golang.org/x/sys/unix"

	"github.com/hioload/reactorcore/api"
)

// setSocketOptions applies the socket option table; the Linger and
// FastOpen constants are kept byte-for-byte equal to their reference
// values (see DESIGN.md for the open questions around them).
func setSocketOptions(fd int, opts api.Options) error {
	if opts.Has(api.ReuseAddr) {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return errors.Wrap(err, "setsockopt SO_REUSEADDR")
		}
	}
	if opts.Has(api.Linger) {
		l := unix.Linger{Onoff: 1, Linger: api.LingerSeconds}
		if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &l); err != nil {
			return errors.Wrap(err, "setsockopt SO_LINGER")
		}
	}
	if opts.Has(api.FastOpen) {
		if err := setTCPFastOpen(fd, api.FastOpenQueueHint); err != nil {
			return errors.Wrap(err, "setsockopt TCP_FASTOPEN")
		}
	}
	if opts.Has(api.NoDelay) {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return errors.Wrap(err, "setsockopt TCP_NODELAY")
		}
	}
	return nil
}

// candidateIPs resolves host to the IP records to try, filtered to the
// requested family, in the order the resolver returned them — the Go
// equivalent of a getaddrinfo-style iteration over resolved records.
func candidateIPs(host string, family api.Family) ([]net.IP, error) {
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, err
	}
	out := make([]net.IP, 0, len(ips))
	for _, ip := range ips {
		isV4 := ip.To4() != nil
		if family == api.IPv4 && isV4 {
			out = append(out, ip)
		} else if family == api.IPv6 && !isV4 {
			out = append(out, ip)
		}
	}
	return out, nil
}

func sockaddrFor(family api.Family, ip net.IP, port uint16) unix.Sockaddr {
	if family == api.IPv6 {
		var a [16]byte
		copy(a[:], ip.To16())
		return &unix.SockaddrInet6{Port: int(port), Addr: a}
	}
	var a [4]byte
	copy(a[:], ip.To4())
	return &unix.SockaddrInet4{Port: int(port), Addr: a}
}

func addressFromSockaddr(sa unix.Sockaddr) api.Address {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(sa.Addr[:])
		return api.Address{Host: ip.String(), Port: uint16(sa.Port), Family: api.IPv4}
	case *unix.SockaddrInet6:
		ip := net.IP(sa.Addr[:])
		return api.Address{Host: ip.String(), Port: uint16(sa.Port), Family: api.IPv6}
	default:
		return api.Address{}
	}
}

func portFromSockaddr(sa unix.Sockaddr) uint16 {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return uint16(sa.Port)
	case *unix.SockaddrInet6:
		return uint16(sa.Port)
	default:
		return 0
	}
}
