//go:build linux

package server

import "golang.org/x/sys/unix"

func setTCPFastOpen(fd, hint int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_FASTOPEN, hint)
}
