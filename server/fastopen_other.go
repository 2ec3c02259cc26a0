//go:build !linux

package server

// setTCPFastOpen is a no-op outside Linux: TCP_FASTOPEN's setsockopt
// shape (an integer queue-length hint) is Linux-specific; Darwin/BSD
// expose the same feature through a different call sequence this module
// does not implement.
func setTCPFastOpen(fd, hint int) error {
	return nil
}
