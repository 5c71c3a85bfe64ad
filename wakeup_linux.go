//go:build linux

package taskloop

import (
	"golang.org/x/sys/unix"
)

const (
	wakeFdCloexec  = unix.EFD_CLOEXEC
	wakeFdNonblock = unix.EFD_NONBLOCK
)

// createWakeFd creates an eventfd for wake-up notifications (Linux).
// Returns the single eventfd as both read and write ends.
func createWakeFd(flags int) (int, int, error) {
	fd, err := unix.Eventfd(0, flags)
	return fd, fd, err
}
