//go:build windows

package update

import (
	"errors"
	"syscall"
)

// isNoSpace reports whether err is a disk-exhaustion error.
func isNoSpace(err error) bool {
	const errDiskFull = syscall.Errno(112) // ERROR_DISK_FULL
	return errors.Is(err, errDiskFull)
}
