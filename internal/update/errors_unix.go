//go:build !windows

package update

import (
	"errors"
	"syscall"
)

// isNoSpace reports whether err is a disk-exhaustion error.
func isNoSpace(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}
