package update

import "errors"

// Failure classes for update attempts. Network and manifest errors are soft:
// the scheduler just waits for the next interval. The rest are terminal for
// the current attempt and always leave the installation as it was.
var (
	ErrNetworkUnavailable  = errors.New("network unavailable")
	ErrManifestInvalid     = errors.New("manifest invalid")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrChecksumMismatch    = errors.New("checksum mismatch")
	ErrDowngradeRejected   = errors.New("downgrade rejected")
	ErrLockBusy            = errors.New("another update is in progress")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrDiskFull            = errors.New("insufficient disk space")
	ErrSelfCheckFailed     = errors.New("self-check failed")
)

// Exit codes, one per failure class, used by the update command.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitNetwork     = 10
	ExitManifest    = 11
	ExitPlatform    = 12
	ExitChecksum    = 13
	ExitDowngrade   = 14
	ExitLockBusy    = 15
	ExitPermission  = 16
	ExitDiskFull    = 17
	ExitSelfCheck   = 18
)

// ExitCode maps an error to its failure-class exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrNetworkUnavailable):
		return ExitNetwork
	case errors.Is(err, ErrManifestInvalid):
		return ExitManifest
	case errors.Is(err, ErrUnsupportedPlatform):
		return ExitPlatform
	case errors.Is(err, ErrChecksumMismatch):
		return ExitChecksum
	case errors.Is(err, ErrDowngradeRejected):
		return ExitDowngrade
	case errors.Is(err, ErrLockBusy):
		return ExitLockBusy
	case errors.Is(err, ErrPermissionDenied):
		return ExitPermission
	case errors.Is(err, ErrDiskFull):
		return ExitDiskFull
	case errors.Is(err, ErrSelfCheckFailed):
		return ExitSelfCheck
	default:
		return ExitFailure
	}
}
