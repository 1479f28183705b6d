package update

import (
	"fmt"
	"runtime"
)

// Platform describes the system an artifact is built for.
type Platform struct {
	OS   string // darwin, linux
	Arch string // amd64, arm64
}

// Detect returns the current platform.
func Detect() Platform {
	return Platform{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}
}

// Key returns the manifest key for this platform, e.g. "darwin-arm64".
func (p Platform) Key() string {
	return fmt.Sprintf("%s-%s", p.OS, p.Arch)
}

func (p Platform) String() string {
	return p.Key()
}

// IsSupported returns true if release artifacts are published for this
// platform.
func (p Platform) IsSupported() bool {
	supportedPlatforms := map[string][]string{
		"darwin": {"amd64", "arm64"},
		"linux":  {"amd64", "arm64"},
	}

	archs, ok := supportedPlatforms[p.OS]
	if !ok {
		return false
	}

	for _, arch := range archs {
		if p.Arch == arch {
			return true
		}
	}

	return false
}
