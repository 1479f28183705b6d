// Package version implements drover's date-based version scheme.
//
// Versions follow the format YYYY.MM.N, where N is the release counter for
// that month (it restarts at 1 each month). An optional +<git-hash> suffix
// carries build metadata and is ignored by comparison and equality.
package version

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var versionRegex = regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)(?:\+([a-zA-Z0-9.-]+))?$`)

// Version represents a date-based version
type Version struct {
	Year    int
	Month   int
	Release int
	GitHash string // build metadata, never compared
}

// Parse parses a version string
// Supports formats like "2025.11.2", "v2025.11.2", "2025.11.2+abc123d"
func Parse(s string) (*Version, error) {
	matches := versionRegex.FindStringSubmatch(s)
	if matches == nil {
		return nil, parseError(s)
	}

	year, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid year %q in version %q", matches[1], s)
	}
	month, err := strconv.Atoi(matches[2])
	if err != nil {
		return nil, fmt.Errorf("invalid month %q in version %q", matches[2], s)
	}
	release, err := strconv.Atoi(matches[3])
	if err != nil {
		return nil, fmt.Errorf("invalid release number %q in version %q", matches[3], s)
	}

	if month < 1 || month > 12 {
		return nil, fmt.Errorf("invalid month %d in version %q (must be 1-12)", month, s)
	}

	return &Version{
		Year:    year,
		Month:   month,
		Release: release,
		GitHash: matches[4],
	}, nil
}

// parseError reports which component of a malformed version is at fault.
func parseError(s string) error {
	base, _, _ := strings.Cut(s, "+")
	parts := strings.Split(strings.TrimPrefix(base, "v"), ".")
	if len(parts) != 3 {
		return fmt.Errorf("invalid version format %q (expected YYYY.MM.N or YYYY.MM.N+<git-hash>)", s)
	}
	names := []string{"year", "month", "release number"}
	for i, part := range parts {
		if _, err := strconv.Atoi(part); err != nil {
			return fmt.Errorf("invalid %s %q in version %q", names[i], part, s)
		}
	}
	return fmt.Errorf("invalid version format %q (expected YYYY.MM.N or YYYY.MM.N+<git-hash>)", s)
}

// String returns the string representation
func (v *Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Year, v.Month, v.Release)
	if v.GitHash != "" {
		s += "+" + v.GitHash
	}
	return s
}

// Compare compares two versions, ignoring build metadata
// Returns:
//   - 1 if v > other
//   - 0 if v == other
//   - -1 if v < other
func (v *Version) Compare(other *Version) int {
	if v.Year != other.Year {
		if v.Year > other.Year {
			return 1
		}
		return -1
	}

	if v.Month != other.Month {
		if v.Month > other.Month {
			return 1
		}
		return -1
	}

	if v.Release != other.Release {
		if v.Release > other.Release {
			return 1
		}
		return -1
	}

	return 0
}

// IsGreaterThan returns true if v > other
func (v *Version) IsGreaterThan(other *Version) bool {
	return v.Compare(other) > 0
}

// IsEqual returns true if v == other, ignoring build metadata
func (v *Version) IsEqual(other *Version) bool {
	return v.Compare(other) == 0
}

// IsDowngrade returns true if installing candidate over current would be a
// downgrade. Installing the same version counts as a downgrade: the installer
// only ever moves strictly forward.
func IsDowngrade(current, candidate *Version) bool {
	return candidate.Compare(current) <= 0
}

// Compare compares two version strings
// Returns:
//   - 1 if v1 > v2
//   - 0 if v1 == v2
//   - -1 if v1 < v2
//   - error if either version is invalid
func Compare(v1, v2 string) (int, error) {
	ver1, err := Parse(v1)
	if err != nil {
		return 0, fmt.Errorf("invalid version v1: %w", err)
	}

	ver2, err := Parse(v2)
	if err != nil {
		return 0, fmt.Errorf("invalid version v2: %w", err)
	}

	return ver1.Compare(ver2), nil
}

// Normalize removes the 'v' prefix if present
func Normalize(s string) string {
	return strings.TrimPrefix(s, "v")
}
