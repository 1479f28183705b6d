package update

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// StaleAge is how old a staged download must be before the startup sweep
// removes it. A crash mid-download orphans its temp file; anything past this
// age cannot belong to a live attempt.
const StaleAge = 24 * time.Hour

// CleanupResult reports what a staging sweep removed.
type CleanupResult struct {
	Removed []string
	Kept    int
}

// CleanupStaging removes staged download files older than maxAge from dir.
// Files younger than maxAge may belong to an in-flight download in another
// process and are kept.
func CleanupStaging(dir string, maxAge time.Duration) (*CleanupResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return &CleanupResult{}, nil
		}
		return nil, err
	}

	cutoff := time.Now().Add(-maxAge)
	result := &CleanupResult{}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "drover-update-") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().After(cutoff) {
			result.Kept++
			continue
		}

		if err := os.Remove(path); err != nil {
			log.Warnf("failed to remove stale staged download %s: %v", path, err)
			continue
		}
		result.Removed = append(result.Removed, path)
	}

	if len(result.Removed) > 0 {
		log.Debugf("removed %d stale staged downloads from %s", len(result.Removed), dir)
	}

	return result, nil
}
