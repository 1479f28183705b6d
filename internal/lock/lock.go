// Package lock implements an advisory lock file shared by drover processes.
//
// The lock is cooperative: every instance that wants to touch the installed
// binary (or mutate the persisted config) goes through Acquire first. The
// lock file carries the holder's PID and acquisition time so a waiter can
// detect and break locks left behind by dead processes.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// ErrBusy is returned when the lock is held by another live process and the
// bounded wait ran out.
var ErrBusy = errors.New("lock is held by another process")

// StaleAfter is how old a lock file may grow before it is considered
// abandoned even when its holder PID cannot be probed.
const StaleAfter = 10 * time.Minute

// metadata is the JSON payload written into the lock file.
type metadata struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is a named advisory lock backed by a file.
type Lock struct {
	path     string
	acquired bool
}

// New creates a lock backed by the file at path. The lock is not acquired.
func New(path string) *Lock {
	return &Lock{path: path}
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// TryAcquire attempts to take the lock without waiting.
// Returns ErrBusy if another live process holds it.
func (l *Lock) TryAcquire() error {
	if l.acquired {
		return nil
	}

	err := l.create()
	if err == nil {
		l.acquired = true
		return nil
	}
	if !os.IsExist(err) {
		return fmt.Errorf("failed to create lock file %s: %w", l.path, err)
	}

	// Lock file exists. Break it if the holder is gone or the file is
	// ancient, otherwise report busy.
	if l.isStale() {
		log.Warnf("removing stale lock file %s", l.path)
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lock file %s: %w", l.path, err)
		}
		if err := l.create(); err != nil {
			if os.IsExist(err) {
				return ErrBusy
			}
			return fmt.Errorf("failed to create lock file %s: %w", l.path, err)
		}
		l.acquired = true
		return nil
	}

	return ErrBusy
}

// Acquire takes the lock, waiting up to maxWait for the current holder to
// release it. The wait is also bounded by ctx.
func (l *Lock) Acquire(ctx context.Context, maxWait time.Duration) error {
	backOff := backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     100 * time.Millisecond,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         time.Second,
		MaxElapsedTime:      maxWait,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}, ctx)

	err := backoff.Retry(l.TryAcquire, backOff)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ErrBusy
		}
		return err
	}
	return nil
}

// Release removes the lock file. Releasing a lock that was never acquired,
// or whose file has already been cleaned up, is not an error.
func (l *Lock) Release() error {
	if !l.acquired {
		return nil
	}
	l.acquired = false
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file %s: %w", l.path, err)
	}
	return nil
}

// create writes a new lock file with O_EXCL semantics.
func (l *Lock) create() error {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}

	meta := metadata{
		PID:        os.Getpid(),
		AcquiredAt: time.Now().UTC(),
	}
	encodeErr := json.NewEncoder(f).Encode(meta)
	closeErr := f.Close()

	if encodeErr != nil {
		_ = os.Remove(l.path)
		return fmt.Errorf("failed to write lock metadata: %w", encodeErr)
	}
	if closeErr != nil {
		_ = os.Remove(l.path)
		return fmt.Errorf("failed to close lock file: %w", closeErr)
	}
	return nil
}

// isStale reports whether the existing lock file belongs to a dead process
// or has outlived StaleAfter. Unreadable metadata is treated as stale only
// when the file itself is old, so a half-written lock from a racing process
// is not broken prematurely.
func (l *Lock) isStale() bool {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return false
	}

	var meta metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		info, statErr := os.Stat(l.path)
		return statErr == nil && time.Since(info.ModTime()) > StaleAfter
	}

	if meta.PID > 0 && !processAlive(meta.PID) {
		return true
	}

	return !meta.AcquiredAt.IsZero() && time.Since(meta.AcquiredAt) > StaleAfter
}

// processAlive probes a PID with signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return errors.Is(err, syscall.EPERM)
}
