package update

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/version"
)

const (
	// defaultEvalInterval is how often the scheduler re-evaluates whether a
	// check is due. The check_interval policy decides whether a tick
	// actually does anything.
	defaultEvalInterval = time.Hour

	// defaultAttemptTimeout bounds one whole attempt (fetch, download,
	// install). Past it the attempt is abandoned and retried next interval.
	defaultAttemptTimeout = 15 * time.Minute
)

// NotifyFunc is called when a newer version exists but auto_install is off.
type NotifyFunc func(current *version.Version, artifact *ResolvedArtifact)

// Scheduler runs periodic update checks in the background. It owns one
// goroutine; at most one attempt is active at a time because the loop is the
// only place attempts start. Cross-process serialization comes from the
// installer lock inside Updater.Install.
type Scheduler struct {
	updater *Updater
	store   *config.Store
	notify  NotifyFunc

	evalInterval   time.Duration
	attemptTimeout time.Duration

	forceCheck chan struct{}
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewScheduler creates a scheduler driving the given updater.
func NewScheduler(updater *Updater, store *config.Store) *Scheduler {
	return &Scheduler{
		updater:        updater,
		store:          store,
		evalInterval:   defaultEvalInterval,
		attemptTimeout: defaultAttemptTimeout,
		forceCheck:     make(chan struct{}, 1),
	}
}

// WithNotify sets the pending-update notification callback.
func (s *Scheduler) WithNotify(fn NotifyFunc) *Scheduler {
	s.notify = fn
	return s
}

// WithIntervals overrides the evaluation tick and attempt timeout, for
// tests.
func (s *Scheduler) WithIntervals(eval, timeout time.Duration) *Scheduler {
	s.evalInterval = eval
	s.attemptTimeout = timeout
	return s
}

// Start launches the background loop. An immediate evaluation runs first so
// a process that was down past its interval does not wait another tick.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cancel != nil {
		log.Errorf("update scheduler already started")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop cancels the loop and waits for any in-flight attempt to wind down.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
}

// CheckNow asks the loop to evaluate on its next pass regardless of the
// interval. Non-blocking; a pending request coalesces.
func (s *Scheduler) CheckNow() {
	select {
	case s.forceCheck <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.evalInterval)
	defer ticker.Stop()

	s.tick(ctx, false)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, false)
		case <-s.forceCheck:
			s.tick(ctx, true)
		}
	}
}

// tick evaluates policy and, when a check is due, runs one attempt.
// All failures are soft here: log, skip, retry next interval.
func (s *Scheduler) tick(ctx context.Context, forced bool) {
	cfg, err := s.store.LoadEffective()
	if err != nil {
		log.Warnf("update scheduler: failed to load config: %v", err)
		return
	}

	if !forced && !cfg.Updates.ShouldCheck(time.Now()) {
		return
	}
	if !cfg.Updates.Enabled {
		return
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
	defer cancel()

	s.runAttempt(attemptCtx, &cfg.Updates)
}

// runAttempt performs one check and, policy permitting, one install.
func (s *Scheduler) runAttempt(ctx context.Context, cfg *config.UpdateConfig) {
	result, err := s.updater.Check(ctx, cfg)
	if err != nil {
		// CheckFailed: network and manifest problems retry next interval.
		log.Debugf("update check failed, will retry next interval: %v", err)
		return
	}

	if !result.Available {
		return
	}

	if !cfg.AutoInstall {
		log.Infof("update %s available (current %s); auto-install is off", result.Artifact.Version, result.Current)
		if s.notify != nil {
			s.notify(result.Current, result.Artifact)
		}
		return
	}

	file, err := s.updater.Download(ctx, result.Artifact)
	if err != nil {
		log.Warnf("update download failed: %v", err)
		return
	}

	if err := s.updater.Install(ctx, file, result.Artifact.Version); err != nil {
		if errors.Is(err, ErrLockBusy) {
			// Another instance is mid-update; skip this tick silently.
			log.Debugf("installer lock busy, skipping tick")
			return
		}
		log.Warnf("update install failed: %v", err)
		return
	}

	log.Infof("auto-update to %s complete; restart to run the new version", result.Artifact.Version)
}
