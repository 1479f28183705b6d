package update

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/lock"
	"github.com/droverhq/drover/internal/updatelog"
	"github.com/droverhq/drover/internal/version"
)

// DefaultLockWait bounds how long an explicit update invocation waits for a
// concurrent installer to finish before reporting LockBusy.
const DefaultLockWait = 10 * time.Second

// CheckResult is the outcome of comparing the manifest against the running
// binary.
type CheckResult struct {
	Current   *version.Version
	Artifact  *ResolvedArtifact
	Available bool // artifact is strictly newer than current
}

// Updater ties the manifest client, downloader, and installer together over
// the shared config store and updates log. One Updater serves both the
// explicit update command and the background scheduler.
type Updater struct {
	store       *config.Store
	log         *updatelog.Logger
	current     *version.Version
	installPath string
	stagingDir  string
	lockPath    string
	platform    Platform
	lockWait    time.Duration

	client     *Client
	downloader *Downloader
}

// NewUpdater creates an updater for the binary at installPath running
// currentVersion. stagingDir and lockPath come from the data dir.
func NewUpdater(store *config.Store, logger *updatelog.Logger, current *version.Version,
	installPath, stagingDir, lockPath string) *Updater {
	return &Updater{
		store:       store,
		log:         logger,
		current:     current,
		installPath: installPath,
		stagingDir:  stagingDir,
		lockPath:    lockPath,
		platform:    Detect(),
		lockWait:    DefaultLockWait,
		client:      NewClient(current.String()),
		downloader:  NewDownloader(stagingDir, current.String()),
	}
}

// WithHTTPClient overrides HTTP transport for both the manifest client and
// the downloader, for tests.
func (u *Updater) WithHTTPClient(hc *http.Client) *Updater {
	u.client.WithHTTPClient(hc)
	u.downloader.WithHTTPClient(hc)
	return u
}

// WithPlatform overrides platform detection, for tests.
func (u *Updater) WithPlatform(p Platform) *Updater {
	u.platform = p
	return u
}

// WithProgress sets the download progress callback.
func (u *Updater) WithProgress(fn ProgressFunc) *Updater {
	u.downloader.WithProgress(fn)
	return u
}

// WithLockWait bounds the installer lock wait.
func (u *Updater) WithLockWait(d time.Duration) *Updater {
	u.lockWait = d
	return u
}

// Current returns the running binary's version.
func (u *Updater) Current() *version.Version {
	return u.current
}

// Check fetches the manifest and resolves the channel's latest artifact for
// this platform. A completed check (update available or definitively not)
// records last_check; a network or manifest failure does not. A channel
// whose latest is strictly older than the running binary is a downgrade and
// fails; equal to latest is up to date.
func (u *Updater) Check(ctx context.Context, cfg *config.UpdateConfig) (*CheckResult, error) {
	u.log.Infof("checking for updates (channel: %s, current: %s)", cfg.Channel, u.current)

	manifest, err := u.client.Fetch(ctx, cfg.EffectiveManifestURL())
	if err != nil {
		u.log.Errorf("update check failed: %v", err)
		return nil, err
	}

	artifact, err := manifest.Resolve(cfg.Channel, u.platform)
	if err != nil {
		u.log.Errorf("update check failed: %v", err)
		return nil, err
	}

	if artifact.Version.Compare(u.current) < 0 {
		u.log.Infof("channel %s offers %s, older than current %s", cfg.Channel, artifact.Version, u.current)
		if err := u.markChecked(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: channel %s offers %s, current is %s",
			ErrDowngradeRejected, cfg.Channel, artifact.Version, u.current)
	}

	result := &CheckResult{
		Current:   u.current,
		Artifact:  artifact,
		Available: artifact.Version.IsGreaterThan(u.current),
	}

	if result.Available {
		u.log.Infof("update available: %s -> %s", u.current, artifact.Version)
	} else {
		u.log.Infof("no update available (current: %s, latest: %s)", u.current, artifact.Version)
	}

	if err := u.markChecked(); err != nil {
		return nil, err
	}

	return result, nil
}

// CheckVersion resolves one specific version instead of the channel's
// latest, for explicit `update --version` requests. The no-downgrade
// invariant is still enforced by the installer.
func (u *Updater) CheckVersion(ctx context.Context, cfg *config.UpdateConfig, ver string) (*CheckResult, error) {
	manifest, err := u.client.Fetch(ctx, cfg.EffectiveManifestURL())
	if err != nil {
		u.log.Errorf("update check failed: %v", err)
		return nil, err
	}

	artifact, err := manifest.ResolveVersion(ver, u.platform)
	if err != nil {
		u.log.Errorf("update check failed: %v", err)
		return nil, err
	}

	result := &CheckResult{
		Current:   u.current,
		Artifact:  artifact,
		Available: artifact.Version.IsGreaterThan(u.current),
	}

	if err := u.markChecked(); err != nil {
		return nil, err
	}

	return result, nil
}

// Notes fetches the change summary for one version, for --show-changes.
func (u *Updater) Notes(ctx context.Context, cfg *config.UpdateConfig, ver string) (string, error) {
	manifest, err := u.client.Fetch(ctx, cfg.EffectiveManifestURL())
	if err != nil {
		return "", err
	}
	return manifest.NotesFor(ver)
}

// Download stages and verifies the artifact.
func (u *Updater) Download(ctx context.Context, artifact *ResolvedArtifact) (*VerifiedFile, error) {
	u.log.Infof("downloading %s (%d bytes)", artifact.Version, artifact.SizeBytes)

	file, err := u.downloader.Download(ctx, artifact)
	if err != nil {
		u.log.Errorf("download of %s failed: %v", artifact.Version, err)
		return nil, err
	}

	u.log.Infof("download of %s complete, checksum verified", artifact.Version)
	return file, nil
}

// Install runs the installer under the cross-process advisory lock. The
// lock is taken strictly before the backup step and held until the installer
// confirms or rolls back; it is released either way. last_update is
// recorded only on a confirmed install.
func (u *Updater) Install(ctx context.Context, file *VerifiedFile, target *version.Version) error {
	installerLock := lock.New(u.lockPath)
	if err := installerLock.Acquire(ctx, u.lockWait); err != nil {
		if errors.Is(err, lock.ErrBusy) {
			u.log.Infof("install of %s skipped: %s", target, outcomeAborted(ErrLockBusy))
			return fmt.Errorf("%w: lock %s", ErrLockBusy, u.lockPath)
		}
		return err
	}
	defer func() { _ = installerLock.Release() }()

	installer := NewInstaller(u.installPath)
	err := installer.Install(file, u.current, target)
	if err != nil {
		if installer.State() == StateRolledBack {
			u.log.Errorf("install of %s failed, rolled back: %v", target, err)
		} else {
			u.log.Errorf("install of %s %s: %v", target, outcomeAborted(err), err)
		}
		return err
	}

	file.Remove()

	now := time.Now().UTC()
	if err := u.store.Update(func(cfg *config.Config) error {
		cfg.Updates.LastUpdate = &now
		return nil
	}); err != nil {
		return fmt.Errorf("installed %s but failed to record it: %w", target, err)
	}

	u.log.Infof("install of %s succeeded (previous %s retained at %s)",
		target, u.current, installer.BackupPath())
	return nil
}

// markChecked records a completed check attempt.
func (u *Updater) markChecked() error {
	now := time.Now().UTC()
	return u.store.Update(func(cfg *config.Config) error {
		cfg.Updates.LastCheck = &now
		return nil
	})
}

// outcomeAborted renders the aborted:<reason> outcome for the updates log.
func outcomeAborted(err error) string {
	switch {
	case errors.Is(err, ErrChecksumMismatch):
		return "aborted:checksum-mismatch"
	case errors.Is(err, ErrDowngradeRejected):
		return "aborted:downgrade-rejected"
	case errors.Is(err, ErrLockBusy):
		return "aborted:lock-busy"
	case errors.Is(err, ErrSelfCheckFailed):
		return "aborted:self-check-failed"
	case errors.Is(err, ErrPermissionDenied):
		return "aborted:permission-denied"
	case errors.Is(err, ErrDiskFull):
		return "aborted:disk-full"
	default:
		return "aborted:error"
	}
}

// DetectInstallations reports drover binaries at well-known install
// locations, so the update command can warn about PATH shadowing.
func DetectInstallations() []string {
	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".local", "bin", "drover"))
	}
	candidates = append(candidates,
		"/usr/local/bin/drover",
		"/usr/bin/drover",
		"/opt/drover/drover",
	)

	var found []string
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			found = append(found, path)
		}
	}
	return found
}
