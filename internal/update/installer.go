package update

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/droverhq/drover/internal/version"
)

// State tracks the installer through an attempt.
//
//	Idle -> Verified -> BackedUp -> Replaced -> Confirmed
//
// with an error edge from any non-Idle state to RolledBack. Before BackedUp
// the live binary is untouched, so the error edge is a no-op there; after
// BackedUp, rollback is a single rename of the backup over the install path.
type State int

const (
	StateIdle State = iota
	StateVerified
	StateBackedUp
	StateReplaced
	StateConfirmed
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateVerified:
		return "verified"
	case StateBackedUp:
		return "backed-up"
	case StateReplaced:
		return "replaced"
	case StateConfirmed:
		return "confirmed"
	case StateRolledBack:
		return "rolled-back"
	default:
		return "unknown"
	}
}

// BackupSuffix names the retained previous binary next to the install path.
const BackupSuffix = ".backup"

// Installer replaces the running executable with a verified artifact.
// Callers must hold the installer lock for the whole Install call.
type Installer struct {
	installPath string
	backupPath  string
	state       State

	// selfCheck confirms a binary launches; overridable in tests.
	selfCheck func(path string) error
}

// NewInstaller creates an installer for the executable at installPath.
func NewInstaller(installPath string) *Installer {
	return &Installer{
		installPath: installPath,
		backupPath:  installPath + BackupSuffix,
		selfCheck:   runSelfCheck,
	}
}

// InstallPath returns the canonical executable location.
func (i *Installer) InstallPath() string {
	return i.installPath
}

// BackupPath returns where the previous binary is retained.
func (i *Installer) BackupPath() string {
	return i.backupPath
}

// State returns the installer's current state.
func (i *Installer) State() State {
	return i.state
}

// Install moves the verified artifact into place. Entry conditions: the
// artifact passed checksum verification (it is a VerifiedFile) and target is
// strictly newer than current. The backup of the previous binary is retained
// after success as the manual rollback path.
func (i *Installer) Install(artifact *VerifiedFile, current, target *version.Version) error {
	if i.state != StateIdle {
		return fmt.Errorf("installer already ran (state %s)", i.state)
	}
	if artifact == nil || artifact.SHA256 == "" {
		return fmt.Errorf("refusing to install unverified artifact")
	}
	if version.IsDowngrade(current, target) {
		return fmt.Errorf("%w: %s -> %s", ErrDowngradeRejected, current, target)
	}

	// Stage the artifact next to the install path so both renames below are
	// same-filesystem and therefore atomic. This also proves the install
	// directory is writable before the backup is touched.
	staged, err := i.stage(artifact)
	if err != nil {
		return err
	}
	i.state = StateVerified

	// Verified -> BackedUp: one rename. An existing backup from a prior run
	// is overwritten; install-dir writability was already confirmed above.
	if err := os.Rename(i.installPath, i.backupPath); err != nil {
		_ = os.Remove(staged)
		i.state = StateRolledBack
		return fmt.Errorf("failed to back up current binary: %w", classifyFSError(err))
	}
	i.state = StateBackedUp

	// BackedUp -> Replaced: the second rename. Between these two renames no
	// binary exists at the install path; nothing but the rename itself
	// happens in that window.
	if err := os.Rename(staged, i.installPath); err != nil {
		i.rollback(staged)
		return fmt.Errorf("failed to install new binary: %w", classifyFSError(err))
	}
	i.state = StateReplaced

	// Replaced -> Confirmed: permissions, then prove the binary launches.
	if err := os.Chmod(i.installPath, 0o755); err != nil {
		i.rollback("")
		return fmt.Errorf("failed to set executable permissions: %w", classifyFSError(err))
	}

	if err := i.selfCheck(i.installPath); err != nil {
		i.rollback("")
		return fmt.Errorf("%w: %v", ErrSelfCheckFailed, err)
	}

	i.state = StateConfirmed
	log.Infof("installed %s over %s, previous binary retained at %s", target, current, i.backupPath)
	return nil
}

// rollback restores the backup over the install path. Renaming the backup
// back is atomic and overwrites whatever is at the install path, so the
// system never ends up with zero binaries. staged, when non-empty, is a
// leftover staged file to clean up.
func (i *Installer) rollback(staged string) {
	if staged != "" {
		_ = os.Remove(staged)
	}
	if err := os.Rename(i.backupPath, i.installPath); err != nil {
		log.Errorf("rollback failed, backup remains at %s: %v", i.backupPath, err)
	} else {
		_ = os.Chmod(i.installPath, 0o755)
	}
	i.state = StateRolledBack
}

// stage copies the verified artifact into the install directory under a
// hidden temporary name.
func (i *Installer) stage(artifact *VerifiedFile) (string, error) {
	dir := filepath.Dir(i.installPath)
	base := filepath.Base(i.installPath)

	staged, err := os.CreateTemp(dir, "."+base+".new-*")
	if err != nil {
		return "", fmt.Errorf("install directory not writable: %w", classifyFSError(err))
	}
	stagedPath := staged.Name()

	src, err := os.Open(artifact.Path)
	if err != nil {
		_ = staged.Close()
		_ = os.Remove(stagedPath)
		return "", fmt.Errorf("failed to open artifact: %w", classifyFSError(err))
	}

	_, copyErr := io.Copy(staged, src)
	_ = src.Close()
	closeErr := staged.Close()

	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr == nil {
		copyErr = os.Chmod(stagedPath, 0o755)
	}
	if copyErr != nil {
		_ = os.Remove(stagedPath)
		return "", fmt.Errorf("failed to stage artifact: %w", classifyFSError(copyErr))
	}

	return stagedPath, nil
}

// runSelfCheck launches the binary with --version and a short timeout.
func runSelfCheck(path string) error {
	cmd := exec.Command(path, "--version")
	done := make(chan error, 1)

	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(30 * time.Second):
		_ = cmd.Process.Kill()
		return fmt.Errorf("self-check timed out")
	}
}

// Recover repairs the one unsafe crash window: a process that died between
// the backup and replace renames leaves no binary at the install path but a
// good one at the backup path. Called at startup; a no-op otherwise.
func Recover(installPath string) error {
	backupPath := installPath + BackupSuffix

	if _, err := os.Stat(installPath); err == nil || !os.IsNotExist(err) {
		return err
	}
	if _, err := os.Stat(backupPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	log.Warnf("executable missing at %s, restoring from backup", installPath)
	if err := os.Rename(backupPath, installPath); err != nil {
		return fmt.Errorf("failed to restore backup: %w", classifyFSError(err))
	}
	return os.Chmod(installPath, 0o755)
}

// InstallTarget resolves the path of the currently running executable,
// following symlinks so the rename pair operates on the real file.
func InstallTarget() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate current executable: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable path: %w", err)
	}
	return resolved, nil
}
