package update

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/droverhq/drover/internal/version"
)

func mustVersion(t *testing.T, s string) *version.Version {
	t.Helper()
	v, err := version.Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q) error = %v", s, err)
	}
	return v
}

// writeBinary writes content at path with executable permissions.
func writeBinary(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

// testArtifact stages content as a verified artifact in its own temp dir.
func testArtifact(t *testing.T, content string) *VerifiedFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drover-update-test")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write artifact: %v", err)
	}
	return &VerifiedFile{Path: path, SHA256: sha256Hex([]byte(content)), Size: int64(len(content))}
}

func testInstaller(t *testing.T, installPath string) *Installer {
	t.Helper()
	i := NewInstaller(installPath)
	i.selfCheck = func(string) error { return nil }
	return i
}

func TestInstallHappyPath(t *testing.T) {
	installPath := filepath.Join(t.TempDir(), "drover")
	writeBinary(t, installPath, "old binary")

	i := testInstaller(t, installPath)
	err := i.Install(testArtifact(t, "new binary"), mustVersion(t, "2025.11.2"), mustVersion(t, "2025.11.3"))
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if i.State() != StateConfirmed {
		t.Errorf("State() = %s, want confirmed", i.State())
	}

	got, err := os.ReadFile(installPath)
	if err != nil {
		t.Fatalf("Failed to read installed binary: %v", err)
	}
	if string(got) != "new binary" {
		t.Errorf("installed content = %q, want new binary", got)
	}

	backup, err := os.ReadFile(i.BackupPath())
	if err != nil {
		t.Fatalf("backup not retained: %v", err)
	}
	if string(backup) != "old binary" {
		t.Errorf("backup content = %q, want old binary", backup)
	}

	if runtime.GOOS != "windows" {
		info, _ := os.Stat(installPath)
		if info.Mode().Perm() != 0o755 {
			t.Errorf("installed binary mode = %o, want 0755", info.Mode().Perm())
		}
	}
}

func TestInstallRejectsDowngradeBeforeFileOps(t *testing.T) {
	installPath := filepath.Join(t.TempDir(), "drover")
	writeBinary(t, installPath, "old binary")

	tests := []struct {
		name   string
		target string
	}{
		{"older version", "2025.10.9"},
		{"equal version", "2025.11.2"},
		{"equal modulo git hash", "2025.11.2+abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := testInstaller(t, installPath)
			err := i.Install(testArtifact(t, "candidate"), mustVersion(t, "2025.11.2"), mustVersion(t, tt.target))
			if !errors.Is(err, ErrDowngradeRejected) {
				t.Fatalf("Install() error = %v, want ErrDowngradeRejected", err)
			}

			// Rejection happens before any file operation.
			got, _ := os.ReadFile(installPath)
			if string(got) != "old binary" {
				t.Error("install path was touched by a rejected downgrade")
			}
			if _, err := os.Stat(i.BackupPath()); !os.IsNotExist(err) {
				t.Error("backup was created by a rejected downgrade")
			}
		})
	}
}

func TestInstallRejectsUnverifiedArtifact(t *testing.T) {
	installPath := filepath.Join(t.TempDir(), "drover")
	writeBinary(t, installPath, "old binary")

	i := testInstaller(t, installPath)
	err := i.Install(&VerifiedFile{Path: "/nonexistent"}, mustVersion(t, "2025.11.2"), mustVersion(t, "2025.11.3"))
	if err == nil {
		t.Fatal("Install() of artifact without checksum should error")
	}
	if i.State() != StateIdle {
		t.Errorf("State() = %s, want idle", i.State())
	}
}

func TestInstallSingleUse(t *testing.T) {
	installPath := filepath.Join(t.TempDir(), "drover")
	writeBinary(t, installPath, "old binary")

	i := testInstaller(t, installPath)
	cur, next := mustVersion(t, "2025.11.2"), mustVersion(t, "2025.11.3")
	if err := i.Install(testArtifact(t, "new binary"), cur, next); err != nil {
		t.Fatalf("first Install() error = %v", err)
	}
	if err := i.Install(testArtifact(t, "newer"), cur, next); err == nil {
		t.Error("second Install() on same installer should error")
	}
}

func TestInstallRollsBackOnSelfCheckFailure(t *testing.T) {
	installPath := filepath.Join(t.TempDir(), "drover")
	writeBinary(t, installPath, "old binary")

	i := NewInstaller(installPath)
	i.selfCheck = func(string) error { return errors.New("exec format error") }

	err := i.Install(testArtifact(t, "broken binary"), mustVersion(t, "2025.11.2"), mustVersion(t, "2025.11.3"))
	if !errors.Is(err, ErrSelfCheckFailed) {
		t.Fatalf("Install() error = %v, want ErrSelfCheckFailed", err)
	}
	if i.State() != StateRolledBack {
		t.Errorf("State() = %s, want rolled-back", i.State())
	}

	got, err := os.ReadFile(installPath)
	if err != nil {
		t.Fatalf("install path missing after rollback: %v", err)
	}
	if string(got) != "old binary" {
		t.Errorf("content after rollback = %q, want old binary", got)
	}
}

func TestInstallUnwritableDirLeavesBinaryUntouched(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("requires non-root unix permissions")
	}

	dir := t.TempDir()
	installPath := filepath.Join(dir, "drover")
	writeBinary(t, installPath, "old binary")

	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatalf("Failed to chmod dir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	i := testInstaller(t, installPath)
	err := i.Install(testArtifact(t, "new binary"), mustVersion(t, "2025.11.2"), mustVersion(t, "2025.11.3"))
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Install() error = %v, want ErrPermissionDenied", err)
	}

	_ = os.Chmod(dir, 0o700)
	got, _ := os.ReadFile(installPath)
	if string(got) != "old binary" {
		t.Error("install path was touched despite unwritable directory")
	}
	if _, err := os.Stat(i.BackupPath()); !os.IsNotExist(err) {
		t.Error("backup was created despite unwritable directory")
	}
}

func TestInstallOverwritesPriorBackup(t *testing.T) {
	installPath := filepath.Join(t.TempDir(), "drover")
	writeBinary(t, installPath, "old binary")
	writeBinary(t, installPath+BackupSuffix, "ancient binary")

	i := testInstaller(t, installPath)
	if err := i.Install(testArtifact(t, "new binary"), mustVersion(t, "2025.11.2"), mustVersion(t, "2025.11.3")); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	backup, _ := os.ReadFile(i.BackupPath())
	if string(backup) != "old binary" {
		t.Errorf("backup content = %q, want old binary", backup)
	}
}

func TestRecoverRestoresMissingBinary(t *testing.T) {
	dir := t.TempDir()
	installPath := filepath.Join(dir, "drover")

	// Simulate a crash between the two renames: install path empty, backup
	// holds the previous binary.
	writeBinary(t, installPath+BackupSuffix, "old binary")

	if err := Recover(installPath); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}

	got, err := os.ReadFile(installPath)
	if err != nil {
		t.Fatalf("install path not restored: %v", err)
	}
	if string(got) != "old binary" {
		t.Errorf("restored content = %q, want old binary", got)
	}
	if _, err := os.Stat(installPath + BackupSuffix); !os.IsNotExist(err) {
		t.Error("backup still present after recovery")
	}
}

func TestRecoverNoOpWhenBinaryPresent(t *testing.T) {
	dir := t.TempDir()
	installPath := filepath.Join(dir, "drover")
	writeBinary(t, installPath, "current binary")
	writeBinary(t, installPath+BackupSuffix, "old binary")

	if err := Recover(installPath); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}

	got, _ := os.ReadFile(installPath)
	if string(got) != "current binary" {
		t.Error("Recover() replaced a healthy binary")
	}
	if _, err := os.Stat(installPath + BackupSuffix); err != nil {
		t.Error("Recover() removed the retained backup")
	}
}

func TestRecoverNoOpWhenNothingExists(t *testing.T) {
	installPath := filepath.Join(t.TempDir(), "drover")
	if err := Recover(installPath); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateVerified, "verified"},
		{StateBackedUp, "backed-up"},
		{StateReplaced, "replaced"},
		{StateConfirmed, "confirmed"},
		{StateRolledBack, "rolled-back"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}
