package update

import (
	"context"
	"os"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/droverhq/drover/internal/version"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newSchedulerFixture(t *testing.T, rs *releaseServer, current string) *updaterFixture {
	t.Helper()
	f := newUpdaterFixture(t, rs, current)
	if err := f.store.Set("updates.manifest_url", rs.manifestURL()); err != nil {
		t.Fatalf("Failed to persist manifest URL: %v", err)
	}
	return f
}

func TestSchedulerAutoInstalls(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("artifact self-check uses a shell script")
	}

	newBinary := []byte("#!/bin/sh\n# updated\nexit 0\n")
	rs := newReleaseServer(t, "2025.11.3", newBinary)
	f := newSchedulerFixture(t, rs, "2025.11.2")

	s := NewScheduler(f.updater, f.store).WithIntervals(time.Hour, time.Minute)
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, 10*time.Second, func() bool {
		got, err := os.ReadFile(f.installPath)
		return err == nil && string(got) == string(newBinary)
	}, "scheduler never installed the update")

	cfg, err := f.store.Load()
	if err != nil {
		t.Fatalf("Failed to reload config: %v", err)
	}
	if cfg.Updates.LastCheck == nil {
		t.Error("last_check not recorded by scheduled check")
	}
	if cfg.Updates.LastUpdate == nil {
		t.Error("last_update not recorded by scheduled install")
	}
}

func TestSchedulerNotifiesWhenAutoInstallOff(t *testing.T) {
	rs := newReleaseServer(t, "2025.11.3", []byte("#!/bin/sh\nexit 0\n"))
	f := newSchedulerFixture(t, rs, "2025.11.2")
	if err := f.store.Set("updates.auto_install", "false"); err != nil {
		t.Fatalf("Failed to disable auto_install: %v", err)
	}

	original, err := os.ReadFile(f.installPath)
	if err != nil {
		t.Fatalf("Failed to read binary: %v", err)
	}

	var mu sync.Mutex
	var notified string
	s := NewScheduler(f.updater, f.store).
		WithIntervals(time.Hour, time.Minute).
		WithNotify(func(current *version.Version, artifact *ResolvedArtifact) {
			mu.Lock()
			notified = artifact.Version.String()
			mu.Unlock()
		})
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, 10*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return notified != ""
	}, "notify callback never fired")

	mu.Lock()
	if notified != "2025.11.3" {
		t.Errorf("notified version = %s, want 2025.11.3", notified)
	}
	mu.Unlock()

	got, _ := os.ReadFile(f.installPath)
	if string(got) != string(original) {
		t.Error("binary replaced despite auto_install=false")
	}
}

func TestSchedulerRespectsDisabled(t *testing.T) {
	rs := newReleaseServer(t, "2025.11.3", []byte("bin"))
	f := newSchedulerFixture(t, rs, "2025.11.2")
	if err := f.store.Set("updates.enabled", "false"); err != nil {
		t.Fatalf("Failed to disable updates: %v", err)
	}

	s := NewScheduler(f.updater, f.store).WithIntervals(20*time.Millisecond, time.Minute)
	s.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	cfg, err := f.store.Load()
	if err != nil {
		t.Fatalf("Failed to reload config: %v", err)
	}
	if cfg.Updates.LastCheck != nil {
		t.Error("scheduler checked while updates were disabled")
	}
}

func TestSchedulerCheckNowOverridesInterval(t *testing.T) {
	rs := newReleaseServer(t, "2025.11.3", []byte("bin"))
	f := newSchedulerFixture(t, rs, "2025.11.3")
	// "never" suppresses scheduled checks but not explicit ones.
	if err := f.store.Set("updates.check_interval", "never"); err != nil {
		t.Fatalf("Failed to set interval: %v", err)
	}

	s := NewScheduler(f.updater, f.store).WithIntervals(time.Hour, time.Minute)
	s.Start(context.Background())
	defer s.Stop()

	// The startup evaluation must not check under interval=never.
	time.Sleep(100 * time.Millisecond)
	cfg, _ := f.store.Load()
	if cfg.Updates.LastCheck != nil {
		t.Fatal("scheduler checked despite check_interval=never")
	}

	s.CheckNow()
	waitFor(t, 10*time.Second, func() bool {
		cfg, err := f.store.Load()
		return err == nil && cfg.Updates.LastCheck != nil
	}, "forced check never ran")
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	rs := newReleaseServer(t, "2025.11.3", []byte("bin"))
	f := newSchedulerFixture(t, rs, "2025.11.3")

	s := NewScheduler(f.updater, f.store).WithIntervals(time.Hour, time.Minute)
	s.Stop() // never started

	s.Start(context.Background())
	s.Stop()
	s.Stop()
}
