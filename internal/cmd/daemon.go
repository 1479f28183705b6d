package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/update"
	"github.com/droverhq/drover/internal/version"
)

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run drover in the background with scheduled update checks",
		Long: `Run drover as a long-lived process.

On startup the daemon repairs an interrupted update if one is detected and
sweeps stale staged downloads. It then checks for updates on the configured
interval until it receives SIGINT or SIGTERM. SIGHUP forces an immediate
check.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}
}

func runDaemon(ctx context.Context) error {
	recoverInterruptedUpdate()
	sweepStaging()

	store, err := openStore()
	if err != nil {
		return err
	}

	updater, logger, err := newUpdater(store)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	scheduler := update.NewScheduler(updater, store).
		WithNotify(func(current *version.Version, artifact *update.ResolvedArtifact) {
			fmt.Printf("Update %s available (current %s). Run 'drover update' to install it.\n",
				artifact.Version, current)
		})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	scheduler.Start(ctx)
	log.Infof("drover daemon started (version %s)", droverVersion)

	for {
		select {
		case <-ctx.Done():
			scheduler.Stop()
			log.Infof("drover daemon stopped")
			return nil
		case <-hup:
			log.Infof("received SIGHUP, forcing update check")
			scheduler.CheckNow()
		}
	}
}

// recoverInterruptedUpdate repairs a crash between the installer's backup
// and replace steps. Failure here is not fatal to the daemon.
func recoverInterruptedUpdate() {
	installPath, err := update.InstallTarget()
	if err != nil {
		log.Warnf("skipping update recovery: %v", err)
		return
	}
	if err := update.Recover(installPath); err != nil {
		log.Warnf("update recovery failed: %v", err)
	}
}

// sweepStaging removes staged downloads old enough to be crash leftovers.
func sweepStaging() {
	dir, err := config.StagingDir()
	if err != nil {
		return
	}
	result, err := update.CleanupStaging(dir, update.StaleAge)
	if err != nil {
		log.Warnf("staging cleanup failed: %v", err)
		return
	}
	if len(result.Removed) > 0 {
		log.Infof("removed %d stale staged downloads", len(result.Removed))
	}
}
