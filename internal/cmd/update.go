package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/interactive"
	"github.com/droverhq/drover/internal/update"
	"github.com/droverhq/drover/internal/version"
)

type updateOptions struct {
	checkOnly   bool
	assumeYes   bool
	dryRun      bool
	channel     string
	pinVersion  string
	showChanges string
}

func newUpdateCmd() *cobra.Command {
	var opts updateOptions

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for and install a newer drover",
		Long: `Check the release manifest for a newer drover and install it.

The current binary is backed up next to the install path before replacement
and retained afterwards; a failed install rolls back automatically.

Examples:
  drover update                      # Install the channel's latest version
  drover update --check              # Report availability, change nothing
  drover update --yes                # Skip the confirmation prompt
  drover update --channel beta       # Use the beta channel for this run
  drover update --version 2025.11.3  # Install a specific version
  drover update --show-changes 2025.11.3  # Print a version's release notes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd.Context(), os.Stdin, os.Stdout, os.Stderr, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.checkOnly, "check", false, "Check for an update without installing")
	cmd.Flags().BoolVarP(&opts.assumeYes, "yes", "y", false, "Install without prompting for confirmation")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Show what would be installed without downloading")
	cmd.Flags().StringVar(&opts.channel, "channel", "", "Override the release channel for this run")
	cmd.Flags().StringVar(&opts.pinVersion, "version", "", "Install a specific version instead of the latest")
	cmd.Flags().StringVar(&opts.showChanges, "show-changes", "", "Print the release notes for a version and exit")

	return cmd
}

func runUpdate(ctx context.Context, in io.Reader, stdout, stderr io.Writer, opts updateOptions) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	cfg, err := store.LoadEffective()
	if err != nil {
		return err
	}
	if opts.channel != "" {
		cfg.Updates.Channel = opts.channel
	}

	updater, logger, err := newUpdater(store)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	if opts.showChanges != "" {
		notes, err := updater.Notes(ctx, &cfg.Updates, opts.showChanges)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Changes in %s:\n%s\n", opts.showChanges, notes)
		return nil
	}

	warnMultipleInstallations(stderr)

	var result *update.CheckResult
	if opts.pinVersion != "" {
		result, err = updater.CheckVersion(ctx, &cfg.Updates, opts.pinVersion)
	} else {
		result, err = updater.Check(ctx, &cfg.Updates)
	}
	if err != nil {
		return err
	}

	if opts.pinVersion != "" {
		// Fail before the download; the installer would reject it anyway,
		// but only after pulling the whole artifact.
		if err := rejectPinnedDowngrade(result.Current, result.Artifact.Version); err != nil {
			return err
		}
	}

	if !result.Available && opts.pinVersion == "" {
		fmt.Fprintf(stdout, "Already up to date (%s).\n", result.Current)
		return nil
	}

	artifact := result.Artifact
	if opts.pinVersion != "" {
		fmt.Fprintf(stdout, "Requested version: %s (current %s)\n", artifact.Version, result.Current)
	} else {
		fmt.Fprintf(stdout, "Update available: %s -> %s\n", result.Current, artifact.Version)
	}

	if opts.checkOnly {
		fmt.Fprintln(stdout, "\nRun 'drover update' to install it.")
		return nil
	}

	if opts.dryRun {
		fmt.Fprintf(stdout, "\nWould download %s (%d bytes)\n", artifact.URL, artifact.SizeBytes)
		fmt.Fprintf(stdout, "Would replace %s (backup retained at %s%s)\n",
			updaterInstallPath(), updaterInstallPath(), update.BackupSuffix)
		return nil
	}

	if !opts.assumeYes {
		if !interactive.IsTerminal() {
			return fmt.Errorf("not a terminal; re-run with --yes to install without confirmation")
		}
		prompter := interactive.NewPrompterWithIO(in, stdout)
		if prompter.ConfirmUpdate(result.Current.String(), artifact.Version.String(), artifact.Notes) != interactive.ResponseYes {
			fmt.Fprintln(stdout, "Aborted.")
			return nil
		}
	}

	if !quiet {
		updater.WithProgress(progressPrinter(stderr))
	}

	file, err := updater.Download(ctx, artifact)
	if err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintln(stderr)
	}

	if err := updater.Install(ctx, file, artifact.Version); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Updated to %s. Restart drover to run the new version.\n", artifact.Version)
	return nil
}

// warnMultipleInstallations flags PATH-shadowing setups where the updated
// binary may not be the one a shell resolves.
func warnMultipleInstallations(stderr io.Writer) {
	found := update.DetectInstallations()
	if len(found) < 2 {
		return
	}
	fmt.Fprintln(stderr, "Warning: multiple drover installations found:")
	for _, path := range found {
		fmt.Fprintf(stderr, "  %s\n", path)
	}
	fmt.Fprintln(stderr, "Only the currently running binary will be updated.")
}

// rejectPinnedDowngrade refuses an explicitly requested version at or below
// the running one.
func rejectPinnedDowngrade(current, target *version.Version) error {
	if version.IsDowngrade(current, target) {
		return fmt.Errorf("%w: requested %s, current version is %s",
			update.ErrDowngradeRejected, target, current)
	}
	return nil
}

// progressPrinter renders in-place download progress.
func progressPrinter(stderr io.Writer) update.ProgressFunc {
	return func(downloaded, total int64) {
		if total > 0 {
			fmt.Fprintf(stderr, "\rDownloading... %3d%%", downloaded*100/total)
		} else {
			fmt.Fprintf(stderr, "\rDownloading... %d bytes", downloaded)
		}
	}
}

// updaterInstallPath is best-effort for display only.
func updaterInstallPath() string {
	path, err := update.InstallTarget()
	if err != nil {
		return "the current executable"
	}
	return path
}
