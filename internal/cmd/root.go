package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/output"
	"github.com/droverhq/drover/internal/update"
)

var (
	// Global flags
	outputFormat string
	configPath   string
	verbose      bool
	quiet        bool

	// Build identity, injected by main via ldflags.
	droverVersion string
	droverCommit  string
	droverDate    string
)

// Execute builds the command tree and runs it. The returned exit code is
// stable per failure class so scripts can distinguish a busy lock from a bad
// checksum.
func Execute(version, commit, date string) (int, error) {
	droverVersion, droverCommit, droverDate = version, commit, date

	rootCmd := &cobra.Command{
		Use:   "drover",
		Short: "Agent workflow runner with managed self-updates",
		Long: `drover runs agent workflows from the command line or as a daemon.

It keeps itself current: a background scheduler checks the release manifest
on the configured channel and, policy permitting, installs updates with
checksum verification, an automatic backup, and rollback on failure.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json, yaml")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (errors only)")

	// Add subcommands
	rootCmd.AddCommand(newUpdateCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newDaemonCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return output.Formats(), cobra.ShellCompDirectiveNoFileComp
	})

	err := rootCmd.Execute()
	return update.ExitCode(err), err
}

func configureLogging() {
	switch {
	case verbose:
		log.SetLevel(log.DebugLevel)
	case quiet:
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.WarnLevel)
	}
}
