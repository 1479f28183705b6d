package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and change update policy",
		Long: `Inspect and change drover's update policy.

Keys:
  updates.enabled         Enable or disable update checks (true/false)
  updates.auto_install    Install updates without asking (true/false)
  updates.check_interval  How often to check: daily, weekly, never
  updates.channel         Release channel: stable, beta
  updates.manifest_url    Release manifest location

Environment overrides (session only, never persisted): DROVER_AUTO_UPDATE,
DROVER_AUTO_UPDATE_CHANNEL, DROVER_AUTO_UPDATE_INTERVAL,
DROVER_AUTO_UPDATE_URL.`,
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigResetCmd())
	cmd.AddCommand(newConfigExportCmd())
	cmd.AddCommand(newConfigImportCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the persisted update policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			return runConfigShow(os.Stdout, os.Stderr, store, outputFormat)
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one policy value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			value, err := store.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one policy value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if err := store.Set(args[0], args[1]); err != nil {
				return err
			}
			if !quiet {
				fmt.Printf("%s = %s\n", args[0], args[1])
			}
			return nil
		},
	}
}

func newConfigResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore the default update policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if err := store.Reset(); err != nil {
				return err
			}
			if !quiet {
				fmt.Println("Configuration reset to defaults.")
			}
			return nil
		},
	}
}

func newConfigExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write the current config to a file, or stdout when omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return store.ExportTo(os.Stdout)
			}
			if err := store.Export(args[0]); err != nil {
				return err
			}
			if !quiet {
				fmt.Printf("Exported config to %s\n", args[0])
			}
			return nil
		},
	}
}

func newConfigImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the config with the contents of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if err := store.Import(args[0]); err != nil {
				return err
			}
			if !quiet {
				fmt.Printf("Imported config from %s\n", args[0])
			}
			return nil
		},
	}
}

// configView mirrors config.Config with json/yaml tags for structured output.
type configView struct {
	Updates updatePolicyView `json:"updates" yaml:"updates"`
}

type updatePolicyView struct {
	Enabled       bool       `json:"enabled" yaml:"enabled"`
	AutoInstall   bool       `json:"auto_install" yaml:"auto_install"`
	CheckInterval string     `json:"check_interval" yaml:"check_interval"`
	Channel       string     `json:"channel" yaml:"channel"`
	ManifestURL   string     `json:"manifest_url" yaml:"manifest_url"`
	LastCheck     *time.Time `json:"last_check,omitempty" yaml:"last_check,omitempty"`
	LastUpdate    *time.Time `json:"last_update,omitempty" yaml:"last_update,omitempty"`
}

func runConfigShow(stdout, stderr io.Writer, store *config.Store, formatName string) error {
	format, err := output.ParseFormat(formatName)
	if err != nil {
		return err
	}

	cfg, err := store.Load()
	if err != nil {
		return err
	}

	if config.EnvOverridesActive() {
		fmt.Fprintln(stderr, "Note: DROVER_AUTO_UPDATE* environment overrides are active for this session.")
	}

	if format == output.FormatText {
		return output.RenderFields(stdout, []output.Field{
			{Name: "updates.enabled", Value: fmt.Sprintf("%t", cfg.Updates.Enabled)},
			{Name: "updates.auto_install", Value: fmt.Sprintf("%t", cfg.Updates.AutoInstall)},
			{Name: "updates.check_interval", Value: cfg.Updates.CheckInterval},
			{Name: "updates.channel", Value: cfg.Updates.Channel},
			{Name: "updates.manifest_url", Value: cfg.Updates.EffectiveManifestURL()},
			{Name: "last check", Value: formatTimestamp(cfg.Updates.LastCheck)},
			{Name: "last update", Value: formatTimestamp(cfg.Updates.LastUpdate)},
		})
	}

	view := configView{Updates: updatePolicyView{
		Enabled:       cfg.Updates.Enabled,
		AutoInstall:   cfg.Updates.AutoInstall,
		CheckInterval: cfg.Updates.CheckInterval,
		Channel:       cfg.Updates.Channel,
		ManifestURL:   cfg.Updates.EffectiveManifestURL(),
		LastCheck:     cfg.Updates.LastCheck,
		LastUpdate:    cfg.Updates.LastUpdate,
	}}
	return output.Render(stdout, format, view)
}

func formatTimestamp(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
