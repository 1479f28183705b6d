package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("drover version %s\n", droverVersion)
			if verbose {
				fmt.Printf("  commit: %s\n", droverCommit)
				fmt.Printf("  built:  %s\n", droverDate)
			}
		},
	}
}
