package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solsol/solsol/internal/version"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long:  `Display the version, build time, git commit and Go version of solsol.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "solsol - desktop market data and trading shell")
		fmt.Fprintln(cmd.OutOrStdout(), version.Info())
	},
}
