package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solsol/solsol/internal/logger"
	"github.com/solsol/solsol/internal/procpool"
	// Registers the process pool methods served by this child.
	_ "github.com/solsol/solsol/internal/simulator"
)

var workerLogLevel string

// workerCmd is spawned by the process pool. Requests arrive on stdin and
// responses leave on stdout, so logs go to stderr.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Serve process pool requests on stdin/stdout",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := logger.New(logger.Config{
			Level:  workerLogLevel,
			Format: "json",
			Output: "stderr",
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		log = log.With(logger.Field{Key: "pid", Value: os.Getpid()})

		return procpool.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), log)
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerLogLevel, "log-level", "warn", "Log level of the worker process")
}
