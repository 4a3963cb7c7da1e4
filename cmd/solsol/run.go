package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/solsol/solsol/internal/app"
	"github.com/solsol/solsol/internal/config"
	"github.com/solsol/solsol/internal/logger"
	"github.com/solsol/solsol/internal/ui"
)

var (
	runDataPath string
	runDebug    bool
	runHeadless bool
	runShowLog  bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start solsol",
	Long: `Start solsol with the specified configuration.
This boots every component (task pool, process pool, scheduler, collaborators),
runs the UI loop on the main thread and closes only after every finalize
function has completed.

The first interrupt asks for confirmation when app.confirm_closing is set;
a second interrupt or SIGTERM closes without asking.`,
	Args: cobra.NoArgs,
	RunE: runHandler,
}

func runHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyRunFlags(cfg)

	if errs := cfg.Validate(); len(errs) > 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "Configuration validation failed:")
		for _, e := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "  - %v\n", e)
		}
		return fmt.Errorf("%d configuration errors", len(errs))
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetDefault(log)

	var surface ui.Surface
	if runHeadless {
		surface = ui.NewHeadless()
	} else {
		surface = ui.NewConsole(cmd.InOrStdin(), cmd.OutOrStdout(), runShowLog)
	}

	a, err := app.New(cfg, log, app.WithSurface(surface))
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go handleSignals(ctx, a, log)

	return a.Run(ctx)
}

// applyRunFlags applies command line overrides to cfg.
func applyRunFlags(cfg *config.Config) {
	if runDebug {
		cfg.Logging.Level = "debug"
	}
	if runDataPath != "" {
		cfg.App.DataPath = runDataPath
	}
}

// handleSignals maps the first interrupt to a close request and anything
// after it to an immediate shutdown.
func handleSignals(ctx context.Context, a *app.App, log *logger.Logger) {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	requested := false
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			log.Info("received signal", logger.Field{Key: "signal", Value: sig.String()})
			if sig == syscall.SIGINT && !requested {
				requested = true
				a.RequestClose()
				continue
			}
			a.Shutdown()
		}
	}
}

func init() {
	runCmd.Flags().StringVar(&runDataPath, "datapath", "", "Path to the data folder (overrides config)")
	runCmd.Flags().BoolVarP(&runDebug, "debug", "d", false, "Enable debug logging")
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "Run without printing the window state")
	runCmd.Flags().BoolVar(&runShowLog, "show-log", false, "Print log pane entries on the console")
}
