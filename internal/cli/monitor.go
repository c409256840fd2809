package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skyfare/farewatch/internal/config"
	"github.com/skyfare/farewatch/internal/fares"
	"github.com/skyfare/farewatch/internal/fetcher"
	"github.com/skyfare/farewatch/internal/logging"
	"github.com/skyfare/farewatch/internal/monitor"
	"github.com/skyfare/farewatch/internal/notify"
)

// newMonitorCmd creates the 'monitor' subcommand: one fetch → extract →
// notify run, outcome reported via the exit status.
func newMonitorCmd() *cobra.Command {
	var headless bool

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run a single fare check and send one notification",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd, headless, cmd.Flags().Changed("headless"))
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", config.InCI(),
		"run the browser without a window (default follows CI detection)")
	return cmd
}

func runMonitor(cmd *cobra.Command, headless, headlessSet bool) error {
	logger, err := logging.New(!config.InCI())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	zap.ReplaceGlobals(logger)

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Error("configuration invalid", zap.Error(err))
		return err
	}
	if headlessSet {
		cfg.Headless = headless
	}

	m := monitor.New(
		fetcher.New(fetcher.Config{Headless: cfg.Headless}, logger.Named("fetcher")),
		fares.New(logger.Named("fares")),
		notify.New(notify.Config{}, logger.Named("notify")),
		logger.Named("monitor"),
	)
	return m.Run(cmd.Context(), cfg)
}
