package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skyfare/farewatch/internal/config"
	"github.com/skyfare/farewatch/internal/logging"
	"github.com/skyfare/farewatch/internal/scheduler"
)

// newWatchCmd creates the 'watch' subcommand: the indefinite half-hour loop
// that re-executes this binary's 'monitor' subcommand as a child process.
func newWatchCmd() *cobra.Command {
	var logFile string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the fare check every half hour until killed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd.Context(), logFile)
		},
	}
	cmd.Flags().StringVar(&logFile, "log-file", "scheduler.log",
		"file the scheduler logs to in addition to the console")
	return cmd
}

func runWatch(ctx context.Context, logFile string) error {
	logger, err := logging.NewWithFile(!config.InCI(), logging.FileConfig{Path: logFile})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	zap.ReplaceGlobals(logger)

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own executable: %w", err)
	}

	runner := scheduler.NewExecRunner(executable, "monitor")
	err = scheduler.New(runner, logger.Named("scheduler")).Run(ctx)
	if errors.Is(err, context.Canceled) {
		// External termination is the only way the loop ends.
		return nil
	}
	return err
}
