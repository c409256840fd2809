// Package cli defines and implements the commands of the farewatch
// executable.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates and configures the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "farewatch",
		Short: "Watches a Shenzhen Airlines flight for its lowest published fare",
		Long: `farewatch checks the Shenzhen Airlines fare-search page for the lowest
published price of one flight and pushes the result to the operator via
PushPlus.

'farewatch monitor' performs a single check. 'farewatch watch' runs the
check every half hour, on the hour and half-hour, as a child process.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(newMonitorCmd(), newWatchCmd())
	return cmd
}
