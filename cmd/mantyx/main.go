package main

import (
	"fmt"
	"os"

	"github.com/mantyx/mantyx/cmd/mantyx/commands"
	"github.com/mantyx/mantyx/logger"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mantyx",
	Short: "mantyx - single-host workload lifecycle orchestrator",
	Long: `mantyx manages the full lifecycle of workloads on one host: upload,
install, enable, supervise, schedule and record every run.

Available commands:
  daemon   - Run the orchestrator daemon (supervisor + trigger engine)
  app      - Manage workloads (create, install, enable, start, update, delete)
  schedule - Manage schedules attached to scheduled workloads
  exec     - Inspect the execution ledger
  db       - Manage the orchestrator database

Examples:
  mantyx daemon                      # Run in foreground until interrupted
  mantyx app create myapp app.zip    # Register a workload from an archive
  mantyx app enable myapp            # Activate it
  mantyx exec ls myapp               # Show its run history`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs")

	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.AppCmd)
	rootCmd.AddCommand(commands.ScheduleCmd)
	rootCmd.AddCommand(commands.ExecCmd)
	rootCmd.AddCommand(commands.DBCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
