package commands

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mantyx/mantyx/ledger"
	"github.com/spf13/cobra"
)

// ExecCmd groups execution ledger subcommands.
var ExecCmd = &cobra.Command{
	Use:   "exec",
	Short: "Inspect the execution ledger",
	Long: `Inspect the execution ledger.

Examples:
  mantyx exec ls myapp
  mantyx exec show 7f8a...
  mantyx exec logs 7f8a... --stderr`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var execListCmd = &cobra.Command{
	Use:   "ls [workload]",
	Short: "List executions, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer o.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		var executions []*ledger.Execution
		if len(args) == 1 {
			w, err := o.resolveWorkload(args[0])
			if err != nil {
				return err
			}
			executions, err = o.executions.ListByWorkload(w.ID, limit, offset)
			if err != nil {
				return err
			}
		} else {
			executions, err = o.executions.List(limit, offset)
			if err != nil {
				return err
			}
		}

		if len(executions) == 0 {
			fmt.Println("No executions")
			return nil
		}
		for _, e := range executions {
			dur := "-"
			if d := e.Duration(); d > 0 {
				dur = d.Round(10 * time.Millisecond).String()
			}
			fmt.Printf("%-36s wl=%-5d %-9s %-9s dur=%s\n",
				e.ID, e.WorkloadID, e.Status, e.TriggerType, dur)
		}
		return nil
	},
}

var execShowCmd = &cobra.Command{
	Use:   "show <execution-id>",
	Short: "Show one execution in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer o.Close()

		e, err := o.executions.Get(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("execution %s\n", e.ID)
		fmt.Printf("  workload: %d\n", e.WorkloadID)
		fmt.Printf("  status:   %s\n", e.Status)
		fmt.Printf("  trigger:  %s (%s)\n", e.TriggerType, e.TriggerDetail)
		if e.StartedAt != nil {
			fmt.Printf("  started:  %s\n", e.StartedAt.Format("2006-01-02 15:04:05"))
		}
		if e.EndedAt != nil {
			fmt.Printf("  ended:    %s\n", e.EndedAt.Format("2006-01-02 15:04:05"))
		}
		if e.ExitCode != nil {
			fmt.Printf("  exit:     %d\n", *e.ExitCode)
		}
		if e.ErrorMessage != "" {
			fmt.Printf("  error:    %s\n", e.ErrorMessage)
		}
		if e.StdoutPath != "" {
			fmt.Printf("  stdout:   %s\n", e.StdoutPath)
		}
		if e.StderrPath != "" {
			fmt.Printf("  stderr:   %s\n", e.StderrPath)
		}
		return nil
	},
}

var execLogsCmd = &cobra.Command{
	Use:   "logs <execution-id>",
	Short: "Print an execution's captured output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer o.Close()

		e, err := o.executions.Get(args[0])
		if err != nil {
			return err
		}

		useStderr, _ := cmd.Flags().GetBool("stderr")
		path := e.StdoutPath
		if useStderr {
			path = e.StderrPath
		}
		if path == "" {
			return fmt.Errorf("execution %s has no captured output", e.ID)
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(os.Stdout, f)
		return err
	},
}

func init() {
	execListCmd.Flags().Int("limit", 20, "Maximum rows to show")
	execListCmd.Flags().Int("offset", 0, "Rows to skip")
	execLogsCmd.Flags().Bool("stderr", false, "Print stderr instead of stdout")

	ExecCmd.AddCommand(execListCmd, execShowCmd, execLogsCmd)
}
