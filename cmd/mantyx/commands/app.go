package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mantyx/mantyx/lifecycle"
	"github.com/mantyx/mantyx/workload"
	"github.com/spf13/cobra"
)

// AppCmd groups workload management subcommands.
var AppCmd = &cobra.Command{
	Use:   "app",
	Short: "Manage workloads",
	Long: `Manage workloads through their lifecycle.

Examples:
  mantyx app create myapp app.zip --kind continuous
  mantyx app create myjob --git https://example.com/repo.git --kind scheduled
  mantyx app install myapp
  mantyx app enable myapp
  mantyx app status myapp
  mantyx app update myapp app-v2.zip
  mantyx app delete myapp --hard`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var appCreateCmd = &cobra.Command{
	Use:   "create <name> [archive.zip]",
	Short: "Register a workload from an archive, git repo or URL",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer o.Close()

		gitURL, _ := cmd.Flags().GetString("git")
		gitBranch, _ := cmd.Flags().GetString("branch")
		srcURL, _ := cmd.Flags().GetString("url")
		kind, _ := cmd.Flags().GetString("kind")
		policy, _ := cmd.Flags().GetString("restart-policy")
		maxRestarts, _ := cmd.Flags().GetInt("max-restarts")
		window, _ := cmd.Flags().GetInt("restart-window")
		wargs, _ := cmd.Flags().GetString("args")
		env, _ := cmd.Flags().GetStringToString("env")

		spec := lifecycle.CreateSpec{
			Name:                 args[0],
			Kind:                 workload.Kind(kind),
			Args:                 wargs,
			Environment:          env,
			RestartPolicy:        workload.RestartPolicy(policy),
			MaxRestarts:          maxRestarts,
			RestartWindowSeconds: window,
		}

		var w *workload.Workload
		switch {
		case gitURL != "":
			w, err = o.controller.CreateFromGit(context.Background(), spec, gitURL, gitBranch)
		case srcURL != "":
			w, err = o.controller.CreateFromURL(context.Background(), spec, srcURL)
		case len(args) == 2:
			w, err = o.controller.CreateFromArchive(spec, args[1])
		default:
			return fmt.Errorf("provide an archive path, --git or --url")
		}
		if err != nil {
			return err
		}
		fmt.Printf("Created workload %s (id %d, entrypoint %s)\n", w.Name, w.ID, w.Entrypoint)
		return nil
	},
}

var appInstallCmd = &cobra.Command{
	Use:   "install <name|id>",
	Short: "Provision the workload's dependency environment",
	Args:  cobra.ExactArgs(1),
	RunE:  appAction(func(o *orchestrator, id int64) error { return o.controller.Install(context.Background(), id) }),
}

var appEnableCmd = &cobra.Command{
	Use:   "enable <name|id>",
	Short: "Activate the workload (starts continuous, arms scheduled)",
	Args:  cobra.ExactArgs(1),
	RunE:  appAction(func(o *orchestrator, id int64) error { return o.controller.Enable(id) }),
}

var appDisableCmd = &cobra.Command{
	Use:   "disable <name|id>",
	Short: "Deactivate the workload, stopping it if running",
	Args:  cobra.ExactArgs(1),
	RunE:  appAction(func(o *orchestrator, id int64) error { return o.controller.Disable(id) }),
}

var appStartCmd = &cobra.Command{
	Use:   "start <name|id>",
	Short: "Start a continuous workload",
	Args:  cobra.ExactArgs(1),
	RunE:  appAction(func(o *orchestrator, id int64) error { return o.controller.Start(id) }),
}

var appStopCmd = &cobra.Command{
	Use:   "stop <name|id>",
	Short: "Stop a running continuous workload",
	Args:  cobra.ExactArgs(1),
	RunE:  appAction(func(o *orchestrator, id int64) error { return o.controller.Stop(id) }),
}

var appRestartCmd = &cobra.Command{
	Use:   "restart <name|id>",
	Short: "Restart a continuous workload",
	Args:  cobra.ExactArgs(1),
	RunE:  appAction(func(o *orchestrator, id int64) error { return o.controller.Restart(id) }),
}

var appRunCmd = &cobra.Command{
	Use:   "run <name|id>",
	Short: "Trigger an immediate execution of a scheduled workload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer o.Close()

		w, err := o.resolveWorkload(args[0])
		if err != nil {
			return err
		}
		execID, err := o.controller.RunNow(w.ID)
		if err != nil {
			return err
		}
		fmt.Printf("Dispatched execution %s\n", execID)
		return nil
	},
}

var appUpdateCmd = &cobra.Command{
	Use:   "update <name|id> <archive.zip>",
	Short: "Replace the workload's source with a new archive",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer o.Close()

		noBackup, _ := cmd.Flags().GetBool("no-backup")
		w, err := o.resolveWorkload(args[0])
		if err != nil {
			return err
		}
		if err := o.controller.Update(context.Background(), w.ID, args[1], !noBackup); err != nil {
			return err
		}
		fmt.Printf("Updated workload %s\n", w.Name)
		return nil
	},
}

var appDeleteCmd = &cobra.Command{
	Use:   "delete <name|id>",
	Short: "Delete a workload (soft by default)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer o.Close()

		hard, _ := cmd.Flags().GetBool("hard")
		w, err := o.resolveWorkload(args[0])
		if err != nil {
			return err
		}
		if err := o.controller.Delete(w.ID, hard); err != nil {
			return err
		}
		fmt.Printf("Deleted workload %s\n", w.Name)
		return nil
	},
}

var appStatusCmd = &cobra.Command{
	Use:   "status <name|id>",
	Short: "Show workload state and capabilities",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer o.Close()

		w, err := o.resolveWorkload(args[0])
		if err != nil {
			return err
		}
		st, err := o.controller.Status(w.ID)
		if err != nil {
			return err
		}

		fmt.Printf("%s (id %d)\n", w.Name, w.ID)
		fmt.Printf("  kind:     %s\n", w.Kind)
		fmt.Printf("  state:    %s\n", w.State)
		fmt.Printf("  version:  %s\n", w.Version)
		if w.PID != nil {
			fmt.Printf("  pid:      %d\n", *w.PID)
		}
		if w.LastError != "" {
			fmt.Printf("  last error: %s\n", w.LastError)
		}
		fmt.Printf("  can: %s\n", strings.Join(capabilities(st), ", "))
		if st.ActiveExecution != nil {
			fmt.Printf("  active execution: %s\n", st.ActiveExecution.ID)
		}
		return nil
	},
}

var appListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List workloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer o.Close()

		all, _ := cmd.Flags().GetBool("all")
		workloads, err := o.controller.List(all)
		if err != nil {
			return err
		}
		if len(workloads) == 0 {
			fmt.Println("No workloads")
			return nil
		}
		for _, w := range workloads {
			pid := "-"
			if w.PID != nil {
				pid = strconv.Itoa(*w.PID)
			}
			fmt.Printf("%-6d %-20s %-10s %-9s pid=%s\n", w.ID, w.Name, w.Kind, w.State, pid)
		}
		return nil
	},
}

// appAction wraps the common resolve-then-act shape of lifecycle commands.
func appAction(fn func(o *orchestrator, id int64) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		o, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer o.Close()

		w, err := o.resolveWorkload(args[0])
		if err != nil {
			return err
		}
		if err := fn(o, w.ID); err != nil {
			return err
		}
		fmt.Printf("OK: %s %s\n", cmd.Name(), w.Name)
		return nil
	}
}

func capabilities(st *lifecycle.Status) []string {
	var caps []string
	if st.CanStart {
		caps = append(caps, "start")
	}
	if st.CanStop {
		caps = append(caps, "stop")
	}
	if st.CanEnable {
		caps = append(caps, "enable")
	}
	if st.CanDisable {
		caps = append(caps, "disable")
	}
	if len(caps) == 0 {
		caps = append(caps, "none")
	}
	return caps
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func init() {
	appCreateCmd.Flags().String("git", "", "Clone source from a git repository URL")
	appCreateCmd.Flags().String("branch", "", "Git branch (default: remote default branch)")
	appCreateCmd.Flags().String("url", "", "Download source archive from a URL")
	appCreateCmd.Flags().String("kind", "continuous", "Workload kind: continuous or scheduled")
	appCreateCmd.Flags().String("restart-policy", "never", "Restart policy: never, always or on-failure")
	appCreateCmd.Flags().Int("max-restarts", 3, "Restart budget inside the restart window (on-failure)")
	appCreateCmd.Flags().Int("restart-window", 300, "Restart window in seconds")
	appCreateCmd.Flags().String("args", "", "Extra arguments passed to the entrypoint (shell-quoted)")
	appCreateCmd.Flags().StringToString("env", nil, "Environment overrides, key=value")

	appUpdateCmd.Flags().Bool("no-backup", false, "Skip the pre-update source snapshot")
	appDeleteCmd.Flags().Bool("hard", false, "Remove source, environment and database row")
	appListCmd.Flags().Bool("all", false, "Include soft-deleted workloads")

	AppCmd.AddCommand(appCreateCmd, appInstallCmd, appEnableCmd, appDisableCmd,
		appStartCmd, appStopCmd, appRestartCmd, appRunCmd,
		appUpdateCmd, appDeleteCmd, appStatusCmd, appListCmd)
}
