package commands

import (
	"fmt"

	"github.com/mantyx/mantyx/trigger"
	"github.com/spf13/cobra"
)

// ScheduleCmd groups schedule management subcommands.
var ScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage schedules attached to scheduled workloads",
	Long: `Manage schedules attached to scheduled workloads.

Examples:
  mantyx schedule create myjob --cron "0 9 * * *"
  mantyx schedule create myjob --interval 300 --timeout 60
  mantyx schedule ls myjob
  mantyx schedule disable 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var scheduleCreateCmd = &cobra.Command{
	Use:   "create <workload>",
	Short: "Attach a cron or interval schedule to a workload",
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

		cronExpr, _ := cmd.Flags().GetString("cron")
		interval, _ := cmd.Flags().GetInt("interval")
		name, _ := cmd.Flags().GetString("name")
		tz, _ := cmd.Flags().GetString("timezone")
		timeout, _ := cmd.Flags().GetInt("timeout")
		grace, _ := cmd.Flags().GetInt("misfire-grace")
		noCoalesce, _ := cmd.Flags().GetBool("no-coalesce")

		sched := &trigger.Schedule{
			WorkloadID:          w.ID,
			Name:                name,
			Timezone:            tz,
			IsEnabled:           true,
			TimeoutSeconds:      timeout,
			MisfireGraceSeconds: grace,
			Coalesce:            !noCoalesce,
		}
		switch {
		case cronExpr != "":
			sched.Type = trigger.TypeCron
			sched.CronExpression = cronExpr
		case interval > 0:
			sched.Type = trigger.TypeInterval
			sched.IntervalSeconds = interval
		default:
			return fmt.Errorf("provide --cron or --interval")
		}
		if sched.Name == "" {
			sched.Name = fmt.Sprintf("%s-%s", w.Name, sched.Type)
		}

		if err := o.controller.CreateSchedule(sched); err != nil {
			return err
		}
		fmt.Printf("Created schedule %d on %s\n", sched.ID, w.Name)
		return nil
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "ls <workload>",
	Short: "List a workload's schedules",
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
		schedules, err := o.controller.Schedules(w.ID)
		if err != nil {
			return err
		}
		if len(schedules) == 0 {
			fmt.Println("No schedules")
			return nil
		}
		for _, s := range schedules {
			rule := s.CronExpression
			if s.Type == trigger.TypeInterval {
				rule = fmt.Sprintf("every %ds", s.IntervalSeconds)
			}
			state := "enabled"
			if !s.IsEnabled {
				state = "disabled"
			}
			next := "-"
			if s.NextRunAt != nil {
				next = s.NextRunAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-6d %-10s %-20s %-8s runs=%d next=%s\n",
				s.ID, s.Type, rule, state, s.RunCount, next)
		}
		return nil
	},
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Resume a paused schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  scheduleAction(func(o *orchestrator, id int64) error { return o.controller.EnableSchedule(id) }),
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Pause a schedule without deleting it",
	Args:  cobra.ExactArgs(1),
	RunE:  scheduleAction(func(o *orchestrator, id int64) error { return o.controller.DisableSchedule(id) }),
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  scheduleAction(func(o *orchestrator, id int64) error { return o.controller.DeleteSchedule(id) }),
}

func scheduleAction(fn func(o *orchestrator, id int64) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		o, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer o.Close()

		id, err := parseID(args[0])
		if err != nil {
			return fmt.Errorf("invalid schedule id %q", args[0])
		}
		if err := fn(o, id); err != nil {
			return err
		}
		fmt.Printf("OK: %s schedule %d\n", cmd.Name(), id)
		return nil
	}
}

func init() {
	scheduleCreateCmd.Flags().String("cron", "", "Five-field cron expression")
	scheduleCreateCmd.Flags().Int("interval", 0, "Fixed interval in seconds")
	scheduleCreateCmd.Flags().String("name", "", "Schedule name (defaults to workload-type)")
	scheduleCreateCmd.Flags().String("timezone", "", "Recorded timezone (engine evaluates in its configured zone)")
	scheduleCreateCmd.Flags().Int("timeout", 0, "Per-execution timeout in seconds (0 = unbounded)")
	scheduleCreateCmd.Flags().Int("misfire-grace", 60, "Drop fires later than this many seconds")
	scheduleCreateCmd.Flags().Bool("no-coalesce", false, "Run every missed fire instead of collapsing the backlog")

	ScheduleCmd.AddCommand(scheduleCreateCmd, scheduleListCmd,
		scheduleEnableCmd, scheduleDisableCmd, scheduleDeleteCmd)
}
