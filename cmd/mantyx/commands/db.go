package commands

import (
	"fmt"

	"github.com/mantyx/mantyx/config"
	"github.com/mantyx/mantyx/errors"
	"github.com/spf13/cobra"
)

// DBCmd groups database maintenance subcommands.
var DBCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the orchestrator database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}
		dbPath, _ := cmd.Flags().GetString("path")
		database, err := openDatabase(cfg, dbPath)
		if err != nil {
			return err
		}
		defer database.Close()
		fmt.Println("Migrations applied")
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show row counts per table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}
		database, err := openDatabase(cfg, "")
		if err != nil {
			return err
		}
		defer database.Close()

		for _, table := range []string{"workloads", "schedules", "executions"} {
			var count int
			if err := database.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
				return errors.Wrapf(err, "count %s", table)
			}
			fmt.Printf("%-12s %d\n", table, count)
		}
		fmt.Printf("path: %s\n", cfg.DatabasePath())
		return nil
	},
}

func init() {
	dbMigrateCmd.Flags().String("path", "", "Database path (default: configured location)")
	DBCmd.AddCommand(dbMigrateCmd, dbStatsCmd)
}
