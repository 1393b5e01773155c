package commands

import (
	"fmt"

	"github.com/mantyx/mantyx/config"
	"github.com/mantyx/mantyx/errors"
	"github.com/mantyx/mantyx/settings"
	"github.com/spf13/cobra"
)

var dbSettingsCmd = &cobra.Command{
	Use:   "settings [key] [value]",
	Short: "Show or set persisted operator settings",
	Args:  cobra.MaximumNArgs(2),
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
		store := settings.NewStore(database)

		switch len(args) {
		case 0:
			all, err := store.All()
			if err != nil {
				return err
			}
			if len(all) == 0 {
				fmt.Println("No settings")
				return nil
			}
			for k, v := range all {
				fmt.Printf("%s = %s\n", k, v)
			}
		case 1:
			value, err := store.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
		case 2:
			if err := store.Set(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Set %s\n", args[0])
		}
		return nil
	},
}

func init() {
	DBCmd.AddCommand(dbSettingsCmd)
}
