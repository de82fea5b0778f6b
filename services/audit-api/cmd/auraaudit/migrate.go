package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"auraaudit/pkg/database"
)

func newMigrateCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate up|down|version",
		Short:     "Manage the PostgreSQL schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return exitError(2, "configuration: %v", err)
			}
			dc := dbConfig(cfg.Database)
			ctx := cmd.Context()

			if args[0] == "up" {
				if err := database.AutoMigrate(ctx, dc); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			}

			db, err := database.Open(ctx, dc)
			if err != nil {
				return err
			}
			mm, err := database.NewMigrationManager(db, dc.DBName)
			if err != nil {
				db.Close()
				return err
			}
			defer mm.Close()

			switch args[0] {
			case "down":
				if err := mm.Down(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "rolled back one migration")
			case "version":
				v, dirty, err := mm.Version()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", v, dirty)
			}
			return nil
		},
	}
	return cmd
}
