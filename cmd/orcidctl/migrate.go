package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bmkramer/academic-observatory-workflows/internal/config"
	"github.com/bmkramer/academic-observatory-workflows/internal/database"
)

func init() {
	subcommandFns["migrate"] = newMigrateCommand
}

func newMigrateCommand(cfg *config.Config, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply release store migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.NewClient(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Migrate(cfg.MigrationsPath); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "migrations applied")
			return nil
		},
	}
}
