package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/bmkramer/academic-observatory-workflows/internal/config"
	"github.com/bmkramer/academic-observatory-workflows/internal/database"
	"github.com/bmkramer/academic-observatory-workflows/internal/orcid"
)

func init() {
	subcommandFns["releases"] = newReleasesCommand
}

func newReleasesCommand(cfg *config.Config, stdout io.Writer) *cobra.Command {
	var workflowID string
	cmd := &cobra.Command{
		Use:   "releases",
		Short: "print the dataset releases of a workflow as JSON, latest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.NewClient(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			releases, err := db.ListDatasetReleases(cmd.Context(), workflowID, orcid.EntityID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(releases)
		},
	}
	cmd.Flags().StringVar(&workflowID, "workflow-id", "orcid", "registry workflow_id")
	return cmd
}
