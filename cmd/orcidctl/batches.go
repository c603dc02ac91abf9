package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bmkramer/academic-observatory-workflows/internal/config"
	"github.com/bmkramer/academic-observatory-workflows/internal/orcid"
)

func init() {
	subcommandFns["batches"] = newBatchesCommand
}

func newBatchesCommand(cfg *config.Config, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "batches",
		Short: "list the batch identifiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range orcid.BatchNames() {
				fmt.Fprintln(stdout, id)
			}
			return nil
		},
	}
}
