package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bmkramer/academic-observatory-workflows/internal/config"
	"github.com/bmkramer/academic-observatory-workflows/internal/orcid"
)

func init() {
	subcommandFns["transform"] = newTransformCommand
}

func newTransformCommand(cfg *config.Config, stdout io.Writer) *cobra.Command {
	var (
		downloadDir  string
		transformDir string
		workers      int
	)
	cmd := &cobra.Command{
		Use:   "transform BATCH...",
		Short: "transform downloaded records of batches into upsert and delete files",
		Long: `Transforms records already laid out as DOWNLOAD_DIR/<batch>/<orcid>.xml
into TRANSFORM_DIR/<batch>_upsert.jsonl.gz and TRANSFORM_DIR/<batch>_delete.parquet.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(transformDir, 0o755); err != nil {
				return err
			}
			for _, id := range args {
				b, err := orcid.NewBatch(downloadDir, transformDir, id)
				if err != nil {
					return err
				}
				res, err := orcid.TransformBatch(cmd.Context(), b, workers)
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "%s\trecords %d\ttombstones %d\n", res.Batch, res.Records, res.Tombstones)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&downloadDir, "download-dir", ".", "directory holding one sub-directory per batch")
	flags.StringVar(&transformDir, "transform-dir", "transform", "output directory")
	flags.IntVar(&workers, "workers", cfg.MaxWorkers, "concurrent record transforms")
	return cmd
}
