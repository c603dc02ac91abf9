package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/bmkramer/academic-observatory-workflows/internal/config"
	"github.com/bmkramer/academic-observatory-workflows/internal/registry"
	"github.com/bmkramer/academic-observatory-workflows/internal/temporal"
)

const dateLayout = "2006-01-02"

func init() {
	subcommandFns["start"] = newStartCommand
}

type startOptions struct {
	workflowID string
	start      string
	end        string
	batches    []string
	maxWorkers int
	wait       bool
}

func newStartCommand(cfg *config.Config, stdout io.Writer) *cobra.Command {
	opts := &startOptions{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start one ORCID telescope run",
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := lookupWorkflow(cfg, opts.workflowID)
			if err != nil {
				return err
			}
			input, err := opts.input(wf)
			if err != nil {
				return err
			}

			c, err := temporal.NewClient(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			run, err := c.StartOrcidTelescope(cmd.Context(), wf, input)
			if err != nil {
				return fmt.Errorf("failed to start workflow: %w", err)
			}
			fmt.Fprintf(stdout, "started %s run %s\n", run.GetID(), run.GetRunID())
			if !opts.wait {
				return nil
			}

			var result temporal.OrcidTelescopeResult
			if err := run.Get(cmd.Context(), &result); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "records %d, tombstones %d, merged %d, deleted %d\n",
				result.Transform.Records, result.Transform.Tombstones, result.Merged, result.Deleted)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.workflowID, "workflow-id", "orcid", "registry workflow_id")
	flags.StringVar(&opts.start, "start", "", "data interval start (YYYY-MM-DD); defaults to the previous release end")
	flags.StringVar(&opts.end, "end", "", "data interval end (YYYY-MM-DD); defaults to now")
	flags.StringSliceVar(&opts.batches, "batches", nil, "restrict the run to these batches")
	flags.IntVar(&opts.maxWorkers, "max-workers", 0, "concurrent downloads and transforms per batch")
	flags.BoolVar(&opts.wait, "wait", false, "wait for the run to finish")
	return cmd
}

// input merges the command line over the registry kwargs.
func (o *startOptions) input(wf *registry.Workflow) (temporal.OrcidTelescopeInput, error) {
	input, err := temporal.InputFor(wf)
	if err != nil {
		return input, err
	}
	if input.DataIntervalStart, err = parseDate(o.start); err != nil {
		return input, fmt.Errorf("invalid --start: %w", err)
	}
	if input.DataIntervalEnd, err = parseDate(o.end); err != nil {
		return input, fmt.Errorf("invalid --end: %w", err)
	}
	if len(o.batches) > 0 {
		input.Batches = o.batches
	}
	if o.maxWorkers > 0 {
		input.MaxWorkers = o.maxWorkers
	}
	return input, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}

func lookupWorkflow(cfg *config.Config, workflowID string) (*registry.Workflow, error) {
	reg, err := registry.Load(cfg.RegistryPath)
	if err != nil {
		return nil, err
	}
	wf, ok := reg.Lookup(workflowID)
	if !ok {
		return nil, fmt.Errorf("workflow %q is not in %s", workflowID, cfg.RegistryPath)
	}
	return wf, nil
}
