package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bmkramer/academic-observatory-workflows/internal/config"
	"github.com/bmkramer/academic-observatory-workflows/internal/registry"
	"github.com/bmkramer/academic-observatory-workflows/internal/temporal"
)

func init() {
	subcommandFns["schedule"] = newScheduleCommand
}

func newScheduleCommand(cfg *config.Config, stdout io.Writer) *cobra.Command {
	var pause, unpause, remove bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "create or update a Temporal schedule for every scheduled workflow in the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.Load(cfg.RegistryPath)
			if err != nil {
				return err
			}
			c, err := temporal.NewClient(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx := cmd.Context()
			for _, wf := range reg.Scheduled() {
				switch {
				case remove:
					err = c.DeleteSchedule(ctx, wf.WorkflowID)
				case pause:
					err = c.PauseSchedule(ctx, wf.WorkflowID)
				case unpause:
					err = c.UnpauseSchedule(ctx, wf.WorkflowID)
				default:
					err = c.EnsureSchedule(ctx, wf)
				}
				if err != nil {
					return fmt.Errorf("schedule %s: %w", wf.WorkflowID, err)
				}
				fmt.Fprintf(stdout, "%s\t%s\n", wf.WorkflowID, wf.Schedule)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&pause, "pause", false, "pause the schedules instead")
	flags.BoolVar(&unpause, "unpause", false, "unpause the schedules instead")
	flags.BoolVar(&remove, "delete", false, "delete the schedules instead")
	cmd.MarkFlagsMutuallyExclusive("pause", "unpause", "delete")
	return cmd
}
