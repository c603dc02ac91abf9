package temporal

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"

	"github.com/bmkramer/academic-observatory-workflows/internal/config"
	"github.com/bmkramer/academic-observatory-workflows/internal/registry"
)

// Client wraps the Temporal client with helper methods.
type Client struct {
	client          client.Client
	taskQueue       string
	activityTimeout time.Duration
}

// NewClient creates a new Temporal client.
func NewClient(cfg *config.Config) (*Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	return &Client{
		client:          c,
		taskQueue:       cfg.TemporalTaskQueue,
		activityTimeout: cfg.ActivityTimeout,
	}, nil
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.client.Close()
}

// TaskQueue returns the default task queue name.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Client returns the underlying Temporal client.
func (c *Client) Client() client.Client {
	return c.client
}

// =============================================================================
// WORKFLOW EXECUTION HELPERS
// =============================================================================

// InputFor builds the workflow input of a registry entry from its kwargs.
func InputFor(wf *registry.Workflow) (OrcidTelescopeInput, error) {
	input := OrcidTelescopeInput{WorkflowID: wf.WorkflowID}
	if err := wf.DecodeKwargs(&input); err != nil {
		return OrcidTelescopeInput{}, err
	}
	return input, nil
}

// taskQueueFor returns the entry's task queue, or the client default.
func (c *Client) taskQueueFor(wf *registry.Workflow) string {
	if wf.TaskQueue != "" {
		return wf.TaskQueue
	}
	return c.taskQueue
}

// WorkflowOptions creates standard workflow options. The workflow itself
// is not retried; each activity carries its own retry policy.
func (c *Client) WorkflowOptions(workflowID, taskQueue string) client.StartWorkflowOptions {
	if taskQueue == "" {
		taskQueue = c.taskQueue
	}
	return client.StartWorkflowOptions{
		ID:                       workflowID,
		TaskQueue:                taskQueue,
		WorkflowExecutionTimeout: 72 * time.Hour,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
}

// StartOrcidTelescope starts one run of a registry workflow without
// waiting. The execution id is suffixed with the start time so that manual
// runs do not collide with a running schedule.
func (c *Client) StartOrcidTelescope(ctx context.Context, wf *registry.Workflow, input OrcidTelescopeInput) (client.WorkflowRun, error) {
	if input.ActivityTimeout == 0 {
		input.ActivityTimeout = c.activityTimeout
	}
	execID := fmt.Sprintf("%s-%s", wf.WorkflowID, time.Now().UTC().Format("20060102T150405"))
	opts := c.WorkflowOptions(execID, c.taskQueueFor(wf))
	return c.client.ExecuteWorkflow(ctx, opts, OrcidTelescopeWorkflow, input)
}

// =============================================================================
// SCHEDULE HELPERS
// =============================================================================

// EnsureSchedule creates the schedule of a registry workflow, or updates it
// when it already exists.
func (c *Client) EnsureSchedule(ctx context.Context, wf *registry.Workflow) error {
	if wf.Schedule == "" {
		return fmt.Errorf("workflow %s has no schedule", wf.WorkflowID)
	}
	input, err := InputFor(wf)
	if err != nil {
		return err
	}
	if input.ActivityTimeout == 0 {
		input.ActivityTimeout = c.activityTimeout
	}

	spec := client.ScheduleSpec{CronExpressions: []string{wf.Schedule}}
	action := &client.ScheduleWorkflowAction{
		ID:        wf.WorkflowID + "-run",
		Workflow:  OrcidTelescopeWorkflow,
		Args:      []interface{}{input},
		TaskQueue: c.taskQueueFor(wf),
	}

	handle := c.client.ScheduleClient().GetHandle(ctx, wf.WorkflowID)
	if _, err := handle.Describe(ctx); err == nil {
		return handle.Update(ctx, client.ScheduleUpdateOptions{
			DoUpdate: func(in client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
				in.Description.Schedule.Spec = &spec
				in.Description.Schedule.Action = action
				return &client.ScheduleUpdate{Schedule: &in.Description.Schedule}, nil
			},
		})
	}

	_, err = c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID:     wf.WorkflowID,
		Spec:   spec,
		Action: action,
	})
	return err
}

// PauseSchedule pauses a schedule.
func (c *Client) PauseSchedule(ctx context.Context, scheduleID string) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, scheduleID)
	return handle.Pause(ctx, client.SchedulePauseOptions{})
}

// UnpauseSchedule unpauses a schedule.
func (c *Client) UnpauseSchedule(ctx context.Context, scheduleID string) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, scheduleID)
	return handle.Unpause(ctx, client.ScheduleUnpauseOptions{})
}

// DeleteSchedule deletes a schedule.
func (c *Client) DeleteSchedule(ctx context.Context, scheduleID string) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, scheduleID)
	return handle.Delete(ctx)
}
