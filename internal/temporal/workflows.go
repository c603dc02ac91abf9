// Package temporal provides the Temporal workflow definitions and client
// helpers of the ORCID telescope.
package temporal

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/bmkramer/academic-observatory-workflows/internal/activities"
	"github.com/bmkramer/academic-observatory-workflows/internal/database"
	"github.com/bmkramer/academic-observatory-workflows/internal/orcid"
)

// =============================================================================
// WORKFLOW NAMES
// =============================================================================

const (
	OrcidTelescopeWorkflow = "OrcidTelescope"
)

// =============================================================================
// ACTIVITY OPTIONS
// =============================================================================

// DefaultActivityTimeout bounds a single step. Manifests over all 1100
// batches and full downloads on a first run take hours.
const DefaultActivityTimeout = 6 * time.Hour

func activityOptions(timeout time.Duration) workflow.ActivityOptions {
	if timeout <= 0 {
		timeout = DefaultActivityTimeout
	}
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	}
}

var cleanupActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 10 * time.Minute,
	RetryPolicy: &temporal.RetryPolicy{
		MaximumAttempts: 2,
	},
}

// =============================================================================
// WORKFLOW INPUTS/OUTPUTS
// =============================================================================

// OrcidTelescopeInput is the input for OrcidTelescopeWorkflow. Fields
// tagged for yaml are settable from the workflow's kwargs in the registry.
type OrcidTelescopeInput struct {
	// WorkflowID keys the dataset releases. Schedules pass the registry id
	// so that every scheduled run shares the same release history.
	WorkflowID        string       `json:"workflowId" yaml:"-"`
	DataIntervalStart time.Time    `json:"dataIntervalStart,omitempty" yaml:"-"`
	DataIntervalEnd   time.Time    `json:"dataIntervalEnd,omitempty" yaml:"-"`
	Tables            orcid.Tables `json:"tables" yaml:"tables"`
	// Batches restricts the run to some batches; empty means all 1100.
	Batches         []string      `json:"batches,omitempty" yaml:"batches"`
	MaxWorkers      int           `json:"maxWorkers,omitempty" yaml:"max_workers"`
	ActivityTimeout time.Duration `json:"activityTimeout,omitempty" yaml:"activity_timeout"`
	// DisableSession runs every activity on whichever worker picks it up.
	// Only safe when all workers share DataDir.
	DisableSession bool `json:"disableSession,omitempty" yaml:"disable_session"`
}

// OrcidTelescopeResult summarises a completed run.
type OrcidTelescopeResult struct {
	Release        orcid.Release              `json:"release"`
	Snapshot       string                     `json:"snapshot,omitempty"`
	Manifests      activities.ManifestResult  `json:"manifests"`
	Transform      activities.TransformResult `json:"transform"`
	Load           activities.LoadResult      `json:"load"`
	Merged         int64                      `json:"merged"`
	Deleted        int64                      `json:"deleted"`
	DatasetRelease *database.DatasetRelease   `json:"datasetRelease"`
}

// =============================================================================
// ORCID TELESCOPE WORKFLOW
// =============================================================================

// OrcidTelescopeWorkflowFunc runs one incremental ORCID ingestion. Steps
// after FetchRelease share local files, so they run in one worker session.
func OrcidTelescopeWorkflowFunc(ctx workflow.Context, input OrcidTelescopeInput) (*OrcidTelescopeResult, error) {
	logger := workflow.GetLogger(ctx)
	info := workflow.GetInfo(ctx)

	workflowID := input.WorkflowID
	if workflowID == "" {
		workflowID = info.WorkflowExecution.ID
	}
	end := input.DataIntervalEnd
	if end.IsZero() {
		end = workflow.Now(ctx).UTC()
	}

	actCtx := workflow.WithActivityOptions(ctx, activityOptions(input.ActivityTimeout))
	if !input.DisableSession {
		sessionCtx, err := workflow.CreateSession(actCtx, &workflow.SessionOptions{
			CreationTimeout:  time.Minute,
			ExecutionTimeout: 48 * time.Hour,
			HeartbeatTimeout: time.Minute,
		})
		if err != nil {
			return nil, err
		}
		defer workflow.CompleteSession(sessionCtx)
		actCtx = sessionCtx
	}

	// Step 1: Fetch release
	var release orcid.Release
	err := workflow.ExecuteActivity(actCtx, "FetchRelease", activities.FetchReleaseRequest{
		WorkflowID:        workflowID,
		RunID:             info.WorkflowExecution.RunID,
		DataIntervalStart: input.DataIntervalStart,
		DataIntervalEnd:   end,
		Tables:            input.Tables,
	}).Get(ctx, &release)
	if err != nil {
		return nil, err
	}
	logger.Info("orcid-release", "workflowId", release.WorkflowID, "isFirstRun", release.IsFirstRun,
		"start", release.StartDate, "end", release.EndDate)

	req := activities.RunRequest{
		Release:    release,
		Batches:    input.Batches,
		MaxWorkers: input.MaxWorkers,
	}
	result := &OrcidTelescopeResult{Release: release}

	if err := runSteps(ctx, actCtx, req, result); err != nil {
		cleanupCtx, cancel := workflow.NewDisconnectedContext(actCtx)
		defer cancel()
		cleanupCtx = workflow.WithActivityOptions(cleanupCtx, cleanupActivityOptions)
		if cerr := workflow.ExecuteActivity(cleanupCtx, "Cleanup", req).Get(cleanupCtx, nil); cerr != nil {
			logger.Warn("cleanup after failure failed", "error", cerr)
		}
		return nil, err
	}

	logger.Info("orcid-complete", "records", result.Transform.Records, "tombstones", result.Transform.Tombstones)
	return result, nil
}

func runSteps(ctx, actCtx workflow.Context, req activities.RunRequest, result *OrcidTelescopeResult) error {
	// Step 2: Prepare warehouse tables and snapshot
	if err := workflow.ExecuteActivity(actCtx, "PrepareWarehouse", req).Get(ctx, &result.Snapshot); err != nil {
		return err
	}

	// Step 3: Mirror changed records from the source bucket
	if err := workflow.ExecuteActivity(actCtx, "TransferRecords", req).Get(ctx, nil); err != nil {
		return err
	}

	// Step 4: Manifests
	if err := workflow.ExecuteActivity(actCtx, "CreateManifests", req).Get(ctx, &result.Manifests); err != nil {
		return err
	}

	// Step 5: New watermark
	var latest time.Time
	if err := workflow.ExecuteActivity(actCtx, "LatestModifiedRecordDate", req).Get(ctx, &latest); err != nil {
		return err
	}

	// Steps 6-10 only have work to do when some batch changed
	if result.Manifests.Records > 0 {
		if err := workflow.ExecuteActivity(actCtx, "DownloadBatches", req).Get(ctx, nil); err != nil {
			return err
		}
		if err := workflow.ExecuteActivity(actCtx, "TransformBatches", req).Get(ctx, &result.Transform); err != nil {
			return err
		}
		if err := workflow.ExecuteActivity(actCtx, "UploadTransformed", req).Get(ctx, nil); err != nil {
			return err
		}
		if err := workflow.ExecuteActivity(actCtx, "LoadWarehouse", req).Get(ctx, &result.Load); err != nil {
			return err
		}
		if !req.Release.IsFirstRun {
			if err := workflow.ExecuteActivity(actCtx, "MergeUpserts", req).Get(ctx, &result.Merged); err != nil {
				return err
			}
			if err := workflow.ExecuteActivity(actCtx, "DeleteRecords", req).Get(ctx, &result.Deleted); err != nil {
				return err
			}
		}
	}

	// Step 11: Record the release
	err := workflow.ExecuteActivity(actCtx, "AddDatasetRelease", activities.AddDatasetReleaseRequest{
		Release:              req.Release,
		LatestModifiedRecord: latest,
	}).Get(ctx, &result.DatasetRelease)
	if err != nil {
		return err
	}

	// Step 12: Cleanup
	return workflow.ExecuteActivity(actCtx, "Cleanup", req).Get(ctx, nil)
}
