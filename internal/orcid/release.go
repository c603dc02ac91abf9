package orcid

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bmkramer/academic-observatory-workflows/internal/database"
)

// EntityID identifies ORCID dataset releases in the release store.
const EntityID = "orcid"

// LatestModifiedRecordKey is the release extra field holding the watermark.
const LatestModifiedRecordKey = "latest_modified_record_date"

// Epoch is the watermark used before any release exists.
var Epoch = time.Unix(0, 0).UTC()

// ErrMissingWatermark is returned when a prior release lacks a usable
// latest modified record date.
var ErrMissingWatermark = errors.New("previous release has no latest modified record date")

// Tables names the warehouse tables a run writes to.
type Tables struct {
	Main   string `json:"main"`
	Upsert string `json:"upsert"`
	Delete string `json:"delete"`
}

// DefaultTables returns the conventional table names.
func DefaultTables() Tables {
	return Tables{Main: "orcid", Upsert: "orcid_upsert", Delete: "orcid_delete"}
}

// Release describes one incremental run of the telescope.
type Release struct {
	WorkflowID               string    `json:"workflowId"`
	RunID                    string    `json:"runId"`
	StartDate                time.Time `json:"startDate"`
	EndDate                  time.Time `json:"endDate"`
	PrevReleaseEnd           time.Time `json:"prevReleaseEnd"`
	PrevLatestModifiedRecord time.Time `json:"prevLatestModifiedRecord"`
	IsFirstRun               bool      `json:"isFirstRun"`
	Tables                   Tables    `json:"tables"`
}

// ComputeRelease derives the run's window and watermark from the prior
// releases. With none, the run is a first run reading everything since
// Epoch. Otherwise the release with the latest changefile end date supplies
// both the previous end and the watermark.
func ComputeRelease(workflowID, runID string, start, end time.Time, prior []*database.DatasetRelease, tables Tables) (*Release, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("invalid window: end %s is not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	r := &Release{
		WorkflowID: workflowID,
		RunID:      runID,
		StartDate:  start.UTC(),
		EndDate:    end.UTC(),
		Tables:     tables,
	}

	latest := LatestRelease(prior)
	if latest == nil {
		r.IsFirstRun = true
		r.PrevReleaseEnd = Epoch
		r.PrevLatestModifiedRecord = Epoch
		return r, nil
	}

	raw := latest.Extra.String(LatestModifiedRecordKey)
	if raw == "" {
		return nil, fmt.Errorf("%w: release %s", ErrMissingWatermark, latest.ID)
	}
	watermark, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: release %s: %v", ErrMissingWatermark, latest.ID, err)
	}
	r.PrevReleaseEnd = latest.ChangefileEndDate.Time.UTC()
	r.PrevLatestModifiedRecord = watermark.UTC()
	return r, nil
}

// LatestRelease returns the release with the latest changefile end date, or nil.
func LatestRelease(prior []*database.DatasetRelease) *database.DatasetRelease {
	var latest *database.DatasetRelease
	for _, r := range prior {
		if r == nil || !r.ChangefileEndDate.Valid {
			continue
		}
		if latest == nil || r.ChangefileEndDate.Time.After(latest.ChangefileEndDate.Time) {
			latest = r
		}
	}
	return latest
}

// WorkflowDir is the run's local working directory under base.
func (r *Release) WorkflowDir(base string) string {
	return filepath.Join(base, r.WorkflowID, r.RunID)
}

// DownloadDir holds manifests and downloaded records.
func (r *Release) DownloadDir(base string) string {
	return filepath.Join(r.WorkflowDir(base), "download")
}

// TransformDir holds upsert and delete files.
func (r *Release) TransformDir(base string) string {
	return filepath.Join(r.WorkflowDir(base), "transform")
}

// Batches returns a Batch for each id, rooted in the run's directories.
func (r *Release) Batches(base string, ids []string) ([]*Batch, error) {
	batches := make([]*Batch, 0, len(ids))
	for _, id := range ids {
		b, err := NewBatch(r.DownloadDir(base), r.TransformDir(base), id)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, nil
}

// TransformPrefix is the object prefix transform files are uploaded under.
func (r *Release) TransformPrefix() string {
	return "orcid/" + r.RunID + "/"
}

// SnapshotDate is the date the main table snapshot is labelled with.
func (r *Release) SnapshotDate() time.Time {
	y, m, d := r.PrevReleaseEnd.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
