package activities

import (
	"time"

	"github.com/bmkramer/academic-observatory-workflows/internal/orcid"
)

// FetchReleaseRequest asks for the release of a new run. A zero start
// resumes from the previous release's end, or covers DefaultInterval
// before the end on a first run.
type FetchReleaseRequest struct {
	WorkflowID        string       `json:"workflowId"`
	RunID             string       `json:"runId"`
	DataIntervalStart time.Time    `json:"dataIntervalStart,omitempty"`
	DataIntervalEnd   time.Time    `json:"dataIntervalEnd"`
	Tables            orcid.Tables `json:"tables"`
}

// RunRequest is passed to every step after FetchRelease.
type RunRequest struct {
	Release    orcid.Release `json:"release"`
	Batches    []string      `json:"batches,omitempty"`
	MaxWorkers int           `json:"maxWorkers,omitempty"`
}

// TransferResult reports a mirror of the source bucket.
type TransferResult struct {
	Skipped bool                `json:"skipped"`
	Stats   orcid.TransferStats `json:"stats"`
}

// ManifestResult reports the manifests written for a run.
type ManifestResult struct {
	Batches int `json:"batches"`
	Records int `json:"records"`
	// NonEmpty lists the batches with at least one changed record.
	NonEmpty []string `json:"nonEmpty,omitempty"`
}

// DownloadResult reports the records fetched into the batch directories.
type DownloadResult struct {
	Downloaded int `json:"downloaded"`
}

// TransformResult totals the transform of all batches.
type TransformResult struct {
	Records    int                 `json:"records"`
	Tombstones int                 `json:"tombstones"`
	Batches    []orcid.BatchResult `json:"batches,omitempty"`
}

// UploadResult reports the transform files archived to object storage.
type UploadResult struct {
	Files int      `json:"files"`
	Keys  []string `json:"keys,omitempty"`
}

// LoadResult reports the rows copied into the warehouse.
type LoadResult struct {
	Table   string `json:"table"`
	Records int64  `json:"records"`
	Deletes int64  `json:"deletes"`
}

// AddDatasetReleaseRequest persists the finished run.
type AddDatasetReleaseRequest struct {
	Release orcid.Release `json:"release"`
	// LatestModifiedRecord is the newest manifest timestamp; zero when the
	// run found no changes.
	LatestModifiedRecord time.Time `json:"latestModifiedRecord"`
}
