// Package activities implements the Temporal activities of the ORCID
// telescope.
package activities

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/bmkramer/academic-observatory-workflows/internal/database"
	"github.com/bmkramer/academic-observatory-workflows/internal/orcid"
	"github.com/bmkramer/academic-observatory-workflows/internal/staging"
	"github.com/bmkramer/academic-observatory-workflows/internal/storage"
	"github.com/bmkramer/academic-observatory-workflows/internal/warehouse"
)

// DefaultInterval is the window of a first run without an explicit start.
const DefaultInterval = 7 * 24 * time.Hour

// ReleaseStore persists dataset releases.
type ReleaseStore interface {
	ListDatasetReleases(ctx context.Context, workflowID, entityID string) ([]*database.DatasetRelease, error)
	AddDatasetRelease(ctx context.Context, release *database.DatasetRelease) (*database.DatasetRelease, error)
}

// Warehouse is the table store records are loaded into.
type Warehouse interface {
	EnsureSchema(ctx context.Context) error
	EnsureRecordTable(ctx context.Context, table string) error
	EnsureDeleteTable(ctx context.Context, table string) error
	TruncateTable(ctx context.Context, table string) error
	LoadRecords(ctx context.Context, table string, records []warehouse.Record) (int64, error)
	LoadDeletes(ctx context.Context, table string, ids []string) (int64, error)
	MergeUpserts(ctx context.Context, main, upsert string) (int64, error)
	DeleteRecords(ctx context.Context, main, deletes string) (int64, error)
	Snapshot(ctx context.Context, main string, date time.Time) (string, error)
}

// Settings are the deployment-wide parameters of the activities.
type Settings struct {
	DataDir         string
	RecordsBucket   string
	TransformBucket string
	SourceBucket    string
	SourcePrefix    string
	MaxWorkers      int
}

// Activities holds the ORCID telescope activities and their dependencies.
type Activities struct {
	releases  ReleaseStore
	warehouse Warehouse
	store     storage.ObjectStore
	source    orcid.SourceStore
	settings  Settings
}

// NewActivities wires the activities. source may be nil, in which case
// TransferRecords is a no-op.
func NewActivities(releases ReleaseStore, wh Warehouse, store storage.ObjectStore, source orcid.SourceStore, settings Settings) *Activities {
	if settings.MaxWorkers <= 0 {
		settings.MaxWorkers = 4
	}
	return &Activities{
		releases:  releases,
		warehouse: wh,
		store:     store,
		source:    source,
		settings:  settings,
	}
}

// =============================================================================
// ACTIVITY 1: FetchRelease
// =============================================================================

// FetchRelease computes the run's release from the dataset releases already
// recorded for the workflow.
func (a *Activities) FetchRelease(ctx context.Context, req FetchReleaseRequest) (*orcid.Release, error) {
	logger := activity.GetLogger(ctx)

	prior, err := a.releases.ListDatasetReleases(ctx, req.WorkflowID, orcid.EntityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dataset releases: %w", err)
	}

	start := req.DataIntervalStart
	if start.IsZero() {
		start = req.DataIntervalEnd.Add(-DefaultInterval)
		if latest := orcid.LatestRelease(prior); latest != nil {
			start = latest.ChangefileEndDate.Time
		}
	}

	tables := req.Tables
	if tables.Main == "" {
		tables = orcid.DefaultTables()
	}
	release, err := orcid.ComputeRelease(req.WorkflowID, req.RunID, start, req.DataIntervalEnd, prior, tables)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidRelease", err)
	}

	logger.Info("fetched release",
		"workflowId", release.WorkflowID,
		"isFirstRun", release.IsFirstRun,
		"prevReleaseEnd", release.PrevReleaseEnd,
		"prevLatestModifiedRecord", release.PrevLatestModifiedRecord)
	return release, nil
}

// =============================================================================
// ACTIVITY 2: PrepareWarehouse
// =============================================================================

// PrepareWarehouse creates the run's tables and, on subsequent runs,
// snapshots the main table before it is modified.
func (a *Activities) PrepareWarehouse(ctx context.Context, req RunRequest) (string, error) {
	logger := activity.GetLogger(ctx)
	t := req.Release.Tables

	if err := a.warehouse.EnsureSchema(ctx); err != nil {
		return "", err
	}
	for _, table := range []string{t.Main, t.Upsert} {
		if err := a.warehouse.EnsureRecordTable(ctx, table); err != nil {
			return "", err
		}
	}
	if err := a.warehouse.EnsureDeleteTable(ctx, t.Delete); err != nil {
		return "", err
	}
	if req.Release.IsFirstRun {
		return "", nil
	}

	snapshot, err := a.warehouse.Snapshot(ctx, t.Main, req.Release.SnapshotDate())
	if err != nil {
		return "", err
	}
	logger.Info("snapshotted main table", "table", t.Main, "snapshot", snapshot)
	return snapshot, nil
}

// =============================================================================
// ACTIVITY 3: TransferRecords
// =============================================================================

// TransferRecords mirrors records changed since the previous release from
// the ORCID summaries bucket into the records bucket.
func (a *Activities) TransferRecords(ctx context.Context, req RunRequest) (*TransferResult, error) {
	logger := activity.GetLogger(ctx)
	if a.source == nil {
		logger.Info("no ORCID source configured, skipping transfer")
		return &TransferResult{Skipped: true}, nil
	}
	if err := a.store.EnsureBucket(ctx, a.settings.RecordsBucket); err != nil {
		return nil, classify(err)
	}

	stats, err := orcid.TransferRecords(ctx, a.source, a.store, orcid.TransferOptions{
		SourceBucket: a.settings.SourceBucket,
		SourcePrefix: a.settings.SourcePrefix,
		DestBucket:   a.settings.RecordsBucket,
		Since:        req.Release.PrevReleaseEnd,
		Workers:      a.workers(req),
		Progress: func(copied int64) {
			if copied%1000 == 0 {
				activity.RecordHeartbeat(ctx, copied)
			}
		},
	})
	if err != nil {
		return nil, classify(err)
	}
	logger.Info("transferred records", "listed", stats.Listed, "copied", stats.Copied, "skipped", stats.Skipped)
	return &TransferResult{Stats: *stats}, nil
}

// =============================================================================
// ACTIVITY 4: CreateManifests
// =============================================================================

// CreateManifests writes one manifest per batch listing the records
// modified after the previous watermark.
func (a *Activities) CreateManifests(ctx context.Context, req RunRequest) (*ManifestResult, error) {
	logger := activity.GetLogger(ctx)
	batches, err := a.batches(req)
	if err != nil {
		return nil, err
	}

	res := &ManifestResult{Batches: len(batches)}
	for i, b := range batches {
		n, err := orcid.CreateBatchManifest(ctx, a.store, b, a.settings.RecordsBucket, req.Release.PrevLatestModifiedRecord)
		if err != nil {
			return nil, classify(err)
		}
		res.Records += n
		if n > 0 {
			res.NonEmpty = append(res.NonEmpty, b.ID)
		}
		activity.RecordHeartbeat(ctx, i+1)
	}
	logger.Info("created manifests", "batches", res.Batches, "records", res.Records)
	return res, nil
}

// =============================================================================
// ACTIVITY 5: LatestModifiedRecordDate
// =============================================================================

// LatestModifiedRecordDate returns the newest record timestamp across the
// run's manifests.
func (a *Activities) LatestModifiedRecordDate(ctx context.Context, req RunRequest) (time.Time, error) {
	batches, err := a.batches(req)
	if err != nil {
		return time.Time{}, err
	}
	files := make([]string, len(batches))
	for i, b := range batches {
		files[i] = b.ManifestFile()
	}
	latest, err := orcid.LatestModifiedRecordDate(files...)
	if err != nil {
		return time.Time{}, err
	}
	activity.GetLogger(ctx).Info("latest modified record", "date", latest)
	return latest, nil
}

// =============================================================================
// ACTIVITY 6: DownloadBatches
// =============================================================================

// DownloadBatches fetches every manifest entry into its batch directory and
// fails if any record is still missing afterwards.
func (a *Activities) DownloadBatches(ctx context.Context, req RunRequest) (*DownloadResult, error) {
	logger := activity.GetLogger(ctx)
	batches, err := a.batches(req)
	if err != nil {
		return nil, err
	}

	res := &DownloadResult{}
	for i, b := range batches {
		n, err := orcid.DownloadBatch(ctx, a.store, b, a.workers(req))
		if err != nil {
			return nil, classify(err)
		}
		res.Downloaded += n

		missing, err := b.MissingRecords()
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("batch %s: %d records missing after download, first %s", b.ID, len(missing), missing[0])
		}
		activity.RecordHeartbeat(ctx, i+1)
	}
	logger.Info("downloaded records", "count", res.Downloaded)
	return res, nil
}

// =============================================================================
// ACTIVITY 7: TransformBatches
// =============================================================================

// TransformBatches converts the downloaded records into upsert and delete
// files. Invalid records fail the activity without retry.
func (a *Activities) TransformBatches(ctx context.Context, req RunRequest) (*TransformResult, error) {
	logger := activity.GetLogger(ctx)
	batches, err := a.batches(req)
	if err != nil {
		return nil, err
	}

	res := &TransformResult{}
	for i, b := range batches {
		br, err := orcid.TransformBatch(ctx, b, a.workers(req))
		if err != nil {
			if errors.Is(err, orcid.ErrIdentifierMismatch) || errors.Is(err, orcid.ErrMissingSection) || errors.Is(err, orcid.ErrInvalidFilename) {
				return nil, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidRecord", err)
			}
			return nil, err
		}
		res.Records += br.Records
		res.Tombstones += br.Tombstones
		if br.UpsertFile != "" || br.DeleteFile != "" {
			res.Batches = append(res.Batches, *br)
		}
		activity.RecordHeartbeat(ctx, i+1)
	}
	logger.Info("transformed records", "records", res.Records, "tombstones", res.Tombstones)
	return res, nil
}

// =============================================================================
// ACTIVITY 8: UploadTransformed
// =============================================================================

// UploadTransformed archives the transform files under the run's prefix in
// the transform bucket.
func (a *Activities) UploadTransformed(ctx context.Context, req RunRequest) (*UploadResult, error) {
	logger := activity.GetLogger(ctx)
	files, err := a.transformFiles(req)
	if err != nil {
		return nil, err
	}
	if err := a.store.EnsureBucket(ctx, a.settings.TransformBucket); err != nil {
		return nil, classify(err)
	}

	res := &UploadResult{}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		key := req.Release.TransformPrefix() + filepath.Base(file)
		if err := a.store.PutObject(ctx, a.settings.TransformBucket, key, data); err != nil {
			return nil, classify(err)
		}
		res.Keys = append(res.Keys, key)
		res.Files++
		activity.RecordHeartbeat(ctx, res.Files)
	}
	logger.Info("uploaded transform files", "bucket", a.settings.TransformBucket, "files", res.Files)
	return res, nil
}

// =============================================================================
// ACTIVITY 9: LoadWarehouse
// =============================================================================

// LoadWarehouse copies the transformed records into the warehouse. A first
// run replaces the main table; later runs stage upserts and deletions for
// MergeUpserts and DeleteRecords. Every table written is truncated first.
func (a *Activities) LoadWarehouse(ctx context.Context, req RunRequest) (*LoadResult, error) {
	logger := activity.GetLogger(ctx)
	t := req.Release.Tables
	batches, err := a.batches(req)
	if err != nil {
		return nil, err
	}

	res := &LoadResult{Table: t.Main}
	truncate := []string{t.Main}
	if !req.Release.IsFirstRun {
		res.Table = t.Upsert
		truncate = []string{t.Upsert, t.Delete}
	}
	for _, table := range truncate {
		if err := a.warehouse.TruncateTable(ctx, table); err != nil {
			return nil, err
		}
	}

	for i, b := range batches {
		rows, err := readUpserts(b.UpsertFile())
		if err != nil {
			return nil, err
		}
		n, err := a.warehouse.LoadRecords(ctx, res.Table, rows)
		if err != nil {
			return nil, err
		}
		res.Records += n

		if !req.Release.IsFirstRun {
			ids, err := readDeletes(b.DeleteFile())
			if err != nil {
				return nil, err
			}
			n, err := a.warehouse.LoadDeletes(ctx, t.Delete, ids)
			if err != nil {
				return nil, err
			}
			res.Deletes += n
		}
		activity.RecordHeartbeat(ctx, i+1)
	}
	logger.Info("loaded warehouse", "table", res.Table, "records", res.Records, "deletes", res.Deletes)
	return res, nil
}

// =============================================================================
// ACTIVITY 10: MergeUpserts / DeleteRecords
// =============================================================================

// MergeUpserts applies the upsert table to the main table.
func (a *Activities) MergeUpserts(ctx context.Context, req RunRequest) (int64, error) {
	t := req.Release.Tables
	n, err := a.warehouse.MergeUpserts(ctx, t.Main, t.Upsert)
	if err != nil {
		return 0, err
	}
	activity.GetLogger(ctx).Info("merged upserts", "table", t.Main, "rows", n)
	return n, nil
}

// DeleteRecords removes tombstoned records from the main table.
func (a *Activities) DeleteRecords(ctx context.Context, req RunRequest) (int64, error) {
	t := req.Release.Tables
	n, err := a.warehouse.DeleteRecords(ctx, t.Main, t.Delete)
	if err != nil {
		return 0, err
	}
	activity.GetLogger(ctx).Info("deleted records", "table", t.Main, "rows", n)
	return n, nil
}

// =============================================================================
// ACTIVITY 11: AddDatasetRelease
// =============================================================================

// AddDatasetRelease records the run. When the run saw no changed records
// the previous watermark is carried forward.
func (a *Activities) AddDatasetRelease(ctx context.Context, req AddDatasetReleaseRequest) (*database.DatasetRelease, error) {
	watermark := req.LatestModifiedRecord
	if watermark.IsZero() {
		watermark = req.Release.PrevLatestModifiedRecord
	}

	stored, err := a.releases.AddDatasetRelease(ctx, &database.DatasetRelease{
		WorkflowID:          req.Release.WorkflowID,
		EntityID:            orcid.EntityID,
		RunID:               req.Release.RunID,
		ChangefileStartDate: database.ToNullTime(req.Release.StartDate),
		ChangefileEndDate:   database.ToNullTime(req.Release.EndDate),
		Extra: database.JSONMap{
			orcid.LatestModifiedRecordKey: watermark.UTC().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return nil, err
	}
	activity.GetLogger(ctx).Info("added dataset release", "id", stored.ID, "watermark", watermark)
	return stored, nil
}

// =============================================================================
// ACTIVITY 12: Cleanup
// =============================================================================

// Cleanup removes the run's local working directory.
func (a *Activities) Cleanup(ctx context.Context, req RunRequest) error {
	dir := req.Release.WorkflowDir(a.settings.DataDir)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	activity.GetLogger(ctx).Info("cleaned up", "dir", dir)
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (a *Activities) batches(req RunRequest) ([]*orcid.Batch, error) {
	ids := req.Batches
	if len(ids) == 0 {
		ids = orcid.BatchNames()
	}
	batches, err := req.Release.Batches(a.settings.DataDir, ids)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidBatch", err)
	}
	return batches, nil
}

func (a *Activities) workers(req RunRequest) int {
	if req.MaxWorkers > 0 {
		return req.MaxWorkers
	}
	return a.settings.MaxWorkers
}

func (a *Activities) transformFiles(req RunRequest) ([]string, error) {
	batches, err := a.batches(req)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, b := range batches {
		for _, f := range []string{b.UpsertFile(), b.DeleteFile()} {
			if _, err := os.Stat(f); err == nil {
				files = append(files, f)
			} else if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}
	return files, nil
}

func readUpserts(file string) ([]warehouse.Record, error) {
	rows, err := staging.ReadJSONLinesFile[orcid.UpsertRow](file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	records := make([]warehouse.Record, len(rows))
	for i, row := range rows {
		records[i] = warehouse.Record{ORCID: row.ORCID, Record: row.Record}
	}
	return records, nil
}

func readDeletes(file string) ([]string, error) {
	if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return staging.ReadDeleteFile(file)
}

// classify marks storage errors that retrying cannot fix as non-retryable.
func classify(err error) error {
	var se *storage.Error
	if errors.As(err, &se) && !se.Retryable {
		return temporal.NewNonRetryableApplicationError(err.Error(), se.Code, err)
	}
	return err
}
