package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const releaseColumns = `id, workflow_id, entity_id, run_id, created, modified,
	changefile_start_date, changefile_end_date, snapshot_date, extra`

// ReleaseID is the id a run's release is stored under. It is derived from
// the workflow, entity, run and changefile end date so a retried insert
// lands on the same row; releases without a run id get a random one.
func ReleaseID(workflowID, entityID, runID string, changefileEnd time.Time) string {
	if runID == "" {
		return uuid.New().String()
	}
	name := workflowID + "/" + entityID + "/" + runID + "/" + changefileEnd.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// AddDatasetRelease inserts a release and returns it as stored. Adding the
// release of a run twice updates the existing row.
func (c *Client) AddDatasetRelease(ctx context.Context, release *DatasetRelease) (*DatasetRelease, error) {
	if release.WorkflowID == "" || release.EntityID == "" {
		return nil, fmt.Errorf("workflow id and entity id are required")
	}
	if release.ID == "" {
		release.ID = ReleaseID(release.WorkflowID, release.EntityID, release.RunID, release.ChangefileEndDate.Time)
	}

	row := c.db.QueryRowContext(ctx, `
		INSERT INTO dataset_releases (
			id, workflow_id, entity_id, run_id,
			changefile_start_date, changefile_end_date, snapshot_date, extra
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			modified = NOW(),
			changefile_start_date = EXCLUDED.changefile_start_date,
			changefile_end_date = EXCLUDED.changefile_end_date,
			snapshot_date = EXCLUDED.snapshot_date,
			extra = EXCLUDED.extra
		RETURNING `+releaseColumns,
		release.ID, release.WorkflowID, release.EntityID, release.RunID,
		release.ChangefileStartDate, release.ChangefileEndDate, release.SnapshotDate, release.Extra,
	)
	stored, err := scanRelease(row)
	if err != nil {
		return nil, fmt.Errorf("failed to add dataset release: %w", err)
	}
	return stored, nil
}

// ListDatasetReleases returns releases for a workflow and entity, most recent
// changefile end date first. An empty entityID matches every entity.
func (c *Client) ListDatasetReleases(ctx context.Context, workflowID, entityID string) ([]*DatasetRelease, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+releaseColumns+`
		FROM dataset_releases
		WHERE workflow_id = $1 AND ($2 = '' OR entity_id = $2)
		ORDER BY changefile_end_date DESC NULLS LAST, created DESC
	`, workflowID, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dataset releases: %w", err)
	}
	defer rows.Close()

	var releases []*DatasetRelease
	for rows.Next() {
		release, err := scanRelease(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dataset release: %w", err)
		}
		releases = append(releases, release)
	}
	return releases, rows.Err()
}

// LatestDatasetRelease returns the release with the latest changefile end
// date, or nil when none exist.
func (c *Client) LatestDatasetRelease(ctx context.Context, workflowID, entityID string) (*DatasetRelease, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT `+releaseColumns+`
		FROM dataset_releases
		WHERE workflow_id = $1 AND entity_id = $2
		ORDER BY changefile_end_date DESC NULLS LAST, created DESC
		LIMIT 1
	`, workflowID, entityID)
	release, err := scanRelease(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest dataset release: %w", err)
	}
	return release, nil
}

// DeleteDatasetReleases removes every release of a workflow.
func (c *Client) DeleteDatasetReleases(ctx context.Context, workflowID string) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM dataset_releases WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete dataset releases: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRelease(row rowScanner) (*DatasetRelease, error) {
	var r DatasetRelease
	err := row.Scan(
		&r.ID, &r.WorkflowID, &r.EntityID, &r.RunID, &r.Created, &r.Modified,
		&r.ChangefileStartDate, &r.ChangefileEndDate, &r.SnapshotDate, &r.Extra,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
