package orcid

import (
	"context"
	"fmt"
	"os"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/bmkramer/academic-observatory-workflows/internal/staging"
)

// UpsertRow is one line of an upsert file.
type UpsertRow struct {
	ORCID  string         `json:"orcid"`
	Record map[string]any `json:"record"`
}

// BatchResult summarises the transform of one batch. File fields are empty
// when the batch produced no rows of that kind.
type BatchResult struct {
	Batch      string `json:"batch"`
	Records    int    `json:"records"`
	Tombstones int    `json:"tombstones"`
	UpsertFile string `json:"upsertFile,omitempty"`
	DeleteFile string `json:"deleteFile,omitempty"`
}

// TransformBatch transforms every downloaded record of the batch with up to
// workers concurrent files, then writes the upsert and delete files sorted
// by ORCID. Any invalid record fails the whole batch.
func TransformBatch(ctx context.Context, batch *Batch, workers int) (*BatchResult, error) {
	files, err := batch.RecordFiles()
	if err != nil {
		return nil, err
	}

	results := make([]*Transformed, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t, err := TransformRecord(file)
			if err != nil {
				return err
			}
			results[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch %s: %w", batch.ID, err)
	}

	var (
		upserts []UpsertRow
		deletes []string
	)
	for _, t := range results {
		if t.IsTombstone() {
			deletes = append(deletes, t.Tombstone)
			continue
		}
		upserts = append(upserts, UpsertRow{ORCID: t.ORCID(), Record: t.Record})
	}
	sort.Slice(upserts, func(i, j int) bool { return upserts[i].ORCID < upserts[j].ORCID })
	sort.Strings(deletes)

	res := &BatchResult{Batch: batch.ID, Records: len(upserts), Tombstones: len(deletes)}
	if err := os.MkdirAll(batch.TransformDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transform dir: %w", err)
	}
	if len(upserts) > 0 {
		if err := staging.WriteJSONLinesFile(batch.UpsertFile(), upserts); err != nil {
			return nil, err
		}
		res.UpsertFile = batch.UpsertFile()
	}
	if len(deletes) > 0 {
		if err := staging.WriteDeleteFile(batch.DeleteFile(), deletes); err != nil {
			return nil, err
		}
		res.DeleteFile = batch.DeleteFile()
	}
	return res, nil
}
