package orcid

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// Getter reads objects.
type Getter interface {
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// DownloadBatch fetches every manifest entry not already present in the
// batch's download directory and returns how many files it wrote. Files are
// renamed into place once complete, so a retried download resumes where the
// previous attempt stopped.
func DownloadBatch(ctx context.Context, store Getter, batch *Batch, workers int) (int, error) {
	rows, err := ReadManifest(batch.ManifestFile())
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	existing, err := batch.ExistingRecords()
	if err != nil {
		return 0, err
	}
	have := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		have[id] = struct{}{}
	}

	dir := batch.DownloadBatchDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create batch dir: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	written := make([]bool, len(rows))
	for i, row := range rows {
		if _, ok := have[row.ORCID]; ok {
			continue
		}
		g.Go(func() error {
			data, err := store.GetObject(gctx, row.BucketName, row.BlobName)
			if err != nil {
				return fmt.Errorf("failed to download %s/%s: %w", row.BucketName, row.BlobName, err)
			}
			target := filepath.Join(dir, path.Base(row.BlobName))
			tmp := target + ".part"
			if err := os.WriteFile(tmp, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", tmp, err)
			}
			if err := os.Rename(tmp, target); err != nil {
				return fmt.Errorf("failed to move %s into place: %w", target, err)
			}
			written[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	n := 0
	for _, w := range written {
		if w {
			n++
		}
	}
	return n, nil
}
