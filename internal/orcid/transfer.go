package orcid

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Putter writes objects.
type Putter interface {
	PutObject(ctx context.Context, bucket, key string, data []byte) error
}

// SourceStore is the bucket records are mirrored from.
type SourceStore interface {
	Lister
	Getter
}

// TransferOptions configures a mirror of the ORCID summaries bucket.
type TransferOptions struct {
	SourceBucket string
	SourcePrefix string
	DestBucket   string
	// Since excludes objects modified at or before this time.
	Since   time.Time
	Workers int
	// Progress, when set, is called with the running count of copied objects.
	Progress func(copied int64)
}

// TransferStats counts what a transfer did.
type TransferStats struct {
	Listed  int   `json:"listed"`
	Copied  int64 `json:"copied"`
	Skipped int   `json:"skipped"`
}

// TransferRecords copies record objects modified after opts.Since from src
// into dst, dropping SourcePrefix from the key so that destination keys
// start with the batch id.
func TransferRecords(ctx context.Context, src SourceStore, dst Putter, opts TransferOptions) (*TransferStats, error) {
	objects, err := src.ListObjects(ctx, opts.SourceBucket, opts.SourcePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list source %s/%s: %w", opts.SourceBucket, opts.SourcePrefix, err)
	}

	stats := &TransferStats{Listed: len(objects)}
	var copied atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Workers, 1))
	for _, obj := range objects {
		key := strings.TrimPrefix(obj.Key, opts.SourcePrefix)
		if !obj.LastModified.After(opts.Since) || !isRecordKey(key) {
			stats.Skipped++
			continue
		}
		g.Go(func() error {
			data, err := src.GetObject(gctx, opts.SourceBucket, obj.Key)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", obj.Key, err)
			}
			if err := dst.PutObject(gctx, opts.DestBucket, key, data); err != nil {
				return fmt.Errorf("failed to write %s: %w", key, err)
			}
			n := copied.Add(1)
			if opts.Progress != nil {
				opts.Progress(n)
			}
			return nil
		})
	}
	err = g.Wait()
	stats.Copied = copied.Load()
	if err != nil {
		return stats, err
	}
	return stats, nil
}

// isRecordKey accepts "<batch>/<orcid>.xml" and "<batch>/<orcid>.json".
func isRecordKey(key string) bool {
	batch, name, ok := strings.Cut(key, "/")
	if !ok || !ValidBatch(batch) {
		return false
	}
	return isRecordFile(name)
}
