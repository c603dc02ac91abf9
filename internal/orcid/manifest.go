package orcid

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/jszwec/csvutil"

	"github.com/bmkramer/academic-observatory-workflows/internal/storage"
)

// ManifestHeader is the column order of every manifest file.
var ManifestHeader = []string{"bucket_name", "blob_name", "orcid", "updated"}

// ManifestRow is one changed record in a batch manifest.
type ManifestRow struct {
	BucketName string    `csv:"bucket_name" json:"bucketName"`
	BlobName   string    `csv:"blob_name" json:"blobName"`
	ORCID      string    `csv:"orcid" json:"orcid"`
	Updated    time.Time `csv:"updated" json:"updated"`
}

// Lister lists objects under a prefix.
type Lister interface {
	ListObjects(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error)
}

// CreateBatchManifest lists the batch's prefix in bucket and writes a
// manifest of objects modified strictly after reference, oldest first.
// Only .xml and .json objects named after an ORCID are listed. The manifest
// file is written even when no object qualifies. It returns the
// number of rows written.
func CreateBatchManifest(ctx context.Context, store Lister, batch *Batch, bucket string, reference time.Time) (int, error) {
	objects, err := store.ListObjects(ctx, bucket, batch.Prefix())
	if err != nil {
		return 0, fmt.Errorf("failed to list %s/%s: %w", bucket, batch.Prefix(), err)
	}

	rows := make([]ManifestRow, 0, len(objects))
	for _, obj := range objects {
		if !obj.LastModified.After(reference) {
			continue
		}
		name := path.Base(obj.Key)
		if !isRecordFile(name) {
			continue
		}
		id, _ := ExtractORCID(name)
		rows = append(rows, ManifestRow{
			BucketName: bucket,
			BlobName:   obj.Key,
			ORCID:      id,
			Updated:    obj.LastModified.UTC(),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Updated.Equal(rows[j].Updated) {
			return rows[i].BlobName < rows[j].BlobName
		}
		return rows[i].Updated.Before(rows[j].Updated)
	})

	if err := WriteManifest(batch.ManifestFile(), rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// WriteManifest writes rows with the manifest header.
func WriteManifest(file string, rows []ManifestRow) error {
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("failed to create manifest dir: %w", err)
	}
	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	enc := csvutil.NewEncoder(w)
	if err := enc.EncodeHeader(ManifestRow{}); err != nil {
		return fmt.Errorf("failed to write manifest header: %w", err)
	}
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("failed to write manifest row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush manifest: %w", err)
	}
	return f.Close()
}

// ReadManifest decodes a manifest file.
func ReadManifest(file string) ([]ManifestRow, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	dec, err := csvutil.NewDecoder(csv.NewReader(f))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("manifest %s has no header", file)
		}
		return nil, fmt.Errorf("failed to read manifest header: %w", err)
	}

	var rows []ManifestRow
	for {
		var row ManifestRow
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode manifest %s: %w", file, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// LatestModifiedRecordDate returns the newest updated time across the
// manifests, or the zero time when they are all empty.
func LatestModifiedRecordDate(files ...string) (time.Time, error) {
	var latest time.Time
	for _, file := range files {
		rows, err := ReadManifest(file)
		if err != nil {
			return time.Time{}, err
		}
		for _, row := range rows {
			if row.Updated.After(latest) {
				latest = row.Updated
			}
		}
	}
	return latest, nil
}
