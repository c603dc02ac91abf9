// Package orcid implements the ORCID telescope: incremental release windows,
// per-batch manifests of changed records and the record transform.
package orcid

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	batchPattern = regexp.MustCompile(`^\d{2}(\d|X)$`)
	orcidPattern = regexp.MustCompile(`\d{4}-\d{4}-\d{4}-\d{3}(\d|X)`)
)

// BatchNames returns the 1100 batch identifiers: two digits 00..99 followed
// by a check character 0..9 or X.
func BatchNames() []string {
	checks := []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9", "X"}
	names := make([]string, 0, 100*len(checks))
	for i := 0; i < 100; i++ {
		for _, c := range checks {
			names = append(names, fmt.Sprintf("%02d%s", i, c))
		}
	}
	return names
}

// ValidBatch reports whether id is a well-formed batch identifier.
func ValidBatch(id string) bool {
	return batchPattern.MatchString(id)
}

// ExtractORCID returns the first ORCID identifier found in s.
func ExtractORCID(s string) (string, bool) {
	m := orcidPattern.FindString(s)
	return m, m != ""
}

// Batch is one shard of the ORCID record bucket and its local files.
type Batch struct {
	ID           string `json:"id"`
	DownloadDir  string `json:"downloadDir"`
	TransformDir string `json:"transformDir"`
}

// NewBatch validates id and roots the batch's files in the given directories.
func NewBatch(downloadDir, transformDir, id string) (*Batch, error) {
	if !ValidBatch(id) {
		return nil, fmt.Errorf("invalid batch id %q", id)
	}
	return &Batch{ID: id, DownloadDir: downloadDir, TransformDir: transformDir}, nil
}

// DownloadBatchDir is where the batch's records are downloaded to.
func (b *Batch) DownloadBatchDir() string {
	return filepath.Join(b.DownloadDir, b.ID)
}

// ManifestFile is the batch's manifest CSV.
func (b *Batch) ManifestFile() string {
	return filepath.Join(b.DownloadDir, b.ID+"_manifest.csv")
}

// UpsertFile holds the transformed records.
func (b *Batch) UpsertFile() string {
	return filepath.Join(b.TransformDir, b.ID+"_upsert.jsonl.gz")
}

// DeleteFile holds the identifiers of error records.
func (b *Batch) DeleteFile() string {
	return filepath.Join(b.TransformDir, b.ID+"_delete.parquet")
}

// Prefix is the batch's object storage prefix.
func (b *Batch) Prefix() string {
	return b.ID + "/"
}

// RecordFiles lists the downloaded record files, sorted by name.
func (b *Batch) RecordFiles() ([]string, error) {
	entries, err := os.ReadDir(b.DownloadBatchDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read batch dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if isRecordFile(e.Name()) {
			files = append(files, filepath.Join(b.DownloadBatchDir(), e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func isRecordFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xml", ".json":
		_, ok := ExtractORCID(name)
		return ok
	}
	return false
}

// ExistingRecords lists the identifiers already downloaded.
func (b *Batch) ExistingRecords() ([]string, error) {
	files, err := b.RecordFiles()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(files))
	for _, f := range files {
		id, _ := ExtractORCID(filepath.Base(f))
		ids = append(ids, id)
	}
	return ids, nil
}

// MissingRecords lists manifest identifiers that have not been downloaded.
func (b *Batch) MissingRecords() ([]string, error) {
	rows, err := ReadManifest(b.ManifestFile())
	if err != nil {
		return nil, err
	}
	existing, err := b.ExistingRecords()
	if err != nil {
		return nil, err
	}
	have := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		have[id] = struct{}{}
	}
	var missing []string
	for _, row := range rows {
		if _, ok := have[row.ORCID]; !ok {
			missing = append(missing, row.ORCID)
		}
	}
	return missing, nil
}
