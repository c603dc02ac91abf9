package orcid

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bmkramer/academic-observatory-workflows/internal/storage"
)

func putObjects(t *testing.T, store *storage.LocalStore, bucket string, objects map[string]time.Time) {
	t.Helper()
	ctx := context.Background()
	if err := store.EnsureBucket(ctx, bucket); err != nil {
		t.Fatal(err)
	}
	for key, mod := range objects {
		if err := store.PutObject(ctx, bucket, key, []byte("<record/>")); err != nil {
			t.Fatalf("PutObject(%s): %v", key, err)
		}
		if err := os.Chtimes(store.ObjectPath(bucket, key), mod, mod); err != nil {
			t.Fatal(err)
		}
	}
}

func day(d int) time.Time {
	return time.Date(2023, 6, d, 0, 0, 0, 0, time.UTC)
}

func TestCreateBatchManifest(t *testing.T) {
	ctx := context.Background()
	store := storage.NewLocalStore(t.TempDir())
	putObjects(t, store, "orcid-records", map[string]time.Time{
		"12X/0000-0001-5000-512X.xml":                day(1),
		"12X/0000-0001-5000-612X.xml":                day(3),
		"12X/0000-0001-5000-712X.xml":                day(2),
		"12X/0000-0001-5000-912X.xml":                day(2),
		"12X/README":                                 day(5),
		"somewhere_else/12X/0000-0001-5000-812X.xml": day(4),
	})

	dir := t.TempDir()
	batch, _ := NewBatch(filepath.Join(dir, "download"), filepath.Join(dir, "transform"), "12X")

	n, err := CreateBatchManifest(ctx, store, batch, "orcid-records", day(1))
	if err != nil {
		t.Fatalf("CreateBatchManifest() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("CreateBatchManifest() = %d rows, want 3", n)
	}

	rows, err := ReadManifest(batch.ManifestFile())
	if err != nil {
		t.Fatal(err)
	}
	want := []ManifestRow{
		{BucketName: "orcid-records", BlobName: "12X/0000-0001-5000-712X.xml", ORCID: "0000-0001-5000-712X", Updated: day(2)},
		{BucketName: "orcid-records", BlobName: "12X/0000-0001-5000-912X.xml", ORCID: "0000-0001-5000-912X", Updated: day(2)},
		{BucketName: "orcid-records", BlobName: "12X/0000-0001-5000-612X.xml", ORCID: "0000-0001-5000-612X", Updated: day(3)},
	}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d: %+v", len(rows), len(want), rows)
	}
	for i := range want {
		if rows[i].BucketName != want[i].BucketName || rows[i].BlobName != want[i].BlobName ||
			rows[i].ORCID != want[i].ORCID || !rows[i].Updated.Equal(want[i].Updated) {
			t.Errorf("row %d = %+v, want %+v", i, rows[i], want[i])
		}
	}
}

func TestCreateBatchManifestEmpty(t *testing.T) {
	ctx := context.Background()
	store := storage.NewLocalStore(t.TempDir())
	putObjects(t, store, "orcid-records", map[string]time.Time{
		"000/0000-0001-5000-5000.xml": day(1),
	})

	dir := t.TempDir()
	batch, _ := NewBatch(dir, dir, "000")
	n, err := CreateBatchManifest(ctx, store, batch, "orcid-records", day(1))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("rows = %d, want 0", n)
	}
	data, err := os.ReadFile(batch.ManifestFile())
	if err != nil {
		t.Fatalf("manifest not written: %v", err)
	}
	if string(data) != "bucket_name,blob_name,orcid,updated\n" {
		t.Errorf("manifest = %q, want header only", data)
	}
	rows, err := ReadManifest(batch.ManifestFile())
	if err != nil || len(rows) != 0 {
		t.Errorf("ReadManifest() = %v, %v", rows, err)
	}
}

func TestCreateBatchManifestMissingBucket(t *testing.T) {
	batch, _ := NewBatch(t.TempDir(), t.TempDir(), "000")
	_, err := CreateBatchManifest(context.Background(), storage.NewLocalStore(t.TempDir()), batch, "nope", Epoch)
	if !storage.IsNotFound(err) {
		t.Errorf("error = %v, want bucket not found", err)
	}
}

func TestLatestModifiedRecordDate(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "000_manifest.csv")
	b := filepath.Join(dir, "001_manifest.csv")
	c := filepath.Join(dir, "002_manifest.csv")
	latest := time.Date(2023, 6, 3, 10, 11, 12, 345000000, time.UTC)

	if err := WriteManifest(a, []ManifestRow{{BlobName: "000/x", ORCID: "0000-0001-5000-5000", Updated: day(2)}}); err != nil {
		t.Fatal(err)
	}
	if err := WriteManifest(b, []ManifestRow{
		{BlobName: "001/y", ORCID: "0000-0001-5000-5001", Updated: day(1)},
		{BlobName: "001/z", ORCID: "0000-0001-5000-6001", Updated: latest},
	}); err != nil {
		t.Fatal(err)
	}
	if err := WriteManifest(c, nil); err != nil {
		t.Fatal(err)
	}

	got, err := LatestModifiedRecordDate(a, b, c)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(latest) {
		t.Errorf("LatestModifiedRecordDate() = %v, want %v", got, latest)
	}

	empty, err := LatestModifiedRecordDate(c)
	if err != nil || !empty.IsZero() {
		t.Errorf("empty manifests = %v, %v; want zero time", empty, err)
	}

	if _, err := LatestModifiedRecordDate(filepath.Join(dir, "missing.csv")); err == nil {
		t.Error("expected error for missing manifest")
	}
}

func TestCreateBatchManifestSkipsNonRecordFiles(t *testing.T) {
	ctx := context.Background()
	store := storage.NewLocalStore(t.TempDir())
	putObjects(t, store, "orcid-records", map[string]time.Time{
		"000/0000-0001-5000-5000.xml":     day(2),
		"000/0000-0001-5000-5000.xml.bak": day(3),
		"000/0000-0001-5001-3000.xml.tmp": day(3),
		"000/0000-0001-5002-1000":         day(3),
	})

	dir := t.TempDir()
	batch, _ := NewBatch(filepath.Join(dir, "download"), filepath.Join(dir, "transform"), "000")
	n, err := CreateBatchManifest(ctx, store, batch, "orcid-records", Epoch)
	if err != nil {
		t.Fatalf("CreateBatchManifest() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("CreateBatchManifest() = %d rows, want 1", n)
	}

	if _, err := DownloadBatch(ctx, store, batch, 2); err != nil {
		t.Fatalf("DownloadBatch() error = %v", err)
	}
	missing, err := batch.MissingRecords()
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 0 {
		t.Errorf("MissingRecords() = %v, want none", missing)
	}
}
