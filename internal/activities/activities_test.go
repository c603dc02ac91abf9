package activities

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/bmkramer/academic-observatory-workflows/internal/activities/activitiestest"
	"github.com/bmkramer/academic-observatory-workflows/internal/database"
	"github.com/bmkramer/academic-observatory-workflows/internal/orcid"
	"github.com/bmkramer/academic-observatory-workflows/internal/storage"
)

const recordsBucket = "orcid-records"

type harness struct {
	acts     *Activities
	store    *storage.LocalStore
	releases *activitiestest.ReleaseStore
	wh       *activitiestest.Warehouse
	dataDir  string
}

func newHarness(t *testing.T, source orcid.SourceStore) *harness {
	t.Helper()
	h := &harness{
		store:    storage.NewLocalStore(t.TempDir()),
		releases: activitiestest.NewReleaseStore(),
		wh:       activitiestest.NewWarehouse(),
		dataDir:  t.TempDir(),
	}
	if err := h.store.EnsureBucket(context.Background(), recordsBucket); err != nil {
		t.Fatal(err)
	}
	h.acts = NewActivities(h.releases, h.wh, h.store, source, Settings{
		DataDir:         h.dataDir,
		RecordsBucket:   recordsBucket,
		TransformBucket: "orcid-transform",
		SourceBucket:    "summaries",
		MaxWorkers:      2,
	})
	return h
}

func (h *harness) env() *testsuite.TestActivityEnvironment {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(h.acts)
	return env
}

// putRecord stores a copy of the valid fixture rewritten to carry id.
func (h *harness) putRecord(t *testing.T, batch, id, fixture string, modified time.Time) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "orcid", "testdata", fixture))
	if err != nil {
		t.Fatal(err)
	}
	if fixture == "0000-0001-5000-5000.xml" {
		data = bytes.ReplaceAll(data, []byte("0000-0001-5000-5000"), []byte(id))
	}
	key := batch + "/" + id + ".xml"
	if err := h.store.PutObject(context.Background(), recordsBucket, key, data); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(h.store.ObjectPath(recordsBucket, key), modified, modified); err != nil {
		t.Fatal(err)
	}
}

func date(d int) time.Time {
	return time.Date(2023, 6, d, 0, 0, 0, 0, time.UTC)
}

func TestFetchRelease(t *testing.T) {
	h := newHarness(t, nil)
	env := h.env()

	val, err := env.ExecuteActivity(h.acts.FetchRelease, FetchReleaseRequest{
		WorkflowID:      "orcid",
		RunID:           "run-1",
		DataIntervalEnd: date(8),
	})
	if err != nil {
		t.Fatalf("FetchRelease() error = %v", err)
	}
	var first orcid.Release
	if err := val.Get(&first); err != nil {
		t.Fatal(err)
	}
	if !first.IsFirstRun || !first.StartDate.Equal(date(1)) || first.Tables.Main != "orcid" {
		t.Errorf("first release = %+v", first)
	}

	_, _ = h.releases.AddDatasetRelease(context.Background(), &database.DatasetRelease{
		WorkflowID:        "orcid",
		EntityID:          orcid.EntityID,
		ChangefileEndDate: database.ToNullTime(date(8)),
		Extra:             database.JSONMap{orcid.LatestModifiedRecordKey: "2023-06-07T00:00:00Z"},
	})
	val, err = env.ExecuteActivity(h.acts.FetchRelease, FetchReleaseRequest{
		WorkflowID:      "orcid",
		RunID:           "run-2",
		DataIntervalEnd: date(15),
	})
	if err != nil {
		t.Fatalf("FetchRelease() error = %v", err)
	}
	var second orcid.Release
	if err := val.Get(&second); err != nil {
		t.Fatal(err)
	}
	if second.IsFirstRun || !second.StartDate.Equal(date(8)) || !second.PrevLatestModifiedRecord.Equal(date(7)) {
		t.Errorf("second release = %+v", second)
	}
}

func TestFetchReleaseMissingWatermarkIsNotRetried(t *testing.T) {
	h := newHarness(t, nil)
	_, _ = h.releases.AddDatasetRelease(context.Background(), &database.DatasetRelease{
		WorkflowID:        "orcid",
		EntityID:          orcid.EntityID,
		ChangefileEndDate: database.ToNullTime(date(8)),
	})

	_, err := h.env().ExecuteActivity(h.acts.FetchRelease, FetchReleaseRequest{WorkflowID: "orcid", RunID: "r", DataIntervalEnd: date(15)})
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) || !appErr.NonRetryable() {
		t.Errorf("error = %v, want non-retryable application error", err)
	}
}

func TestBatchPipeline(t *testing.T) {
	h := newHarness(t, nil)
	h.putRecord(t, "000", "0000-0001-5000-5000", "0000-0001-5000-5000.xml", date(2))
	h.putRecord(t, "000", "0000-0001-5007-2000", "0000-0001-5007-2000.xml", date(3))
	h.putRecord(t, "12X", "0000-0001-5000-612X", "0000-0001-5000-5000.xml", date(4))

	release, err := orcid.ComputeRelease("orcid", "run-1", date(1), date(8), nil, orcid.DefaultTables())
	if err != nil {
		t.Fatal(err)
	}
	req := RunRequest{Release: *release, Batches: []string{"000", "12X", "99X"}}
	env := h.env()

	if _, err := env.ExecuteActivity(h.acts.PrepareWarehouse, req); err != nil {
		t.Fatalf("PrepareWarehouse() error = %v", err)
	}

	val, err := env.ExecuteActivity(h.acts.CreateManifests, req)
	if err != nil {
		t.Fatalf("CreateManifests() error = %v", err)
	}
	var manifests ManifestResult
	if err := val.Get(&manifests); err != nil {
		t.Fatal(err)
	}
	if manifests.Batches != 3 || manifests.Records != 3 || len(manifests.NonEmpty) != 2 {
		t.Errorf("manifests = %+v", manifests)
	}

	val, err = env.ExecuteActivity(h.acts.LatestModifiedRecordDate, req)
	if err != nil {
		t.Fatal(err)
	}
	var latest time.Time
	if err := val.Get(&latest); err != nil {
		t.Fatal(err)
	}
	if !latest.Equal(date(4)) {
		t.Errorf("latest = %v, want %v", latest, date(4))
	}

	val, err = env.ExecuteActivity(h.acts.DownloadBatches, req)
	if err != nil {
		t.Fatalf("DownloadBatches() error = %v", err)
	}
	var downloads DownloadResult
	if err := val.Get(&downloads); err != nil {
		t.Fatal(err)
	}
	if downloads.Downloaded != 3 {
		t.Errorf("downloaded = %d, want 3", downloads.Downloaded)
	}

	val, err = env.ExecuteActivity(h.acts.TransformBatches, req)
	if err != nil {
		t.Fatalf("TransformBatches() error = %v", err)
	}
	var transformed TransformResult
	if err := val.Get(&transformed); err != nil {
		t.Fatal(err)
	}
	if transformed.Records != 2 || transformed.Tombstones != 1 || len(transformed.Batches) != 2 {
		t.Errorf("transformed = %+v", transformed)
	}

	val, err = env.ExecuteActivity(h.acts.UploadTransformed, req)
	if err != nil {
		t.Fatalf("UploadTransformed() error = %v", err)
	}
	var uploaded UploadResult
	if err := val.Get(&uploaded); err != nil {
		t.Fatal(err)
	}
	if uploaded.Files != 3 {
		t.Errorf("uploaded = %+v, want 3 files", uploaded)
	}
	if _, err := h.store.GetObject(context.Background(), "orcid-transform", "orcid/run-1/000_delete.parquet"); err != nil {
		t.Errorf("delete file not uploaded: %v", err)
	}

	val, err = env.ExecuteActivity(h.acts.LoadWarehouse, req)
	if err != nil {
		t.Fatalf("LoadWarehouse() error = %v", err)
	}
	var loaded LoadResult
	if err := val.Get(&loaded); err != nil {
		t.Fatal(err)
	}
	if loaded.Table != "orcid" || loaded.Records != 2 || loaded.Deletes != 0 {
		t.Errorf("loaded = %+v", loaded)
	}
	if got := h.wh.Records("orcid"); len(got) != 2 || got[0] != "0000-0001-5000-5000" || got[1] != "0000-0001-5000-612X" {
		t.Errorf("main table = %v", got)
	}

	// A retried first-run load replaces the rows it wrote before.
	val, err = env.ExecuteActivity(h.acts.LoadWarehouse, req)
	if err != nil {
		t.Fatalf("retried LoadWarehouse() error = %v", err)
	}
	if err := val.Get(&loaded); err != nil {
		t.Fatal(err)
	}
	if loaded.Records != 2 {
		t.Errorf("retried load = %+v, want 2 records", loaded)
	}
	if got := h.wh.Records("orcid"); len(got) != 2 {
		t.Errorf("main table after retry = %v", got)
	}

	if _, err := env.ExecuteActivity(h.acts.Cleanup, req); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(release.WorkflowDir(h.dataDir)); !os.IsNotExist(err) {
		t.Errorf("working dir still present: %v", err)
	}
}

func TestTransformBatchesInvalidRecord(t *testing.T) {
	h := newHarness(t, nil)
	h.putRecord(t, "000", "0000-0001-5011-1000", "0000-0001-5011-1000.xml", date(2))

	release, _ := orcid.ComputeRelease("orcid", "run-1", date(1), date(8), nil, orcid.DefaultTables())
	req := RunRequest{Release: *release, Batches: []string{"000"}}
	env := h.env()
	for _, step := range []any{h.acts.CreateManifests, h.acts.DownloadBatches} {
		if _, err := env.ExecuteActivity(step, req); err != nil {
			t.Fatal(err)
		}
	}

	_, err := env.ExecuteActivity(h.acts.TransformBatches, req)
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) || !appErr.NonRetryable() || appErr.Type() != "InvalidRecord" {
		t.Errorf("error = %v, want non-retryable InvalidRecord", err)
	}
}

func TestTransferRecords(t *testing.T) {
	source := storage.NewLocalStore(t.TempDir())
	ctx := context.Background()
	for key, mod := range map[string]time.Time{
		"000/0000-0001-5000-5000.xml": date(5),
		"000/0000-0001-5001-3000.xml": date(1),
	} {
		if err := source.PutObject(ctx, "summaries", key, []byte("<record/>")); err != nil {
			t.Fatal(err)
		}
		os.Chtimes(source.ObjectPath("summaries", key), mod, mod)
	}

	h := newHarness(t, source)
	release := orcid.Release{WorkflowID: "orcid", RunID: "r", PrevReleaseEnd: date(2)}
	val, err := h.env().ExecuteActivity(h.acts.TransferRecords, RunRequest{Release: release})
	if err != nil {
		t.Fatalf("TransferRecords() error = %v", err)
	}
	var res TransferResult
	if err := val.Get(&res); err != nil {
		t.Fatal(err)
	}
	if res.Skipped || res.Stats.Copied != 1 {
		t.Errorf("result = %+v", res)
	}

	h = newHarness(t, nil)
	val, err = h.env().ExecuteActivity(h.acts.TransferRecords, RunRequest{Release: release})
	if err != nil {
		t.Fatal(err)
	}
	if err := val.Get(&res); err != nil {
		t.Fatal(err)
	}
	if !res.Skipped {
		t.Error("transfer without a source should be skipped")
	}
}

func TestAddDatasetReleaseKeepsWatermarkWithoutChanges(t *testing.T) {
	h := newHarness(t, nil)
	release := orcid.Release{
		WorkflowID:               "orcid",
		RunID:                    "run-2",
		StartDate:                date(8),
		EndDate:                  date(15),
		PrevLatestModifiedRecord: date(7),
	}

	val, err := h.env().ExecuteActivity(h.acts.AddDatasetRelease, AddDatasetReleaseRequest{Release: release})
	if err != nil {
		t.Fatalf("AddDatasetRelease() error = %v", err)
	}
	var stored database.DatasetRelease
	if err := val.Get(&stored); err != nil {
		t.Fatal(err)
	}

	// A retry of the same run updates the release instead of adding another.
	val, err = h.env().ExecuteActivity(h.acts.AddDatasetRelease, AddDatasetReleaseRequest{Release: release})
	if err != nil {
		t.Fatalf("retried AddDatasetRelease() error = %v", err)
	}
	var retried database.DatasetRelease
	if err := val.Get(&retried); err != nil {
		t.Fatal(err)
	}
	if retried.ID != stored.ID {
		t.Errorf("retried id = %s, want %s", retried.ID, stored.ID)
	}

	all, _ := h.releases.ListDatasetReleases(context.Background(), "orcid", orcid.EntityID)
	if len(all) != 1 {
		t.Fatalf("releases = %d, want 1", len(all))
	}
	if got := all[0].Extra.String(orcid.LatestModifiedRecordKey); got != "2023-06-07T00:00:00Z" {
		t.Errorf("watermark = %q, want previous watermark", got)
	}
	if !all[0].ChangefileEndDate.Time.Equal(date(15)) {
		t.Errorf("changefile end = %v", all[0].ChangefileEndDate)
	}
}
