// Package activitiestest provides in-memory release store and warehouse
// implementations for testing the ORCID activities and workflow.
package activitiestest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bmkramer/academic-observatory-workflows/internal/database"
	"github.com/bmkramer/academic-observatory-workflows/internal/warehouse"
)

// ReleaseStore keeps dataset releases in memory.
type ReleaseStore struct {
	mu       sync.Mutex
	releases []*database.DatasetRelease
	now      func() time.Time
}

// NewReleaseStore returns an empty store.
func NewReleaseStore() *ReleaseStore {
	return &ReleaseStore{now: time.Now}
}

// AddDatasetRelease stores a copy of release, replacing one with the same id.
func (s *ReleaseStore) AddDatasetRelease(ctx context.Context, release *database.DatasetRelease) (*database.DatasetRelease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *release
	if r.ID == "" {
		r.ID = database.ReleaseID(r.WorkflowID, r.EntityID, r.RunID, r.ChangefileEndDate.Time)
	}
	r.Modified = s.now()
	for i, existing := range s.releases {
		if existing.ID == r.ID {
			r.Created = existing.Created
			s.releases[i] = &r
			out := r
			return &out, nil
		}
	}
	r.Created = r.Modified
	s.releases = append(s.releases, &r)
	out := r
	return &out, nil
}

// ListDatasetReleases returns matching releases, latest changefile end first.
func (s *ReleaseStore) ListDatasetReleases(ctx context.Context, workflowID, entityID string) ([]*database.DatasetRelease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.DatasetRelease
	for _, r := range s.releases {
		if r.WorkflowID == workflowID && (entityID == "" || r.EntityID == entityID) {
			c := *r
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ChangefileEndDate.Time.After(out[j].ChangefileEndDate.Time)
	})
	return out, nil
}

// Warehouse is an in-memory table store with the same semantics as the
// PostgreSQL warehouse.
type Warehouse struct {
	mu        sync.Mutex
	records   map[string]map[string]warehouse.Record
	deletes   map[string][]string
	Snapshots map[string]map[string]warehouse.Record
}

// NewWarehouse returns an empty warehouse.
func NewWarehouse() *Warehouse {
	return &Warehouse{
		records:   map[string]map[string]warehouse.Record{},
		deletes:   map[string][]string{},
		Snapshots: map[string]map[string]warehouse.Record{},
	}
}

func (w *Warehouse) EnsureSchema(ctx context.Context) error { return nil }

func (w *Warehouse) EnsureRecordTable(ctx context.Context, table string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.records[table]; !ok {
		w.records[table] = map[string]warehouse.Record{}
	}
	return nil
}

func (w *Warehouse) EnsureDeleteTable(ctx context.Context, table string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.deletes[table]; !ok {
		w.deletes[table] = []string{}
	}
	return nil
}

func (w *Warehouse) TruncateTable(ctx context.Context, table string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.records[table]; ok {
		w.records[table] = map[string]warehouse.Record{}
		return nil
	}
	if _, ok := w.deletes[table]; ok {
		w.deletes[table] = []string{}
		return nil
	}
	return fmt.Errorf("table %s does not exist", table)
}

func (w *Warehouse) LoadRecords(ctx context.Context, table string, records []warehouse.Record) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.records[table]
	if !ok {
		return 0, fmt.Errorf("table %s does not exist", table)
	}
	for _, r := range records {
		if _, dup := t[r.ORCID]; dup {
			return 0, fmt.Errorf("duplicate key %s in %s", r.ORCID, table)
		}
		t[r.ORCID] = r
	}
	return int64(len(records)), nil
}

func (w *Warehouse) LoadDeletes(ctx context.Context, table string, ids []string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.deletes[table]; !ok {
		return 0, fmt.Errorf("table %s does not exist", table)
	}
	w.deletes[table] = append(w.deletes[table], ids...)
	return int64(len(ids)), nil
}

func (w *Warehouse) MergeUpserts(ctx context.Context, main, upsert string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.records[main]; !ok {
		return 0, fmt.Errorf("table %s does not exist", main)
	}
	for id, r := range w.records[upsert] {
		w.records[main][id] = r
	}
	return int64(len(w.records[upsert])), nil
}

func (w *Warehouse) DeleteRecords(ctx context.Context, main, deletes string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var n int64
	for _, id := range w.deletes[deletes] {
		if _, ok := w.records[main][id]; ok {
			delete(w.records[main], id)
			n++
		}
	}
	return n, nil
}

func (w *Warehouse) Snapshot(ctx context.Context, main string, date time.Time) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	name := warehouse.SnapshotName(main, date)
	copied := make(map[string]warehouse.Record, len(w.records[main]))
	for id, r := range w.records[main] {
		copied[id] = r
	}
	w.Snapshots[name] = copied
	return name, nil
}

// Records returns the ORCIDs in table, sorted.
func (w *Warehouse) Records(table string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.records[table]))
	for id := range w.records[table] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Deletes returns the ids staged in a delete table.
func (w *Warehouse) Deletes(table string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.deletes[table]...)
}
