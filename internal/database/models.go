package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DatasetRelease records one completed run of a workflow for an entity.
type DatasetRelease struct {
	ID                  string       `json:"id"`
	WorkflowID          string       `json:"workflowId"`
	EntityID            string       `json:"entityId"`
	RunID               string       `json:"runId"`
	Created             time.Time    `json:"created"`
	Modified            time.Time    `json:"modified"`
	ChangefileStartDate sql.NullTime `json:"-"`
	ChangefileEndDate   sql.NullTime `json:"-"`
	SnapshotDate        sql.NullTime `json:"-"`
	Extra               JSONMap      `json:"extra"`
}

// MarshalJSON renders nullable dates as RFC 3339 strings or null.
func (r DatasetRelease) MarshalJSON() ([]byte, error) {
	type plain DatasetRelease
	return json.Marshal(struct {
		plain
		ChangefileStartDate *time.Time `json:"changefileStartDate"`
		ChangefileEndDate   *time.Time `json:"changefileEndDate"`
		SnapshotDate        *time.Time `json:"snapshotDate"`
	}{
		plain:               plain(r),
		ChangefileStartDate: nullTimePtr(r.ChangefileStartDate),
		ChangefileEndDate:   nullTimePtr(r.ChangefileEndDate),
		SnapshotDate:        nullTimePtr(r.SnapshotDate),
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *DatasetRelease) UnmarshalJSON(data []byte) error {
	type plain DatasetRelease
	var aux struct {
		plain
		ChangefileStartDate *time.Time `json:"changefileStartDate"`
		ChangefileEndDate   *time.Time `json:"changefileEndDate"`
		SnapshotDate        *time.Time `json:"snapshotDate"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = DatasetRelease(aux.plain)
	r.ChangefileStartDate = fromTimePtr(aux.ChangefileStartDate)
	r.ChangefileEndDate = fromTimePtr(aux.ChangefileEndDate)
	r.SnapshotDate = fromTimePtr(aux.SnapshotDate)
	return nil
}

func fromTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// JSONMap is a jsonb column decoded into a map.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = JSONMap{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported jsonb source %T", src)
	}
	out := JSONMap{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to decode jsonb: %w", err)
	}
	*m = out
	return nil
}

// String returns the string value stored under key, or "".
func (m JSONMap) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// ToNullTime creates a NullTime from a time.
func ToNullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
