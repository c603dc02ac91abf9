package database

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestJSONMapScan(t *testing.T) {
	tests := []struct {
		name    string
		src     any
		want    string
		wantErr bool
	}{
		{name: "bytes", src: []byte(`{"latest_modified_record_date":"2023-06-03T00:00:00Z"}`), want: "2023-06-03T00:00:00Z"},
		{name: "string", src: `{"latest_modified_record_date":"x"}`, want: "x"},
		{name: "null", src: nil, want: ""},
		{name: "invalid", src: []byte(`{`), wantErr: true},
		{name: "unsupported", src: 42, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m JSONMap
			err := m.Scan(tt.src)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Scan() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got := m.String("latest_modified_record_date"); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJSONMapValue(t *testing.T) {
	v, err := JSONMap(nil).Value()
	if err != nil || string(v.([]byte)) != "{}" {
		t.Errorf("nil map Value() = %v, %v", v, err)
	}
	v, err = JSONMap{"a": 1}.Value()
	if err != nil || string(v.([]byte)) != `{"a":1}` {
		t.Errorf("Value() = %s, %v", v, err)
	}
}

func TestDatasetReleaseJSON(t *testing.T) {
	end := time.Date(2023, 6, 4, 0, 0, 0, 0, time.UTC)
	r := DatasetRelease{
		ID:                "r1",
		WorkflowID:        "orcid",
		EntityID:          "orcid",
		ChangefileEndDate: ToNullTime(end),
		Extra:             JSONMap{"latest_modified_record_date": "2023-06-03T00:00:00Z"},
	}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	for _, want := range []string{`"changefileEndDate":"2023-06-04T00:00:00Z"`, `"changefileStartDate":null`, `"workflowId":"orcid"`} {
		if !strings.Contains(s, want) {
			t.Errorf("JSON %s missing %s", s, want)
		}
	}

	var back DatasetRelease
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !back.ChangefileEndDate.Valid || !back.ChangefileEndDate.Time.Equal(end) || back.ChangefileStartDate.Valid {
		t.Errorf("decoded dates = %+v / %+v", back.ChangefileStartDate, back.ChangefileEndDate)
	}
	if back.Extra.String("latest_modified_record_date") != "2023-06-03T00:00:00Z" {
		t.Errorf("decoded extra = %v", back.Extra)
	}
}

func TestToNullTime(t *testing.T) {
	if ToNullTime(time.Time{}).Valid {
		t.Error("zero time should be null")
	}
	if !ToNullTime(time.Now()).Valid {
		t.Error("non-zero time should be valid")
	}
}
