package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestIndexName(t *testing.T) {
	tests := []struct {
		agg, subagg string
		want        string
		wantErr     bool
	}{
		{agg: "country", want: "ao-country"},
		{agg: "institution", subagg: "country", want: "ao-institution-country"},
		{agg: "Country", wantErr: true},
		{agg: "country", subagg: "../x", wantErr: true},
		{agg: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := IndexName(tt.agg, tt.subagg)
		if (err != nil) != tt.wantErr {
			t.Errorf("IndexName(%q, %q) error = %v, wantErr %v", tt.agg, tt.subagg, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("IndexName(%q, %q) = %q, want %q", tt.agg, tt.subagg, got, tt.want)
		}
	}
}

func TestOpenPIT(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/ao-country/_pit" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("keep_alive"); got != "1m" {
			t.Errorf("keep_alive = %q", got)
		}
		if user, pass, ok := r.BasicAuth(); !ok || user != "elastic" || pass != "secret" {
			t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
		w.Write([]byte(`{"id":"pit-123"}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Username: "elastic", Password: "secret"})
	if err != nil {
		t.Fatal(err)
	}
	pit, err := c.OpenPIT(context.Background(), "ao-country", "")
	if err != nil {
		t.Fatalf("OpenPIT() error = %v", err)
	}
	if pit.ID != "pit-123" || pit.KeepAlive != "1m" {
		t.Errorf("pit = %+v", pit)
	}
}

func TestSearchWithPIT(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_search" {
			t.Errorf("path = %s, want /_search", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Error(err)
			return
		}
		if body["size"] != float64(2) {
			t.Errorf("size = %v", body["size"])
		}
		if pit := body["pit"].(map[string]any); pit["id"] != "pit-1" {
			t.Errorf("pit = %v", pit)
		}
		if after := body["search_after"].([]any); len(after) != 1 || after[0] != float64(41) {
			t.Errorf("search_after = %v", after)
		}
		w.Write([]byte(`{"pit_id":"pit-2","hits":{"total":{"value":10},"hits":[
			{"_id":"a","_source":{"name":"A"},"sort":[42]},
			{"_id":"b","_source":{"name":"B"},"sort":[43]}]}}`))
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL})
	res, err := c.Search(context.Background(), Query{Index: "ao-country", Limit: 2, PITID: "pit-1", SearchAfter: []any{41}})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.Total != 10 || res.PITID != "pit-2" || len(res.Hits) != 2 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.SearchAfter) != 1 || res.SearchAfter[0] != float64(43) {
		t.Errorf("SearchAfter = %v, want [43]", res.SearchAfter)
	}
	if string(res.Hits[0].Source) != `{"name":"A"}` {
		t.Errorf("source = %s", res.Hits[0].Source)
	}
}

func TestSearchIndexQueryAndLimits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ao-country/_search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		qs := body["query"].(map[string]any)["query_string"].(map[string]any)
		if qs["query"] != "name:Netherlands" {
			t.Errorf("query = %v", qs)
		}
		if body["size"] != float64(DefaultLimit) {
			t.Errorf("size = %v, want default", body["size"])
		}
		w.Write([]byte(`{"hits":{"total":{"value":0},"hits":[]}}`))
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL})
	res, err := c.Search(context.Background(), Query{Index: "ao-country", Q: "name:Netherlands"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 0 || res.SearchAfter != nil {
		t.Errorf("result = %+v", res)
	}
	if _, err := c.Search(context.Background(), Query{Index: "ao-country", Limit: MaxLimit + 1}); err == nil {
		t.Error("expected error for limit above maximum")
	}
}

func TestRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"id":"pit"}`))
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL, RateLimit: 1000})
	if _, err := c.OpenPIT(context.Background(), "ao-x", ""); err != nil {
		t.Fatalf("OpenPIT() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"index_not_found_exception"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL})
	_, err := c.OpenPIT(context.Background(), "ao-missing", "")
	if !IsNotFound(err) {
		t.Errorf("error = %v, want not found", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}
