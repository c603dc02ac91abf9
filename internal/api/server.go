// Package api serves the REST facade over the search index, the warehouse
// and the dataset releases.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/bmkramer/academic-observatory-workflows/internal/database"
	"github.com/bmkramer/academic-observatory-workflows/internal/orcid"
	"github.com/bmkramer/academic-observatory-workflows/internal/search"
	"github.com/bmkramer/academic-observatory-workflows/internal/warehouse"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Searcher is the search index client.
type Searcher interface {
	OpenPIT(ctx context.Context, index, keepAlive string) (*search.PIT, error)
	Search(ctx context.Context, q search.Query) (*search.Result, error)
}

// RecordStore looks up warehouse records.
type RecordStore interface {
	GetRecord(ctx context.Context, table, orcid string) (*warehouse.Record, error)
}

// ReleaseLister lists dataset releases.
type ReleaseLister interface {
	ListDatasetReleases(ctx context.Context, workflowID, entityID string) ([]*database.DatasetRelease, error)
}

// Server holds the handlers' dependencies. Any of them may be nil, in which
// case the routes needing it answer 503.
type Server struct {
	search   Searcher
	records  RecordStore
	releases ReleaseLister
	table    string
}

// NewServer creates a Server reading records from table.
func NewServer(s Searcher, records RecordStore, releases ReleaseLister, table string) *Server {
	if table == "" {
		table = orcid.DefaultTables().Main
	}
	return &Server{search: s, records: records, releases: releases, table: table}
}

// Routes registers the API on a new mux. Everything except /health goes
// through protect.
func (s *Server) Routes(protect func(http.Handler) http.Handler) *http.ServeMux {
	if protect == nil {
		protect = func(h http.Handler) http.Handler { return h }
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)

	mux.Handle("GET /v1/{agg}/pit", protect(http.HandlerFunc(s.pit)))
	mux.Handle("GET /v1/{agg}/{subagg}/pit", protect(http.HandlerFunc(s.pit)))
	mux.Handle("GET /v1/{agg}/query", protect(http.HandlerFunc(s.query)))
	mux.Handle("GET /v1/{agg}/{subagg}/query", protect(http.HandlerFunc(s.query)))
	mux.Handle("GET /orcid/{orcid}", protect(http.HandlerFunc(s.record)))
	mux.Handle("GET /releases", protect(http.HandlerFunc(s.listReleases)))
	return mux
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

// =============================================================================
// SEARCH
// =============================================================================

func (s *Server) pit(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeError(w, http.StatusServiceUnavailable, "search is not configured")
		return
	}
	index, err := search.IndexName(r.PathValue("agg"), r.PathValue("subagg"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pit, err := s.search.OpenPIT(r.Context(), index, r.URL.Query().Get("keep_alive"))
	if err != nil {
		s.searchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pit)
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeError(w, http.StatusServiceUnavailable, "search is not configured")
		return
	}
	index, err := search.IndexName(r.PathValue("agg"), r.PathValue("subagg"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	params := r.URL.Query()
	q := search.Query{
		Index: index,
		Q:     params.Get("q"),
		Limit: search.DefaultLimit,
		PITID: params.Get("pit_id"),
	}
	if raw := params.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > search.MaxLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(search.MaxLimit))
			return
		}
		q.Limit = limit
	}
	if raw := params.Get("search_after"); raw != "" {
		if q.PITID == "" {
			writeError(w, http.StatusBadRequest, "search_after requires pit_id")
			return
		}
		if err := json.Unmarshal([]byte(raw), &q.SearchAfter); err != nil {
			writeError(w, http.StatusBadRequest, "search_after must be a JSON array")
			return
		}
	}

	res, err := s.search.Search(r.Context(), q)
	if err != nil {
		s.searchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) searchError(w http.ResponseWriter, err error) {
	if search.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "index not found")
		return
	}
	log.Printf("search error: %v", err)
	writeError(w, http.StatusBadGateway, "search backend error")
}

// =============================================================================
// WAREHOUSE AND RELEASES
// =============================================================================

func (s *Server) record(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, http.StatusServiceUnavailable, "warehouse is not configured")
		return
	}
	id, ok := orcid.ExtractORCID(r.PathValue("orcid"))
	if !ok || id != r.PathValue("orcid") {
		writeError(w, http.StatusBadRequest, "invalid ORCID iD")
		return
	}
	rec, err := s.records.GetRecord(r.Context(), s.table, id)
	if errors.Is(err, warehouse.ErrNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		log.Printf("warehouse error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load record")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) listReleases(w http.ResponseWriter, r *http.Request) {
	if s.releases == nil {
		writeError(w, http.StatusServiceUnavailable, "release store is not configured")
		return
	}
	workflowID := r.URL.Query().Get("workflow_id")
	if workflowID == "" {
		writeError(w, http.StatusBadRequest, "workflow_id is required")
		return
	}
	releases, err := s.releases.ListDatasetReleases(r.Context(), workflowID, r.URL.Query().Get("entity_id"))
	if err != nil {
		log.Printf("release store error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list releases")
		return
	}
	if releases == nil {
		releases = []*database.DatasetRelease{}
	}
	writeJSON(w, http.StatusOK, releases)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
