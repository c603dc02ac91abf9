package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
)

const (
	// DefaultKeepAlive is how long a point in time stays open between pages.
	DefaultKeepAlive = "1m"
	DefaultLimit     = 1000
	MaxLimit         = 10000
)

var aggPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// IndexName returns the index for an aggregation, "ao-<agg>" or
// "ao-<agg>-<subagg>".
func IndexName(agg, subagg string) (string, error) {
	if !aggPattern.MatchString(agg) {
		return "", fmt.Errorf("invalid aggregation %q", agg)
	}
	if subagg == "" {
		return "ao-" + agg, nil
	}
	if !aggPattern.MatchString(subagg) {
		return "", fmt.Errorf("invalid sub-aggregation %q", subagg)
	}
	return "ao-" + agg + "-" + subagg, nil
}

// PIT is an open point in time.
type PIT struct {
	ID        string `json:"pit_id"`
	KeepAlive string `json:"keep_alive"`
}

// OpenPIT opens a point in time on index.
func (c *Client) OpenPIT(ctx context.Context, index, keepAlive string) (*PIT, error) {
	if keepAlive == "" {
		keepAlive = DefaultKeepAlive
	}
	var resp struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, url.PathEscape(index)+"/_pit", url.Values{"keep_alive": {keepAlive}}, nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to open point in time on %s: %w", index, err)
	}
	return &PIT{ID: resp.ID, KeepAlive: keepAlive}, nil
}

// Query is one page request.
type Query struct {
	Index string
	// Q is a query_string expression; empty matches everything.
	Q           string
	Limit       int
	PITID       string
	SearchAfter []any
}

// Hit is one matching document.
type Hit struct {
	ID     string          `json:"id"`
	Source json.RawMessage `json:"source"`
	Sort   []any           `json:"sort,omitempty"`
}

// Result is a page of hits with the cursor for the next page.
type Result struct {
	Total       int64  `json:"total"`
	PITID       string `json:"pit_id,omitempty"`
	SearchAfter []any  `json:"search_after,omitempty"`
	Hits        []Hit  `json:"results"`
}

// Search runs q. With a point in time the request is made against _search
// without an index and sorted by _shard_doc so pages can be resumed with
// SearchAfter.
func (c *Client) Search(ctx context.Context, q Query) (*Result, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		return nil, fmt.Errorf("limit %d exceeds %d", limit, MaxLimit)
	}

	body := map[string]any{"size": limit}
	if q.Q != "" {
		body["query"] = map[string]any{"query_string": map[string]any{"query": q.Q}}
	} else {
		body["query"] = map[string]any{"match_all": map[string]any{}}
	}

	path := url.PathEscape(q.Index) + "/_search"
	if q.PITID != "" {
		path = "_search"
		body["pit"] = map[string]any{"id": q.PITID, "keep_alive": DefaultKeepAlive}
		body["sort"] = []any{map[string]any{"_shard_doc": "asc"}}
		if len(q.SearchAfter) > 0 {
			body["search_after"] = q.SearchAfter
		}
	}

	var resp struct {
		PITID string `json:"pit_id"`
		Hits  struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID     string          `json:"_id"`
				Source json.RawMessage `json:"_source"`
				Sort   []any           `json:"sort"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := c.do(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	res := &Result{Total: resp.Hits.Total.Value, PITID: resp.PITID, Hits: make([]Hit, 0, len(resp.Hits.Hits))}
	for _, h := range resp.Hits.Hits {
		res.Hits = append(res.Hits, Hit{ID: h.ID, Source: h.Source, Sort: h.Sort})
	}
	if n := len(res.Hits); n > 0 && q.PITID != "" {
		res.SearchAfter = res.Hits[n-1].Sort
	}
	return res, nil
}
