package orcid

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrMissingSection means a payload has neither a record nor an error section.
	ErrMissingSection = errors.New("payload has no record or error section")
	// ErrIdentifierMismatch means the payload's ORCID differs from its filename.
	ErrIdentifierMismatch = errors.New("ORCID mismatch")
	// ErrInvalidFilename means no ORCID could be read from a record's filename.
	ErrInvalidFilename = errors.New("no ORCID in filename")
)

// Transformed is the result of transforming one record file. Exactly one of
// Record and Tombstone is set.
type Transformed struct {
	Record    map[string]any `json:"record,omitempty"`
	Tombstone string         `json:"tombstone,omitempty"`
}

// IsTombstone reports whether the record should be deleted.
func (t *Transformed) IsTombstone() bool {
	return t.Tombstone != ""
}

// ORCID returns the identifier of the transformed record.
func (t *Transformed) ORCID() string {
	if t.IsTombstone() {
		return t.Tombstone
	}
	return recordORCID(t.Record)
}

// TransformRecord reads an ORCID XML or JSON record file. Error payloads
// become tombstones carrying the identifier from the filename; record
// payloads are returned with normalised keys after checking their
// identifier against the filename.
func TransformRecord(file string) (*Transformed, error) {
	expected, ok := ExtractORCID(filepath.Base(file))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFilename, file)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return transformPayload(expected, file, data)
}

func transformPayload(expected, file string, data []byte) (*Transformed, error) {
	doc, err := parsePayload(file, data)
	if err != nil {
		return nil, err
	}

	if _, ok := doc["error"]; ok {
		return &Transformed{Tombstone: expected}, nil
	}
	raw, ok := doc["record"]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingSection, file)
	}
	record, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s has an empty record section", ErrMissingSection, file)
	}

	if actual := recordORCID(record); actual != expected {
		return nil, fmt.Errorf("%w: expected ORCID %s does not match ORCID in record %q", ErrIdentifierMismatch, expected, actual)
	}
	return &Transformed{Record: record}, nil
}

func parsePayload(file string, data []byte) (map[string]any, error) {
	var doc map[string]any
	switch strings.ToLower(filepath.Ext(file)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("invalid JSON in %s: %w", file, err)
		}
	default:
		parsed, err := decodeXML(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		doc = parsed
	}
	normalized, _ := normalizeKeys(doc).(map[string]any)
	return normalized, nil
}

func recordORCID(record map[string]any) string {
	ident, _ := record["orcid_identifier"].(map[string]any)
	path, _ := ident["path"].(string)
	return path
}
