package orcid

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// decodeXML converts an XML document into nested maps: attributes become
// "@name" keys, mixed text becomes "#text", repeated elements become
// slices, and text-only elements collapse to their string value. Element
// and attribute names keep only their local part; namespace declarations
// are dropped.
func decodeXML(r io.Reader) (map[string]any, error) {
	type frame struct {
		name  string
		value map[string]any
		text  strings.Builder
	}

	dec := xml.NewDecoder(r)
	var (
		stack []*frame
		root  map[string]any
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid XML: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if root != nil {
				return nil, fmt.Errorf("invalid XML: content after root element")
			}
			f := &frame{name: t.Name.Local, value: map[string]any{}}
			for _, attr := range t.Attr {
				if attr.Name.Space == "xmlns" || (attr.Name.Space == "" && attr.Name.Local == "xmlns") {
					continue
				}
				f.value["@"+attr.Name.Local] = attr.Value
			}
			stack = append(stack, f)
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		case xml.EndElement:
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			var v any
			text := strings.TrimSpace(f.text.String())
			switch {
			case len(f.value) > 0:
				if text != "" {
					f.value["#text"] = text
				}
				v = f.value
			case text != "":
				v = text
			}

			if len(stack) == 0 {
				root = map[string]any{f.name: v}
				continue
			}
			parent := stack[len(stack)-1].value
			switch existing := parent[f.name].(type) {
			case nil:
				if _, ok := parent[f.name]; ok {
					parent[f.name] = []any{nil, v}
				} else {
					parent[f.name] = v
				}
			case []any:
				parent[f.name] = append(existing, v)
			default:
				parent[f.name] = []any{existing, v}
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("invalid XML: no root element")
	}
	return root, nil
}

// normalizeKeys rewrites map keys recursively: any "prefix:" is dropped,
// leading "@" and "#" are removed and "-" becomes "_". When keys collapse to
// the same name an element beats "#text", which beats an attribute; within a
// rank the lexically smallest original key wins.
func normalizeKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			ri, rj := keyRank(keys[i]), keyRank(keys[j])
			if ri != rj {
				return ri < rj
			}
			return keys[i] < keys[j]
		})

		out := make(map[string]any, len(t))
		for _, k := range keys {
			nk := normalizeKey(k)
			if _, taken := out[nk]; taken {
				continue
			}
			out[nk] = normalizeKeys(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeKeys(val)
		}
		return out
	default:
		return v
	}
}

func keyRank(k string) int {
	switch {
	case strings.HasPrefix(k, "#"):
		return 1
	case strings.HasPrefix(k, "@"):
		return 2
	}
	return 0
}

func normalizeKey(k string) string {
	if i := strings.LastIndex(k, ":"); i >= 0 {
		k = k[i+1:]
	}
	k = strings.TrimLeft(k, "@#")
	return strings.ReplaceAll(k, "-", "_")
}
