package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Diff compares two JSON objects field by field. A nil before yields every after field.
func Diff(before, after json.RawMessage) (map[string]FieldDiff, error) {
	prev, err := decodeObject(before)
	if err != nil {
		return nil, fmt.Errorf("audit: decode previous snapshot: %w", err)
	}
	next, err := decodeObject(after)
	if err != nil {
		return nil, fmt.Errorf("audit: decode snapshot: %w", err)
	}
	out := make(map[string]FieldDiff)
	for key, value := range next {
		old, ok := prev[key]
		if ok && bytes.Equal(old, value) {
			continue
		}
		out[key] = FieldDiff{Before: rawValue(old), After: rawValue(value)}
	}
	for key, old := range prev {
		if _, ok := next[key]; !ok {
			out[key] = FieldDiff{Before: rawValue(old), After: nil}
		}
	}
	return out, nil
}

func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	obj := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return obj, nil
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func rawValue(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
