package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/programhealth/internal/ir"
)

// marshalObject serializes an object column to canonical JSON text.
func marshalObject(field string, v map[string]any) (string, error) {
	if v == nil {
		v = map[string]any{}
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", field, err)
	}
	return string(data), nil
}

// unmarshalObject parses an object column. Empty text yields an empty map.
func unmarshalObject(field, text string) (map[string]any, error) {
	if text == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", field, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// unmarshalExact parses an object column keeping numbers as json.Number so
// the canonical form (and its digest) can be reproduced exactly.
func unmarshalExact(field, text string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", field, err)
	}
	return out, nil
}

// parseTimestamp parses a TimeLayout column value.
func parseTimestamp(field, text string) (time.Time, error) {
	t, err := ir.ParseTime(text)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", field, err)
	}
	return t, nil
}
