package ir

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AbsenceInput is one entry of resultPayload.absences after parsing.
type AbsenceInput struct {
	AbsenceKey       string
	AbsenceType      string
	Severity         *float64
	CapabilityNodeID *string
	Details          map[string]any
}

// severityLabels maps legacy severity labels onto the numeric scale.
var severityLabels = map[string]float64{
	"low":      1,
	"medium":   2,
	"high":     3,
	"critical": 4,
}

// CoerceSeverity converts a stored or submitted severity to its canonical
// numeric form. It accepts numbers, numeric strings and legacy labels.
// ok is false when v is present but not coercible; a nil v yields (nil, true).
func CoerceSeverity(v any) (sev *float64, ok bool) {
	var f float64
	switch val := v.(type) {
	case nil:
		return nil, true
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return nil, false
		}
		f = parsed
	case []byte:
		return CoerceSeverity(string(val))
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil, true
		}
		if label, found := severityLabels[strings.ToLower(s)]; found {
			f = label
			break
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, false
		}
		f = parsed
	default:
		return nil, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return &f, true
}

// Capability node id aliases in priority order. Legacy writers used
// camelCase or nested the value inside details.
var (
	capabilityNodeKeys       = []string{"capability_node_id", "capabilityNodeId"}
	nestedCapabilityNodeKeys = []string{"capability_node_id", "capabilityNodeId", "node_id", "nodeId"}
)

// ResolveCapabilityNodeID returns the first non-empty capability node id
// found in top (the entry or row) and then in details.
func ResolveCapabilityNodeID(top map[string]any, details map[string]any) *string {
	for _, k := range capabilityNodeKeys {
		if s, ok := nonEmptyString(top[k]); ok {
			return &s
		}
	}
	for _, k := range nestedCapabilityNodeKeys {
		if s, ok := nonEmptyString(details[k]); ok {
			return &s
		}
	}
	if node, ok := details["capability_node"].(map[string]any); ok {
		if s, ok := nonEmptyString(node["id"]); ok {
			return &s
		}
	}
	return nil
}

func nonEmptyString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// PayloadSummary returns resultPayload.summary, or an empty object when the
// payload carries none.
func PayloadSummary(payload map[string]any) (map[string]any, error) {
	raw, present := payload["summary"]
	if !present || raw == nil {
		return map[string]any{}, nil
	}
	summary, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("summary must be an object, got %T", raw)
	}
	return summary, nil
}

// PayloadAbsences parses resultPayload.absences. Each absence_key may
// appear at most once in a payload.
func PayloadAbsences(payload map[string]any) ([]AbsenceInput, error) {
	raw, present := payload["absences"]
	if !present || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("absences must be an array, got %T", raw)
	}

	out := make([]AbsenceInput, 0, len(list))
	seen := make(map[string]int, len(list))
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("absences[%d] must be an object, got %T", i, item)
		}
		a, err := parseAbsence(entry)
		if err != nil {
			return nil, fmt.Errorf("absences[%d]: %w", i, err)
		}
		if first, dup := seen[a.AbsenceKey]; dup {
			return nil, fmt.Errorf("absences[%d]: duplicate absence_key %q (first at absences[%d])", i, a.AbsenceKey, first)
		}
		seen[a.AbsenceKey] = i
		out = append(out, a)
	}
	return out, nil
}

func parseAbsence(entry map[string]any) (AbsenceInput, error) {
	key, ok := nonEmptyString(entry["absence_key"])
	if !ok {
		return AbsenceInput{}, fmt.Errorf("absence_key is required")
	}
	absenceType, _ := entry["absence_type"].(string)

	sev, ok := CoerceSeverity(entry["severity"])
	if !ok {
		return AbsenceInput{}, fmt.Errorf("severity %v is not numeric or a known label", entry["severity"])
	}

	details := map[string]any{}
	if raw, present := entry["details"]; present && raw != nil {
		d, ok := raw.(map[string]any)
		if !ok {
			return AbsenceInput{}, fmt.Errorf("details must be an object, got %T", raw)
		}
		details = d
	}

	return AbsenceInput{
		AbsenceKey:       key,
		AbsenceType:      absenceType,
		Severity:         sev,
		CapabilityNodeID: ResolveCapabilityNodeID(entry, details),
		Details:          details,
	}, nil
}
