package readmodel

import (
	"encoding/json"
	"time"

	"github.com/roach88/programhealth/internal/ir"
)

// NormalizeAbsence maps a raw absence row onto the canonical shape.
//
// Legacy writers stored the capability node id under different names and
// sometimes only inside details, and wrote severity as labels or numeric
// text. This adapter tries each known location in priority order and never
// mutates stored data. A severity that cannot be coerced becomes nil.
func NormalizeAbsence(row map[string]any) ir.AbsenceDetermination {
	details := detailsOf(row["details"])
	sev, ok := ir.CoerceSeverity(row["severity"])
	if !ok {
		sev = nil
	}

	return ir.AbsenceDetermination{
		ID:               firstString(row, "id"),
		ProgramID:        firstString(row, "program_id", "programId"),
		AbsenceKey:       firstString(row, "absence_key", "absenceKey"),
		AbsenceType:      firstString(row, "absence_type", "absenceType"),
		Severity:         sev,
		CapabilityNodeID: ir.ResolveCapabilityNodeID(row, details),
		Details:          details,
		LedgerID:         firstString(row, "ledger_id", "ledgerId"),
		UpdatedAt:        timeOf(firstString(row, "updated_at", "updatedAt")),
	}
}

func firstString(row map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := row[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// detailsOf accepts a decoded object or JSON object text.
func detailsOf(v any) map[string]any {
	switch d := v.(type) {
	case map[string]any:
		return d
	case string:
		var out map[string]any
		if json.Unmarshal([]byte(d), &out) == nil && out != nil {
			return out
		}
	case []byte:
		return detailsOf(string(d))
	}
	return map[string]any{}
}

func timeOf(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := ir.ParseTime(s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
