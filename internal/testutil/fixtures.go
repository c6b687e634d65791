package testutil

import "github.com/roach88/programhealth/internal/ir"

// Emission builds a valid cross-country emission input for tests.
// The payload carries a summary naming the horizon plus any absences.
func Emission(programID string, horizon ir.Horizon, inputsHash string, absences ...map[string]any) ir.CanonicalEventInput {
	list := make([]any, 0, len(absences))
	for _, a := range absences {
		list = append(list, a)
	}
	return ir.CanonicalEventInput{
		ProgramID:  programID,
		Kind:       ir.DefaultEventKind,
		Sport:      ir.SportCrossCountry,
		Horizon:    horizon,
		InputsHash: inputsHash,
		ResultPayload: map[string]any{
			"summary": map[string]any{
				"horizon": string(horizon),
				"label":   inputsHash,
			},
			"absences": list,
		},
		EngineVersion: ir.EngineVersion,
	}
}

// Absence builds one resultPayload.absences entry.
func Absence(key, absenceType string, severity any) map[string]any {
	return map[string]any{
		"absence_key":  key,
		"absence_type": absenceType,
		"severity":     severity,
		"details":      map[string]any{},
	}
}
