package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/programhealth/internal/ir"
)

func TestEmission_PayloadParses(t *testing.T) {
	in := Emission("prog-1", ir.H2, "hash-a", Absence("k1", "coverage", 3), Absence("k2", "depth", "low"))

	assert.Equal(t, ir.H2, in.Horizon)
	assert.Equal(t, ir.DefaultEventKind, in.Kind)

	absences, err := ir.PayloadAbsences(in.ResultPayload)
	require.NoError(t, err)
	require.Len(t, absences, 2)
	assert.Equal(t, "k1", absences[0].AbsenceKey)
	assert.Equal(t, 1.0, *absences[1].Severity)

	summary, err := ir.PayloadSummary(in.ResultPayload)
	require.NoError(t, err)
	assert.Equal(t, "H2", summary["horizon"])
}
