package harness

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/programhealth/internal/ir"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

func (h *Harness) check(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertLatestSnapshot:
		return h.assertLatestSnapshot(ctx, a)
	case AssertDefaultHorizon:
		return h.assertDefaultHorizon(ctx, a)
	case AssertAbsence:
		return h.assertAbsence(ctx, a)
	case AssertTableCount:
		return h.assertTableCount(ctx, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func (h *Harness) assertLatestSnapshot(ctx context.Context, a Assertion) error {
	horizon, err := ir.ParseHorizon(a.Horizon)
	if err != nil {
		return err
	}
	snap, err := h.store.LatestSnapshot(ctx, a.ProgramID, horizon)
	if err != nil {
		return err
	}

	if a.None {
		if snap != nil {
			return &AssertionError{
				Type:     AssertLatestSnapshot,
				Expected: fmt.Sprintf("no %s snapshot for %s", horizon, a.ProgramID),
				Actual:   fmt.Sprintf("snapshot %s", snap.ID),
			}
		}
		return nil
	}
	if snap == nil {
		return &AssertionError{
			Type:     AssertLatestSnapshot,
			Expected: fmt.Sprintf("%s snapshot for %s", horizon, a.ProgramID),
			Actual:   "none",
		}
	}
	return subsetMatch(AssertLatestSnapshot, a.Expect, snap.Payload)
}

func (h *Harness) assertDefaultHorizon(ctx context.Context, a Assertion) error {
	view, err := h.views.ReadProgramHealthView(ctx, a.ProgramID)
	if err != nil {
		return err
	}
	actual := ""
	if view.SnapshotHorizon != nil {
		actual = string(*view.SnapshotHorizon)
	}
	if actual != a.Horizon {
		return &AssertionError{
			Type:     AssertDefaultHorizon,
			Expected: quoteOrNone(a.Horizon),
			Actual:   quoteOrNone(actual),
		}
	}
	return nil
}

func (h *Harness) assertAbsence(ctx context.Context, a Assertion) error {
	view, err := h.views.ReadProgramHealthView(ctx, a.ProgramID)
	if err != nil {
		return err
	}
	for _, abs := range view.Absences {
		if abs.AbsenceKey != a.AbsenceKey {
			continue
		}
		actual := map[string]any{
			"absence_type":       abs.AbsenceType,
			"severity":           abs.Severity,
			"capability_node_id": abs.CapabilityNodeID,
			"details":            abs.Details,
			"ledger_id":          abs.LedgerID,
		}
		return subsetMatch(AssertAbsence, a.Expect, actual)
	}
	return &AssertionError{
		Type:     AssertAbsence,
		Expected: fmt.Sprintf("absence %q for %s", a.AbsenceKey, a.ProgramID),
		Actual:   "not found",
	}
}

func (h *Harness) assertTableCount(ctx context.Context, a Assertion) error {
	n, err := h.store.CountRows(ctx, a.Table, a.ProgramID)
	if err != nil {
		return err
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertTableCount,
			Expected: fmt.Sprintf("%d rows in %s", a.Count, a.Table),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

// subsetMatch compares every expected key against actual by canonical
// JSON, so 3 matches 3.0 and nested maps compare structurally.
func subsetMatch(kind string, expected, actual map[string]any) error {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mismatches []string
	for _, k := range keys {
		want, err := ir.MarshalCanonical(expected[k])
		if err != nil {
			return fmt.Errorf("%s: expected %s: %w", kind, k, err)
		}
		got, err := ir.MarshalCanonical(actual[k])
		if err != nil {
			return fmt.Errorf("%s: actual %s: %w", kind, k, err)
		}
		if !bytes.Equal(want, got) {
			mismatches = append(mismatches, fmt.Sprintf("%s=%s (want %s)", k, got, want))
		}
	}
	if len(mismatches) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     kind,
		Expected: "matching fields",
		Actual:   strings.Join(mismatches, ", "),
	}
}

func quoteOrNone(s string) string {
	if s == "" {
		return "none"
	}
	return fmt.Sprintf("%q", s)
}
