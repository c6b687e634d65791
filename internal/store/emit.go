package store

import (
	"context"
	"fmt"

	"github.com/roach88/programhealth/internal/ir"
)

// Emit appends a canonical event and projects it in a single transaction.
//
// Resubmitting an accepted (program_id, kind, inputs_hash) with the same
// payload digest, sport, horizon and scope returns the original ids with
// Deduplicated set and writes nothing. Any difference fails with
// DIVERGENT_RESUBMISSION naming the fields that differ.
func (s *Store) Emit(ctx context.Context, in ir.CanonicalEventInput) (ir.EmitResult, error) {
	const op = "emit"

	var result ir.EmitResult
	err := s.WithTx(ctx, func(tx *Tx) error {
		ev, inserted, err := tx.AppendEvent(ctx, in)
		if err != nil {
			return err
		}

		if !inserted {
			return tx.resolveResubmission(ctx, ev, in, &result)
		}

		p, err := tx.Project(ctx, ev)
		if err != nil {
			return err
		}
		result = ir.EmitResult{
			CanonicalEventID: ev.ID,
			LedgerID:         p.LedgerID,
			AbsencesUpserted: p.AbsencesUpserted,
			SnapshotWritten:  p.SnapshotWritten,
		}
		return nil
	})
	if err != nil {
		return ir.EmitResult{}, ir.WithOp(op, err)
	}
	return result, nil
}

func (t *Tx) resolveResubmission(ctx context.Context, existing ir.CanonicalEvent, in ir.CanonicalEventInput, out *ir.EmitResult) error {
	const op = "resubmit"

	digest, err := ir.PayloadDigest(in.ResultPayload)
	if err != nil {
		return ir.InvalidArgument(op, "resultPayload: %v", err)
	}
	if diffs := divergence(existing, in, digest); len(diffs) > 0 {
		kerr := ir.DivergentResubmission(op, existing.ProgramID, existing.InputsHash, existing.ID)
		kerr.Details = diffs
		return kerr
	}

	ledgerID, ok, err := t.ledgerIDForEvent(ctx, existing.ID)
	if err != nil {
		return classify(op, err)
	}
	if !ok {
		return ir.ProjectionInvariant(op, "event %s has no ledger entry", existing.ID)
	}

	*out = ir.EmitResult{
		CanonicalEventID: existing.ID,
		LedgerID:         ledgerID,
		Deduplicated:     true,
	}
	return nil
}

// divergence lists the fields in which a resubmission differs from the
// accepted event. Kind and program are part of the lookup key.
func divergence(existing ir.CanonicalEvent, in ir.CanonicalEventInput, digest string) []string {
	var diffs []string
	if digest != existing.PayloadDigest {
		diffs = append(diffs, "resultPayload")
	}
	if in.Sport != existing.Sport {
		diffs = append(diffs, fmt.Sprintf("sport: %s != %s", in.Sport, existing.Sport))
	}
	if in.Horizon != existing.Horizon {
		diffs = append(diffs, fmt.Sprintf("horizon: %s != %s", in.Horizon, existing.Horizon))
	}
	if a, b := scopeOf(in.ScopeID), scopeOf(existing.ScopeID); a != b {
		diffs = append(diffs, fmt.Sprintf("scopeId: %s != %s", a, b))
	}
	return diffs
}

func scopeOf(id *string) string {
	if id == nil {
		return "<nil>"
	}
	return *id
}
