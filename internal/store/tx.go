package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/programhealth/internal/ir"
)

// emitLockKey is the Postgres advisory lock taken by every emission
// transaction so seq assignment and projection never interleave.
const emitLockKey int64 = 0x5048_4b45 // "PHKE"

// Tx is a store transaction. All writes made through one Tx commit or roll
// back together.
type Tx struct {
	s  *Store
	tx *sql.Tx
}

// WithTx runs fn inside a transaction. The transaction commits only if fn
// returns nil; any error (or panic) rolls it back.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.StorageUnavailable("beginTx", err)
	}
	// Rollback after a successful Commit is a no-op.
	defer sqlTx.Rollback()

	tx := &Tx{s: s, tx: sqlTx}
	if s.driver == DriverPostgres {
		if _, err := sqlTx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", emitLockKey); err != nil {
			return ir.StorageUnavailable("lock", err)
		}
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return ir.StorageUnavailable("commit", err)
	}
	return nil
}

// AppendEvent appends a canonical event. If an event with the same
// (program_id, kind, inputs_hash) already exists, the existing event is
// returned with inserted=false and nothing is written.
func (t *Tx) AppendEvent(ctx context.Context, in ir.CanonicalEventInput) (ir.CanonicalEvent, bool, error) {
	const op = "appendEvent"

	in, err := normalizeInput(op, in)
	if err != nil {
		return ir.CanonicalEvent{}, false, err
	}

	digest, err := ir.PayloadDigest(in.ResultPayload)
	if err != nil {
		return ir.CanonicalEvent{}, false, ir.InvalidArgument(op, "resultPayload: %v", err)
	}
	payloadJSON, err := marshalObject("result_payload", in.ResultPayload)
	if err != nil {
		return ir.CanonicalEvent{}, false, ir.InvalidArgument(op, "%v", err)
	}

	var seq int64
	if err := t.tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM canonical_events",
	).Scan(&seq); err != nil {
		return ir.CanonicalEvent{}, false, classify(op, err)
	}

	now := t.s.now()
	ev := ir.CanonicalEvent{
		ID:            t.s.ids.Generate(),
		Seq:           seq,
		ProgramID:     in.ProgramID,
		Kind:          in.Kind,
		Sport:         in.Sport,
		Horizon:       in.Horizon,
		InputsHash:    in.InputsHash,
		PayloadDigest: digest,
		ResultPayload: in.ResultPayload,
		EngineVersion: in.EngineVersion,
		ScopeID:       in.ScopeID,
		ActorUserID:   in.ActorUserID,
		CreatedAt:     now.UTC(),
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO canonical_events
		(id, seq, program_id, kind, sport, horizon, inputs_hash, payload_digest,
		 result_payload, engine_version, scope_id, actor_user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (program_id, kind, inputs_hash) DO NOTHING
	`,
		ev.ID,
		ev.Seq,
		ev.ProgramID,
		ev.Kind,
		string(ev.Sport),
		string(ev.Horizon),
		ev.InputsHash,
		ev.PayloadDigest,
		payloadJSON,
		ev.EngineVersion,
		ev.ScopeID,
		ev.ActorUserID,
		ir.FormatTime(now),
	)
	if err != nil {
		return ir.CanonicalEvent{}, false, classify(op, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return ir.CanonicalEvent{}, false, classify(op, err)
	}
	if rows > 0 {
		return ev, true, nil
	}

	existing, err := t.eventByKey(ctx, in.ProgramID, in.Kind, in.InputsHash)
	if err != nil {
		return ir.CanonicalEvent{}, false, classify(op, err)
	}
	return existing, false, nil
}

// Project writes the ledger entry, the horizon snapshot and the absence
// upserts for an appended event.
func (t *Tx) Project(ctx context.Context, ev ir.CanonicalEvent) (ir.Projection, error) {
	const op = "project"

	summary, err := ir.PayloadSummary(ev.ResultPayload)
	if err != nil {
		return ir.Projection{}, ir.InvalidArgument(op, "resultPayload: %v", err)
	}
	absences, err := ir.PayloadAbsences(ev.ResultPayload)
	if err != nil {
		return ir.Projection{}, ir.InvalidArgument(op, "resultPayload: %v", err)
	}

	if existing, ok, err := t.ledgerIDForEvent(ctx, ev.ID); err != nil {
		return ir.Projection{}, classify(op, err)
	} else if ok {
		return ir.Projection{}, ir.ProjectionInvariant(op, "event %s is already projected as ledger entry %s", ev.ID, existing)
	}

	ts := t.s.timestamp()
	ledgerID := t.s.ids.Generate()
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO program_health_ledger (id, canonical_event_id, program_id, seq, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ledgerID, ev.ID, ev.ProgramID, ev.Seq, ts); err != nil {
		return ir.Projection{}, classify(op, err)
	}

	summaryJSON, err := marshalObject("summary", summary)
	if err != nil {
		return ir.Projection{}, ir.InvalidArgument(op, "%v", err)
	}
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO program_health_snapshots (id, program_id, horizon, ledger_id, seq, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.s.ids.Generate(), ev.ProgramID, string(ev.Horizon), ledgerID, ev.Seq, summaryJSON, ts); err != nil {
		return ir.Projection{}, classify(op, err)
	}

	for _, a := range absences {
		if err := t.upsertAbsence(ctx, ev, ledgerID, ts, a); err != nil {
			return ir.Projection{}, err
		}
	}

	return ir.Projection{
		LedgerID:         ledgerID,
		AbsencesUpserted: len(absences),
		SnapshotWritten:  true,
	}, nil
}

func (t *Tx) upsertAbsence(ctx context.Context, ev ir.CanonicalEvent, ledgerID, ts string, a ir.AbsenceInput) error {
	const op = "upsertAbsence"

	if strings.TrimSpace(a.AbsenceKey) == "" {
		return ir.InvalidArgument(op, "absence_key is required")
	}
	detailsJSON, err := marshalObject("details", a.Details)
	if err != nil {
		return ir.InvalidArgument(op, "%v", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO program_health_absences
		(id, program_id, absence_key, absence_type, severity, capability_node_id,
		 details, ledger_id, seq, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (program_id, absence_key) DO UPDATE SET
			absence_type = excluded.absence_type,
			severity = excluded.severity,
			capability_node_id = excluded.capability_node_id,
			details = excluded.details,
			ledger_id = excluded.ledger_id,
			seq = excluded.seq,
			updated_at = excluded.updated_at
	`,
		t.s.ids.Generate(),
		ev.ProgramID,
		a.AbsenceKey,
		a.AbsenceType,
		a.Severity,
		a.CapabilityNodeID,
		detailsJSON,
		ledgerID,
		ev.Seq,
		ts,
	)
	if err != nil {
		return classify(op, fmt.Errorf("absence %s: %w", a.AbsenceKey, err))
	}
	return nil
}

func (t *Tx) eventByKey(ctx context.Context, programID, kind, inputsHash string) (ir.CanonicalEvent, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM canonical_events
		WHERE program_id = $1 AND kind = $2 AND inputs_hash = $3
	`, programID, kind, inputsHash)
	return scanEvent(row)
}

func (t *Tx) ledgerIDForEvent(ctx context.Context, eventID string) (string, bool, error) {
	return ledgerIDForEvent(ctx, t.tx, eventID)
}

func ledgerIDForEvent(ctx context.Context, q queryer, eventID string) (string, bool, error) {
	var id string
	err := q.QueryRowContext(ctx,
		"SELECT id FROM program_health_ledger WHERE canonical_event_id = $1",
		eventID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// normalizeInput validates an append request and fills defaults.
func normalizeInput(op string, in ir.CanonicalEventInput) (ir.CanonicalEventInput, error) {
	in.ProgramID = strings.TrimSpace(in.ProgramID)
	in.InputsHash = strings.TrimSpace(in.InputsHash)
	in.Kind = strings.TrimSpace(in.Kind)

	if in.ProgramID == "" {
		return in, ir.InvalidArgument(op, "programId is required")
	}
	if in.InputsHash == "" {
		return in, ir.InvalidArgument(op, "inputsHash is required")
	}
	if !in.Horizon.Valid() {
		return in, ir.InvalidArgument(op, "horizon %q is not one of H0, H1, H2, H3", in.Horizon)
	}
	if !in.Sport.Valid() {
		return in, ir.InvalidArgument(op, "sport %q is not one of xc, tf", in.Sport)
	}
	if in.ResultPayload == nil {
		return in, ir.InvalidArgument(op, "resultPayload is required")
	}
	if in.Kind == "" {
		in.Kind = ir.DefaultEventKind
	}
	if in.EngineVersion == "" {
		in.EngineVersion = ir.EngineVersion
	}
	return in, nil
}
