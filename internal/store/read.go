package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/programhealth/internal/ir"
)

const eventColumns = `id, seq, program_id, kind, sport, horizon, inputs_hash, payload_digest,
		result_payload, engine_version, scope_id, actor_user_id, created_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (ir.CanonicalEvent, error) {
	var (
		ev                   ir.CanonicalEvent
		sport, horizon       string
		payloadJSON, created string
		scopeID, actorUserID sql.NullString
	)
	if err := r.Scan(
		&ev.ID, &ev.Seq, &ev.ProgramID, &ev.Kind, &sport, &horizon, &ev.InputsHash,
		&ev.PayloadDigest, &payloadJSON, &ev.EngineVersion, &scopeID, &actorUserID, &created,
	); err != nil {
		return ir.CanonicalEvent{}, err
	}

	payload, err := unmarshalObject("result_payload", payloadJSON)
	if err != nil {
		return ir.CanonicalEvent{}, err
	}
	createdAt, err := parseTimestamp("created_at", created)
	if err != nil {
		return ir.CanonicalEvent{}, err
	}

	ev.Sport = ir.Sport(sport)
	ev.Horizon = ir.Horizon(horizon)
	ev.ResultPayload = payload
	ev.CreatedAt = createdAt
	if scopeID.Valid {
		ev.ScopeID = &scopeID.String
	}
	if actorUserID.Valid {
		ev.ActorUserID = &actorUserID.String
	}
	return ev, nil
}

// ListEvents returns canonical events for a program in append order.
// An empty programID lists every program. A limit <= 0 means no limit.
func (s *Store) ListEvents(ctx context.Context, programID string, limit int) ([]ir.CanonicalEvent, error) {
	const op = "listEvents"

	query := "SELECT " + eventColumns + " FROM canonical_events"
	var args []any
	if programID != "" {
		query += " WHERE program_id = $1"
		args = append(args, programID)
	}
	query += " ORDER BY seq ASC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	events := []ir.CanonicalEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return events, nil
}

// LedgerIDForEvent returns the ledger entry id for an accepted event.
func (s *Store) LedgerIDForEvent(ctx context.Context, eventID string) (string, error) {
	const op = "ledgerIdForEvent"

	id, ok, err := ledgerIDForEvent(ctx, s.db, eventID)
	if err != nil {
		return "", classify(op, err)
	}
	if !ok {
		return "", ir.NotFound(op, "no ledger entry for event %s", eventID)
	}
	return id, nil
}

func scanSnapshot(r rowScanner) (ir.Snapshot, error) {
	var (
		snap                 ir.Snapshot
		horizon              string
		payloadJSON, created string
	)
	if err := r.Scan(&snap.ID, &snap.ProgramID, &horizon, &snap.LedgerID, &payloadJSON, &created); err != nil {
		return ir.Snapshot{}, err
	}
	payload, err := unmarshalObject("payload", payloadJSON)
	if err != nil {
		return ir.Snapshot{}, err
	}
	createdAt, err := parseTimestamp("created_at", created)
	if err != nil {
		return ir.Snapshot{}, err
	}
	snap.Horizon = ir.Horizon(horizon)
	snap.Payload = payload
	snap.CreatedAt = createdAt
	return snap, nil
}

// LatestSnapshot returns the most recent snapshot for (program, horizon),
// or nil if none exists.
func (s *Store) LatestSnapshot(ctx context.Context, programID string, horizon ir.Horizon) (*ir.Snapshot, error) {
	history, err := s.SnapshotHistory(ctx, programID, horizon, 1)
	if err != nil {
		return nil, ir.WithOp("latestSnapshot", err)
	}
	if len(history) == 0 {
		return nil, nil
	}
	return &history[0], nil
}

// SnapshotHistory returns up to limit snapshots for (program, horizon),
// newest first.
func (s *Store) SnapshotHistory(ctx context.Context, programID string, horizon ir.Horizon, limit int) ([]ir.Snapshot, error) {
	const op = "snapshotHistory"

	if !horizon.Valid() {
		return nil, ir.InvalidArgument(op, "horizon %q is not one of H0, H1, H2, H3", horizon)
	}
	if limit <= 0 {
		return []ir.Snapshot{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, program_id, horizon, ledger_id, payload, created_at
		FROM program_health_snapshots
		WHERE program_id = $1 AND horizon = $2
		ORDER BY created_at DESC, seq DESC
		LIMIT $3
	`, programID, string(horizon), limit)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	snaps := []ir.Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return snaps, nil
}

// HasSnapshot reports whether any snapshot exists for the program.
func (s *Store) HasSnapshot(ctx context.Context, programID string) (bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM program_health_snapshots WHERE program_id = $1 LIMIT 1",
		programID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify("hasSnapshot", err)
	}
	return true, nil
}

// ListAbsenceRows returns the raw absence rows for a program, most recently
// updated first. Each row is keyed by column name; details is decoded when
// it holds a JSON object and left as text otherwise. Severity is returned as
// the driver produced it so legacy text values survive to the read model.
func (s *Store) ListAbsenceRows(ctx context.Context, programID string) ([]map[string]any, error) {
	const op = "listAbsences"

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, program_id, absence_key, absence_type, severity, capability_node_id,
		       details, ledger_id, updated_at
		FROM program_health_absences
		WHERE program_id = $1
		ORDER BY updated_at DESC, seq DESC
	`, programID)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		var (
			id, pid, key, absenceType string
			severity                  any
			nodeID                    sql.NullString
			details, ledgerID, ts     string
		)
		if err := rows.Scan(&id, &pid, &key, &absenceType, &severity, &nodeID, &details, &ledgerID, &ts); err != nil {
			return nil, classify(op, err)
		}

		row := map[string]any{
			"id":                 id,
			"program_id":         pid,
			"absence_key":        key,
			"absence_type":       absenceType,
			"severity":           severity,
			"capability_node_id": nil,
			"ledger_id":          ledgerID,
			"updated_at":         ts,
		}
		if nodeID.Valid {
			row["capability_node_id"] = nodeID.String
		}
		if parsed, err := unmarshalObject("details", details); err == nil {
			row["details"] = parsed
		} else {
			row["details"] = details
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

// ListActiveCapabilityNodes returns the active capability nodes of a program
// ordered by name.
func (s *Store) ListActiveCapabilityNodes(ctx context.Context, programID string) ([]ir.CapabilityNode, error) {
	const op = "listActiveCapabilityNodes"

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, program_id, name, is_active
		FROM capability_nodes
		WHERE program_id = $1 AND is_active = TRUE
		ORDER BY name ASC, id ASC
	`, programID)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	nodes := []ir.CapabilityNode{}
	for rows.Next() {
		var n ir.CapabilityNode
		if err := rows.Scan(&n.ID, &n.ProgramID, &n.Name, &n.IsActive); err != nil {
			return nil, classify(op, err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return nodes, nil
}
