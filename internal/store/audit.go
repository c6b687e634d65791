package store

import (
	"context"
	"fmt"

	"github.com/roach88/programhealth/internal/ir"
)

// AuditReport summarizes projection consistency for one program.
type AuditReport struct {
	ProgramID string   `json:"programId"`
	Events    int64    `json:"events"`
	Ledger    int64    `json:"ledger"`
	Snapshots int64    `json:"snapshots"`
	Absences  int64    `json:"absences"`
	Findings  []string `json:"findings"`
	OK        bool     `json:"ok"`
}

// Err returns a PROJECTION_INVARIANT_VIOLATION carrying the findings, or nil.
func (r AuditReport) Err() error {
	if r.OK {
		return nil
	}
	return &ir.KernelError{
		Code:    ir.ErrCodeProjectionInvariant,
		Op:      "audit",
		Message: fmt.Sprintf("program %s has %d projection finding(s)", r.ProgramID, len(r.Findings)),
		Details: r.Findings,
	}
}

// AuditProgram checks that every accepted event has exactly one ledger
// entry and one snapshot, that projections reference existing ledger
// entries, and that stored payloads still match their digests.
func (s *Store) AuditProgram(ctx context.Context, programID string) (AuditReport, error) {
	const op = "audit"

	report := AuditReport{ProgramID: programID, Findings: []string{}}

	counts := []struct {
		table string
		dst   *int64
	}{
		{TableCanonicalEvents, &report.Events},
		{TableLedger, &report.Ledger},
		{TableSnapshots, &report.Snapshots},
		{TableAbsences, &report.Absences},
	}
	for _, c := range counts {
		n, err := s.CountRows(ctx, c.table, programID)
		if err != nil {
			return AuditReport{}, ir.WithOp(op, err)
		}
		*c.dst = n
	}

	checks := []struct {
		query   string
		finding string
	}{
		{
			query: `SELECT e.id FROM canonical_events e
				LEFT JOIN program_health_ledger l ON l.canonical_event_id = e.id
				WHERE e.program_id = $1 AND l.id IS NULL
				ORDER BY e.seq`,
			finding: "event %s has no ledger entry",
		},
		{
			query: `SELECT l.id FROM program_health_ledger l
				LEFT JOIN program_health_snapshots sn ON sn.ledger_id = l.id
				WHERE l.program_id = $1 AND sn.id IS NULL
				ORDER BY l.seq`,
			finding: "ledger entry %s has no snapshot",
		},
		{
			query: `SELECT sn.id FROM program_health_snapshots sn
				LEFT JOIN program_health_ledger l ON l.id = sn.ledger_id
				WHERE sn.program_id = $1 AND l.id IS NULL
				ORDER BY sn.seq`,
			finding: "snapshot %s references a missing ledger entry",
		},
		{
			query: `SELECT a.absence_key FROM program_health_absences a
				LEFT JOIN program_health_ledger l ON l.id = a.ledger_id
				WHERE a.program_id = $1 AND l.id IS NULL
				ORDER BY a.absence_key`,
			finding: "absence %s references a missing ledger entry",
		},
	}
	for _, c := range checks {
		ids, err := s.queryStrings(ctx, c.query, programID)
		if err != nil {
			return AuditReport{}, classify(op, err)
		}
		for _, id := range ids {
			report.Findings = append(report.Findings, fmt.Sprintf(c.finding, id))
		}
	}

	digestFindings, err := s.auditDigests(ctx, programID)
	if err != nil {
		return AuditReport{}, classify(op, err)
	}
	report.Findings = append(report.Findings, digestFindings...)

	report.OK = len(report.Findings) == 0
	return report, nil
}

// auditDigests recomputes each stored payload digest.
func (s *Store) auditDigests(ctx context.Context, programID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload_digest, result_payload
		FROM canonical_events
		WHERE program_id = $1
		ORDER BY seq ASC
	`, programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []string
	for rows.Next() {
		var id, digest, payloadJSON string
		if err := rows.Scan(&id, &digest, &payloadJSON); err != nil {
			return nil, err
		}
		payload, err := unmarshalExact("result_payload", payloadJSON)
		if err != nil {
			findings = append(findings, fmt.Sprintf("event %s payload is unreadable: %v", id, err))
			continue
		}
		actual, err := ir.PayloadDigest(payload)
		if err != nil || actual != digest {
			findings = append(findings, fmt.Sprintf("event %s payload digest mismatch", id))
		}
	}
	return findings, rows.Err()
}

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
