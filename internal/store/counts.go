package store

import (
	"context"
	"regexp"

	"github.com/roach88/programhealth/internal/ir"
)

// Program Health owned tables.
const (
	TableCanonicalEvents = "canonical_events"
	TableLedger          = "program_health_ledger"
	TableSnapshots       = "program_health_snapshots"
	TableAbsences        = "program_health_absences"
)

// ProgramHealthTables lists the tables only the emission path may mutate.
var ProgramHealthTables = []string{
	TableCanonicalEvents,
	TableLedger,
	TableSnapshots,
	TableAbsences,
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// CountRows counts rows in table, restricted to programID when non-empty.
// The table must have a program_id column. A missing table yields a
// MISSING_SCHEMA_OBJECT error.
func (s *Store) CountRows(ctx context.Context, table, programID string) (int64, error) {
	const op = "countRows"

	if !identPattern.MatchString(table) {
		return 0, ir.InvalidArgument(op, "invalid table name %q", table)
	}

	query := `SELECT COUNT(*) FROM "` + table + `"`
	var args []any
	if programID != "" {
		query += " WHERE program_id = $1"
		args = append(args, programID)
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		if IsMissingTable(err) {
			return 0, ir.MissingSchemaObject(op, table, err)
		}
		return 0, classify(op, err)
	}
	return n, nil
}
