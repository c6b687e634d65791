package m3

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/programhealth/internal/ir"
	"github.com/roach88/programhealth/internal/rationale"
	"github.com/roach88/programhealth/internal/store"
)

// ImpactsTable is the M3-owned table. Program Health never writes it.
const ImpactsTable = "m3_impacts"

const impactsSchema = `
CREATE TABLE IF NOT EXISTS m3_impacts (
	id                 TEXT PRIMARY KEY,
	program_id         TEXT NOT NULL,
	recruit_id         TEXT NOT NULL,
	capability_node_id TEXT NOT NULL,
	horizon            TEXT NOT NULL,
	impact_score       DOUBLE PRECISION NOT NULL,
	cohort_tier        TEXT NOT NULL,
	rationale          TEXT NOT NULL,
	inputs_hash        TEXT NOT NULL,
	created_at         TEXT NOT NULL,
	UNIQUE (program_id, recruit_id, capability_node_id, horizon, inputs_hash)
);
CREATE INDEX IF NOT EXISTS idx_m3_impacts_program ON m3_impacts(program_id, horizon, created_at);
`

// Migrate creates the impacts table. It is separate from the Program Health
// schema so a kernel database can exist without it.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, impactsSchema); err != nil {
		return fmt.Errorf("migrate %s: %w", ImpactsTable, err)
	}
	return nil
}

// ImpactStore persists accepted impact records.
type ImpactStore struct {
	db        *sql.DB
	now       func() time.Time
	ids       ir.IDGenerator
	rationale rationale.Options
}

// ImpactOption configures an ImpactStore.
type ImpactOption func(*ImpactStore)

// WithImpactClock overrides the clock used for created_at.
func WithImpactClock(now func() time.Time) ImpactOption {
	return func(s *ImpactStore) { s.now = now }
}

// WithImpactIDs overrides the id generator.
func WithImpactIDs(g ir.IDGenerator) ImpactOption {
	return func(s *ImpactStore) { s.ids = g }
}

// WithRationaleOptions sets the contract options applied on insert.
func WithRationaleOptions(opts rationale.Options) ImpactOption {
	return func(s *ImpactStore) { s.rationale = opts }
}

// NewImpactStore creates an impact store over db.
func NewImpactStore(db *sql.DB, opts ...ImpactOption) *ImpactStore {
	s := &ImpactStore{db: db, now: time.Now, ids: ir.UUIDv7Generator{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert accepts one impact record. The rationale must satisfy the contract
// before anything is written. Re-inserting the same record for the same
// inputs hash is a no-op and reports inserted=false.
func (s *ImpactStore) Insert(ctx context.Context, rec ir.ImpactRecord) (ir.ImpactRecord, bool, error) {
	const op = "insertImpact"

	if err := validateImpact(op, rec); err != nil {
		return ir.ImpactRecord{}, false, err
	}
	if err := rationale.AssertValidM3Rationale(rec.Rationale, s.rationale); err != nil {
		return ir.ImpactRecord{}, false, err
	}

	rec.ID = s.ids.Generate()
	rec.CreatedAt = s.now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO m3_impacts
			(id, program_id, recruit_id, capability_node_id, horizon, impact_score,
			 cohort_tier, rationale, inputs_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (program_id, recruit_id, capability_node_id, horizon, inputs_hash) DO NOTHING
	`, rec.ID, rec.ProgramID, rec.RecruitID, rec.CapabilityNodeID, string(rec.Horizon),
		rec.ImpactScore, rec.CohortTier, rec.Rationale, rec.InputsHash, ir.FormatTime(rec.CreatedAt))
	if err != nil {
		return ir.ImpactRecord{}, false, classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ir.ImpactRecord{}, false, ir.StorageUnavailable(op, err)
	}
	if n > 0 {
		return rec, true, nil
	}

	var createdAt string
	err = s.db.QueryRowContext(ctx, `
		SELECT id, created_at FROM m3_impacts
		WHERE program_id = $1 AND recruit_id = $2 AND capability_node_id = $3
		  AND horizon = $4 AND inputs_hash = $5
	`, rec.ProgramID, rec.RecruitID, rec.CapabilityNodeID, string(rec.Horizon), rec.InputsHash).Scan(&rec.ID, &createdAt)
	if err != nil {
		return ir.ImpactRecord{}, false, classify(op, err)
	}
	if rec.CreatedAt, err = ir.ParseTime(createdAt); err != nil {
		return ir.ImpactRecord{}, false, ir.StorageUnavailable(op, fmt.Errorf("created_at: %w", err))
	}
	return rec, false, nil
}

// List returns a program's impacts, newest first, optionally for one horizon.
func (s *ImpactStore) List(ctx context.Context, programID string, horizon *ir.Horizon) ([]ir.ImpactRecord, error) {
	const op = "listImpacts"

	query := `
		SELECT id, program_id, recruit_id, capability_node_id, horizon, impact_score,
		       cohort_tier, rationale, inputs_hash, created_at
		FROM m3_impacts
		WHERE program_id = $1`
	args := []any{programID}
	if horizon != nil {
		if !horizon.Valid() {
			return nil, ir.InvalidArgument(op, "invalid horizon %q", *horizon)
		}
		query += ` AND horizon = $2`
		args = append(args, string(*horizon))
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	out := []ir.ImpactRecord{}
	for rows.Next() {
		var (
			rec          ir.ImpactRecord
			horizonText  string
			createdAtRaw string
		)
		if err := rows.Scan(&rec.ID, &rec.ProgramID, &rec.RecruitID, &rec.CapabilityNodeID,
			&horizonText, &rec.ImpactScore, &rec.CohortTier, &rec.Rationale, &rec.InputsHash, &createdAtRaw); err != nil {
			return nil, classify(op, err)
		}
		rec.Horizon = ir.Horizon(horizonText)
		if rec.CreatedAt, err = ir.ParseTime(createdAtRaw); err != nil {
			return nil, ir.StorageUnavailable(op, fmt.Errorf("created_at: %w", err))
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

func validateImpact(op string, rec ir.ImpactRecord) error {
	switch {
	case rec.ProgramID == "":
		return ir.InvalidArgument(op, "programId is required")
	case rec.RecruitID == "":
		return ir.InvalidArgument(op, "recruitId is required")
	case rec.CapabilityNodeID == "":
		return ir.InvalidArgument(op, "capabilityNodeId is required")
	case !rec.Horizon.Valid():
		return ir.InvalidArgument(op, "invalid horizon %q", rec.Horizon)
	case rec.ImpactScore < 0 || rec.ImpactScore > 1:
		return ir.InvalidArgument(op, "impactScore %v is outside [0, 1]", rec.ImpactScore)
	case rec.InputsHash == "":
		return ir.InvalidArgument(op, "inputsHash is required")
	}
	return nil
}

func classify(op string, err error) error {
	if store.IsMissingTable(err) {
		return ir.MissingSchemaObject(op, ImpactsTable, err)
	}
	return ir.StorageUnavailable(op, err)
}
