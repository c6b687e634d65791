package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/roach88/programhealth/internal/ir"
)

// The capability graph and team tables belong to collaborating modules.
// These writers exist for seeding and tests; the kernel only reads them.

// PutCapabilityNode inserts or replaces a capability node.
func (s *Store) PutCapabilityNode(ctx context.Context, n ir.CapabilityNode) error {
	const op = "putCapabilityNode"

	if strings.TrimSpace(n.ID) == "" || strings.TrimSpace(n.ProgramID) == "" {
		return ir.InvalidArgument(op, "capability node id and programId are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO capability_nodes (id, program_id, name, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			program_id = excluded.program_id,
			name = excluded.name,
			is_active = excluded.is_active
	`, n.ID, n.ProgramID, n.Name, n.IsActive)
	if err != nil {
		return classify(op, err)
	}
	return nil
}

// PutTeam inserts or replaces a team to program mapping.
func (s *Store) PutTeam(ctx context.Context, teamID, programID string) error {
	const op = "putTeam"

	if strings.TrimSpace(teamID) == "" || strings.TrimSpace(programID) == "" {
		return ir.InvalidArgument(op, "teamId and programId are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO teams (id, program_id)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET program_id = excluded.program_id
	`, teamID, programID)
	if err != nil {
		return classify(op, err)
	}
	return nil
}

// ResolveTeamProgram returns the program a team belongs to.
func (s *Store) ResolveTeamProgram(ctx context.Context, teamID string) (string, error) {
	const op = "resolveTeamProgram"

	var programID string
	err := s.db.QueryRowContext(ctx, "SELECT program_id FROM teams WHERE id = $1", teamID).Scan(&programID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ir.NotFound(op, "team %s not found", teamID)
	}
	if err != nil {
		return "", classify(op, err)
	}
	return programID, nil
}
