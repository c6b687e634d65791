package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/programhealth/internal/ir"
)

// Scenario is a sequence of emissions against one fresh store, followed by
// assertions on the projected state.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Nodes and Teams are seeded before any emission.
	Nodes []NodeSeed `yaml:"nodes,omitempty"`
	Teams []TeamSeed `yaml:"teams,omitempty"`

	// Emissions run in order through the emission gateway.
	Emissions []EmissionStep `yaml:"emissions"`

	// Assertions run after the last emission.
	Assertions []Assertion `yaml:"assertions"`
}

// NodeSeed is a capability node written before the flow.
type NodeSeed struct {
	ID        string `yaml:"id"`
	ProgramID string `yaml:"program_id"`
	Name      string `yaml:"name"`
	Active    bool   `yaml:"active"`
}

// TeamSeed maps a team to its program.
type TeamSeed struct {
	ID        string `yaml:"id"`
	ProgramID string `yaml:"program_id"`
}

// EmissionStep is one producer emission.
type EmissionStep struct {
	ProgramID  string         `yaml:"program_id"`
	Sport      string         `yaml:"sport"`
	Horizon    string         `yaml:"horizon"`
	InputsHash string         `yaml:"inputs_hash"`
	Kind       string         `yaml:"kind,omitempty"`
	Payload    map[string]any `yaml:"payload"`

	// Expect is checked against the gateway result. Nil means the
	// emission must be accepted.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause describes the expected gateway outcome.
type ExpectClause struct {
	// Outcome is accepted, deduplicated or rejected.
	Outcome string `yaml:"outcome"`

	// Code is the expected error code when Outcome is rejected.
	Code string `yaml:"code,omitempty"`

	// AbsencesUpserted, when set, must equal the reported upsert count.
	AbsencesUpserted *int `yaml:"absences_upserted,omitempty"`
}

// Outcome names.
const (
	OutcomeAccepted     = "accepted"
	OutcomeDeduplicated = "deduplicated"
	OutcomeRejected     = "rejected"
)

// Assertion checks the final state.
type Assertion struct {
	Type string `yaml:"type"`

	ProgramID  string         `yaml:"program_id,omitempty"`
	Horizon    string         `yaml:"horizon,omitempty"`
	AbsenceKey string         `yaml:"absence_key,omitempty"`
	Table      string         `yaml:"table,omitempty"`
	Count      int64          `yaml:"count,omitempty"`
	None       bool           `yaml:"none,omitempty"`
	Expect     map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertLatestSnapshot = "latest_snapshot"
	AssertDefaultHorizon = "default_horizon"
	AssertAbsence        = "absence"
	AssertTableCount     = "table_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
// Emission contents are not checked here; malformed emissions are a
// legitimate thing to assert a rejection for.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Emissions) == 0 {
		return fmt.Errorf("emissions list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, n := range s.Nodes {
		if n.ID == "" || n.ProgramID == "" {
			return fmt.Errorf("nodes[%d]: id and program_id are required", i)
		}
	}

	for i, team := range s.Teams {
		if team.ID == "" || team.ProgramID == "" {
			return fmt.Errorf("teams[%d]: id and program_id are required", i)
		}
	}

	for i, step := range s.Emissions {
		if step.Expect == nil {
			continue
		}
		switch step.Expect.Outcome {
		case OutcomeAccepted, OutcomeDeduplicated:
			if step.Expect.Code != "" {
				return fmt.Errorf("emissions[%d].expect: code is only valid for rejected", i)
			}
		case OutcomeRejected:
		default:
			return fmt.Errorf("emissions[%d].expect: unknown outcome %q", i, step.Expect.Outcome)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertLatestSnapshot:
		if a.ProgramID == "" {
			return fmt.Errorf("assertions[%d]: program_id is required for latest_snapshot", index)
		}
		if _, err := ir.ParseHorizon(a.Horizon); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.None && len(a.Expect) > 0 {
			return fmt.Errorf("assertions[%d]: none and expect are mutually exclusive", index)
		}
		if !a.None && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or none is required for latest_snapshot", index)
		}
	case AssertDefaultHorizon:
		if a.ProgramID == "" {
			return fmt.Errorf("assertions[%d]: program_id is required for default_horizon", index)
		}
		if a.Horizon != "" {
			if _, err := ir.ParseHorizon(a.Horizon); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertAbsence:
		if a.ProgramID == "" || a.AbsenceKey == "" {
			return fmt.Errorf("assertions[%d]: program_id and absence_key are required for absence", index)
		}
	case AssertTableCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for table_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for table_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
