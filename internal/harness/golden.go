package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/programhealth/internal/ir"
)

// Snapshot is the golden form of a scenario run.
type Snapshot struct {
	ScenarioName string                  `json:"scenario_name"`
	Pass         bool                    `json:"pass"`
	Steps        []StepResult            `json:"steps"`
	Programs     map[string]ProgramState `json:"programs"`
}

// CanonicalSnapshot renders result as canonical JSON for golden comparison.
func CanonicalSnapshot(name string, result *Result) ([]byte, error) {
	return ir.MarshalCanonical(Snapshot{
		ScenarioName: name,
		Pass:         result.Pass,
		Steps:        result.Steps,
		Programs:     result.Programs,
	})
}

// RunWithGolden executes a scenario and compares its outcome against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := CanonicalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
