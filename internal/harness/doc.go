// Package harness runs emission scenarios against a fresh Program Health
// store and checks the resulting projections.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	nodes:
//	  - id: node-1
//	    program_id: prog-1
//	    name: distance
//	    active: true
//	teams:
//	  - id: team-1
//	    program_id: prog-1
//	emissions:
//	  - program_id: prog-1
//	    sport: xc
//	    horizon: H1
//	    inputs_hash: h-1
//	    payload:
//	      summary: { label: first }
//	      absences:
//	        - { absence_key: "coverage:10k", severity: high }
//	    expect:
//	      outcome: accepted
//	      absences_upserted: 1
//	assertions:
//	  - type: latest_snapshot
//	    program_id: prog-1
//	    horizon: H1
//	    expect: { label: first }
//	  - type: absence
//	    program_id: prog-1
//	    absence_key: "coverage:10k"
//	    expect: { severity: 3 }
//	  - type: table_count
//	    table: canonical_events
//	    program_id: prog-1
//	    count: 1
//
// # Assertion Types
//
//   - latest_snapshot: subset match on the newest snapshot payload for a
//     horizon, or none: true to require that the horizon has no snapshot
//   - default_horizon: the horizon the view falls back to (empty for none)
//   - absence: subset match on the normalized absence determination
//   - table_count: exact row count for a table, optionally per program
//
// # Determinism
//
// Every run uses an in-memory SQLite database, a step clock and a sequence
// id generator, so the golden output is stable across runs. Golden files
// live in testdata/golden and are refreshed with:
//
//	go test ./internal/harness -update
package harness
