// Package ir provides the canonical types shared by every Program Health
// kernel package.
//
// This package contains type definitions, the error taxonomy, canonical JSON
// and content digests. All other internal packages import ir; ir imports
// nothing internal. This keeps ir the foundational layer with no circular
// dependencies.
//
// Key design constraints:
//   - Every snapshot and absence is scoped to exactly one Horizon
//   - Canonical events are immutable once accepted
//   - Severity is a nullable float64 at every boundary
//   - All JSON tags use camelCase to match the emission wire format
//   - Timestamps are UTC and persisted in a fixed-width layout (TimeLayout)
package ir
