package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/programhealth/internal/ir"
	"github.com/roach88/programhealth/internal/testutil"
)

// createTestStore creates a new file-backed store with a step clock and
// sequential ids.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	base := []Option{
		WithClock(testutil.NewStepClock().Now),
		WithIDGenerator(ir.NewSequenceGenerator("row")),
	}
	s, err := Open(path, append(base, opts...)...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
