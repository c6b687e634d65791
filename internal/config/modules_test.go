package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/programhealth/internal/ir"
)

const modulesYAML = `
modules:
  m3:
    active: true
    default_eligibility: unknown
    require_snapshot: true
    programs:
      prog-1:
        eligibility: eligible
      prog-2:
        eligibility: ineligible
        reason_codes: [sport_not_supported]
`

func TestModulesLoader_Load(t *testing.T) {
	path := writeFile(t, "modules.yaml", modulesYAML)

	l, err := NewModulesLoader(path, nil)
	require.NoError(t, err)

	m3 := l.Modules().Module("m3")
	assert.True(t, m3.Active)
	assert.True(t, m3.RequireSnapshot)
	assert.Equal(t, ir.EligibilityUnknown, m3.DefaultEligibility)
	assert.Equal(t, ir.EligibilityEligible, m3.Programs["prog-1"].Eligibility)
	assert.Equal(t, []string{"sport_not_supported"}, m3.Programs["prog-2"].ReasonCodes)

	assert.False(t, l.Modules().Module("other").Active)
}

func TestModulesLoader_RejectsUnknownEligibility(t *testing.T) {
	path := writeFile(t, "modules.yaml", `
modules:
  m3:
    active: true
    programs:
      prog-1:
        eligibility: maybe
`)
	_, err := NewModulesLoader(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prog-1")
}

func TestModulesLoader_ReloadNotifies(t *testing.T) {
	path := writeFile(t, "modules.yaml", modulesYAML)
	l, err := NewModulesLoader(path, nil)
	require.NoError(t, err)

	var got *ModulesFile
	l.OnChange(func(mf *ModulesFile) { got = mf })

	require.NoError(t, os.WriteFile(path, []byte("modules:\n  m3:\n    active: false\n"), 0o644))
	mf, err := l.Reload()
	require.NoError(t, err)

	assert.Same(t, mf, got)
	assert.False(t, l.Modules().Module("m3").Active)
}

func TestModulesLoader_ReloadKeepsPreviousOnError(t *testing.T) {
	path := writeFile(t, "modules.yaml", modulesYAML)
	l, err := NewModulesLoader(path, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("modules: [broken"), 0o644))
	_, err = l.Reload()
	require.Error(t, err)
	assert.True(t, l.Modules().Module("m3").Active)
}

func TestModulesLoader_WatchHotReloads(t *testing.T) {
	path := writeFile(t, "modules.yaml", modulesYAML)
	l, err := NewModulesLoader(path, nil)
	require.NoError(t, err)

	var reloads atomic.Int32
	l.OnChange(func(*ModulesFile) { reloads.Add(1) })

	stop, err := l.Watch()
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("modules:\n  m3:\n    active: false\n"), 0o644))

	require.Eventually(t, func() bool {
		return !l.Modules().Module("m3").Active
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, reloads.Load(), int32(1))
}

func TestModulesLoader_WatchSurvivesRenameOnSave(t *testing.T) {
	path := writeFile(t, "modules.yaml", modulesYAML)
	dir := filepath.Dir(path)
	l, err := NewModulesLoader(path, nil)
	require.NoError(t, err)

	var reloads atomic.Int32
	l.OnChange(func(*ModulesFile) { reloads.Add(1) })

	stop, err := l.Watch()
	require.NoError(t, err)
	defer stop()

	// Other files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, reloads.Load())

	saveByRename := func(content string) {
		tmp := filepath.Join(dir, ".modules.yaml.swp")
		require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
		require.NoError(t, os.Rename(tmp, path))
	}

	saveByRename("modules:\n  m3:\n    active: false\n")
	require.Eventually(t, func() bool {
		return !l.Modules().Module("m3").Active
	}, 2*time.Second, 10*time.Millisecond)

	// The original inode is gone; a second save must still be seen.
	saveByRename("modules:\n  m3:\n    active: true\n    default_eligibility: eligible\n")
	require.Eventually(t, func() bool {
		m3 := l.Modules().Module("m3")
		return m3.Active && m3.DefaultEligibility == ir.EligibilityEligible
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStaticModules(t *testing.T) {
	l := StaticModules(&ModulesFile{Modules: map[string]ModuleSpec{"m3": {Active: true}}})
	assert.True(t, l.Modules().Module("m3").Active)

	mf, err := l.Reload()
	require.NoError(t, err)
	assert.Same(t, l.Modules(), mf)

	stop, err := l.Watch()
	require.NoError(t, err)
	stop()

	assert.False(t, StaticModules(nil).Modules().Module("m3").Active)
}
