package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/roach88/programhealth/internal/ir"
)

// ModulesFile is the YAML activation and eligibility source for auxiliary
// modules, keyed by runtime key.
type ModulesFile struct {
	Modules map[string]ModuleSpec `yaml:"modules"`
}

// ModuleSpec is the activation posture of one module.
type ModuleSpec struct {
	Active             bool                          `yaml:"active"`
	DefaultEligibility ir.EligibilityStatus          `yaml:"default_eligibility"` // for unlisted programs; empty = unknown
	DefaultReasonCodes []string                      `yaml:"default_reason_codes"`
	RequireSnapshot    bool                          `yaml:"require_snapshot"` // ineligible until Program Health has a snapshot
	Programs           map[string]ProgramEligibility `yaml:"programs"`
}

// ProgramEligibility is a per-program override.
type ProgramEligibility struct {
	Active      *bool                `yaml:"active"`
	Eligibility ir.EligibilityStatus `yaml:"eligibility"`
	ReasonCodes []string             `yaml:"reason_codes"`
}

// Module returns the settings for key, or the zero (inactive) ModuleSpec.
func (f *ModulesFile) Module(key string) ModuleSpec {
	if f == nil {
		return ModuleSpec{}
	}
	return f.Modules[key]
}

func (f *ModulesFile) validate() error {
	for key, m := range f.Modules {
		if m.DefaultEligibility != "" && !m.DefaultEligibility.Valid() {
			return fmt.Errorf("modules.%s.default_eligibility %q is not eligible, ineligible or unknown", key, m.DefaultEligibility)
		}
		for pid, p := range m.Programs {
			if p.Eligibility != "" && !p.Eligibility.Valid() {
				return fmt.Errorf("modules.%s.programs.%s.eligibility %q is not eligible, ineligible or unknown", key, pid, p.Eligibility)
			}
		}
	}
	return nil
}

// ModulesLoader reads a modules file and watches it for changes.
type ModulesLoader struct {
	path     string
	logger   *slog.Logger
	mu       sync.RWMutex
	current  *ModulesFile
	onChange []func(*ModulesFile)
}

// NewModulesLoader creates a loader and performs the initial load.
func NewModulesLoader(path string, logger *slog.Logger) (*ModulesLoader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &ModulesLoader{path: path, logger: logger}
	mf, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = mf
	return l, nil
}

// StaticModules wraps an in-memory modules file. Reload and Watch are no-ops.
func StaticModules(mf *ModulesFile) *ModulesLoader {
	if mf == nil {
		mf = &ModulesFile{}
	}
	return &ModulesLoader{current: mf, logger: slog.Default()}
}

// Modules returns the current (latest) modules file.
func (l *ModulesLoader) Modules() *ModulesFile {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked whenever the file reloads.
func (l *ModulesLoader) OnChange(fn func(*ModulesFile)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the file on changes.
// The parent directory is watched rather than the file itself, so editors
// that save by renaming a temp file over the original keep being picked up.
// A file that fails to parse is logged and the previous contents are kept.
// Call the returned stop function to clean up.
func (l *ModulesLoader) Watch() (stop func(), err error) {
	if l.path == "" {
		return func() {}, nil
	}

	target := filepath.Clean(l.path)
	dir := filepath.Dir(target)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("modules watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("modules watcher add %s: %w", dir, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				// A rename onto the path arrives as Create.
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						l.logger.Warn("modules reload failed, keeping previous", "path", l.path, "error", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Warn("modules watcher error", "path", l.path, "error", err)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload forces an immediate re-read of the modules file.
func (l *ModulesLoader) Reload() (*ModulesFile, error) {
	if l.path == "" {
		return l.Modules(), nil
	}
	mf, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = mf
	callbacks := make([]func(*ModulesFile), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()

	l.logger.Info("modules reloaded", "path", l.path, "modules", len(mf.Modules))
	for _, fn := range callbacks {
		fn(mf)
	}
	return mf, nil
}

func (l *ModulesLoader) load() (*ModulesFile, error) {
	if l.path == "" {
		return &ModulesFile{}, nil
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read modules %s: %w", l.path, err)
	}
	var mf ModulesFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("parse modules %s: %w", l.path, err)
	}
	if err := mf.validate(); err != nil {
		return nil, fmt.Errorf("invalid modules %s: %w", l.path, err)
	}
	return &mf, nil
}
