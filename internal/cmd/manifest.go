package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/Iron-Ham/kaubo/internal/runopts"
	"github.com/Iron-Ham/kaubo/internal/sink"
	"gopkg.in/yaml.v3"
)

// Manifest describes a batch of tasks.
//
//	gated: true
//	timeout: 30s
//	configs:
//	  fib:
//	    file: cases/fib.kaubo
//	    interpret_bytecode: true
//	tasks:
//	  - id: fib
//	    config: fib
//	    output: out/fib.out
//	    expected: cases/fib.expected
//	    callbacks:
//	      - {event: LOG_INFO, sink: append, args: {path: out/fib.out}}
//
// Relative paths are resolved against the manifest's directory.
type Manifest struct {
	// Gated starts every task of a stage at the same moment.
	Gated bool `yaml:"gated"`
	// Timeout bounds each stage; 0 uses task.join_timeout.
	Timeout time.Duration `yaml:"timeout"`
	// LibDirs are searched for the native library before the configured dirs.
	LibDirs []string `yaml:"lib_dirs"`

	Configs map[string]runopts.Options `yaml:"configs"`
	Tasks   []TaskSpec                 `yaml:"tasks"`

	dir string
}

// TaskSpec is one task of a manifest.
type TaskSpec struct {
	ID     string `yaml:"id"`
	Config string `yaml:"config"`
	// Stage orders tasks: every task of a stage is joined before the next
	// stage starts.
	Stage     int         `yaml:"stage"`
	Callbacks []sink.Spec `yaml:"callbacks"`
	// Output is truncated before the task starts.
	Output string `yaml:"output"`
	// Expected is compared with Output after the task ends.
	Expected string `yaml:"expected"`
}

// LoadManifest reads and validates the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return ParseManifest(data, filepath.Dir(abs))
}

// ParseManifest parses manifest data whose relative paths are relative to
// dir.
func ParseManifest(data []byte, dir string) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	m.dir = dir
	if err := m.validate(); err != nil {
		return nil, err
	}
	m.resolvePaths()
	return &m, nil
}

func (m *Manifest) validate() error {
	if len(m.Tasks) == 0 {
		return fmt.Errorf("manifest has no tasks")
	}
	if m.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative, got %s", m.Timeout)
	}
	seen := make(map[string]bool, len(m.Tasks))
	for i, t := range m.Tasks {
		if t.ID == "" {
			return fmt.Errorf("tasks[%d]: id is required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("tasks[%d]: duplicate id %q", i, t.ID)
		}
		seen[t.ID] = true
		if _, ok := m.Configs[t.Config]; !ok {
			return fmt.Errorf("task %s: unknown config %q", t.ID, t.Config)
		}
		if t.Expected != "" && t.Output == "" {
			return fmt.Errorf("task %s: expected needs an output file", t.ID)
		}
	}
	return nil
}

func (m *Manifest) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(m.dir, path)
}

func (m *Manifest) resolvePaths() {
	for i, d := range m.LibDirs {
		m.LibDirs[i] = m.resolve(d)
	}
	for id, opts := range m.Configs {
		if opts == nil {
			continue
		}
		if file, ok := opts.String(runopts.KeyFile); ok {
			opts = opts.Clone()
			opts[runopts.KeyFile] = m.resolve(file)
			m.Configs[id] = opts
		}
	}
	for i := range m.Tasks {
		t := &m.Tasks[i]
		t.Output = m.resolve(t.Output)
		t.Expected = m.resolve(t.Expected)
		for j, cb := range t.Callbacks {
			if path, ok := cb.Args[sink.ArgPath]; ok {
				args := make(map[string]string, len(cb.Args))
				for k, v := range cb.Args {
					args[k] = v
				}
				args[sink.ArgPath] = m.resolve(path)
				t.Callbacks[j].Args = args
			}
		}
	}
}

// ConfigIDs returns the config ids in sorted order.
func (m *Manifest) ConfigIDs() []string {
	ids := make([]string, 0, len(m.Configs))
	for id := range m.Configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stages groups the tasks by stage in ascending order, keeping manifest
// order within a stage.
func (m *Manifest) Stages() [][]TaskSpec {
	var numbers []int
	byStage := make(map[int][]TaskSpec)
	for _, t := range m.Tasks {
		if _, ok := byStage[t.Stage]; !ok {
			numbers = append(numbers, t.Stage)
		}
		byStage[t.Stage] = append(byStage[t.Stage], t)
	}
	slices.Sort(numbers)
	stages := make([][]TaskSpec, 0, len(numbers))
	for _, n := range numbers {
		stages = append(stages, byStage[n])
	}
	return stages
}
