// Package factory spawns one worker process per task and tracks it.
//
// A Factory owns a registry of named run configurations, the records of
// the worker processes it started and the durations those workers
// reported. Each worker re-executes the current binary as "kaubo worker",
// receives its job on stdin and reports on an inherited completion
// channel. One reader goroutine per worker drains that channel: forwarded
// native events are republished on the event bus and done messages are
// queued until FetchDurations picks them up.
//
// A Factory is not safe for concurrent use; callers serialize access.
// The completion queue is the only state shared with reader goroutines.
package factory

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"sort"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/kaubo/internal/channel"
	"github.com/Iron-Ham/kaubo/internal/errors"
	"github.com/Iron-Ham/kaubo/internal/event"
	"github.com/Iron-Ham/kaubo/internal/logging"
	"github.com/Iron-Ham/kaubo/internal/runopts"
	"github.com/Iron-Ham/kaubo/internal/sink"
	"github.com/Iron-Ham/kaubo/internal/task"
)

// DefaultTerminateGrace is how long Terminate waits for a killed worker to
// be reaped.
const DefaultTerminateGrace = 2 * time.Second

// CommandFunc returns the not yet started command for one worker.
type CommandFunc func(ctx context.Context) (*exec.Cmd, error)

// WorkerCommand runs the current executable's worker subcommand. The
// worker is killed if ctx is cancelled.
func WorkerCommand(ctx context.Context) (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	return exec.CommandContext(ctx, exe, "worker"), nil
}

// Factory spawns and tracks worker processes.
type Factory struct {
	logger  *logging.Logger
	bus     *event.Bus
	fs      afero.Fs
	command CommandFunc
	stdout  io.Writer
	stderr  io.Writer
	grace   time.Duration

	libraryDirs []string
	baseName    string
	logSettings channel.LogSettings

	kinds *task.Registry
	sinks *sink.Registry
	kind  string

	configs   map[string]runopts.Options
	procs     map[string]*Process
	inbox     *inbox
	durations map[string]float64
}

// Option configures a Factory.
type Option func(*Factory)

// WithLogger sets the factory logger.
func WithLogger(l *logging.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// WithBus sets the bus lifecycle and forwarded native events go to.
func WithBus(b *event.Bus) Option {
	return func(f *Factory) { f.bus = b }
}

// WithFs sets the filesystem source files are checked on.
func WithFs(fs afero.Fs) Option {
	return func(f *Factory) { f.fs = fs }
}

// WithWorkerCommand replaces WorkerCommand.
func WithWorkerCommand(fn CommandFunc) Option {
	return func(f *Factory) { f.command = fn }
}

// WithOutput sets where worker stdout and stderr go.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(f *Factory) {
		f.stdout = stdout
		f.stderr = stderr
	}
}

// WithTerminateGrace sets how long Terminate waits for the killed worker.
func WithTerminateGrace(d time.Duration) Option {
	return func(f *Factory) { f.grace = d }
}

// WithLibraryDirs appends directories searched for the native library by
// every worker, after the per-spawn directories.
func WithLibraryDirs(dirs ...string) Option {
	return func(f *Factory) { f.libraryDirs = append(f.libraryDirs, dirs...) }
}

// WithBaseName overrides the native library base name in workers.
func WithBaseName(name string) Option {
	return func(f *Factory) { f.baseName = name }
}

// WithLogSettings sets where workers write their own logs.
func WithLogSettings(s channel.LogSettings) Option {
	return func(f *Factory) { f.logSettings = s }
}

// WithRegistries sets the task kind and sink registries. The worker binary
// must populate its registries the same way.
func WithRegistries(kinds *task.Registry, sinks *sink.Registry) Option {
	return func(f *Factory) {
		if kinds != nil {
			f.kinds = kinds
		}
		if sinks != nil {
			f.sinks = sinks
		}
	}
}

// New creates a Factory with no configurations and the default task kind.
func New(opts ...Option) *Factory {
	f := &Factory{
		logger:    logging.NopLogger(),
		fs:        afero.NewOsFs(),
		command:   WorkerCommand,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		grace:     DefaultTerminateGrace,
		kinds:     task.NewRegistry(),
		sinks:     sink.NewRegistry(),
		kind:      task.DefaultKind,
		configs:   make(map[string]runopts.Options),
		procs:     make(map[string]*Process),
		inbox:     &inbox{},
		durations: make(map[string]float64),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.bus == nil {
		f.bus = event.NewBus(f.logger)
	}
	return f
}

// Bus returns the bus the factory publishes on.
func (f *Factory) Bus() *event.Bus { return f.bus }

// RegisterConfig stores opts under id. Falsy entries are dropped, an empty
// result is replaced by a placeholder that interprets a greeting, and a
// source file path is made absolute and must exist.
func (f *Factory) RegisterConfig(id string, opts runopts.Options, overwrite bool) error {
	if _, ok := f.configs[id]; ok && !overwrite {
		return errors.NewFactoryError("register config", errors.ErrDuplicateConfig).WithConfigID(id)
	}
	cfg, err := runopts.ResolveFile(f.fs, runopts.SanitizeOr(opts, runopts.FactoryPlaceholder()))
	if err != nil {
		return errors.NewFactoryError("register config", err).WithConfigID(id)
	}
	f.configs[id] = cfg
	f.logger.Debug("config registered", "config_id", id, "keys", cfg.Keys())
	return nil
}

// UnregisterConfig removes a configuration. Running tasks keep the copy
// they were spawned with.
func (f *Factory) UnregisterConfig(id string) error {
	if _, ok := f.configs[id]; !ok {
		return errors.NewFactoryError("unregister config", errors.ErrUnknownConfig).WithConfigID(id)
	}
	delete(f.configs, id)
	return nil
}

// Config returns a copy of the configuration stored under id.
func (f *Factory) Config(id string) (runopts.Options, bool) {
	cfg, ok := f.configs[id]
	if !ok {
		return nil, false
	}
	return cfg.Clone(), true
}

// ConfigIDs returns the registered configuration ids in sorted order.
func (f *Factory) ConfigIDs() []string {
	ids := make([]string, 0, len(f.configs))
	for id := range f.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetTaskKind selects the task kind for subsequent spawns.
func (f *Factory) SetTaskKind(name string) error {
	if _, err := f.kinds.Lookup(name); err != nil {
		return err
	}
	f.kind = name
	return nil
}

// TaskKind returns the kind used for new spawns.
func (f *Factory) TaskKind() string { return f.kind }

// Tasks returns the ids of tracked tasks in sorted order.
func (f *Factory) Tasks() []string {
	ids := make([]string, 0, len(f.procs))
	for id := range f.procs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Process returns the record of a tracked task.
func (f *Factory) Process(taskID string) (*Process, bool) {
	p, ok := f.procs[taskID]
	return p, ok
}
