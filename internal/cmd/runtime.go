package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Iron-Ham/kaubo/internal/channel"
	"github.com/Iron-Ham/kaubo/internal/config"
	"github.com/Iron-Ham/kaubo/internal/factory"
	"github.com/Iron-Ham/kaubo/internal/logging"
	"github.com/Iron-Ham/kaubo/internal/sink"
	"github.com/Iron-Ham/kaubo/internal/task"
)

// registries returns the task kinds and sinks known to this binary. The
// parent and its workers are the same executable, so both sides see the
// same names.
func registries() (*task.Registry, *sink.Registry) {
	return task.NewRegistry(), sink.NewRegistry()
}

// loadConfig returns the validated configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// consoleLevel keeps JSON log lines from interleaving with program output
// when logs share the terminal.
func consoleLevel(cfg *config.Config) string {
	level := logging.ParseLevel(cfg.Logging.Level)
	if cfg.Logging.Dir != "" {
		return level
	}
	switch level {
	case logging.LevelDebug, logging.LevelInfo:
		return logging.LevelWarn
	}
	return level
}

// newFactory builds a factory wired to the configured library, log and task
// settings. Worker output goes to stdout and stderr.
func newFactory(cfg *config.Config, stdout, stderr io.Writer) (*factory.Factory, *logging.Logger, error) {
	level := consoleLevel(cfg)
	logger, err := logging.NewLogger(cfg.Logging.Dir, level)
	if err != nil {
		return nil, nil, err
	}

	kinds, sinks := registries()
	f := factory.New(
		factory.WithLogger(logger),
		factory.WithOutput(stdout, stderr),
		factory.WithTerminateGrace(cfg.Task.TerminateGrace),
		factory.WithLibraryDirs(cfg.Library.SearchDirs()...),
		factory.WithBaseName(cfg.Library.BaseName),
		factory.WithRegistries(kinds, sinks),
		factory.WithLogSettings(channel.LogSettings{
			Dir:        cfg.Logging.Dir,
			Level:      level,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		}),
	)
	if err := f.SetTaskKind(cfg.Task.Kind); err != nil {
		_ = logger.Close()
		return nil, nil, err
	}
	return f, logger, nil
}

// joinAll waits for every tracked task until timeout (when positive) or ctx
// ends, then terminates whatever is still running.
func joinAll(ctx context.Context, f *factory.Factory, timeout time.Duration) []factory.JoinResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	results := f.JoinAll(ctx)
	for i, res := range results {
		if !res.TimedOut {
			continue
		}
		killed, err := f.Terminate(res.TaskID)
		if err != nil {
			continue
		}
		killed.TimedOut = true
		results[i] = killed
	}
	return results
}
