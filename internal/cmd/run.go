package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/kaubo/internal/config"
	"github.com/Iron-Ham/kaubo/internal/factory"
	"github.com/Iron-Ham/kaubo/internal/logging"
	"github.com/Iron-Ham/kaubo/internal/runopts"
	"github.com/Iron-Ham/kaubo/internal/sink"
	"github.com/Iron-Ham/kaubo/internal/watch"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run one program in a worker process",
	Long: `Run a Kaubo program from a file or inline source in a fresh worker process.

The native library's log events are printed as they arrive. With --watch the
program is run again whenever the source file changes, until interrupted.

Examples:
  kaubo run hello.kaubo
  kaubo run --source "print(1 + 2)" --show-result
  kaubo run --mode compile --lib-dir ./engine/build/Debug main.kaubo`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var (
	runFile       string
	runSource     string
	runMode       string
	runShowResult bool
	runLibDirs    []string
	runTimeout    time.Duration
	runWatch      bool
	runEvents     []string
)

func init() {
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "program file to run")
	runCmd.Flags().StringVarP(&runSource, "source", "s", "", "inline program source")
	runCmd.Flags().StringVarP(&runMode, "mode", "m", string(runopts.ModeInterpret), "execution mode: interpret, compile or interpret_bytecode")
	runCmd.Flags().BoolVar(&runShowResult, "show-result", false, "print the program's result value")
	runCmd.Flags().StringSliceVar(&runLibDirs, "lib-dir", nil, "extra directory to search for the native library (repeatable)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "terminate the worker after this long (default: task.join_timeout)")
	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "run again when the program file changes")
	runCmd.Flags().StringSliceVar(&runEvents, "events", []string{"LOG_INFO", "LOG_WARNING", "LOG_ERROR"}, "native events to print")
	rootCmd.AddCommand(runCmd)
}

// runConfigID is the factory configuration every run registers.
const runConfigID = "run"

// buildRunOptions turns the run flags into a run configuration.
func buildRunOptions(file, source, mode string, showResult bool) (runopts.Options, error) {
	if file != "" && source != "" {
		return nil, fmt.Errorf("--file and --source are mutually exclusive")
	}
	if file == "" && source == "" {
		return nil, fmt.Errorf("a program file or --source is required")
	}
	m, err := runopts.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	opts := runopts.Options{runopts.KeyShowResult: showResult}
	if file != "" {
		opts[runopts.KeyFile] = file
	} else {
		opts[runopts.KeySource] = source
	}
	return opts.WithMode(m), nil
}

// printCallbacks prints each event kind to the worker's stdout.
func printCallbacks(events []string) []sink.Spec {
	specs := make([]sink.Spec, 0, len(events))
	for _, e := range events {
		specs = append(specs, sink.Spec{Event: e, Sink: sink.Print})
	}
	return specs
}

func runRun(cmd *cobra.Command, args []string) error {
	file := runFile
	if len(args) > 0 {
		if file != "" {
			return fmt.Errorf("program file given both as argument and --file")
		}
		file = args[0]
	}
	opts, err := buildRunOptions(file, runSource, runMode, runShowResult)
	if err != nil {
		return err
	}
	if runWatch && file == "" {
		return fmt.Errorf("--watch needs a program file")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	timeout := runTimeout
	if timeout == 0 {
		timeout = cfg.Task.JoinTimeout
	}

	f, logger, err := newFactory(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer logger.Close()

	if err := f.RegisterConfig(runConfigID, opts, true); err != nil {
		return err
	}
	// Relative --lib-dir values are taken from the working directory, not
	// the executable's.
	libDirs := make([]string, 0, len(runLibDirs))
	for _, d := range runLibDirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return err
		}
		libDirs = append(libDirs, abs)
	}
	r := &runner{
		factory: f,
		spawn: factory.SpawnOptions{
			Callbacks:   printCallbacks(runEvents),
			LibraryDirs: libDirs,
		},
		timeout: timeout,
		stderr:  cmd.ErrOrStderr(),
		logger:  logger,
	}

	if !runWatch {
		return r.once(cmd.Context())
	}
	return r.watch(cmd.Context(), cfg)
}

// runner runs the registered run configuration.
type runner struct {
	factory *factory.Factory
	spawn   factory.SpawnOptions
	timeout time.Duration
	stderr  io.Writer
	logger  *logging.Logger
}

// once spawns one task and waits for it.
func (r *runner) once(ctx context.Context) error {
	taskID := "run-" + uuid.NewString()[:8]
	if _, err := r.factory.SpawnTask(ctx, taskID, runConfigID, r.spawn); err != nil {
		return err
	}
	results := joinAll(ctx, r.factory, r.timeout)
	seconds, _ := r.factory.Duration(taskID)

	for _, res := range results {
		switch {
		case res.TimedOut:
			return fmt.Errorf("%s: terminated after %s", res.TaskID, r.timeout)
		case res.Terminated:
			return fmt.Errorf("%s: terminated", res.TaskID)
		case res.Error != "":
			return fmt.Errorf("%s failed after %.2fs: %s", res.TaskID, seconds, res.Error)
		case res.ExitCode != 0:
			return fmt.Errorf("%s: worker exited with code %d", res.TaskID, res.ExitCode)
		}
	}
	fmt.Fprintf(r.stderr, "%s finished in %.2fs\n", taskID, seconds)
	return nil
}

// watch runs once, then again after every change to the program file until
// ctx ends. Failed runs are reported and do not stop watching.
func (r *runner) watch(ctx context.Context, cfg *config.Config) error {
	cfgOpts, _ := r.factory.Config(runConfigID)
	file, _ := cfgOpts.String(runopts.KeyFile)

	changed := make(chan struct{}, 1)
	w, err := watch.New(cfg.Watch.Debounce(), func([]string) {
		select {
		case changed <- struct{}{}:
		default:
		}
	}, r.logger)
	if err != nil {
		return err
	}
	if err := w.Add(file); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(r.stderr, "watch stopped: %v\n", err)
		}
	}()

	for {
		if err := r.once(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(r.stderr, err)
		}
		fmt.Fprintf(r.stderr, "watching %s for changes\n", file)
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		}
	}
}
