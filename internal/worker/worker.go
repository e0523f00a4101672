// Package worker is the body of a spawned task process.
//
// Run executes one task in a fixed order: build the task, queue its
// callbacks, load the native library, bind, configure, wait on the gate,
// run. A failure at any step ends the attempt, but the task is always
// cleaned up and a done message with the elapsed time is always sent on
// the completion channel. Task failures are reported, never returned.
package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/kaubo/internal/channel"
	"github.com/Iron-Ham/kaubo/internal/errors"
	"github.com/Iron-Ham/kaubo/internal/logging"
	"github.com/Iron-Ham/kaubo/internal/native"
	"github.com/Iron-Ham/kaubo/internal/sink"
	"github.com/Iron-Ham/kaubo/internal/task"
)

// Env is everything Run needs besides the job.
type Env struct {
	Job        channel.Job
	Completion *channel.Writer
	// Gate is read once before Run when Job.Gated is set.
	Gate   io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Fs     afero.Fs
	Logger *logging.Logger

	Kinds *task.Registry
	Sinks *sink.Registry
	// Open replaces the dynamic loader.
	Open native.Opener
	// ProcessDir replaces the executable directory in the library search.
	ProcessDir string
}

func (e *Env) defaults() {
	if e.Stdout == nil {
		e.Stdout = os.Stdout
	}
	if e.Stderr == nil {
		e.Stderr = os.Stderr
	}
	if e.Fs == nil {
		e.Fs = afero.NewOsFs()
	}
	if e.Logger == nil {
		e.Logger = logging.NopLogger()
	}
	if e.Kinds == nil {
		e.Kinds = task.NewRegistry()
	}
	if e.Sinks == nil {
		e.Sinks = sink.NewRegistry()
	}
}

// Run executes env.Job. The returned error only reports a completion
// channel that could not take the done message.
func Run(ctx context.Context, env Env) (sendErr error) {
	env.defaults()
	job := env.Job
	log := env.Logger.WithTask(job.TaskID).WithKind(job.Kind)

	if err := normalizeConsole(); err != nil {
		log.Debug("console encoding unchanged", "error", err)
	}

	start := time.Now()
	var err error
	defer func() {
		elapsed := time.Since(start)
		if err != nil {
			logFailure(log, err)
			fmt.Fprintf(env.Stderr, "[%s] %v\n", job.TaskID, err)
		} else {
			log.Info("task finished", "seconds", channel.Seconds(elapsed))
		}
		if env.Completion != nil {
			sendErr = env.Completion.Send(channel.NewDone(job.TaskID, elapsed, err))
		}
	}()

	err = attempt(ctx, &env, log)
	return nil
}

// logFailure logs err at the level its severity asks for.
func logFailure(log *logging.Logger, err error) {
	switch errors.GetSeverity(err) {
	case errors.SeverityDebug:
		log.Debug("task failed", "error", err)
	case errors.SeverityInfo:
		log.Info("task failed", "error", err)
	case errors.SeverityWarning:
		log.Warn("task failed", "error", err)
	default:
		log.Error("task failed", "error", err)
	}
}

// attempt runs the task. Cleanup has run by the time it returns, and a
// panic in a hook, callback or native call is returned as an error.
func attempt(ctx context.Context, env *Env, log *logging.Logger) (err error) {
	job := env.Job
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
			err = errors.NewTaskError(fmt.Sprintf("panic: %v", r), errors.ErrInvalidState).
				WithTaskID(job.TaskID).
				WithSeverity(errors.SeverityCritical)
		}
	}()

	hooks, err := env.Kinds.Build(kindOrDefault(job.Kind))
	if err != nil {
		return err
	}
	t := task.New(hooks, task.WithID(job.TaskID), task.WithLogger(log), task.WithFs(env.Fs))
	defer t.Cleanup()

	if err := subscribe(t, env); err != nil {
		return err
	}

	opts := []native.Option{
		native.WithSearchDirs(job.LibraryDirs...),
		native.WithFs(env.Fs),
		native.WithLogger(log),
	}
	if job.BaseName != "" {
		opts = append(opts, native.WithBaseName(job.BaseName))
	}
	if env.Open != nil {
		opts = append(opts, native.WithOpener(env.Open))
	}
	if env.ProcessDir != "" {
		opts = append(opts, native.WithProcessDir(env.ProcessDir))
	}
	bridge, err := native.Load(opts...)
	if err != nil {
		return err
	}
	owned := false
	defer func() {
		if !owned {
			_ = bridge.Close()
		}
	}()

	bindErr := t.Bind(bridge)
	// OnBind hands the bridge to the task, whose cleanup then closes it,
	// even when a later bind step fails.
	owned = t.Bridge() != nil
	if bindErr != nil {
		return bindErr
	}
	if err := t.Configure(job.Options); err != nil {
		return err
	}
	if job.Gated {
		if err := waitGate(ctx, env.Gate); err != nil {
			return errors.NewTaskError("wait for start", err).
				WithTaskID(job.TaskID).
				WithPhase(task.PhaseRun).
				WithSeverity(errors.SeverityWarning)
		}
	}
	return t.Run()
}

func kindOrDefault(kind string) string {
	if kind == "" {
		return task.DefaultKind
	}
	return kind
}

// subscribe queues one callback per sink spec on the unbound task.
func subscribe(t *task.Task, env *Env) error {
	job := env.Job
	sinkEnv := sink.Env{
		TaskID: job.TaskID,
		Stdout: env.Stdout,
		Fs:     env.Fs,
	}
	if env.Completion != nil {
		sinkEnv.Forward = func(event, msg string) {
			if err := env.Completion.Send(channel.NewEvent(job.TaskID, event, msg)); err != nil {
				env.Logger.Warn("forward event failed", "event", event, "error", err)
			}
		}
	}
	for _, spec := range job.Callbacks {
		cb, err := env.Sinks.Build(spec, sinkEnv)
		if err != nil {
			return errors.NewTaskError("build callback "+spec.String(), err).WithTaskID(job.TaskID)
		}
		if err := t.Subscribe(spec.Event, cb); err != nil {
			return err
		}
	}
	return nil
}

// waitGate blocks until the gate is released, closed or ctx is done.
func waitGate(ctx context.Context, gate io.Reader) error {
	if gate == nil {
		return errors.ErrGateClosed
	}
	done := make(chan error, 1)
	go func() { done <- channel.Wait(gate) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", errors.ErrGateClosed, ctx.Err())
	}
}
