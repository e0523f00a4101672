// Package task runs one native compilation attempt through its phases.
//
// A Task moves through Bind, Configure and Run exactly once, in that order,
// and ends in Cleanup. Each phase calls the before, on and after steps of
// the task's Hooks; the Task itself cannot be overridden, so phase order
// and state checks hold for every kind of task. Cleanup is the only path
// that releases subscriptions and the bridge, and it is idempotent.
//
// A Task is not safe for concurrent use. Event callbacks fire synchronously
// from inside Run and may call back into the Task.
package task

import (
	"io"
	"slices"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/kaubo/internal/errors"
	"github.com/Iron-Ham/kaubo/internal/logging"
	"github.com/Iron-Ham/kaubo/internal/runopts"
)

// pendingSub is a subscription queued before a bridge was bound.
type pendingSub struct {
	kind string
	cb   func(string)
}

// Task is one execution attempt bound to at most one bridge.
type Task struct {
	id     string
	hooks  Hooks
	fs     afero.Fs
	logger *logging.Logger

	state         State
	bridge        Bridge
	options       runopts.Options
	pending       []pendingSub
	subscriptions []uint32
}

// Option configures a Task.
type Option func(*Task)

// WithID sets the task id used in logs and errors.
func WithID(id string) Option {
	return func(t *Task) { t.id = id }
}

// WithLogger sets the task logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Task) { t.logger = l }
}

// WithFs sets the filesystem used to check source files.
func WithFs(fs afero.Fs) Option {
	return func(t *Task) { t.fs = fs }
}

// New creates an unbound task driven by hooks. A nil hooks value uses Base.
func New(hooks Hooks, opts ...Option) *Task {
	if hooks == nil {
		hooks = Base{}
	}
	t := &Task{
		hooks:  hooks,
		fs:     afero.NewOsFs(),
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.id != "" {
		t.logger = t.logger.WithTask(t.id)
	}
	return t
}

// ID returns the task id.
func (t *Task) ID() string { return t.id }

// State returns the lifecycle state.
func (t *Task) State() State { return t.state }

// Bridge returns the bound bridge, nil before Bind and after Cleanup.
func (t *Task) Bridge() Bridge { return t.bridge }

// Options returns the normalized options, nil before Configure and after
// Cleanup.
func (t *Task) Options() runopts.Options { return t.options }

// Logger returns the task logger.
func (t *Task) Logger() *logging.Logger { return t.logger }

// Subscriptions returns the ids of the subscriptions this task registered.
func (t *Task) Subscriptions() []uint32 { return slices.Clone(t.subscriptions) }

// Pending returns how many subscriptions are queued for Bind.
func (t *Task) Pending() int { return len(t.pending) }

// Bind runs the bind phase. The task must be unbound.
func (t *Task) Bind(b Bridge) error {
	if err := t.require(PhaseBind, StateUnbound); err != nil {
		return err
	}
	log := t.logger.WithPhase(PhaseBind)
	steps := []func() error{
		func() error { return t.hooks.BeforeBind(t, b) },
		func() error { return t.hooks.OnBind(t, b) },
		func() error { return t.hooks.AfterBind(t, b) },
	}
	if err := t.runSteps(PhaseBind, steps); err != nil {
		return err
	}
	t.state = StateBound
	log.Debug("bound", "subscriptions", len(t.subscriptions))
	return nil
}

// Configure runs the configure phase with the raw options. The task must
// be bound.
func (t *Task) Configure(opts runopts.Options) error {
	if err := t.require(PhaseConfigure, StateBound); err != nil {
		return err
	}
	steps := []func() error{
		func() error { return t.hooks.BeforeConfigure(t, opts) },
		func() error { return t.hooks.OnConfigure(t, opts) },
		func() error { return t.hooks.AfterConfigure(t, opts) },
	}
	if err := t.runSteps(PhaseConfigure, steps); err != nil {
		return err
	}
	t.state = StateConfigured
	t.logger.WithPhase(PhaseConfigure).Debug("configured", "keys", t.options.Keys())
	return nil
}

// Run runs the run phase. The task must be configured. Whatever the
// outcome, the task is cleaned up and Terminated when Run returns.
func (t *Task) Run() error {
	if err := t.require(PhaseRun, StateConfigured); err != nil {
		return err
	}
	t.state = StateRunning
	defer t.Cleanup()

	steps := []func() error{
		func() error { return t.hooks.BeforeRun(t) },
		func() error { return t.hooks.OnRun(t) },
		func() error { return t.hooks.AfterRun(t) },
	}
	return t.runSteps(PhaseRun, steps)
}

func (t *Task) runSteps(phase string, steps []func() error) error {
	for _, step := range steps {
		if err := step(); err != nil {
			return t.phaseError(phase, err)
		}
	}
	return nil
}

func (t *Task) require(phase string, want State) error {
	if t.state == want {
		return nil
	}
	return errors.NewTaskError("cannot "+phase+" a "+t.state.String()+" task", errors.ErrInvalidState).
		WithTaskID(t.id).
		WithPhase(phase)
}

func (t *Task) phaseError(phase string, err error) error {
	var taskErr *errors.TaskError
	if errors.As(err, &taskErr) && taskErr.Phase != "" {
		if taskErr.TaskID == "" {
			taskErr.WithTaskID(t.id)
		}
		return taskErr
	}
	return errors.NewTaskError(phase+" failed", err).WithTaskID(t.id).WithPhase(phase)
}

// attach stores the bridge. Only the bind phase calls it.
func (t *Task) attach(b Bridge) {
	t.bridge = b
}

// flushPending registers queued subscriptions in queue order. The queue is
// emptied even when a registration fails.
func (t *Task) flushPending() error {
	pending := t.pending
	t.pending = nil
	for _, p := range pending {
		if _, err := t.SubscribeEvent(p.kind, p.cb); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe queues (kind, cb) until Bind when the task is unbound and
// registers it immediately otherwise.
func (t *Task) Subscribe(kind string, cb func(string)) error {
	if t.state == StateUnbound && t.bridge == nil {
		t.pending = append(t.pending, pendingSub{kind: kind, cb: cb})
		return nil
	}
	_, err := t.SubscribeEvent(kind, cb)
	return err
}

// SubscribeEvent registers cb on the bound bridge and records the id.
func (t *Task) SubscribeEvent(kind string, cb func(string)) (uint32, error) {
	if t.bridge == nil || t.state == StateTerminated {
		return 0, errors.NewTaskError("subscribe without a bound bridge", errors.ErrInvalidState).
			WithTaskID(t.id)
	}
	id, err := t.bridge.SubscribeEvent(kind, cb)
	if err != nil {
		return 0, err
	}
	t.subscriptions = append(t.subscriptions, id)
	return id, nil
}

// UnsubscribeEvent releases one subscription recorded by this task.
func (t *Task) UnsubscribeEvent(id uint32) error {
	idx := slices.Index(t.subscriptions, id)
	if idx < 0 || t.bridge == nil {
		return errors.NewTaskError("subscription not recorded by this task", errors.ErrUnknownSubscription).
			WithTaskID(t.id)
	}
	if err := t.bridge.UnsubscribeEvent(id); err != nil {
		return err
	}
	t.subscriptions = slices.Delete(t.subscriptions, idx, idx+1)
	return nil
}

// UnsubscribeAll releases every recorded subscription. Failures are
// logged and the sweep continues.
func (t *Task) UnsubscribeAll() {
	for _, id := range slices.Clone(t.subscriptions) {
		if err := t.UnsubscribeEvent(id); err != nil {
			t.logger.Warn("unsubscribe failed", "subscription", id, "error", err)
		}
	}
}

// Cleanup releases every subscription and the bridge, clears the options
// and moves the task to Terminated. It tolerates a task that never bound a
// bridge and is a no-op the second time.
func (t *Task) Cleanup() {
	if t.state == StateTerminated && t.bridge == nil {
		return
	}
	t.UnsubscribeAll()
	if len(t.subscriptions) > 0 {
		t.logger.Warn("dropping subscriptions that failed to release", "subscriptions", t.subscriptions)
	}
	t.subscriptions = nil
	t.pending = nil

	if c, ok := t.bridge.(io.Closer); ok {
		if err := c.Close(); err != nil {
			t.logger.Warn("bridge close failed", "error", err)
		}
	}
	t.bridge = nil
	t.options = nil
	t.state = StateTerminated
	t.logger.WithPhase(PhaseCleanup).Debug("cleaned up")
}
