package task

import (
	"fmt"

	"github.com/Iron-Ham/kaubo/internal/errors"
	"github.com/Iron-Ham/kaubo/internal/runopts"
)

// Hooks supplies the three steps of every phase. The Task orchestrator
// calls them in the fixed order before, on, after and stops the phase at
// the first error.
//
// Implementations usually embed Base and override single steps. An
// override that still wants the default must call the Base method itself;
// leaving it out drops that behavior.
type Hooks interface {
	BeforeBind(t *Task, b Bridge) error
	OnBind(t *Task, b Bridge) error
	AfterBind(t *Task, b Bridge) error

	BeforeConfigure(t *Task, opts runopts.Options) error
	OnConfigure(t *Task, opts runopts.Options) error
	AfterConfigure(t *Task, opts runopts.Options) error

	BeforeRun(t *Task) error
	OnRun(t *Task) error
	AfterRun(t *Task) error
}

// Base is the default task behavior.
type Base struct{}

var _ Hooks = Base{}

// BeforeBind rejects a nil bridge.
func (Base) BeforeBind(_ *Task, b Bridge) error {
	_, err := AsBridge(b)
	return err
}

// OnBind stores the bridge on the task.
func (Base) OnBind(t *Task, b Bridge) error {
	t.attach(b)
	return nil
}

// AfterBind registers the subscriptions queued before binding, in the
// order they were queued.
func (Base) AfterBind(t *Task, _ Bridge) error {
	return t.flushPending()
}

// BeforeConfigure drops falsy entries (substituting the placeholder run
// when nothing is left), checks the source file and stores the result as
// the task options.
func (Base) BeforeConfigure(t *Task, opts runopts.Options) error {
	normalized := runopts.SanitizeOr(opts, runopts.TaskPlaceholder())
	if err := runopts.CheckFile(t.fs, normalized); err != nil {
		return err
	}
	t.options = normalized
	return nil
}

// OnConfigure sends the normalized options to the bridge.
func (Base) OnConfigure(t *Task, _ runopts.Options) error {
	b := t.Bridge()
	if b == nil {
		return fmt.Errorf("%w: no bridge bound", errors.ErrInvalidState)
	}
	return b.InitWithConfig(t.Options())
}

// AfterConfigure does nothing.
func (Base) AfterConfigure(*Task, runopts.Options) error { return nil }

// BeforeRun does nothing.
func (Base) BeforeRun(*Task) error { return nil }

// OnRun dispatches to the highest-priority execution mode (interpret,
// compile, interpret_bytecode). Cleanup runs however the dispatch ends.
func (Base) OnRun(t *Task) error {
	defer t.Cleanup()

	b := t.Bridge()
	if b == nil {
		return fmt.Errorf("%w: no bridge bound", errors.ErrInvalidState)
	}
	opts := t.Options()
	modes := opts.Modes()
	if len(modes) == 0 {
		return errors.ErrNoExecutionMode
	}
	if len(modes) > 1 {
		t.logger.Warn("multiple execution modes selected, running the first", "modes", modes, "running", modes[0])
	}

	t.logger.Info("dispatching", "mode", string(modes[0]))
	switch modes[0] {
	case runopts.ModeInterpret:
		return b.Interpret()
	case runopts.ModeCompile:
		return b.Compile()
	default:
		bi, ok := b.(BytecodeInterpreter)
		if !ok {
			return fmt.Errorf("%w: %T cannot interpret bytecode", errors.ErrIncompatibleBridge, b)
		}
		return bi.InterpretBytecode()
	}
}

// AfterRun makes sure cleanup has run, for kinds whose OnRun does not
// call Base.
func (Base) AfterRun(t *Task) error {
	t.Cleanup()
	return nil
}
