package factory

import (
	"context"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/kaubo/internal/channel"
	"github.com/Iron-Ham/kaubo/internal/errors"
	"github.com/Iron-Ham/kaubo/internal/event"
)

// Action is what ManageTask does with a tracked task.
type Action string

// Supported actions.
const (
	ActionJoin      Action = "join"
	ActionTerminate Action = "terminate"
)

// ParseAction maps a name to an Action.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionJoin, ActionTerminate:
		return a, nil
	}
	return "", errors.NewFactoryError("action "+s, errors.ErrUnsupportedAction)
}

// JoinResult describes how a managed task ended.
type JoinResult struct {
	TaskID string
	// TimedOut is set when a join gave up; the task stays tracked.
	TimedOut bool
	// Terminated is set when the task was killed.
	Terminated bool
	// ExitCode is the worker's exit code, -1 when unknown.
	ExitCode int
	// Error is the failure the worker reported, if any.
	Error string
}

// ManageTask joins or terminates a tracked task. A timeout of zero or less
// joins without a deadline; it is ignored by terminate.
func (f *Factory) ManageTask(taskID string, action Action, timeout time.Duration) (JoinResult, error) {
	p, ok := f.procs[taskID]
	if !ok {
		return JoinResult{}, errors.NewFactoryError("manage task", errors.ErrUnknownTask).WithTaskID(taskID)
	}
	switch action {
	case ActionJoin:
		return f.join(p, timeout), nil
	case ActionTerminate:
		return f.terminate(p), nil
	default:
		return JoinResult{}, errors.NewFactoryError("manage task "+string(action), errors.ErrUnsupportedAction).
			WithTaskID(taskID)
	}
}

// Join is ManageTask with ActionJoin.
func (f *Factory) Join(taskID string, timeout time.Duration) (JoinResult, error) {
	return f.ManageTask(taskID, ActionJoin, timeout)
}

// Terminate is ManageTask with ActionTerminate.
func (f *Factory) Terminate(taskID string) (JoinResult, error) {
	return f.ManageTask(taskID, ActionTerminate, 0)
}

func (f *Factory) join(p *Process, timeout time.Duration) JoinResult {
	if !waitDone(context.Background(), p, timeout) {
		f.logger.WithTask(p.TaskID).Warn("join timed out", "timeout", timeout)
		f.bus.Publish(event.NewTaskTimeoutEvent(p.TaskID, timeout))
		return JoinResult{TaskID: p.TaskID, TimedOut: true, ExitCode: -1}
	}
	return f.finish(p)
}

// terminate kills the worker, waits up to the grace period and forgets the
// task whether or not it was reaped.
func (f *Factory) terminate(p *Process) JoinResult {
	log := f.logger.WithTask(p.TaskID)
	p.terminated.Store(true)
	p.closeGate()
	if !p.Exited() && p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil {
			log.Debug("kill worker", "error", err)
		}
	}
	exited := waitDone(context.Background(), p, f.grace)
	if !exited {
		log.Warn("worker not reaped after kill", "grace", f.grace)
	}
	delete(f.procs, p.TaskID)
	log.Info("worker terminated", "exited", exited)
	f.bus.Publish(event.NewTaskTerminatedEvent(p.TaskID, exited))

	res := JoinResult{TaskID: p.TaskID, Terminated: true, ExitCode: p.ExitCode()}
	if m, ok := p.Result(); ok {
		res.Error = m.Error
	}
	return res
}

// finish removes an exited task and summarizes it.
func (f *Factory) finish(p *Process) JoinResult {
	p.closeGate()
	delete(f.procs, p.TaskID)
	res := JoinResult{TaskID: p.TaskID, ExitCode: p.ExitCode()}
	if m, ok := p.Result(); ok {
		res.Error = m.Error
	}
	f.logger.WithTask(p.TaskID).Debug("worker joined", "exit_code", res.ExitCode, "error", res.Error)
	return res
}

// waitDone waits for p to finish, for timeout (when positive) or for ctx.
func waitDone(ctx context.Context, p *Process, timeout time.Duration) bool {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case <-p.done:
		return true
	case <-deadline:
		return false
	case <-ctx.Done():
		return false
	}
}

// JoinAll waits for every tracked task concurrently until they exit or ctx
// is done. Tasks still running when ctx ends are reported as timed out and
// stay tracked. Results are ordered by task id.
func (f *Factory) JoinAll(ctx context.Context) []JoinResult {
	procs := make([]*Process, 0, len(f.procs))
	for _, id := range f.Tasks() {
		procs = append(procs, f.procs[id])
	}

	waiters := pool.NewWithResults[*Process]()
	for _, p := range procs {
		waiters.Go(func() *Process {
			if waitDone(ctx, p, 0) {
				return p
			}
			return nil
		})
	}
	exited := waiters.Wait()

	results := make([]JoinResult, 0, len(procs))
	for _, p := range procs {
		if slices.Contains(exited, p) {
			results = append(results, f.finish(p))
			continue
		}
		f.bus.Publish(event.NewTaskTimeoutEvent(p.TaskID, 0))
		results = append(results, JoinResult{TaskID: p.TaskID, TimedOut: true, ExitCode: -1})
	}
	return results
}

// ReleaseGate lets gated workers proceed to Run. With no ids it releases
// every task still waiting. Releasing a task without a pending gate fails
// with ErrUnknownTask.
func (f *Factory) ReleaseGate(taskIDs ...string) error {
	if len(taskIDs) == 0 {
		for _, id := range f.Tasks() {
			if f.procs[id].Gated() {
				taskIDs = append(taskIDs, id)
			}
		}
	}
	var errs []error
	for _, id := range taskIDs {
		p, ok := f.procs[id]
		if !ok || !p.Gated() {
			errs = append(errs, errors.NewFactoryError("release gate", errors.ErrUnknownTask).WithTaskID(id))
			continue
		}
		if err := channel.Release(p.gate); err != nil {
			// The worker is gone; joining it will report why.
			f.logger.WithTask(id).Warn("release gate", "error", err)
		}
		p.closeGate()
		f.bus.Publish(event.NewTaskReleasedEvent(id))
	}
	return errors.Join(errs...)
}

// FetchDurations moves every reported completion into the duration table
// without blocking. It returns how many completions were drained.
func (f *Factory) FetchDurations() int {
	msgs := f.inbox.drain()
	for _, m := range msgs {
		f.durations[m.Task] = m.Seconds
	}
	return len(msgs)
}

// Duration returns the recorded duration of taskID in seconds.
func (f *Factory) Duration(taskID string) (float64, bool) {
	f.FetchDurations()
	d, ok := f.durations[taskID]
	return d, ok
}

// TotalDuration returns the sum of all recorded durations in seconds.
func (f *Factory) TotalDuration() float64 {
	f.FetchDurations()
	var total float64
	for _, d := range f.durations {
		total += d
	}
	return math.Round(total*100) / 100
}

// Durations returns a copy of the duration table.
func (f *Factory) Durations() map[string]float64 {
	f.FetchDurations()
	out := make(map[string]float64, len(f.durations))
	for id, d := range f.durations {
		out[id] = d
	}
	return out
}
