package factory

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/Iron-Ham/kaubo/internal/channel"
	"github.com/Iron-Ham/kaubo/internal/errors"
	"github.com/Iron-Ham/kaubo/internal/event"
	"github.com/Iron-Ham/kaubo/internal/sink"
)

// SpawnOptions are the per-task spawn parameters.
type SpawnOptions struct {
	// Callbacks are rebuilt inside the worker and subscribed before Bind.
	Callbacks []sink.Spec
	// LibraryDirs are searched before the factory's own directories.
	LibraryDirs []string
	// Gated holds the worker between Configure and Run until ReleaseGate.
	Gated bool
}

// SpawnTask starts a worker running configuration configID as taskID.
// Unknown configurations, duplicate task ids and unknown sinks fail before
// any process is created.
func (f *Factory) SpawnTask(ctx context.Context, taskID, configID string, opts SpawnOptions) (*Process, error) {
	cfg, ok := f.configs[configID]
	if !ok {
		return nil, errors.NewFactoryError("spawn task", errors.ErrUnknownConfig).
			WithConfigID(configID).
			WithTaskID(taskID)
	}
	if _, ok := f.procs[taskID]; ok {
		return nil, errors.NewFactoryError("spawn task", errors.ErrDuplicateTask).WithTaskID(taskID)
	}
	for _, spec := range opts.Callbacks {
		if err := f.sinks.Validate(spec); err != nil {
			return nil, errors.NewFactoryError("spawn task", err).WithTaskID(taskID)
		}
	}

	job := channel.Job{
		TaskID:      taskID,
		Kind:        f.kind,
		Options:     cfg.Clone(),
		Callbacks:   opts.Callbacks,
		LibraryDirs: append(append([]string(nil), opts.LibraryDirs...), f.libraryDirs...),
		BaseName:    f.baseName,
		Gated:       opts.Gated,
		Log:         f.logSettings,
	}
	var stdin bytes.Buffer
	if err := channel.WriteJob(&stdin, job); err != nil {
		return nil, errors.NewFactoryError("spawn task", err).WithTaskID(taskID)
	}

	cmd, err := f.command(ctx)
	if err != nil {
		return nil, errors.NewFactoryError("spawn task", err).WithTaskID(taskID)
	}
	cmd.Stdin = &stdin
	cmd.Stdout = f.stdout
	cmd.Stderr = f.stderr

	p, err := f.start(cmd, job)
	if err != nil {
		return nil, errors.NewFactoryError("spawn task", err).WithConfigID(configID).WithTaskID(taskID)
	}
	p.ConfigID = configID
	f.procs[taskID] = p

	f.logger.WithTask(taskID).Info("worker spawned",
		"config_id", configID,
		"kind", f.kind,
		"pid", p.PID(),
		"gated", opts.Gated)
	f.bus.Publish(event.NewTaskSpawnedEvent(taskID, configID, f.kind, p.PID(), opts.Gated))
	return p, nil
}

// start wires the completion channel and gate pipes and starts cmd. The
// parent keeps the read end of the channel and the write end of the gate.
func (f *Factory) start(cmd *exec.Cmd, job channel.Job) (*Process, error) {
	completionR, completionW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("completion channel: %w", err)
	}
	var gateR, gateW *os.File
	if job.Gated {
		if gateR, gateW, err = os.Pipe(); err != nil {
			completionR.Close()
			completionW.Close()
			return nil, fmt.Errorf("start gate: %w", err)
		}
	}
	closeAll := func() {
		completionR.Close()
		completionW.Close()
		if job.Gated {
			gateR.Close()
			gateW.Close()
		}
	}

	if err := channel.Attach(cmd, completionW, gateR); err != nil {
		closeAll()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		closeAll()
		return nil, fmt.Errorf("start worker: %w", err)
	}
	// The worker holds its own copies now; closing ours lets the channel
	// reach EOF when the worker exits.
	completionW.Close()
	if gateR != nil {
		gateR.Close()
	}

	p := newProcess(job.TaskID, "", cmd, gateW)
	p.Started = time.Now()
	go p.monitor(completionR, f.inbox, f.bus, f.logger.WithTask(job.TaskID))
	return p, nil
}
