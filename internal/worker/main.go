package worker

import (
	"context"
	"fmt"
	"io"

	"github.com/Iron-Ham/kaubo/internal/channel"
	"github.com/Iron-Ham/kaubo/internal/logging"
)

// Main reads the job from stdin, attaches to the descriptors inherited from
// the factory and runs the job. It returns an error only when the worker
// could not start or could not report completion.
func Main(ctx context.Context, stdin io.Reader, env Env) error {
	job, err := channel.ReadJob(stdin)
	if err != nil {
		return err
	}
	env.Job = job
	env.defaults()

	if env.Completion == nil {
		completion, gate, err := channel.Inherited()
		if err != nil {
			return err
		}
		defer completion.Close()
		if gate != nil {
			defer gate.Close()
			env.Gate = gate
		}
		env.Completion = channel.NewWriter(completion)
	}

	rotation := logging.DefaultRotationConfig()
	if job.Log.MaxSizeMB > 0 {
		rotation.MaxSizeMB = job.Log.MaxSizeMB
	}
	if job.Log.MaxBackups > 0 {
		rotation.MaxBackups = job.Log.MaxBackups
	}
	level := job.Log.Level
	if level == "" {
		level = logging.LevelInfo
	}
	logger, err := logging.NewTaskLogger(env.Fs, job.Log.Dir, job.TaskID, level, rotation, env.Stderr)
	if err != nil {
		return fmt.Errorf("open task log: %w", err)
	}
	defer logger.Close()
	env.Logger = logger

	return Run(ctx, env)
}
