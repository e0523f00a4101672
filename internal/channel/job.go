package channel

import (
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Iron-Ham/kaubo/internal/runopts"
	"github.com/Iron-Ham/kaubo/internal/sink"
)

// Job is everything a worker needs to run one task.
type Job struct {
	TaskID      string          `msgpack:"task_id"`
	Kind        string          `msgpack:"kind"`
	Options     runopts.Options `msgpack:"options"`
	Callbacks   []sink.Spec     `msgpack:"callbacks,omitempty"`
	LibraryDirs []string        `msgpack:"library_dirs,omitempty"`
	BaseName    string          `msgpack:"base_name,omitempty"`
	Gated       bool            `msgpack:"gated,omitempty"`
	Log         LogSettings     `msgpack:"log"`
}

// LogSettings tells the worker where and how to log.
type LogSettings struct {
	Dir        string `msgpack:"dir,omitempty"`
	Level      string `msgpack:"level,omitempty"`
	MaxSizeMB  int    `msgpack:"max_size_mb,omitempty"`
	MaxBackups int    `msgpack:"max_backups,omitempty"`
}

// WriteJob encodes job to w.
func WriteJob(w io.Writer, job Job) error {
	if err := msgpack.NewEncoder(w).Encode(&job); err != nil {
		return fmt.Errorf("encode job %s: %w", job.TaskID, err)
	}
	return nil
}

// ReadJob decodes one job from r.
func ReadJob(r io.Reader) (Job, error) {
	var job Job
	dec := msgpack.NewDecoder(r)
	// Option values are untyped; widen integers to int64 and floats to
	// float64 instead of the smallest width that was on the wire.
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(&job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if job.TaskID == "" {
		return Job{}, fmt.Errorf("decode job: missing task id")
	}
	return job, nil
}
