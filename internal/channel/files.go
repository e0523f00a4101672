package channel

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/Iron-Ham/kaubo/internal/errors"
)

// Environment variables naming the inherited descriptors in the worker.
const (
	EnvChannel = "KAUBO_CHANNEL_FD"
	EnvGate    = "KAUBO_GATE_FD"
)

// Attach passes the write end of the completion channel and, when gate is
// not nil, the read end of the gate to the process cmd will start. It must
// be called before cmd.Start.
func Attach(cmd *exec.Cmd, completion, gate *os.File) error {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	fd, err := inherit(cmd, completion)
	if err != nil {
		return fmt.Errorf("pass completion channel: %w", err)
	}
	cmd.Env = append(cmd.Env, EnvChannel+"="+strconv.FormatUint(uint64(fd), 10))
	if gate == nil {
		return nil
	}
	fd, err = inherit(cmd, gate)
	if err != nil {
		return fmt.Errorf("pass gate: %w", err)
	}
	cmd.Env = append(cmd.Env, EnvGate+"="+strconv.FormatUint(uint64(fd), 10))
	return nil
}

// Inherited returns the descriptors Attach passed to this process. The gate
// is nil when the task is not gated.
func Inherited() (completion, gate *os.File, err error) {
	completion, err = fromEnv(EnvChannel, "completion")
	if err != nil {
		return nil, nil, err
	}
	if completion == nil {
		return nil, nil, fmt.Errorf("%s not set: not started by a factory", EnvChannel)
	}
	gate, err = fromEnv(EnvGate, "gate")
	if err != nil {
		completion.Close()
		return nil, nil, err
	}
	return completion, gate, nil
}

func fromEnv(key, name string) (*os.File, error) {
	v := os.Getenv(key)
	if v == "" {
		return nil, nil
	}
	fd, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s=%q: %w", key, v, err)
	}
	return os.NewFile(uintptr(fd), name), nil
}

// Release lets a gated worker proceed to Run.
func Release(gate io.Writer) error {
	if _, err := gate.Write([]byte{1}); err != nil {
		return fmt.Errorf("release gate: %w", err)
	}
	return nil
}

// Wait blocks until the gate is released. A gate closed without a release
// returns ErrGateClosed.
func Wait(gate io.Reader) error {
	var b [1]byte
	n, err := gate.Read(b[:])
	if n == 1 {
		return nil
	}
	if err == nil || err == io.EOF {
		return errors.ErrGateClosed
	}
	return fmt.Errorf("%w: %w", errors.ErrGateClosed, err)
}
