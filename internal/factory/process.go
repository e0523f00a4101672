package factory

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/kaubo/internal/channel"
	"github.com/Iron-Ham/kaubo/internal/errors"
	"github.com/Iron-Ham/kaubo/internal/event"
	"github.com/Iron-Ham/kaubo/internal/logging"
)

// Process is the record of one spawned worker.
type Process struct {
	TaskID   string
	ConfigID string
	Started  time.Time

	cmd  *exec.Cmd
	gate *os.File // write end; nil once released or when not gated

	done       chan struct{} // closed after exit and channel EOF
	exitCode   atomic.Int32
	terminated atomic.Bool

	mu     sync.Mutex
	result *channel.Message // the worker's done message
}

func newProcess(taskID, configID string, cmd *exec.Cmd, gate *os.File) *Process {
	p := &Process{
		TaskID:   taskID,
		ConfigID: configID,
		cmd:      cmd,
		gate:     gate,
		done:     make(chan struct{}),
	}
	p.exitCode.Store(-1)
	return p
}

// PID returns the worker's process id, or -1 before start.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// Done is closed once the worker exited and its completion channel was
// drained.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports whether Done is closed.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the worker's exit code, or -1 while it runs or when it
// was killed.
func (p *Process) ExitCode() int { return int(p.exitCode.Load()) }

// Gated reports whether the worker still waits on its gate.
func (p *Process) Gated() bool { return p.gate != nil }

// Result returns the worker's done message, if one arrived.
func (p *Process) Result() (channel.Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.result == nil {
		return channel.Message{}, false
	}
	return *p.result, true
}

func (p *Process) setResult(m channel.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result = &m
}

// closeGate closes the gate without releasing it, which cancels a worker
// still waiting.
func (p *Process) closeGate() {
	if p.gate != nil {
		_ = p.gate.Close()
		p.gate = nil
	}
}

// monitor waits for the worker to exit and for its completion channel to
// reach EOF, then closes done.
func (p *Process) monitor(completion io.ReadCloser, q *inbox, bus *event.Bus, log *logging.Logger) {
	var wg conc.WaitGroup
	wg.Go(func() { p.read(completion, q, bus, log) })
	wg.Go(func() {
		err := p.cmd.Wait()
		code := -1
		if p.cmd.ProcessState != nil {
			code = p.cmd.ProcessState.ExitCode()
		}
		p.exitCode.Store(int32(code))
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			log.Warn("wait for worker", "error", err)
		}
	})
	wg.Wait()
	_ = completion.Close()

	result, reported := p.Result()
	switch {
	case p.terminated.Load():
	case !reported:
		// No done message: record the parent's view of the attempt so every
		// spawned task still gets a duration.
		m := channel.NewDone(p.TaskID, time.Since(p.Started), errors.New("worker exited without reporting completion"))
		p.setResult(m)
		q.push(m)
		bus.Publish(event.NewTaskCompletedEvent(p.TaskID, m.Seconds, m.Error))
		bus.Publish(event.NewTaskFailedEvent(p.TaskID, m.Error, p.ExitCode()))
	case result.Failed():
		bus.Publish(event.NewTaskFailedEvent(p.TaskID, result.Error, p.ExitCode()))
	}
	log.Debug("worker exited", "exit_code", p.ExitCode(), "reported", reported)
	close(p.done)
}

// read drains the completion channel until EOF.
func (p *Process) read(completion io.Reader, q *inbox, bus *event.Bus, log *logging.Logger) {
	r := channel.NewReader(completion)
	for {
		m, err := r.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			log.Warn("corrupt completion channel", "error", err)
			// Keep the worker from blocking on a full pipe.
			_, _ = io.Copy(io.Discard, completion)
			return
		}
		switch m.Type {
		case channel.TypeEvent:
			bus.Publish(event.NewNativeEvent(m.Task, m.Event, m.Text))
		case channel.TypeDone:
			p.setResult(m)
			q.push(m)
			bus.Publish(event.NewTaskCompletedEvent(m.Task, m.Seconds, m.Error))
		}
	}
}

// inbox is the completion queue shared with reader goroutines.
type inbox struct {
	mu   sync.Mutex
	msgs []channel.Message
}

func (q *inbox) push(m channel.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, m)
}

// drain returns and clears the queued messages without blocking on
// readers.
func (q *inbox) drain() []channel.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.msgs
	q.msgs = nil
	return msgs
}
