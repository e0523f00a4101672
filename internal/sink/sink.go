// Package sink turns serializable callback records into event callbacks.
//
// Callbacks cannot cross the process boundary, so the factory sends a Spec
// naming a sink and its arguments, and the worker rebuilds the callback
// from its own Registry. Handlers in the parent process are reached through
// the forward sink, which sends each event back over the completion channel.
package sink

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// Built-in sink names.
const (
	Print   = "print"
	Append  = "append"
	Forward = "forward"
)

// Argument keys understood by the built-in sinks.
const (
	ArgPrefix = "prefix"
	ArgPath   = "path"
)

// Spec is one (event kind, callback) pair in serializable form.
type Spec struct {
	Event string            `msgpack:"event" yaml:"event" json:"event"`
	Sink  string            `msgpack:"sink" yaml:"sink" json:"sink"`
	Args  map[string]string `msgpack:"args,omitempty" yaml:"args,omitempty" json:"args,omitempty"`
}

// String renders the spec for logs, e.g. "LOG_INFO->print".
func (s Spec) String() string {
	return s.Event + "->" + s.Sink
}

// Env is what sinks may use when they are built inside a worker.
type Env struct {
	TaskID string
	Stdout io.Writer
	Fs     afero.Fs
	// Forward delivers an event to the parent process.
	Forward func(event, msg string)
}

// Builder creates the callback for one spec.
type Builder func(spec Spec, env Env) (func(msg string), error)

// Registry maps sink names to builders.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry returns a registry holding the print, append and forward sinks.
func NewRegistry() *Registry {
	r := &Registry{builders: make(map[string]Builder)}
	r.builders[Print] = buildPrint
	r.builders[Append] = buildAppend
	r.builders[Forward] = buildForward
	return r
}

// Register adds or replaces a sink.
func (r *Registry) Register(name string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = b
}

// Names returns the registered sink names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that the sink exists without building it.
func (r *Registry) Validate(spec Spec) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.builders[spec.Sink]; !ok {
		return fmt.Errorf("unknown sink %q (known: %s)", spec.Sink, strings.Join(r.namesLocked(), ", "))
	}
	return nil
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build returns the callback described by spec.
func (r *Registry) Build(spec Spec, env Env) (func(string), error) {
	if err := r.Validate(spec); err != nil {
		return nil, err
	}
	r.mu.RLock()
	b := r.builders[spec.Sink]
	r.mu.RUnlock()

	if env.Stdout == nil {
		env.Stdout = os.Stdout
	}
	if env.Fs == nil {
		env.Fs = afero.NewOsFs()
	}
	cb, err := b(spec, env)
	if err != nil {
		return nil, fmt.Errorf("sink %s: %w", spec, err)
	}
	return cb, nil
}

// buildPrint writes "[prefix] msg" (or just msg) as one line.
func buildPrint(spec Spec, env Env) (func(string), error) {
	prefix := spec.Args[ArgPrefix]
	var mu sync.Mutex
	return func(msg string) {
		mu.Lock()
		defer mu.Unlock()
		if prefix != "" {
			fmt.Fprintf(env.Stdout, "[%s] %s\n", prefix, msg)
			return
		}
		fmt.Fprintln(env.Stdout, msg)
	}, nil
}

// buildAppend appends each message as a line of the file at path.
func buildAppend(spec Spec, env Env) (func(string), error) {
	path := spec.Args[ArgPath]
	if path == "" {
		return nil, fmt.Errorf("missing %q argument", ArgPath)
	}
	fs := env.Fs
	return func(msg string) {
		f, err := fs.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sink %s: %v\n", spec, err)
			return
		}
		defer f.Close()
		if _, err := io.WriteString(f, msg+"\n"); err != nil {
			fmt.Fprintf(os.Stderr, "sink %s: %v\n", spec, err)
		}
	}, nil
}

// buildForward sends each event to the parent process.
func buildForward(spec Spec, env Env) (func(string), error) {
	if env.Forward == nil {
		return nil, fmt.Errorf("no forwarding channel")
	}
	event := spec.Event
	return func(msg string) { env.Forward(event, msg) }, nil
}
