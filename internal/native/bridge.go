// Package native binds the kaubo_common compiler library.
//
// A Bridge owns one mapped library and the trampolines behind its event
// subscriptions. Native calls run on the calling goroutine, locked to its
// OS thread, and event callbacks fire synchronously from inside Compile,
// Interpret and InterpretBytecode. A Bridge is meant to be driven by a
// single task; Subscribe and Unsubscribe may be called from inside a
// callback.
package native

import (
	"fmt"
	"path/filepath"
	"runtime"
	"slices"
	"sync"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/kaubo/internal/errors"
	"github.com/Iron-Ham/kaubo/internal/logging"
	"github.com/Iron-Ham/kaubo/internal/runopts"
)

// Opener maps the library at path.
type Opener func(path string) (Library, error)

type options struct {
	baseName   string
	dirs       []string
	processDir string
	fs         afero.Fs
	logger     *logging.Logger
	open       Opener
}

// Option configures Load and New.
type Option func(*options)

// WithBaseName overrides the library base name (default kaubo_common).
func WithBaseName(name string) Option {
	return func(o *options) { o.baseName = name }
}

// WithSearchDirs appends directories searched after the process directory.
func WithSearchDirs(dirs ...string) Option {
	return func(o *options) { o.dirs = append(o.dirs, dirs...) }
}

// WithProcessDir overrides the process directory (default: the executable's).
func WithProcessDir(dir string) Option {
	return func(o *options) { o.processDir = dir }
}

// WithFs sets the filesystem used to probe candidate paths.
func WithFs(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// WithLogger sets the bridge logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithOpener replaces the dynamic loader.
func WithOpener(open Opener) Option {
	return func(o *options) { o.open = open }
}

func buildOptions(opts []Option) *options {
	o := &options{
		baseName: DefaultBaseName,
		fs:       afero.NewOsFs(),
		logger:   logging.NopLogger(),
		open:     openLibrary,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.processDir == "" {
		o.processDir = ExecutableDir()
	}
	return o
}

// Bridge is a loaded native library plus its live subscriptions.
type Bridge struct {
	mu     sync.Mutex
	lib    Library
	path   string
	subs   map[uint32]*Trampoline
	logger *logging.Logger
	closed bool
}

// Find returns the first existing library path in search order. The error
// lists every checked path.
func Find(opts ...Option) (string, error) {
	return find(buildOptions(opts))
}

func find(o *options) (string, error) {
	name, err := LibraryFileName(o.baseName)
	if err != nil {
		return "", err
	}
	var checked []string
	for _, dir := range SearchPaths(o.processDir, o.dirs) {
		candidate := filepath.Join(dir, name)
		checked = append(checked, candidate)
		if ok, _ := afero.Exists(o.fs, candidate); ok {
			return candidate, nil
		}
	}
	return "", errors.NewBridgeError("library not found", errors.ErrLibraryNotFound).
		WithLibrary(name).
		WithCheckedPaths(checked)
}

// Load finds, maps and binds the native library.
func Load(opts ...Option) (*Bridge, error) {
	o := buildOptions(opts)
	path, err := find(o)
	if err != nil {
		return nil, err
	}
	lib, err := o.open(path)
	if err != nil {
		if errors.Is(err, errors.ErrLibraryLoadFailed) || errors.Is(err, errors.ErrUnsupportedPlatform) {
			return nil, err
		}
		return nil, errors.NewBridgeError("map library", fmt.Errorf("%w: %w", errors.ErrLibraryLoadFailed, err)).
			WithLibrary(path)
	}
	o.logger.Debug("native library loaded", "path", path)
	b := New(lib, opts...)
	b.path = path
	return b, nil
}

// New wraps an already bound library.
func New(lib Library, opts ...Option) *Bridge {
	o := &options{logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(o)
	}
	return &Bridge{
		lib:    lib,
		subs:   make(map[uint32]*Trampoline),
		logger: o.logger,
	}
}

// Path returns the mapped library path, empty for bridges built with New.
func (b *Bridge) Path() string {
	return b.path
}

// SubscribeEvent registers cb for the named event kind and returns the
// native subscription id.
func (b *Bridge) SubscribeEvent(kind string, cb func(string)) (uint32, error) {
	k, err := ParseEventKind(kind)
	if err != nil {
		return 0, err
	}
	return b.Subscribe(k, cb)
}

// Subscribe registers cb for k.
func (b *Bridge) Subscribe(k EventKind, cb func(string)) (uint32, error) {
	if !k.Valid() {
		return 0, errors.NewBridgeError("subscribe", errors.ErrInvalidEventKind).WithEventKind(k.String())
	}
	if cb == nil {
		return 0, errors.NewBridgeError("subscribe: nil callback", nil).WithEventKind(k.String())
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, errors.NewBridgeError("subscribe: bridge closed", nil).WithEventKind(k.String())
	}

	t := trampolines.acquire(cb)
	id := b.lib.Subscribe(k, t)
	if id == 0 {
		trampolines.release(t)
		return 0, errors.NewBridgeError("subscribe: rejected by native library", nil).WithEventKind(k.String())
	}
	if prev, ok := b.subs[id]; ok {
		trampolines.release(prev)
	}
	b.subs[id] = t
	b.logger.Debug("subscribed", "event", k.String(), "subscription", id, "slot", t.Slot())
	return id, nil
}

// UnsubscribeEvent stops delivery for id and releases its trampoline.
func (b *Bridge) UnsubscribeEvent(id uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.subs[id]
	if !ok {
		return errors.NewBridgeError("unsubscribe", errors.ErrUnknownSubscription).WithSubscription(id)
	}
	delete(b.subs, id)
	b.lib.Unsubscribe(id)
	trampolines.release(t)
	b.logger.Debug("unsubscribed", "subscription", id)
	return nil
}

// Subscriptions returns the live subscription ids in ascending order.
func (b *Bridge) Subscriptions() []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]uint32, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// InitWithConfig sends the canonical JSON encoding of opts to init_config.
func (b *Bridge) InitWithConfig(opts runopts.Options) error {
	doc, err := runopts.Encode(opts)
	if err != nil {
		return errors.NewBridgeError("init config", err)
	}
	return b.call("init_config", func(lib Library) { lib.InitConfig(string(doc)) })
}

// Compile runs the native compiler. Events fire before it returns.
func (b *Bridge) Compile() error {
	return b.call(symCompile, Library.Compile)
}

// Interpret runs the native interpreter.
func (b *Bridge) Interpret() error {
	return b.call(symInterpret, Library.Interpret)
}

// InterpretBytecode runs the native bytecode interpreter.
func (b *Bridge) InterpretBytecode() error {
	return b.call(symInterpretBytecode, Library.InterpretBytecode)
}

// call runs fn on the current OS thread without holding the bridge lock,
// so callbacks may re-enter the bridge.
func (b *Bridge) call(name string, fn func(Library)) error {
	b.mu.Lock()
	lib, closed := b.lib, b.closed
	b.mu.Unlock()
	if closed {
		return errors.NewBridgeError(name+": bridge closed", nil).WithLibrary(b.path)
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	fn(lib)
	return nil
}

// Close releases every remaining subscription and unmaps the library.
// Further calls return an error; Close itself is idempotent.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	ids := make([]uint32, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		b.lib.Unsubscribe(id)
		trampolines.release(b.subs[id])
		delete(b.subs, id)
	}
	if len(ids) > 0 {
		b.logger.Warn("released subscriptions on close", "count", len(ids))
	}
	return b.lib.Close()
}
