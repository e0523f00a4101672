// Package testutil provides testing utilities for kaubo tests: scratch
// source trees and an in-memory stand-in for the native compiler library.
package testutil

import (
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/Iron-Ham/kaubo/internal/native"
)

// SetupSourceDir creates a temporary directory holding the given files
// (relative path to content) and returns its path.
func SetupSourceDir(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for path, content := range files {
		fullPath := filepath.Join(dir, path)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			t.Fatalf("failed to create directory for %s: %v", path, err)
		}
		if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write file %s: %v", path, err)
		}
	}
	return dir
}

// FakeLibrary implements native.Library in memory. Subscription ids start
// at 1. Script, when set, runs inside Compile, Interpret and
// InterpretBytecode with the name of the entry point, so it can Emit events
// the way the real library does during a run.
type FakeLibrary struct {
	mu           sync.Mutex
	nextID       uint32
	subs         map[uint32]fakeSub
	configs      []string
	calls        []string
	unsubscribed []uint32
	closed       bool
	closes       int

	// Reject makes Subscribe return 0.
	Reject bool
	// Script is called from every execution entry point.
	Script func(lib *FakeLibrary, entry string)
}

type fakeSub struct {
	kind native.EventKind
	t    *native.Trampoline
}

// NewFakeLibrary returns an empty fake library.
func NewFakeLibrary() *FakeLibrary {
	return &FakeLibrary{subs: make(map[uint32]fakeSub)}
}

// Subscribe implements native.Library.
func (f *FakeLibrary) Subscribe(kind native.EventKind, t *native.Trampoline) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Reject || t == nil {
		return 0
	}
	f.nextID++
	f.subs[f.nextID] = fakeSub{kind: kind, t: t}
	return f.nextID
}

// Unsubscribe implements native.Library. Unknown ids are ignored.
func (f *FakeLibrary) Unsubscribe(id uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[id]; ok {
		delete(f.subs, id)
		f.unsubscribed = append(f.unsubscribed, id)
	}
}

// InitConfig implements native.Library.
func (f *FakeLibrary) InitConfig(doc string) {
	f.record("init_config")
	f.mu.Lock()
	f.configs = append(f.configs, doc)
	f.mu.Unlock()
}

// Compile implements native.Library.
func (f *FakeLibrary) Compile() { f.run("compile") }

// Interpret implements native.Library.
func (f *FakeLibrary) Interpret() { f.run("interpret") }

// InterpretBytecode implements native.Library.
func (f *FakeLibrary) InterpretBytecode() { f.run("interpret_bytecode") }

// Close implements native.Library.
func (f *FakeLibrary) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closes++
	return nil
}

func (f *FakeLibrary) run(entry string) {
	f.record(entry)
	if f.Script != nil {
		f.Script(f, entry)
	}
}

func (f *FakeLibrary) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

// Emit delivers msg to every subscription of kind, in id order, the way
// the native event bus does.
func (f *FakeLibrary) Emit(kind native.EventKind, msg string) {
	f.EmitRaw(kind, []byte(msg))
}

// EmitRaw delivers an undecoded buffer.
func (f *FakeLibrary) EmitRaw(kind native.EventKind, raw []byte) {
	f.mu.Lock()
	ids := make([]uint32, 0, len(f.subs))
	for id, s := range f.subs {
		if s.kind == kind {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	targets := make([]*native.Trampoline, 0, len(ids))
	for _, id := range ids {
		targets = append(targets, f.subs[id].t)
	}
	f.mu.Unlock()

	for _, t := range targets {
		t.Deliver(raw)
	}
}

// Trampoline returns the trampoline registered under id.
func (f *FakeLibrary) Trampoline(id uint32) *native.Trampoline {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[id].t
}

// Live returns the registered subscription ids in ascending order.
func (f *FakeLibrary) Live() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]uint32, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Unsubscribed returns the ids passed to Unsubscribe, in call order.
func (f *FakeLibrary) Unsubscribed() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.unsubscribed)
}

// Configs returns every document passed to InitConfig.
func (f *FakeLibrary) Configs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.configs)
}

// Calls returns init_config and execution entry points in call order.
func (f *FakeLibrary) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// Closed reports whether Close was called.
func (f *FakeLibrary) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Closes returns how many times Close was called.
func (f *FakeLibrary) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}
