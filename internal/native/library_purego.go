//go:build windows || ((darwin || linux) && (amd64 || arm64))

package native

import (
	"fmt"

	"github.com/ebitengine/purego"

	"github.com/Iron-Ham/kaubo/internal/errors"
)

// dynamicLibrary calls into a mapped shared library through purego.
type dynamicLibrary struct {
	path   string
	handle uintptr
	unload func(handle uintptr) error

	subscribe         func(kind uint32, cb uintptr) uint32
	unsubscribe       func(id uint32)
	initConfig        func(doc string)
	compile           func()
	interpret         func()
	interpretBytecode func()
}

// bindSymbols resolves every ABI symbol in handle. purego panics on a
// missing symbol; that panic becomes ErrLibraryLoadFailed.
func bindSymbols(path string, handle uintptr, unload func(uintptr) error) (lib *dynamicLibrary, err error) {
	lib = &dynamicLibrary{path: path, handle: handle, unload: unload}
	bindings := []struct {
		name string
		fptr any
	}{
		{symSubscribe, &lib.subscribe},
		{symUnsubscribe, &lib.unsubscribe},
		{symInitConfig, &lib.initConfig},
		{symCompile, &lib.compile},
		{symInterpret, &lib.interpret},
		{symInterpretBytecode, &lib.interpretBytecode},
	}

	var current string
	defer func() {
		if r := recover(); r != nil {
			_ = unload(handle)
			lib = nil
			err = errors.NewBridgeError(fmt.Sprintf("bind symbol %s: %v", current, r), errors.ErrLibraryLoadFailed).
				WithLibrary(path)
		}
	}()
	for _, b := range bindings {
		current = b.name
		purego.RegisterLibFunc(b.fptr, handle, b.name)
	}
	return lib, nil
}

func (l *dynamicLibrary) Subscribe(kind EventKind, t *Trampoline) uint32 {
	return l.subscribe(uint32(kind), nativeEntry(t))
}

func (l *dynamicLibrary) Unsubscribe(id uint32) { l.unsubscribe(id) }

func (l *dynamicLibrary) InitConfig(doc string) { l.initConfig(doc) }

func (l *dynamicLibrary) Compile() { l.compile() }

func (l *dynamicLibrary) Interpret() { l.interpret() }

func (l *dynamicLibrary) InterpretBytecode() { l.interpretBytecode() }

func (l *dynamicLibrary) Close() error {
	if l.handle == 0 {
		return nil
	}
	h := l.handle
	l.handle = 0
	return l.unload(h)
}

// nativeEntry returns the C function pointer for t, creating it on first
// use. The callback returns a word so it satisfies the Windows callback
// contract; the library declares it void and ignores it.
func nativeEntry(t *Trampoline) uintptr {
	t.entryOnce.Do(func() {
		t.entry = purego.NewCallback(func(data uintptr) uintptr {
			t.deliverC(data)
			return 0
		})
	})
	return t.entry
}
