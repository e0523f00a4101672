//go:build windows

package native

import "golang.org/x/sys/windows"

func openLibrary(path string) (Library, error) {
	handle, err := windows.LoadLibrary(path)
	if err != nil {
		return nil, err
	}
	unload := func(h uintptr) error {
		return windows.FreeLibrary(windows.Handle(h))
	}
	lib, err := bindSymbols(path, uintptr(handle), unload)
	if err != nil {
		return nil, err
	}
	return lib, nil
}
