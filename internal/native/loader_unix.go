//go:build (darwin || linux) && (amd64 || arm64)

package native

import "github.com/ebitengine/purego"

func openLibrary(path string) (Library, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, err
	}
	lib, err := bindSymbols(path, handle, purego.Dlclose)
	if err != nil {
		return nil, err
	}
	return lib, nil
}
