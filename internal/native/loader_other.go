//go:build !windows && !((darwin || linux) && (amd64 || arm64))

package native

import (
	"runtime"

	"github.com/Iron-Ham/kaubo/internal/errors"
)

func openLibrary(path string) (Library, error) {
	return nil, errors.NewBridgeError("no dynamic loader for "+runtime.GOOS+"/"+runtime.GOARCH, errors.ErrUnsupportedPlatform).
		WithLibrary(path)
}
