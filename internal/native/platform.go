package native

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/Iron-Ham/kaubo/internal/errors"
)

// DefaultBaseName is the base name of the native compiler library.
const DefaultBaseName = "kaubo_common"

// LibraryFileName returns the platform file name of the library with the
// given base name on the running OS.
func LibraryFileName(base string) (string, error) {
	return libraryFileName(runtime.GOOS, base)
}

func libraryFileName(goos, base string) (string, error) {
	switch goos {
	case "windows":
		return base + ".dll", nil
	case "darwin":
		return "lib" + base + ".dylib", nil
	case "linux":
		return "lib" + base + ".so", nil
	default:
		return "", errors.NewBridgeError(fmt.Sprintf("no library naming rule for %s", goos), errors.ErrUnsupportedPlatform)
	}
}

// ExecutableDir returns the directory of the running executable, falling
// back to the working directory when it cannot be determined.
func ExecutableDir() string {
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		return filepath.Dir(exe)
	}
	wd, _ := os.Getwd()
	return wd
}

// SearchPaths returns the ordered candidate directories: processDir first,
// then each of dirs in order, relative ones joined onto processDir.
// Duplicates keep their first position.
func SearchPaths(processDir string, dirs []string) []string {
	out := make([]string, 0, len(dirs)+1)
	seen := make(map[string]bool, len(dirs)+1)
	add := func(p string) {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	add(processDir)
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if !filepath.IsAbs(d) {
			d = filepath.Join(processDir, d)
		}
		add(d)
	}
	return out
}
