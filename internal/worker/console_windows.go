//go:build windows

package worker

import "golang.org/x/sys/windows"

const codePageUTF8 = 65001

// normalizeConsole switches the console to UTF-8 so native output renders.
func normalizeConsole() error {
	if err := windows.SetConsoleOutputCP(codePageUTF8); err != nil {
		return err
	}
	return windows.SetConsoleCP(codePageUTF8)
}
