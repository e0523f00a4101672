//go:build windows

package channel

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// inherit marks f's handle inheritable and lists it for the child. The
// child sees the same handle value.
func inherit(cmd *exec.Cmd, f *os.File) (uintptr, error) {
	h := windows.Handle(f.Fd())
	if err := windows.SetHandleInformation(h, windows.HANDLE_FLAG_INHERIT, windows.HANDLE_FLAG_INHERIT); err != nil {
		return 0, err
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.AdditionalInheritedHandles = append(cmd.SysProcAttr.AdditionalInheritedHandles, syscall.Handle(h))
	return uintptr(h), nil
}
