//go:build !windows

package channel

import (
	"os"
	"os/exec"
)

// inherit appends f to the child's extra files. Extra file i becomes
// descriptor 3+i in the child.
func inherit(cmd *exec.Cmd, f *os.File) (uintptr, error) {
	cmd.ExtraFiles = append(cmd.ExtraFiles, f)
	return uintptr(2 + len(cmd.ExtraFiles)), nil
}
