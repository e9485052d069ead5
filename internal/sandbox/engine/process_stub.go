//go:build !linux

package engine

import (
	"os"
	"os/exec"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

func killGroup(cmd *exec.Cmd, _ int) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func signalExitCode(*os.ProcessState) int {
	return 0
}

func peakMemory(*os.ProcessState) int64 {
	return 0
}
