//go:build windows

package env

import (
	"os/exec"
	"time"

	"golang.org/x/sys/windows"
)

// setProcessGroup creates the child in its own process group
// (CREATE_NEW_PROCESS_GROUP) so it can receive a Ctrl-Break independent
// of this process's console group.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &windows.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= windows.CREATE_NEW_PROCESS_GROUP
}

// killProcessGroup sends CTRL_BREAK_EVENT to the child's process
// group, then force-kills it after a short grace, matching spec.md
// §5's "terminate, then kill" on platforms without SIGTERM.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pid := uint32(cmd.Process.Pid)
	windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, pid)

	done := make(chan struct{})
	go func() {
		cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		cmd.Process.Kill()
	}
}
