package agent

import (
	"os/exec"
	"syscall"
	"time"
)

// processWaitDelay bounds how long Wait blocks on pipes after cancellation.
const processWaitDelay = 5 * time.Second

// TerminateGroupOnCancel starts cmd in its own process group and makes
// context cancellation send sig to the whole group, so children spawned by
// the agent CLI do not outlive it.
func TerminateGroupOnCancel(cmd *exec.Cmd, sig syscall.Signal) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, sig)
	}
	cmd.WaitDelay = processWaitDelay
}

// Binary splits a command override into the executable and its leading
// arguments, falling back to def.
func Binary(command []string, def string) (string, []string) {
	if len(command) == 0 || command[0] == "" {
		return def, nil
	}
	return command[0], command[1:]
}
