package daemon

import (
	"os"
	"os/exec"
	"syscall"
)

// StartBackground spawns "<binary> run <args...>" detached from the
// terminal so the agent keeps running after the shell exits. Output goes
// to logPath when set.
func StartBackground(binaryPath, logPath string, args ...string) (int, error) {
	if binaryPath == "" {
		executable, err := os.Executable()
		if err != nil {
			return 0, err
		}
		binaryPath = executable
	}

	cmd := BackgroundCommand(binaryPath, args...)

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	// The child is not waited on; release it so it is not tracked here.
	_ = cmd.Process.Release()
	return pid, nil
}

// BackgroundCommand builds the detached "run" command without starting it.
func BackgroundCommand(binaryPath string, args ...string) *exec.Cmd {
	cmd := exec.Command(binaryPath, append([]string{"run"}, args...)...)

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}

	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd
}
