// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

// FakeProcess is a long-running process started under a chosen name, so
// policy matching can be exercised against a real process table.
type FakeProcess struct {
	Name string
	Path string
	cmd  *exec.Cmd
}

// StartFakeProcess copies the system sleep binary into dir as name and
// starts it. Keep name under 15 characters; Linux truncates process names.
func StartFakeProcess(dir, name string) (*FakeProcess, error) {
	sleepPath, err := exec.LookPath("sleep")
	if err != nil {
		return nil, fmt.Errorf("sleep binary not found: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := copyExecutable(sleepPath, path); err != nil {
		return nil, err
	}

	cmd := exec.Command(path, "300")
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &FakeProcess{Name: name, Path: path, cmd: cmd}, nil
}

// PID returns the process ID.
func (f *FakeProcess) PID() int {
	return f.cmd.Process.Pid
}

// Stop kills the process and waits for it to exit.
func (f *FakeProcess) Stop() error {
	if f.cmd.Process == nil {
		return nil
	}
	_ = f.cmd.Process.Kill()
	_, _ = f.cmd.Process.Wait()
	return nil
}

func copyExecutable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
