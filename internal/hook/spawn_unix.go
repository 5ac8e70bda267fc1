//go:build !windows

package hook

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// spawnWorker starts our own binary on the given subcommand in a new
// session, writes the job to its stdin, and lets go. The worker keeps
// running after the hook process exits.
func spawnWorker(subcommand string, job []byte) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	cmd := exec.Command(exe, subcommand)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open job pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s worker: %w", subcommand, err)
	}
	if _, err := stdin.Write(job); err != nil {
		stdin.Close()
		return fmt.Errorf("write %s job: %w", subcommand, err)
	}
	if err := stdin.Close(); err != nil {
		return fmt.Errorf("close %s job pipe: %w", subcommand, err)
	}
	return cmd.Process.Release()
}
