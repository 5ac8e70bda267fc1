//go:build windows

package hook

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// spawnWorker stages the job in a temp file because a detached process
// cannot inherit this console's stdin. The worker deletes the file after
// reading it.
func spawnWorker(subcommand string, job []byte) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	tmp, err := os.CreateTemp("", "tasktrail-job-*.json")
	if err != nil {
		return fmt.Errorf("stage %s job: %w", subcommand, err)
	}
	if _, err := tmp.Write(job); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s job: %w", subcommand, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s job: %w", subcommand, err)
	}

	cmd := exec.Command(exe, subcommand, "--input-file", tmp.Name())
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.DETACHED_PROCESS,
	}
	if err := cmd.Start(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("start %s worker: %w", subcommand, err)
	}
	return cmd.Process.Release()
}
