package server

import (
	"fmt"
	"log"
	"os"
	"os/exec"
)

// ProcessManager abstracts the operating system calls the supervisor makes.
type ProcessManager interface {
	// Spawn starts argv in dir, detached from the caller's session, with
	// stdout and stderr written to output.
	Spawn(dir string, argv []string, output *os.File) (int, error)

	// Exists reports whether pid can be signalled.
	Exists(pid int) bool

	// Terminate asks pid and its process group to exit, or kills them when
	// force is set. Already-gone and permission errors are not reported.
	Terminate(pid int, force bool) error
}

type osProcessManager struct{}

func (osProcessManager) Spawn(dir string, argv []string, output *os.File) (int, error) {
	if len(argv) == 0 {
		return 0, fmt.Errorf("empty command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.SysProcAttr = detachedAttr()
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	// reap the child if it exits while we are still alive
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Printf("[Supervisor] Process %d exited: %v", pid, err)
		}
	}()
	return pid, nil
}
