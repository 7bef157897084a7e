//go:build !windows

package server

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

func (osProcessManager) Exists(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func (osProcessManager) Terminate(pid int, force bool) error {
	if pid <= 0 {
		return nil
	}
	sig := unix.SIGTERM
	if force {
		sig = unix.SIGKILL
	}

	var errs []error
	if err := unix.Kill(pid, sig); err != nil && !ignorableSignalErr(err) {
		errs = append(errs, err)
	}

	// Servers are launched with setsid, so the group id equals the pid. Never
	// signal our own group.
	pgid, err := unix.Getpgid(pid)
	switch {
	case err != nil:
		if !ignorableSignalErr(err) {
			errs = append(errs, err)
		}
	case pgid > 0 && pgid != unix.Getpgrp():
		if err := unix.Kill(-pgid, sig); err != nil && !ignorableSignalErr(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func ignorableSignalErr(err error) bool {
	return errors.Is(err, unix.ESRCH) || errors.Is(err, unix.EPERM)
}
