package server

import "log"

// State is derived on every call from the pid file and the process table.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Status is a point-in-time view of one server.
type Status struct {
	Name  string `json:"name"`
	State State  `json:"state"`
	PID   int    `json:"pid,omitempty"`
}

// IsRunning reports whether the recorded pid is alive. A pid file that names
// a dead or zombie process, or that cannot be parsed, is removed.
func (s *Supervisor) IsRunning(h Handle) bool {
	pid, ok := ReadPID(h)
	if ok && s.alive(pid) {
		return true
	}
	if !fileExists(h.PIDFile()) {
		return false
	}
	if err := removePID(h); err != nil {
		log.Printf("[Status] Failed to remove stale pid file for %s: %v", h.Name, err)
	} else {
		log.Printf("[Status] Removed stale pid file for %s (pid %d)", h.Name, pid)
	}
	return false
}

// State returns the derived state of h.
func (s *Supervisor) State(h Handle) State {
	if s.IsRunning(h) {
		return StateRunning
	}
	return StateStopped
}

// Status returns the state of h together with its pid when running.
func (s *Supervisor) Status(h Handle) Status {
	st := Status{Name: h.Name, State: s.State(h)}
	if st.State == StateRunning {
		st.PID, _ = ReadPID(h)
	}
	return st
}

// alive combines a kill(0) check with the process state so zombies count as
// dead.
func (s *Supervisor) alive(pid int) bool {
	if !s.procs.Exists(pid) {
		return false
	}
	st, err := s.proc.stat(pid)
	if err != nil {
		return true
	}
	return st.State != "Z" && st.State != "X"
}
