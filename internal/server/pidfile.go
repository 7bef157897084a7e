package server

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// ReadPID returns the pid recorded for h. A missing, empty or unparsable file
// reports ok=false.
func ReadPID(h Handle) (pid int, ok bool) {
	data, err := os.ReadFile(h.PIDFile())
	if err != nil {
		return 0, false
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func writePID(h Handle, pid int) error {
	return os.WriteFile(h.PIDFile(), []byte(strconv.Itoa(pid)), 0o644)
}

func removePID(h Handle) error {
	if err := os.Remove(h.PIDFile()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
