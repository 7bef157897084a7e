package server

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrScanUnavailable is returned when the process table cannot be read.
var ErrScanUnavailable = errors.New("process table unavailable")

const defaultProcRoot = "/proc"

// procFS reads process information from a procfs mount.
type procFS string

type procStat struct {
	PID      int
	Comm     string
	State    string
	UTime    uint64
	STime    uint64
	RSSPages int64
}

func (p procFS) path(pid int, elem ...string) string {
	parts := append([]string{string(p), strconv.Itoa(pid)}, elem...)
	return filepath.Join(parts...)
}

func (p procFS) stat(pid int) (procStat, error) {
	data, err := os.ReadFile(p.path(pid, "stat"))
	if err != nil {
		return procStat{}, err
	}
	return parseProcStat(string(data))
}

func parseProcStat(line string) (procStat, error) {
	parts := splitProcStat(strings.TrimSpace(line))
	if len(parts) < 3 {
		return procStat{}, fmt.Errorf("short stat line: %q", line)
	}
	pid, err := strconv.Atoi(parts[0])
	if err != nil {
		return procStat{}, fmt.Errorf("bad pid in stat line: %w", err)
	}
	st := procStat{
		PID:   pid,
		Comm:  strings.TrimSuffix(strings.TrimPrefix(parts[1], "("), ")"),
		State: parts[2],
	}
	if len(parts) >= 24 {
		st.UTime, _ = strconv.ParseUint(parts[13], 10, 64)
		st.STime, _ = strconv.ParseUint(parts[14], 10, 64)
		st.RSSPages, _ = strconv.ParseInt(parts[23], 10, 64)
	}
	return st, nil
}

// splitProcStat keeps the parenthesised command name as one field even when it
// contains spaces.
func splitProcStat(line string) []string {
	start := strings.Index(line, "(")
	end := strings.LastIndex(line, ")")
	if start == -1 || end == -1 || end <= start {
		return strings.Fields(line)
	}
	before := strings.Fields(line[:start])
	name := line[start : end+1]
	after := strings.Fields(line[end+1:])
	fields := append(before, name)
	fields = append(fields, after...)
	return fields
}

func (p procFS) exeName(pid int, comm string) string {
	if target, err := os.Readlink(p.path(pid, "exe")); err == nil {
		return strings.ToLower(filepath.Base(target))
	}
	return strings.ToLower(comm)
}

func (p procFS) pids() ([]int, error) {
	entries, err := os.ReadDir(string(p))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScanUnavailable, err)
	}
	pids := make([]int, 0, len(entries))
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids, nil
}

// findByCwd returns the lowest pid whose working directory is dir and whose
// command or executable name contains runtime. It returns 0 when nothing
// matches.
func (p procFS) findByCwd(dir, runtime string) (int, error) {
	pids, err := p.pids()
	if err != nil {
		return 0, err
	}
	want := cleanDir(dir)
	runtime = strings.ToLower(runtime)
	for _, pid := range pids {
		cwd, err := os.Readlink(p.path(pid, "cwd"))
		if err != nil || cleanDir(cwd) != want {
			continue
		}
		st, err := p.stat(pid)
		if err != nil || st.State == "Z" || st.State == "X" {
			continue
		}
		if strings.Contains(strings.ToLower(st.Comm), runtime) || strings.Contains(p.exeName(pid, st.Comm), runtime) {
			return pid, nil
		}
	}
	return 0, nil
}

func cleanDir(dir string) string {
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	return filepath.Clean(dir)
}

// cpuTimes returns aggregate idle and total jiffies from the first line of stat.
func (p procFS) cpuTimes() (idle, total uint64, err error) {
	file, err := os.Open(filepath.Join(string(p), "stat"))
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		for i, f := range fields[1:] {
			if i >= 8 {
				break
			}
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return 0, 0, fmt.Errorf("bad cpu field %q: %w", f, err)
			}
			total += v
			// idle and iowait
			if i == 3 || i == 4 {
				idle += v
			}
		}
		return idle, total, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, err
	}
	return 0, 0, errors.New("no aggregate cpu line")
}

// meminfo returns total and available memory in bytes.
func (p procFS) meminfo() (total, available uint64, err error) {
	file, err := os.Open(filepath.Join(string(p), "meminfo"))
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v * 1024
		case "MemAvailable:":
			available = v * 1024
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, err
	}
	if total == 0 {
		return 0, 0, errors.New("MemTotal missing")
	}
	return total, available, nil
}
