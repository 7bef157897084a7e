package server

import (
	"context"
	"fmt"
	"os"
	"time"
)

const cpuSampleInterval = 50 * time.Millisecond

// Stats is a host and process resource snapshot.
type Stats struct {
	CPUPercent float64 `json:"cpu"`
	MemUsed    uint64  `json:"ram_used"`
	MemTotal   uint64  `json:"ram_total"`
	Running    bool    `json:"running"`
	PID        int     `json:"pid,omitempty"`
	ProcRSS    uint64  `json:"proc_rss,omitempty"`
}

// Stats samples host CPU over a short interval and reports memory usage plus
// the server's resident set size when it is running.
func (s *Supervisor) Stats(ctx context.Context, h Handle) (Stats, error) {
	var out Stats

	idle0, total0, err := s.proc.cpuTimes()
	if err != nil {
		return out, fmt.Errorf("failed to read cpu times: %w", err)
	}
	timer := time.NewTimer(cpuSampleInterval)
	select {
	case <-ctx.Done():
		timer.Stop()
		return out, ctx.Err()
	case <-timer.C:
	}
	idle1, total1, err := s.proc.cpuTimes()
	if err != nil {
		return out, fmt.Errorf("failed to read cpu times: %w", err)
	}
	out.CPUPercent = cpuPercent(idle0, total0, idle1, total1)

	total, available, err := s.proc.meminfo()
	if err != nil {
		return out, fmt.Errorf("failed to read meminfo: %w", err)
	}
	out.MemTotal = total
	if available < total {
		out.MemUsed = total - available
	}

	if s.IsRunning(h) {
		out.Running = true
		out.PID, _ = ReadPID(h)
		if st, err := s.proc.stat(out.PID); err == nil && st.RSSPages > 0 {
			out.ProcRSS = uint64(st.RSSPages) * uint64(os.Getpagesize())
		}
	}
	return out, nil
}

func cpuPercent(idle0, total0, idle1, total1 uint64) float64 {
	if total1 <= total0 {
		return 0
	}
	busy := float64((total1 - total0) - (idle1 - idle0))
	return busy / float64(total1-total0) * 100
}
