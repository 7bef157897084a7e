package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/TheGojiOG/mcpanel/internal/config"
	"github.com/TheGojiOG/mcpanel/internal/server"
)

const (
	cleanupInterval = 6 * time.Hour
	sampleTimeout   = 10 * time.Second
)

// Source lists servers and samples their resource usage. control.Controller
// satisfies it.
type Source interface {
	Layout() server.Layout
	Stats(ctx context.Context, name string) (server.Stats, error)
}

// Sample is one stored resource snapshot.
type Sample struct {
	ServerName string    `json:"server"`
	SampledAt  time.Time `json:"sampled_at"`
	Running    bool      `json:"running"`
	PID        int       `json:"pid,omitempty"`
	CPUPercent float64   `json:"cpu"`
	MemUsed    uint64    `json:"ram_used"`
	MemTotal   uint64    `json:"ram_total"`
	ProcRSS    uint64    `json:"proc_rss,omitempty"`
}

// Collector samples every server on an interval and keeps the history in
// the server_metrics table.
type Collector struct {
	cfg    config.MetricsConfig
	source Source
	db     *sql.DB
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	lastCleanup time.Time
}

func NewCollector(cfg config.MetricsConfig, source Source, db *sql.DB) *Collector {
	ctx, cancel := context.WithCancel(context.Background())
	return &Collector{
		cfg:    cfg,
		source: source,
		db:     db,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start samples in the background until Stop is called. It does nothing when
// metrics are disabled.
func (c *Collector) Start() {
	if !c.cfg.Enabled || c.cfg.Interval <= 0 {
		return
	}
	log.Printf("[Metrics] Sampling every %s", c.cfg.Interval)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.CollectAll(c.ctx); err != nil {
					log.Printf("[Metrics] Collection failed: %v", err)
				}
			case <-c.ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels an in-flight collection and waits for the loop to exit.
func (c *Collector) Stop() {
	c.cancel()
	c.wg.Wait()
}

// CollectAll stores one sample per server. A server that cannot be sampled
// is skipped.
func (c *Collector) CollectAll(ctx context.Context) error {
	handles, err := c.source.Layout().List()
	if err != nil {
		return err
	}
	now := c.now().UTC()
	for _, h := range handles {
		sctx, cancel := context.WithTimeout(ctx, sampleTimeout)
		stats, err := c.source.Stats(sctx, h.Name)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[Metrics] Failed to sample %s: %v", h.Name, err)
			continue
		}
		if err := c.record(Sample{
			ServerName: h.Name,
			SampledAt:  now,
			Running:    stats.Running,
			PID:        stats.PID,
			CPUPercent: stats.CPUPercent,
			MemUsed:    stats.MemUsed,
			MemTotal:   stats.MemTotal,
			ProcRSS:    stats.ProcRSS,
		}); err != nil {
			log.Printf("[Metrics] Failed to store sample for %s: %v", h.Name, err)
		}
	}
	c.cleanupOldMetrics(now)
	return nil
}

func (c *Collector) record(s Sample) error {
	_, err := c.db.Exec(`
		INSERT INTO server_metrics (
			server_name, sampled_at, running, pid, cpu_percent, mem_used, mem_total, proc_rss
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ServerName,
		s.SampledAt,
		s.Running,
		s.PID,
		s.CPUPercent,
		int64(s.MemUsed),
		int64(s.MemTotal),
		int64(s.ProcRSS),
	)
	return err
}

func (c *Collector) cleanupOldMetrics(now time.Time) {
	if c.cfg.Retention <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.lastCleanup.IsZero() && now.Sub(c.lastCleanup) < cleanupInterval {
		return
	}

	res, err := c.db.Exec("DELETE FROM server_metrics WHERE sampled_at < ?", now.Add(-c.cfg.Retention))
	if err != nil {
		log.Printf("[Metrics] Failed to prune samples: %v", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Printf("[Metrics] Pruned %d old samples", n)
	}
	c.lastCleanup = now
}

// Samples returns stored samples of a server since a time, newest first.
func (c *Collector) Samples(name string, since time.Time, limit int) ([]Sample, error) {
	query := `
		SELECT server_name, sampled_at, running, pid, cpu_percent, mem_used, mem_total, proc_rss
		FROM server_metrics
		WHERE server_name = ? AND sampled_at >= ?
		ORDER BY sampled_at DESC`
	args := []any{name, since.UTC()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	samples := make([]Sample, 0)
	for rows.Next() {
		var (
			s                      Sample
			pid                    sql.NullInt64
			memUsed, memTotal, rss sql.NullInt64
			cpu                    sql.NullFloat64
		)
		if err := rows.Scan(&s.ServerName, &s.SampledAt, &s.Running, &pid, &cpu, &memUsed, &memTotal, &rss); err != nil {
			return nil, fmt.Errorf("failed to scan metrics: %w", err)
		}
		s.PID = int(pid.Int64)
		s.CPUPercent = cpu.Float64
		s.MemUsed = uint64(memUsed.Int64)
		s.MemTotal = uint64(memTotal.Int64)
		s.ProcRSS = uint64(rss.Int64)
		samples = append(samples, s)
	}
	return samples, rows.Err()
}
