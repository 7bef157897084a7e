package schedule

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/TheGojiOG/mcpanel/internal/backup"
	"github.com/TheGojiOG/mcpanel/internal/config"
	"github.com/TheGojiOG/mcpanel/internal/database"
	"github.com/TheGojiOG/mcpanel/internal/logging"
	"github.com/TheGojiOG/mcpanel/internal/server"
)

// Actor is recorded as the initiator of scheduled actions
const Actor = "schedule"

const (
	defaultActionTimeout = 2 * time.Minute
	backupActionTimeout  = time.Hour
)

// Runner executes lifecycle actions. control.Controller satisfies it.
type Runner interface {
	Start(ctx context.Context, name, actor string) (server.StartResult, error)
	Stop(ctx context.Context, name, actor string, force bool) (server.StopResult, error)
	Restart(ctx context.Context, name, actor string) (server.StartResult, error)
}

// Backuper creates world backups. backup.Manager satisfies it.
type Backuper interface {
	Create(ctx context.Context, name, actor string) (*backup.BackupRecord, error)
}

// Entry describes a registered schedule
type Entry struct {
	ID     cron.EntryID `json:"id"`
	Server string       `json:"server"`
	Action string       `json:"action"`
	Cron   string       `json:"cron"`
	Next   time.Time    `json:"next,omitempty"`
	Prev   time.Time    `json:"prev,omitempty"`
}

// Scheduler triggers lifecycle actions on cron expressions
type Scheduler struct {
	cron     *cron.Cron
	runner   Runner
	backups  Backuper
	status   *database.StatusStore
	activity *logging.ActivityLogger
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	configs map[cron.EntryID]config.ScheduleConfig
}

// New creates a scheduler. status and activity may be nil.
func New(runner Runner, status *database.StatusStore, activity *logging.ActivityLogger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	logger := cron.PrintfLogger(log.Default())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		runner:   runner,
		status:   status,
		activity: activity,
		timeout:  defaultActionTimeout,
		ctx:      ctx,
		cancel:   cancel,
		configs:  make(map[cron.EntryID]config.ScheduleConfig),
	}
}

// SetBackups enables the backup action. It must be called before schedules
// are added.
func (s *Scheduler) SetBackups(b Backuper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backups = b
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron validates a cron expression. A leading seconds field and
// descriptors such as @daily or @every 6h are accepted.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// Add registers a schedule. The server directory is not checked here; a
// missing server fails when the schedule fires and is recorded as such.
func (s *Scheduler) Add(sc config.ScheduleConfig) (cron.EntryID, error) {
	if err := sc.Validate(); err != nil {
		return 0, err
	}
	if err := server.ValidateName(sc.Server); err != nil {
		return 0, err
	}
	sched, err := ParseCron(sc.Cron)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.Action == config.ActionBackup && s.backups == nil {
		return 0, fmt.Errorf("backup schedule for %s requires backups to be enabled", sc.Server)
	}
	id := s.cron.Schedule(sched, cron.FuncJob(func() {
		if err := s.Run(s.ctx, sc); err != nil {
			log.Printf("[Schedule] %s of %s failed: %v", sc.Action, sc.Server, err)
		}
	}))
	s.configs[id] = sc
	log.Printf("[Schedule] Registered %s of %s at %q", sc.Action, sc.Server, sc.Cron)
	return id, nil
}

// Load registers every schedule, stopping at the first invalid entry.
func (s *Scheduler) Load(schedules []config.ScheduleConfig) error {
	for i, sc := range schedules {
		if _, err := s.Add(sc); err != nil {
			return fmt.Errorf("schedules[%d]: %w", i, err)
		}
	}
	return nil
}

// Entries lists registered schedules ordered by next run.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, 0, len(s.configs))
	for _, e := range s.cron.Entries() {
		sc, ok := s.configs[e.ID]
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			ID:     e.ID,
			Server: sc.Server,
			Action: sc.Action,
			Cron:   sc.Cron,
			Next:   e.Next,
			Prev:   e.Prev,
		})
	}
	return entries
}

// Start begins firing schedules in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Printf("[Schedule] Scheduler started with %d schedule(s)", len(s.Entries()))
}

// Stop prevents new runs, cancels in-flight actions and waits for them to
// return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		log.Printf("[Schedule] Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes one scheduled action and records it.
func (s *Scheduler) Run(ctx context.Context, sc config.ScheduleConfig) error {
	var runID int64
	if s.status != nil {
		id, err := s.status.BeginScheduleRun(sc.Server, sc.Action, sc.Cron)
		if err != nil {
			log.Printf("[Schedule] Failed to record run of %s: %v", sc.Server, err)
		}
		runID = id
	}

	timeout := s.timeout
	if sc.Action == config.ActionBackup {
		timeout = max(timeout, backupActionTimeout)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Printf("[Schedule] Running %s of %s", sc.Action, sc.Server)
	outcome, err := s.execute(ctx, sc)
	if outcome == "" && err != nil {
		outcome = "failed"
	}

	if s.status != nil && runID > 0 {
		if ferr := s.status.FinishScheduleRun(runID, outcome, errMessage(err)); ferr != nil {
			log.Printf("[Schedule] Failed to finish run of %s: %v", sc.Server, ferr)
		}
	}
	if s.activity != nil {
		activity := &logging.Activity{
			ServerName:   sc.Server,
			Actor:        Actor,
			ActivityType: logging.ActivityScheduleRun,
			Description:  fmt.Sprintf("scheduled %s: %s", sc.Action, outcome),
			Metadata:     map[string]any{"action": sc.Action, "cron": sc.Cron, "outcome": outcome},
			Success:      err == nil,
			ErrorMessage: errMessage(err),
		}
		if lerr := s.activity.LogActivity(activity); lerr != nil {
			log.Printf("[Schedule] Failed to log run of %s: %v", sc.Server, lerr)
		}
	}
	return err
}

func (s *Scheduler) execute(ctx context.Context, sc config.ScheduleConfig) (string, error) {
	switch sc.Action {
	case config.ActionStart:
		res, err := s.runner.Start(ctx, sc.Server, Actor)
		return string(res.Outcome), err
	case config.ActionStop:
		res, err := s.runner.Stop(ctx, sc.Server, Actor, false)
		return string(res.Outcome), err
	case config.ActionRestart:
		res, err := s.runner.Restart(ctx, sc.Server, Actor)
		return string(res.Outcome), err
	case config.ActionBackup:
		s.mu.Lock()
		b := s.backups
		s.mu.Unlock()
		if b == nil {
			return "", fmt.Errorf("backups are not enabled")
		}
		record, err := b.Create(ctx, sc.Server, Actor)
		if record != nil {
			return record.Status, err
		}
		return "", err
	}
	return "", fmt.Errorf("unsupported action %q", sc.Action)
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
