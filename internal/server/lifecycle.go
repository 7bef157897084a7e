package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"
)

const (
	DefaultConfirmTimeout = 12 * time.Second
	DefaultPollInterval   = 250 * time.Millisecond
	DefaultStopGrace      = time.Second
	DefaultRestartSettle  = 500 * time.Millisecond
	DefaultJavaBin        = "java"
	DefaultXms            = "1G"
	DefaultXmx            = "4G"
)

// Options configure the supervisor. Zero values fall back to the defaults above.
type Options struct {
	JavaBin string
	// RuntimeName is matched against process names during the fallback scan.
	RuntimeName    string
	DefaultXms     string
	DefaultXmx     string
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	StopGrace      time.Duration
	RestartSettle  time.Duration
}

func (o Options) withDefaults() Options {
	if o.JavaBin == "" {
		o.JavaBin = DefaultJavaBin
	}
	if o.RuntimeName == "" {
		o.RuntimeName = "java"
	}
	if o.DefaultXms == "" {
		o.DefaultXms = DefaultXms
	}
	if o.DefaultXmx == "" {
		o.DefaultXmx = DefaultXmx
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = DefaultConfirmTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.StopGrace <= 0 {
		o.StopGrace = DefaultStopGrace
	}
	if o.RestartSettle <= 0 {
		o.RestartSettle = DefaultRestartSettle
	}
	return o
}

// Supervisor starts, stops and inspects detached server processes. It keeps no
// state between calls; the pid file is the only record. Calls for the same
// server must be serialised by the caller.
type Supervisor struct {
	opts  Options
	procs ProcessManager
	proc  procFS
}

// NewSupervisor creates a supervisor backed by the host's process table.
func NewSupervisor(opts Options) *Supervisor {
	return &Supervisor{
		opts:  opts.withDefaults(),
		procs: osProcessManager{},
		proc:  procFS(defaultProcRoot),
	}
}

// Options returns the effective options.
func (s *Supervisor) Options() Options {
	return s.opts
}

// Start launches the server unless it is already running, then confirms the
// real pid within ConfirmTimeout.
func (s *Supervisor) Start(ctx context.Context, h Handle) (StartResult, error) {
	if s.IsRunning(h) {
		pid, _ := ReadPID(h)
		return StartResult{Outcome: OutcomeAlreadyRunning, PID: pid}, nil
	}

	log.Printf("[Lifecycle] Starting server %s...", h.Name)
	if err := os.MkdirAll(h.LogDir(), 0o755); err != nil {
		return StartResult{}, fmt.Errorf("failed to create log directory: %w", err)
	}

	target, err := FindTarget(h.Dir)
	if errors.Is(err, ErrNoRunnableTarget) {
		log.Printf("[Lifecycle] No runnable target in %s", h.Dir)
		return StartResult{Outcome: OutcomeNoRunnableTarget}, nil
	}
	if err != nil {
		return StartResult{}, err
	}

	out, err := os.OpenFile(h.ConsoleLog(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return StartResult{}, fmt.Errorf("failed to open console log: %w", err)
	}
	defer out.Close()

	pid, err := s.procs.Spawn(h.Dir, target.Command(s.opts), out)
	if err != nil {
		return StartResult{Target: &target}, fmt.Errorf("failed to launch %s: %w", target.Name, err)
	}
	log.Printf("[Lifecycle] Launched %s for %s as pid %d", target.Name, h.Name, pid)

	// A wrapper script may already have recorded the real pid.
	if cur, ok := ReadPID(h); !ok || !s.alive(cur) {
		if err := writePID(h, pid); err != nil {
			return StartResult{PID: pid, Target: &target}, fmt.Errorf("failed to write pid file: %w", err)
		}
	}

	// A launch script is usually a short-lived wrapper, so its own pid only
	// counts once it has outlived a poll interval.
	launcher := 0
	if target.Kind == TargetScript {
		launcher = pid
	}

	result := StartResult{Outcome: OutcomeStartedUnconfirmed, PID: pid, Target: &target}
	confirm, err := s.confirmPID(ctx, h, launcher)
	result.Confirm = confirm
	if err != nil {
		return result, err
	}
	if !confirm.Confirmed() {
		log.Printf("[Lifecycle] Server %s launched but pid not confirmed (%s)", h.Name, confirm.Outcome)
		return result, nil
	}
	// The wrapper may have rewritten the file after the pid was confirmed.
	if cur, ok := ReadPID(h); ok && cur != confirm.PID && s.alive(cur) {
		confirm.PID = cur
		result.Confirm = confirm
	}

	if confirm.PID != pid {
		if err := writePID(h, confirm.PID); err != nil {
			return result, fmt.Errorf("failed to write pid file: %w", err)
		}
	}
	result.Outcome = OutcomeStarted
	result.PID = confirm.PID
	log.Printf("[Lifecycle] Server %s started (pid %d, via %s)", h.Name, confirm.PID, confirm.Source)
	return result, nil
}

// confirmPID polls the pid file for a live process and falls back to a single
// process-table scan when the poll times out.
func (s *Supervisor) confirmPID(ctx context.Context, h Handle, launcher int) (ConfirmResult, error) {
	polled, err := s.pollPID(ctx, h, launcher)
	if err != nil || polled.Confirmed() {
		return polled, err
	}
	return s.scanPID(h), nil
}

// pollPID waits for the pid file to name a live process. A pid equal to
// launcher is accepted only when it is still alive on the following tick.
func (s *Supervisor) pollPID(ctx context.Context, h Handle, launcher int) (ConfirmResult, error) {
	deadline := time.NewTimer(s.opts.ConfirmTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	launcherSeen := false
	for {
		pid, ok := ReadPID(h)
		switch {
		case !ok || !s.alive(pid):
			launcherSeen = false
		case launcher == 0 || pid != launcher || launcherSeen:
			return ConfirmResult{PID: pid, Source: PhasePoll, Outcome: ConfirmPolled}, nil
		default:
			launcherSeen = true
		}
		select {
		case <-ctx.Done():
			return ConfirmResult{Source: PhasePoll, Outcome: ConfirmTimedOut}, ctx.Err()
		case <-deadline.C:
			return ConfirmResult{Source: PhasePoll, Outcome: ConfirmTimedOut}, nil
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) scanPID(h Handle) ConfirmResult {
	pid, err := s.proc.findByCwd(h.Dir, s.opts.RuntimeName)
	switch {
	case err != nil:
		log.Printf("[Lifecycle] Process scan unavailable: %v", err)
		return ConfirmResult{Source: PhaseScan, Outcome: ConfirmScanUnavailable}
	case pid == 0:
		return ConfirmResult{Source: PhaseScan, Outcome: ConfirmNotFound}
	}
	return ConfirmResult{PID: pid, Source: PhaseScan, Outcome: ConfirmScanned}
}

// Stop sends SIGTERM to the recorded pid and its group, waits up to StopGrace,
// and escalates to SIGKILL when force is set. The pid file is removed whenever
// the result is OutcomeStopped, even if signalling reported an error.
func (s *Supervisor) Stop(ctx context.Context, h Handle, force bool) (StopResult, error) {
	if !s.IsRunning(h) {
		return StopResult{Outcome: OutcomeNotRunning}, nil
	}
	pid, _ := ReadPID(h)
	log.Printf("[Lifecycle] Stopping server %s (pid %d, force: %v)...", h.Name, pid, force)

	result := StopResult{Outcome: OutcomeStopped, PID: pid}
	var errs []error
	if err := s.procs.Terminate(pid, false); err != nil {
		errs = append(errs, fmt.Errorf("failed to signal pid %d: %w", pid, err))
	}

	exited := s.waitExit(ctx, pid, s.opts.StopGrace)
	if !exited && force {
		log.Printf("[Lifecycle] Server %s still alive after %v, killing", h.Name, s.opts.StopGrace)
		result.Forced = true
		if err := s.procs.Terminate(pid, true); err != nil {
			errs = append(errs, fmt.Errorf("failed to kill pid %d: %w", pid, err))
		}
	}

	if err := removePID(h); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove pid file: %w", err))
	}
	log.Printf("[Lifecycle] Server %s stopped", h.Name)
	return result, errors.Join(errs...)
}

// waitExit returns true as soon as pid is gone, or false once grace elapses or
// ctx is cancelled.
func (s *Supervisor) waitExit(ctx context.Context, pid int, grace time.Duration) bool {
	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		if !s.alive(pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return !s.alive(pid)
		case <-ticker.C:
		}
	}
}

// Restart stops without force, settles briefly, then starts again.
func (s *Supervisor) Restart(ctx context.Context, h Handle) (StartResult, error) {
	log.Printf("[Lifecycle] Restarting server %s...", h.Name)
	if _, err := s.Stop(ctx, h, false); err != nil {
		log.Printf("[Lifecycle] Warning: stop during restart reported: %v", err)
	}

	settle := time.NewTimer(s.opts.RestartSettle)
	defer settle.Stop()
	select {
	case <-ctx.Done():
		return StartResult{}, ctx.Err()
	case <-settle.C:
	}
	return s.Start(ctx, h)
}
