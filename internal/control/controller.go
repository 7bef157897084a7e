package control

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/TheGojiOG/mcpanel/internal/config"
	"github.com/TheGojiOG/mcpanel/internal/console"
	"github.com/TheGojiOG/mcpanel/internal/database"
	"github.com/TheGojiOG/mcpanel/internal/logging"
	"github.com/TheGojiOG/mcpanel/internal/rcon"
	"github.com/TheGojiOG/mcpanel/internal/server"
	"github.com/TheGojiOG/mcpanel/internal/tail"
)

// ErrRCONDisabled is returned when server.properties has enable-rcon=false.
var ErrRCONDisabled = errors.New("rcon is disabled in server.properties")

// Lifecycle is the part of server.Supervisor the controller drives.
type Lifecycle interface {
	Start(ctx context.Context, h server.Handle) (server.StartResult, error)
	Stop(ctx context.Context, h server.Handle, force bool) (server.StopResult, error)
	Restart(ctx context.Context, h server.Handle) (server.StartResult, error)
	Status(h server.Handle) server.Status
	Stats(ctx context.Context, h server.Handle) (server.Stats, error)
}

// Options wire a controller. Status and Activity are optional.
type Options struct {
	Layout    server.Layout
	Lifecycle Lifecycle
	RCON      config.RCONConfig
	Tail      config.TailConfig
	Status    *database.StatusStore
	Activity  *logging.ActivityLogger
	// Dial builds the RCON client for one server. Defaults to rcon.New.
	Dial func(cfg rcon.Config) console.Commander
}

// Controller runs lifecycle and RCON operations by server name. Lifecycle
// calls for the same server are serialised; different servers proceed in
// parallel.
type Controller struct {
	layout    server.Layout
	lifecycle Lifecycle
	rcon      config.RCONConfig
	tail      config.TailConfig
	status    *database.StatusStore
	activity  *logging.ActivityLogger
	dial      func(cfg rcon.Config) console.Commander

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a controller.
func New(opts Options) *Controller {
	dial := opts.Dial
	if dial == nil {
		dial = func(cfg rcon.Config) console.Commander { return rcon.New(cfg) }
	}
	return &Controller{
		layout:    opts.Layout,
		lifecycle: opts.Lifecycle,
		rcon:      opts.RCON,
		tail:      opts.Tail,
		status:    opts.Status,
		activity:  opts.Activity,
		dial:      dial,
		locks:     make(map[string]*sync.Mutex),
	}
}

// Layout returns the server layout.
func (c *Controller) Layout() server.Layout {
	return c.layout
}

// Activity returns the activity logger, which may be nil.
func (c *Controller) Activity() *logging.ActivityLogger {
	return c.activity
}

// StatusStore returns the lifecycle history store, which may be nil.
func (c *Controller) StatusStore() *database.StatusStore {
	return c.status
}

// Lookup resolves an existing server.
func (c *Controller) Lookup(name string) (server.Handle, error) {
	return c.layout.Lookup(name)
}

func (c *Controller) lock(name string) func() {
	c.mu.Lock()
	l, ok := c.locks[name]
	if !ok {
		l = &sync.Mutex{}
		c.locks[name] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Start launches a server and records the outcome.
func (c *Controller) Start(ctx context.Context, name, actor string) (server.StartResult, error) {
	h, err := c.Lookup(name)
	if err != nil {
		return server.StartResult{}, err
	}
	defer c.lock(name)()

	res, err := c.lifecycle.Start(ctx, h)
	c.recordStart(name, logging.ActivityServerStart, actor, res, err)
	return res, err
}

// Stop stops a server and records the outcome.
func (c *Controller) Stop(ctx context.Context, name, actor string, force bool) (server.StopResult, error) {
	h, err := c.Lookup(name)
	if err != nil {
		return server.StopResult{}, err
	}
	defer c.lock(name)()

	res, err := c.lifecycle.Stop(ctx, h, force)
	c.recordStop(name, actor, res, err)
	return res, err
}

// Restart stops then starts a server and records the outcome.
func (c *Controller) Restart(ctx context.Context, name, actor string) (server.StartResult, error) {
	h, err := c.Lookup(name)
	if err != nil {
		return server.StartResult{}, err
	}
	defer c.lock(name)()

	res, err := c.lifecycle.Restart(ctx, h)
	c.recordStart(name, logging.ActivityServerRestart, actor, res, err)
	return res, err
}

// Exclusive runs fn while holding the server's lifecycle lock, so no start,
// stop or restart can interleave with it.
func (c *Controller) Exclusive(name string, fn func(h server.Handle, st server.Status) error) error {
	h, err := c.Lookup(name)
	if err != nil {
		return err
	}
	defer c.lock(name)()
	return fn(h, c.lifecycle.Status(h))
}

// Status returns the derived state of a server.
func (c *Controller) Status(name string) (server.Status, error) {
	h, err := c.Lookup(name)
	if err != nil {
		return server.Status{}, err
	}
	return c.lifecycle.Status(h), nil
}

// Stats samples host and process resources for a server.
func (c *Controller) Stats(ctx context.Context, name string) (server.Stats, error) {
	h, err := c.Lookup(name)
	if err != nil {
		return server.Stats{}, err
	}
	return c.lifecycle.Stats(ctx, h)
}

// RCONSettings returns the effective RCON settings of a server and whether
// RCON is enabled.
func (c *Controller) RCONSettings(h server.Handle) (config.RCONConfig, bool, error) {
	return config.RCONSettings(h.PropertiesFile(), c.rcon)
}

// Command sends one RCON command and records it.
func (c *Controller) Command(ctx context.Context, name, actor, command string) (string, error) {
	command, err := console.SanitizeCommand(command)
	if err != nil {
		return "", err
	}
	h, err := c.Lookup(name)
	if err != nil {
		return "", err
	}
	settings, enabled, err := c.RCONSettings(h)
	if err != nil {
		return "", err
	}
	if !enabled {
		return "", ErrRCONDisabled
	}

	out, err := c.dial(rconConfig(settings)).Command(ctx, command)
	c.recordCommand(name, actor)(name, command, out, err)
	return out, err
}

// NewSession prepares an interactive console for a server. The session does
// nothing until its Run method is called.
func (c *Controller) NewSession(name, actor string) (*console.Session, error) {
	h, err := c.Lookup(name)
	if err != nil {
		return nil, err
	}
	settings, enabled, err := c.RCONSettings(h)
	if err != nil {
		return nil, err
	}
	return console.NewSession(console.SessionConfig{
		Server:      name,
		LogFiles:    h.LogFiles(),
		Tail:        c.TailOptions(),
		TrimLimit:   c.tail.TrimLimit,
		RCON:        c.dial(rconConfig(settings)),
		RCONPort:    settings.Port,
		RCONEnabled: enabled,
		Record:      c.recordCommand(name, actor),
	}), nil
}

// TailOptions converts the configured tail settings.
func (c *Controller) TailOptions() tail.Options {
	return tail.Options{BootBytes: c.tail.BootBytes, Interval: c.tail.PollInterval}
}

func rconConfig(settings config.RCONConfig) rcon.Config {
	return rcon.Config{
		Host:     settings.Host,
		Port:     settings.Port,
		Password: settings.Password,
		Timeout:  settings.Timeout,
	}
}

func (c *Controller) recordStart(name, activityType, actor string, res server.StartResult, opErr error) {
	if c.status != nil {
		state := string(server.StateStopped)
		if res.Outcome == server.OutcomeStarted || res.Outcome == server.OutcomeStartedUnconfirmed ||
			res.Outcome == server.OutcomeAlreadyRunning {
			state = string(server.StateRunning)
		}
		if err := c.status.RecordStart(name, state, string(res.Outcome), res.PID, errString(opErr)); err != nil {
			log.Printf("[Control] Failed to record start of %s: %v", name, err)
		}
	}
	if c.activity != nil {
		if err := c.activity.LogLifecycle(name, activityType, actor, string(res.Outcome), res.PID, opErr); err != nil {
			log.Printf("[Control] Failed to log %s of %s: %v", activityType, name, err)
		}
	}
}

func (c *Controller) recordStop(name, actor string, res server.StopResult, opErr error) {
	if c.status != nil {
		if err := c.status.RecordStop(name, string(res.Outcome), errString(opErr)); err != nil {
			log.Printf("[Control] Failed to record stop of %s: %v", name, err)
		}
	}
	if c.activity != nil {
		if err := c.activity.LogLifecycle(name, logging.ActivityServerStop, actor, string(res.Outcome), res.PID, opErr); err != nil {
			log.Printf("[Control] Failed to log stop of %s: %v", name, err)
		}
	}
}

func (c *Controller) recordCommand(name, actor string) console.CommandRecorder {
	return func(srv, command, output string, err error) {
		if c.activity == nil {
			return
		}
		if logErr := c.activity.LogCommandExecute(srv, actor, command, output, err); logErr != nil {
			log.Printf("[Control] Failed to log command for %s: %v", name, logErr)
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
