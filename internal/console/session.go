package console

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/TheGojiOG/mcpanel/internal/rcon"
	"github.com/TheGojiOG/mcpanel/internal/tail"
)

const (
	// maxCommandLength is the largest command vanilla servers accept over RCON.
	maxCommandLength = 1446
	commandQueueSize = 16
	probeCommand     = "list"
)

var (
	ErrSessionClosed  = errors.New("console session is closed")
	ErrQueueFull      = errors.New("too many pending commands")
	ErrInvalidCommand = errors.New("invalid command")
)

// Commander runs a single RCON command.
type Commander interface {
	Command(ctx context.Context, cmd string) (string, error)
}

// CommandRecorder receives every command the session executes.
type CommandRecorder func(server, command, output string, err error)

// SessionConfig wires a console session to one server.
type SessionConfig struct {
	Server string
	// LogFiles are followed in order; missing files are picked up once they appear.
	LogFiles    []string
	Tail        tail.Options
	TrimLimit   int
	RCON        Commander
	RCONPort    int
	RCONEnabled bool
	Record      CommandRecorder
}

// Session is a live console for one server: followed log files plus an RCON
// command line. Output from every source lands in one bounded buffer.
type Session struct {
	server   string
	port     int
	enabled  bool
	rcon     Commander
	record   CommandRecorder
	tailer   *tail.Tailer
	buffer   *tail.TrimBuffer
	commands chan string
	updates  chan struct{}

	mu      sync.Mutex
	running bool
	closed  bool
}

// NewSession creates a session. Nothing runs until Run is called.
func NewSession(cfg SessionConfig) *Session {
	s := &Session{
		server:   cfg.Server,
		port:     cfg.RCONPort,
		enabled:  cfg.RCONEnabled,
		rcon:     cfg.RCON,
		record:   cfg.Record,
		buffer:   tail.NewTrimBuffer(cfg.TrimLimit),
		commands: make(chan string, commandQueueSize),
		updates:  make(chan struct{}, 1),
	}
	s.tailer = tail.New(cfg.LogFiles, func(_, chunk string) {
		s.append(chunk)
	}, cfg.Tail)
	return s
}

// Server returns the server name.
func (s *Session) Server() string {
	return s.server
}

// Port returns the RCON port the session targets.
func (s *Session) Port() int {
	return s.port
}

// Text returns the buffered console text.
func (s *Session) Text() string {
	return s.buffer.String()
}

// Updates signals whenever new text is buffered. Signals coalesce. The
// channel is closed when Run returns.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// Run primes and follows the log files, probes RCON and executes submitted
// commands until ctx is cancelled. It returns after every background task has
// exited.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running || s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.updates)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCancel(s.tailer.Run(gctx))
	})
	g.Go(func() error {
		s.probe(gctx)
		return nil
	})
	g.Go(func() error {
		return ignoreCancel(s.worker(gctx))
	})
	err := g.Wait()
	log.Printf("[Console] Session for %s closed", s.server)
	return err
}

// Submit queues cmd for the command worker.
func (s *Session) Submit(cmd string) error {
	clean, err := SanitizeCommand(cmd)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.commands <- clean:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Session) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-s.commands:
			s.execute(ctx, cmd)
		}
	}
}

func (s *Session) execute(ctx context.Context, cmd string) {
	if s.rcon == nil {
		s.append("[rcon error] no RCON client configured\n")
		return
	}
	out, err := s.rcon.Command(ctx, cmd)
	if ctx.Err() != nil {
		return
	}
	if s.record != nil {
		s.record(s.server, cmd, out, err)
	}
	if err != nil {
		s.append(fmt.Sprintf("[rcon error] %v\n", err))
		return
	}
	s.append(fmt.Sprintf("$ %s\n%s\n", cmd, strings.TrimRight(out, "\n")))
}

func (s *Session) probe(ctx context.Context) {
	if !s.enabled {
		s.append("[hint] RCON appears disabled (enable-rcon=false). " +
			"Stop the server, set enable-rcon=true in server.properties, and start again.\n")
		return
	}
	if s.rcon == nil {
		return
	}
	out, err := s.rcon.Command(ctx, probeCommand)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.append(fmt.Sprintf("[rcon] cannot connect: %v\n", err))
		if errors.Is(err, rcon.ErrAuthFailed) {
			s.append("[hint] The server rejected rcon.password. Make sure it matches server.properties.\n")
			return
		}
		s.append(fmt.Sprintf("[hint] Check rcon.port (%d), rcon.password, firewall, "+
			"and that the server was started with those settings.\n", s.port))
		return
	}
	s.append("[rcon] connected. Try: list, say hello, time query daytime\n")
	if out = strings.TrimSpace(out); out != "" {
		s.append(out + "\n")
	}
}

func (s *Session) append(text string) {
	s.buffer.Append(text)
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// SanitizeCommand trims a leading slash and rejects commands the server
// would misparse.
func SanitizeCommand(command string) (string, error) {
	command = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(command), "/"))
	if command == "" {
		return "", fmt.Errorf("%w: command is empty", ErrInvalidCommand)
	}
	if len(command) > maxCommandLength {
		return "", fmt.Errorf("%w: command is too long", ErrInvalidCommand)
	}
	if strings.ContainsAny(command, "\n\r\x00") {
		return "", fmt.Errorf("%w: command contains invalid characters", ErrInvalidCommand)
	}
	if ansiEscapePattern.MatchString(command) {
		return "", fmt.Errorf("%w: command contains escape sequences", ErrInvalidCommand)
	}
	return command, nil
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
