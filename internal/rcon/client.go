package rcon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"
)

const (
	authRequestID int32 = 1
	execRequestID int32 = 2

	DefaultHost    = "127.0.0.1"
	DefaultTimeout = 5 * time.Second
)

var (
	// ErrAuthFailed is returned when the server rejects the password.
	ErrAuthFailed = errors.New("rcon auth failed")
	// ErrMalformed is returned for frames that cannot be valid RCON packets.
	ErrMalformed = errors.New("rcon malformed packet")
)

// ConnError reports a failure to reach the server or a connection that ended
// mid-frame. It is a network problem, not a configuration problem.
type ConnError struct {
	Addr string
	Op   string
	Err  error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("rcon %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// Config holds connection settings. Callers resolve defaults (environment,
// server.properties) before constructing a client.
type Config struct {
	Host     string
	Port     int
	Password string
	Timeout  time.Duration
}

// Client issues single RCON commands. Each call opens its own connection.
type Client struct {
	addr     string
	password string
	timeout  time.Duration
	dialer   func(ctx context.Context, network, addr string) (net.Conn, error)
}

// New creates a client from cfg.
func New(cfg Config) *Client {
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := &net.Dialer{Timeout: timeout}
	return &Client{
		addr:     net.JoinHostPort(host, strconv.Itoa(cfg.Port)),
		password: cfg.Password,
		timeout:  timeout,
		dialer:   d.DialContext,
	}
}

// Addr returns host:port of the target server.
func (c *Client) Addr() string {
	return c.addr
}

// Command authenticates, runs cmd and returns the server's reply text.
func (c *Client) Command(ctx context.Context, cmd string) (string, error) {
	conn, err := c.dialer(ctx, "tcp", c.addr)
	if err != nil {
		return "", &ConnError{Addr: c.addr, Op: "dial", Err: err}
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", &ConnError{Addr: c.addr, Op: "deadline", Err: err}
	}

	// Unblock reads when ctx is cancelled before the deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := c.exchangeAuth(conn); err != nil {
		return "", err
	}

	reply, err := c.roundTrip(conn, Packet{RequestID: execRequestID, Type: TypeExecCommand, Body: cmd})
	if err != nil {
		return "", err
	}
	switch reply.RequestID {
	case execRequestID:
		return reply.Body, nil
	case AuthFailedID:
		return "", fmt.Errorf("%w: session rejected command", ErrAuthFailed)
	default:
		return "", fmt.Errorf("%w: command reply id %d", ErrMalformed, reply.RequestID)
	}
}

func (c *Client) exchangeAuth(conn net.Conn) error {
	reply, err := c.roundTrip(conn, Packet{RequestID: authRequestID, Type: TypeAuth, Body: c.password})
	if err != nil {
		return err
	}
	if reply.RequestID == AuthFailedID {
		log.Printf("[RCON] Authentication rejected by %s", c.addr)
		return fmt.Errorf("%w: check rcon.password for %s", ErrAuthFailed, c.addr)
	}
	if reply.RequestID != authRequestID {
		log.Printf("[RCON] Auth reply from %s carried id %d, continuing", c.addr, reply.RequestID)
	}
	return nil
}

func (c *Client) roundTrip(conn net.Conn, p Packet) (Packet, error) {
	if err := WritePacket(conn, p); err != nil {
		if errors.Is(err, ErrMalformed) {
			return Packet{}, err
		}
		var netErr net.Error
		if errors.As(err, &netErr) || isConnClosed(err) {
			return Packet{}, &ConnError{Addr: c.addr, Op: "write", Err: err}
		}
		return Packet{}, err
	}
	reply, err := ReadPacket(conn)
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			return Packet{}, err
		}
		return Packet{}, &ConnError{Addr: c.addr, Op: "read", Err: err}
	}
	return reply, nil
}

func isConnClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
