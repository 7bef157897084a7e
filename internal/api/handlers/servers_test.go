package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/TheGojiOG/mcpanel/internal/config"
	"github.com/TheGojiOG/mcpanel/internal/console"
	"github.com/TheGojiOG/mcpanel/internal/control"
	"github.com/TheGojiOG/mcpanel/internal/database"
	"github.com/TheGojiOG/mcpanel/internal/logging"
	"github.com/TheGojiOG/mcpanel/internal/rcon"
	"github.com/TheGojiOG/mcpanel/internal/server"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockLifecycle implements control.Lifecycle for testing
type mockLifecycle struct {
	mu      sync.Mutex
	running map[string]bool
	forced  bool
}

func newMockLifecycle() *mockLifecycle {
	return &mockLifecycle{running: make(map[string]bool)}
}

func (m *mockLifecycle) Start(ctx context.Context, h server.Handle) (server.StartResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running[h.Name] {
		return server.StartResult{Outcome: server.OutcomeAlreadyRunning, PID: 12345}, nil
	}
	m.running[h.Name] = true
	return server.StartResult{
		Outcome: server.OutcomeStarted,
		PID:     12345,
		Confirm: server.ConfirmResult{PID: 12345, Source: server.PhasePoll, Outcome: server.ConfirmPolled},
	}, nil
}

func (m *mockLifecycle) Stop(ctx context.Context, h server.Handle, force bool) (server.StopResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forced = force
	if !m.running[h.Name] {
		return server.StopResult{Outcome: server.OutcomeNotRunning}, nil
	}
	m.running[h.Name] = false
	return server.StopResult{Outcome: server.OutcomeStopped, PID: 12345, Forced: force}, nil
}

func (m *mockLifecycle) Restart(ctx context.Context, h server.Handle) (server.StartResult, error) {
	m.Stop(ctx, h, false)
	return m.Start(ctx, h)
}

func (m *mockLifecycle) Status(h server.Handle) server.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running[h.Name] {
		return server.Status{Name: h.Name, State: server.StateRunning, PID: 12345}
	}
	return server.Status{Name: h.Name, State: server.StateStopped}
}

func (m *mockLifecycle) Stats(ctx context.Context, h server.Handle) (server.Stats, error) {
	return server.Stats{CPUPercent: 12.5, MemUsed: 512, MemTotal: 1024}, nil
}

type mockCommander struct {
	err error
}

func (m *mockCommander) Command(ctx context.Context, cmd string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return "echo: " + cmd, nil
}

func setupTestServerHandler(t *testing.T) (*gin.Engine, *mockLifecycle, *mockCommander, string) {
	t.Helper()
	root := t.TempDir()

	db, err := database.Open(filepath.Join(root, "data", "test.db"))
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	activity, err := logging.NewActivityLogger(db.DB, filepath.Join(root, "logs"))
	if err != nil {
		t.Fatalf("Failed to create activity logger: %v", err)
	}
	t.Cleanup(func() { activity.Close() })

	layout := server.NewLayout(root)
	h, err := layout.Handle("alpha")
	if err != nil {
		t.Fatalf("Failed to create server dir: %v", err)
	}
	def := &config.ServerDefinition{ID: "id-1", Name: "alpha", Loader: "vanilla", Version: "1.21.1", RCONPort: 25575}
	if err := config.SaveServer(h.Dir, def); err != nil {
		t.Fatalf("Failed to save definition: %v", err)
	}

	life := newMockLifecycle()
	cmd := &mockCommander{}
	ctl := control.New(control.Options{
		Layout:    layout,
		Lifecycle: life,
		RCON:      config.RCONConfig{Host: "127.0.0.1", Port: 25575},
		Status:    database.NewStatusStore(db.DB),
		Activity:  activity,
		Dial:      func(rcon.Config) console.Commander { return cmd },
	})

	handler := NewServerHandler(ctl)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("subject", "tester")
		c.Next()
	})
	router.GET("/servers", handler.ListServers)
	router.GET("/servers/:name", handler.GetServer)
	router.GET("/servers/:name/stats", handler.GetStats)
	router.GET("/servers/:name/activity", handler.GetServerActivity)
	router.GET("/servers/:name/schedules", handler.GetScheduleRuns)
	router.POST("/servers/:name/start", handler.StartServer)
	router.POST("/servers/:name/stop", handler.StopServer)
	router.POST("/servers/:name/restart", handler.RestartServer)
	router.POST("/servers/:name/rcon", handler.ExecuteCommand)

	return router, life, cmd, h.Dir
}

func doRequest(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode %q: %v", rec.Body.String(), err)
	}
}

func TestListServers(t *testing.T) {
	router, _, _, _ := setupTestServerHandler(t)

	rec := doRequest(t, router, http.MethodGet, "/servers", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var items []ServerListItem
	decode(t, rec, &items)
	if len(items) != 1 || items[0].Name != "alpha" || items[0].State != server.StateStopped || items[0].Version != "1.21.1" {
		t.Fatalf("Unexpected list %+v", items)
	}
}

func TestGetServerNotFound(t *testing.T) {
	router, _, _, _ := setupTestServerHandler(t)

	if rec := doRequest(t, router, http.MethodGet, "/servers/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}
	if rec := doRequest(t, router, http.MethodGet, "/servers/-bad", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected invalid name to be rejected, got %d", rec.Code)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	router, life, _, _ := setupTestServerHandler(t)

	rec := doRequest(t, router, http.MethodPost, "/servers/alpha/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var started struct {
		Outcome string `json:"outcome"`
		Message string `json:"message"`
		PID     int    `json:"pid"`
	}
	decode(t, rec, &started)
	if started.Outcome != "started" || started.Message != "Started." || started.PID != 12345 {
		t.Fatalf("Unexpected start response %+v", started)
	}

	rec = doRequest(t, router, http.MethodPost, "/servers/alpha/start", "")
	decode(t, rec, &started)
	if started.Outcome != "already_running" {
		t.Fatalf("Expected already_running, got %+v", started)
	}

	rec = doRequest(t, router, http.MethodGet, "/servers/alpha", "")
	var detail struct {
		Status     server.Status            `json:"status"`
		Definition *config.ServerDefinition `json:"definition"`
		LastEvent  *database.ServerStatus   `json:"last_event"`
	}
	decode(t, rec, &detail)
	if detail.Status.State != server.StateRunning || detail.Definition == nil || detail.LastEvent == nil {
		t.Fatalf("Unexpected detail %+v", detail)
	}

	rec = doRequest(t, router, http.MethodPost, "/servers/alpha/stop?force=true", "")
	var stopped struct {
		Outcome string `json:"outcome"`
		Forced  bool   `json:"forced"`
	}
	decode(t, rec, &stopped)
	if stopped.Outcome != "stopped" || !stopped.Forced || !life.forced {
		t.Fatalf("Unexpected stop response %+v", stopped)
	}

	rec = doRequest(t, router, http.MethodGet, "/servers/alpha/activity?type=server.start", "")
	var activities []logging.Activity
	decode(t, rec, &activities)
	if len(activities) != 2 || activities[0].Actor != "tester" {
		t.Fatalf("Unexpected activities %+v", activities)
	}

	if rec := doRequest(t, router, http.MethodGet, "/servers/alpha/activity?limit=0", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestExecuteCommand(t *testing.T) {
	router, _, cmd, dir := setupTestServerHandler(t)

	rec := doRequest(t, router, http.MethodPost, "/servers/alpha/rcon", `{"command":"list"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected 409 while RCON is disabled, got %d", rec.Code)
	}

	if err := os.WriteFile(filepath.Join(dir, "server.properties"), []byte("enable-rcon=true\n"), 0o644); err != nil {
		t.Fatalf("Failed to write properties: %v", err)
	}

	rec = doRequest(t, router, http.MethodPost, "/servers/alpha/rcon", `{"command":"/say hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Output string `json:"output"`
	}
	decode(t, rec, &out)
	if out.Output != "echo: say hi" {
		t.Fatalf("Unexpected output %q", out.Output)
	}

	if rec := doRequest(t, router, http.MethodPost, "/servers/alpha/rcon", `{"command":"say a\nstop"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for multi-line command, got %d", rec.Code)
	}
	if rec := doRequest(t, router, http.MethodPost, "/servers/alpha/rcon", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for missing command, got %d", rec.Code)
	}

	cmd.err = rcon.ErrAuthFailed
	if rec := doRequest(t, router, http.MethodPost, "/servers/alpha/rcon", `{"command":"list"}`); rec.Code != http.StatusBadGateway {
		t.Fatalf("Expected 502 on auth failure, got %d", rec.Code)
	}
	cmd.err = &rcon.ConnError{Addr: "127.0.0.1:25575", Op: "dial", Err: errors.New("refused")}
	if rec := doRequest(t, router, http.MethodPost, "/servers/alpha/rcon", `{"command":"list"}`); rec.Code != http.StatusBadGateway {
		t.Fatalf("Expected 502 on connection failure, got %d", rec.Code)
	}
}

func TestGetStatsAndSchedules(t *testing.T) {
	router, _, _, _ := setupTestServerHandler(t)

	rec := doRequest(t, router, http.MethodGet, "/servers/alpha/stats", "")
	var stats server.Stats
	decode(t, rec, &stats)
	if stats.MemTotal != 1024 {
		t.Fatalf("Unexpected stats %+v", stats)
	}

	rec = doRequest(t, router, http.MethodGet, "/servers/alpha/schedules", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("Expected empty schedule list, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestCheckOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://panel.local:8765/ws/servers/alpha/logs", nil)
	if !checkOrigin(req, nil) {
		t.Fatal("expected request without Origin to pass")
	}
	req.Header.Set("Origin", "http://panel.local:8765")
	if !checkOrigin(req, nil) {
		t.Fatal("expected same-host origin to pass")
	}
	req.Header.Set("Origin", "https://evil.example")
	if checkOrigin(req, nil) {
		t.Fatal("expected foreign origin to be rejected")
	}
	if !checkOrigin(req, []string{"https://evil.example"}) {
		t.Fatal("expected allowlisted origin to pass")
	}
}
