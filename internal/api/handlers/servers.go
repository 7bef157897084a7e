package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TheGojiOG/mcpanel/internal/api/middleware"
	"github.com/TheGojiOG/mcpanel/internal/backup"
	"github.com/TheGojiOG/mcpanel/internal/config"
	"github.com/TheGojiOG/mcpanel/internal/console"
	"github.com/TheGojiOG/mcpanel/internal/control"
	"github.com/TheGojiOG/mcpanel/internal/database"
	"github.com/TheGojiOG/mcpanel/internal/rcon"
	"github.com/TheGojiOG/mcpanel/internal/server"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

// ServerHandler handles server management requests
type ServerHandler struct {
	ctl *control.Controller
}

// NewServerHandler creates a new server handler
func NewServerHandler(ctl *control.Controller) *ServerHandler {
	return &ServerHandler{ctl: ctl}
}

// ServerListItem is one entry of the server list
type ServerListItem struct {
	Name    string       `json:"name"`
	State   server.State `json:"state"`
	PID     int          `json:"pid,omitempty"`
	Loader  string       `json:"loader,omitempty"`
	Version string       `json:"version,omitempty"`
}

// ListServers returns all servers with their derived state
func (h *ServerHandler) ListServers(c *gin.Context) {
	handles, err := h.ctl.Layout().List()
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]ServerListItem, 0, len(handles))
	for _, handle := range handles {
		st, err := h.ctl.Status(handle.Name)
		if err != nil {
			log.Printf("[API] Failed to read status of %s: %v", handle.Name, err)
			continue
		}
		item := ServerListItem{Name: handle.Name, State: st.State, PID: st.PID}
		if def, err := config.LoadServer(handle.Dir); err == nil {
			item.Loader = def.Loader
			item.Version = def.Version
		}
		response = append(response, item)
	}

	c.JSON(http.StatusOK, response)
}

// GetServer returns the state, definition and last recorded lifecycle event
// of a server
func (h *ServerHandler) GetServer(c *gin.Context) {
	name := c.Param("name")
	st, err := h.ctl.Status(name)
	if err != nil {
		respondError(c, err)
		return
	}
	handle, _ := h.ctl.Lookup(name)

	response := gin.H{"status": st}
	def, err := config.LoadServer(handle.Dir)
	switch {
	case err == nil:
		response["definition"] = def
	case !errors.Is(err, os.ErrNotExist):
		log.Printf("[API] Failed to load definition of %s: %v", name, err)
	}

	if store := h.ctl.StatusStore(); store != nil {
		last, err := store.Get(name)
		if err != nil {
			log.Printf("[API] Failed to load recorded status of %s: %v", name, err)
		} else if last != nil {
			response["last_event"] = last
		}
	}

	c.JSON(http.StatusOK, response)
}

// GetStats returns host and process resource usage
func (h *ServerHandler) GetStats(c *gin.Context) {
	stats, err := h.ctl.Stats(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// StartServer starts a server and waits for pid confirmation
func (h *ServerHandler) StartServer(c *gin.Context) {
	name := c.Param("name")
	res, err := h.ctl.Start(lifecycleContext(c), name, middleware.Actor(c))
	if err != nil {
		log.Printf("[API] Failed to start server %s: %v", name, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, startResponse(name, res))
}

// StopServer stops a server. ?force=true escalates to SIGKILL.
func (h *ServerHandler) StopServer(c *gin.Context) {
	name := c.Param("name")
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))

	res, err := h.ctl.Stop(lifecycleContext(c), name, middleware.Actor(c), force)
	if err != nil {
		log.Printf("[API] Failed to stop server %s: %v", name, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"server":  name,
		"outcome": res.Outcome,
		"message": res.Message(),
		"pid":     res.PID,
		"forced":  res.Forced,
	})
}

// RestartServer stops then starts a server
func (h *ServerHandler) RestartServer(c *gin.Context) {
	name := c.Param("name")
	res, err := h.ctl.Restart(lifecycleContext(c), name, middleware.Actor(c))
	if err != nil {
		log.Printf("[API] Failed to restart server %s: %v", name, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, startResponse(name, res))
}

// ExecuteCommand sends one RCON command and returns its reply
func (h *ServerHandler) ExecuteCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := c.Param("name")
	out, err := h.ctl.Command(c.Request.Context(), name, middleware.Actor(c), req.Command)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"server": name, "output": out})
}

// GetServerActivity returns recorded activity for a server, newest first
func (h *ServerHandler) GetServerActivity(c *gin.Context) {
	name := c.Param("name")
	if _, err := h.ctl.Lookup(name); err != nil {
		respondError(c, err)
		return
	}
	activity := h.ctl.Activity()
	if activity == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Activity log is not available"})
		return
	}

	limit := defaultActivityLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxActivityLimit)
	}
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an RFC3339 timestamp"})
			return
		}
		since = t
	}

	activities, err := activity.GetActivities(name, c.Query("type"), since, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, activities)
}

// GetScheduleRuns returns the most recent scheduled actions for a server
func (h *ServerHandler) GetScheduleRuns(c *gin.Context) {
	name := c.Param("name")
	if _, err := h.ctl.Lookup(name); err != nil {
		respondError(c, err)
		return
	}
	store := h.ctl.StatusStore()
	if store == nil {
		c.JSON(http.StatusOK, []database.ScheduleRun{})
		return
	}
	runs, err := store.ScheduleRuns(name, 0)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

func startResponse(name string, res server.StartResult) gin.H {
	response := gin.H{
		"server":  name,
		"outcome": res.Outcome,
		"message": res.Message(),
		"pid":     res.PID,
		"confirm": res.Confirm,
	}
	if res.Target != nil {
		response["target"] = res.Target
	}
	return response
}

// lifecycleContext detaches lifecycle calls from the request so a client that
// hangs up does not leave a half-confirmed start behind.
func lifecycleContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	var connErr *rcon.ConnError
	switch {
	case errors.Is(err, server.ErrInvalidName), errors.Is(err, console.ErrInvalidCommand):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, server.ErrServerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Server not found"})
	case errors.Is(err, backup.ErrBackupNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Backup not found"})
	case errors.Is(err, backup.ErrServerRunning), errors.Is(err, backup.ErrBackupNotRestorable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, control.ErrRCONDisabled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, rcon.ErrAuthFailed), errors.As(err, &connErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
