package handlers

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/TheGojiOG/mcpanel/internal/api/middleware"
	"github.com/TheGojiOG/mcpanel/internal/console"
	"github.com/TheGojiOG/mcpanel/internal/control"
	"github.com/TheGojiOG/mcpanel/internal/tail"
	ws "github.com/TheGojiOG/mcpanel/internal/websocket"
)

// LogSource feeds a log room by following the server's log files. One tailer
// runs per room, shared by every client watching that server.
func LogSource(ctl *control.Controller) ws.Source {
	return func(ctx context.Context, room string, emit func(*ws.Message)) error {
		name := ws.RoomServer(room)
		handle, err := ctl.Lookup(name)
		if err != nil {
			return err
		}
		tailer := tail.New(handle.LogFiles(), func(path, chunk string) {
			emit(&ws.Message{
				Type:      ws.MessageLog,
				Payload:   ws.LogPayload{Server: name, File: filepath.Base(path), Text: chunk},
				Timestamp: time.Now(),
			})
		}, ctl.TailOptions())
		return tailer.Run(ctx)
	}
}

// LogsHandler upgrades log stream requests to websockets
type LogsHandler struct {
	ctl      *control.Controller
	hub      *ws.Hub
	upgrader websocket.Upgrader
}

// NewLogsHandler creates a log stream handler. allowedOrigins extends the
// same-host rule applied to browser clients.
func NewLogsHandler(ctl *control.Controller, hub *ws.Hub, allowedOrigins []string) *LogsHandler {
	return &LogsHandler{
		ctl: ctl,
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return checkOrigin(r, allowedOrigins)
			},
		},
	}
}

// StreamLogs streams a server's console and debug logs. ?filter= takes the
// same syntax as the console's :filter command.
func (h *LogsHandler) StreamLogs(c *gin.Context) {
	name := c.Param("name")
	if _, err := h.ctl.Lookup(name); err != nil {
		respondError(c, err)
		return
	}
	filter, err := console.ParseFilter(c.Query("filter"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[API] Websocket upgrade failed for %s: %v", name, err)
		return
	}

	client := ws.NewClient(h.hub, uuid.NewString(), middleware.Actor(c), ws.LogRoom(name), conn)
	client.Filter = filter

	select {
	case h.hub.Register <- client:
	case <-h.hub.Done():
		conn.Close()
		return
	case <-c.Request.Context().Done():
		conn.Close()
		return
	}

	go client.WritePump()
	client.ReadPump()
}

func checkOrigin(r *http.Request, allowedOrigins []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range allowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
