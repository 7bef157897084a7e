package handlers

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/TheGojiOG/mcpanel/internal/api/middleware"
	"github.com/TheGojiOG/mcpanel/internal/backup"
	"github.com/TheGojiOG/mcpanel/internal/control"
)

// BackupHandler serves world backup requests
type BackupHandler struct {
	ctl       *control.Controller
	backups   *backup.Manager
	retention int
}

// NewBackupHandler creates a new backup handler
func NewBackupHandler(ctl *control.Controller, backups *backup.Manager, retention int) *BackupHandler {
	return &BackupHandler{ctl: ctl, backups: backups, retention: retention}
}

// ListBackups returns the backups of a server with retention statistics
func (h *BackupHandler) ListBackups(c *gin.Context) {
	name := c.Param("name")
	if _, err := h.ctl.Lookup(name); err != nil {
		respondError(c, err)
		return
	}
	records, err := h.backups.ListBackups(name)
	if err != nil {
		respondError(c, err)
		return
	}
	stats, err := h.backups.Retention().GetRetentionStats(name, h.retention)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": records, "retention": stats})
}

// CreateBackup archives a server and waits for the upload to finish
func (h *BackupHandler) CreateBackup(c *gin.Context) {
	name := c.Param("name")
	record, err := h.backups.Create(lifecycleContext(c), name, middleware.Actor(c))
	if err != nil {
		log.Printf("[API] Backup of %s failed: %v", name, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

// RestoreBackup replaces a stopped server's files with a backup
func (h *BackupHandler) RestoreBackup(c *gin.Context) {
	if _, ok := h.ownedBackup(c); !ok {
		return
	}
	record, err := h.backups.Restore(lifecycleContext(c), c.Param("id"), middleware.Actor(c))
	if err != nil {
		log.Printf("[API] Restore of %s failed: %v", c.Param("id"), err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restored": record})
}

// DeleteBackup removes a backup from its destination
func (h *BackupHandler) DeleteBackup(c *gin.Context) {
	if _, ok := h.ownedBackup(c); !ok {
		return
	}
	if err := h.backups.DeleteBackup(c.Request.Context(), c.Param("id"), middleware.Actor(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ownedBackup loads the backup named in the path and checks that it belongs
// to the server named in the path.
func (h *BackupHandler) ownedBackup(c *gin.Context) (*backup.BackupRecord, bool) {
	record, err := h.backups.GetBackup(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if record.ServerName != c.Param("name") {
		respondError(c, fmt.Errorf("%w: %s", backup.ErrBackupNotFound, c.Param("id")))
		return nil, false
	}
	return record, true
}
