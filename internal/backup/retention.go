package backup

import (
	"context"
	"fmt"
	"log"
	"sort"
)

// RetentionManager handles backup retention policies
type RetentionManager struct {
	backupManager *Manager
}

// RetentionStats summarises what a retention policy would remove.
type RetentionStats struct {
	TotalBackups    int   `json:"total_backups"`
	RetentionLimit  int   `json:"retention_limit"`
	BackupsToDelete int   `json:"backups_to_delete"`
	TotalSizeBytes  int64 `json:"total_size_bytes"`
	WillDeleteSize  int64 `json:"will_delete_size"`
}

// NewRetentionManager creates a new retention manager
func NewRetentionManager(backupMgr *Manager) *RetentionManager {
	return &RetentionManager{
		backupManager: backupMgr,
	}
}

// EnforceRetention keeps the newest retentionCount completed backups of a
// server and deletes the rest. It returns the number deleted.
func (rm *RetentionManager) EnforceRetention(ctx context.Context, name string, retentionCount int, actor string) (int, error) {
	if retentionCount <= 0 {
		return 0, nil
	}

	completed, err := rm.completedBackups(name)
	if err != nil {
		return 0, err
	}
	if len(completed) <= retentionCount {
		return 0, nil
	}

	log.Printf("[Retention] Enforcing retention for %s (keep %d of %d)", name, retentionCount, len(completed))
	deleted := 0
	for _, backup := range completed[retentionCount:] {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		log.Printf("[Retention] Deleting old backup: %s (created: %s)",
			backup.ID, backup.CreatedAt.Format("2006-01-02 15:04:05"))
		if err := rm.backupManager.DeleteBackup(ctx, backup.ID, actor); err != nil {
			log.Printf("[Retention] Error deleting backup %s: %v", backup.ID, err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// GetRetentionStats returns retention statistics for a server
func (rm *RetentionManager) GetRetentionStats(name string, retentionCount int) (*RetentionStats, error) {
	completed, err := rm.completedBackups(name)
	if err != nil {
		return nil, err
	}

	stats := &RetentionStats{
		TotalBackups:   len(completed),
		RetentionLimit: retentionCount,
	}
	for i, backup := range completed {
		stats.TotalSizeBytes += backup.SizeBytes
		if retentionCount > 0 && i >= retentionCount {
			stats.BackupsToDelete++
			stats.WillDeleteSize += backup.SizeBytes
		}
	}
	return stats, nil
}

// completedBackups returns completed backups, newest first.
func (rm *RetentionManager) completedBackups(name string) ([]*BackupRecord, error) {
	backups, err := rm.backupManager.ListBackups(name)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	var completed []*BackupRecord
	for _, backup := range backups {
		if backup.Status == StatusCompleted {
			completed = append(completed, backup)
		}
	}
	sort.SliceStable(completed, func(i, j int) bool {
		return completed[i].CreatedAt.After(completed[j].CreatedAt)
	})
	return completed, nil
}
