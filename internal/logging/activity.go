package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ActivityLogger records lifecycle and console activity to the database and a
// daily JSON-lines file.
type ActivityLogger struct {
	db          *sql.DB
	logDir      string
	currentFile *os.File
	currentDate string
	now         func() time.Time
	mu          sync.Mutex
}

// Activity represents a logged activity
type Activity struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	ServerName   string         `json:"server"`
	Actor        string         `json:"actor,omitempty"`
	ActivityType string         `json:"activity_type"`
	Description  string         `json:"description"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Activity type constants
const (
	ActivityServerCreate   = "server.create"
	ActivityServerStart    = "server.start"
	ActivityServerStop     = "server.stop"
	ActivityServerRestart  = "server.restart"
	ActivityCommandExecute = "command.execute"
	ActivityScheduleRun    = "schedule.run"
	ActivityBackupCreate   = "backup.create"
	ActivityBackupRestore  = "backup.restore"
	ActivityBackupDelete   = "backup.delete"
	ActivityAPIRequest     = "api.request"
	ActivityError          = "error"
)

const maxOutputMetadata = 1000

// NewActivityLogger creates a new activity logger. db may be nil, in which
// case only the file is written.
func NewActivityLogger(db *sql.DB, logDir string) (*ActivityLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &ActivityLogger{db: db, logDir: logDir, now: time.Now}, nil
}

// LogActivity logs an activity to both database and file
func (al *ActivityLogger) LogActivity(activity *Activity) error {
	al.mu.Lock()
	defer al.mu.Unlock()

	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	if activity.Timestamp.IsZero() {
		activity.Timestamp = al.now().UTC()
	}

	if err := al.logToDatabase(activity); err != nil {
		// Don't return error, continue with file logging
		log.Printf("[ActivityLogger] Error logging to database: %v", err)
	}
	if err := al.logToFile(activity); err != nil {
		log.Printf("[ActivityLogger] Error logging to file: %v", err)
		return err
	}
	return nil
}

// LogLifecycle records a start, stop or restart together with its outcome.
func (al *ActivityLogger) LogLifecycle(server, activityType, actor, outcome string, pid int, opErr error) error {
	metadata := map[string]any{"outcome": outcome}
	if pid > 0 {
		metadata["pid"] = pid
	}
	activity := &Activity{
		ServerName:   server,
		Actor:        actor,
		ActivityType: activityType,
		Description:  fmt.Sprintf("%s: %s", activityType, outcome),
		Metadata:     metadata,
		Success:      opErr == nil,
	}
	if opErr != nil {
		activity.ErrorMessage = opErr.Error()
	}
	return al.LogActivity(activity)
}

// LogCommandExecute logs a console command execution
func (al *ActivityLogger) LogCommandExecute(server, actor, command, output string, cmdErr error) error {
	metadata := map[string]any{"command": command}
	if output != "" {
		if len(output) > maxOutputMetadata {
			output = output[:maxOutputMetadata] + "... (truncated)"
		}
		metadata["output"] = output
	}
	activity := &Activity{
		ServerName:   server,
		Actor:        actor,
		ActivityType: ActivityCommandExecute,
		Description:  fmt.Sprintf("Command executed: %s", command),
		Metadata:     metadata,
		Success:      cmdErr == nil,
	}
	if cmdErr != nil {
		activity.ErrorMessage = cmdErr.Error()
	}
	return al.LogActivity(activity)
}

// GetActivities retrieves activities from the database, newest first
func (al *ActivityLogger) GetActivities(server, activityType string, since time.Time, limit int) ([]*Activity, error) {
	if al.db == nil {
		return nil, fmt.Errorf("database not available")
	}

	query := `
		SELECT id, timestamp, server_name, actor, activity_type, description, metadata, success, error_message
		FROM activity_log
		WHERE 1=1
	`
	args := make([]any, 0)
	if server != "" {
		query += " AND server_name = ?"
		args = append(args, server)
	}
	if activityType != "" {
		query += " AND activity_type = ?"
		args = append(args, activityType)
	}
	if !since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, since)
	}
	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := al.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	activities := make([]*Activity, 0)
	for rows.Next() {
		activity := &Activity{}
		var metadataJSON, description, errMsg sql.NullString
		if err := rows.Scan(
			&activity.ID,
			&activity.Timestamp,
			&activity.ServerName,
			&activity.Actor,
			&activity.ActivityType,
			&description,
			&metadataJSON,
			&activity.Success,
			&errMsg,
		); err != nil {
			log.Printf("[ActivityLogger] Error scanning row: %v", err)
			continue
		}
		activity.Description = description.String
		activity.ErrorMessage = errMsg.String
		if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &activity.Metadata); err != nil {
				log.Printf("[ActivityLogger] Error unmarshaling metadata: %v", err)
			}
		}
		activities = append(activities, activity)
	}
	return activities, rows.Err()
}

// CleanupOldActivities removes activities older than a specified duration
func (al *ActivityLogger) CleanupOldActivities(olderThan time.Duration) (int64, error) {
	if al.db == nil {
		return 0, fmt.Errorf("database not available")
	}
	cutoff := al.now().UTC().Add(-olderThan)
	result, err := al.db.Exec(`DELETE FROM activity_log WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old activities: %w", err)
	}
	removed, _ := result.RowsAffected()
	log.Printf("[ActivityLogger] Cleaned up %d activities older than %v", removed, olderThan)
	return removed, nil
}

// Close closes the activity logger
func (al *ActivityLogger) Close() error {
	al.mu.Lock()
	defer al.mu.Unlock()

	if al.currentFile != nil {
		err := al.currentFile.Close()
		al.currentFile = nil
		return err
	}
	return nil
}

func (al *ActivityLogger) logToDatabase(activity *Activity) error {
	if al.db == nil {
		return nil
	}

	var metadataJSON []byte
	if len(activity.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(activity.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	_, err := al.db.Exec(`
		INSERT INTO activity_log (
			id, timestamp, server_name, actor, activity_type,
			description, metadata, success, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		activity.ID,
		activity.Timestamp,
		activity.ServerName,
		activity.Actor,
		activity.ActivityType,
		activity.Description,
		string(metadataJSON),
		activity.Success,
		activity.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}
	return nil
}

func (al *ActivityLogger) logToFile(activity *Activity) error {
	currentDate := activity.Timestamp.Format("2006-01-02")
	if al.currentFile == nil || al.currentDate != currentDate {
		if err := al.rotateLogFile(currentDate); err != nil {
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	line, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	if _, err := fmt.Fprintf(al.currentFile, "%s\n", line); err != nil {
		return fmt.Errorf("failed to write to log file: %w", err)
	}

	// Sync to disk for lifecycle events
	switch activity.ActivityType {
	case ActivityServerStart, ActivityServerStop, ActivityError:
		al.currentFile.Sync()
	}
	return nil
}

// ActivityFile returns the path of the file for the given day.
func (al *ActivityLogger) ActivityFile(date string) string {
	return filepath.Join(al.logDir, fmt.Sprintf("activity-%s.log", date))
}

func (al *ActivityLogger) rotateLogFile(date string) error {
	if al.currentFile != nil {
		al.currentFile.Close()
		al.currentFile = nil
	}

	file, err := os.OpenFile(al.ActivityFile(date), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	al.currentFile = file
	al.currentDate = date
	return nil
}
