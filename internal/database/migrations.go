package database

// Migration represents a database migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// migrations contains all database migrations in order
var migrations = []Migration{
	{
		Version: "001_init",
		Up: `
-- Lifecycle and console activity
CREATE TABLE activity_log (
    id TEXT PRIMARY KEY,
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    server_name TEXT,
    actor TEXT NOT NULL DEFAULT '',
    activity_type TEXT NOT NULL,        -- 'server.start', 'command.execute', 'schedule.run', etc.
    description TEXT,
    metadata TEXT,                       -- JSON for additional context
    success BOOLEAN DEFAULT 1,
    error_message TEXT
);

CREATE INDEX idx_activity_server_time ON activity_log(server_name, timestamp DESC);
CREATE INDEX idx_activity_type_time ON activity_log(activity_type, timestamp DESC);

-- Last observed lifecycle state per server
CREATE TABLE server_status (
    server_name TEXT PRIMARY KEY,
    state TEXT NOT NULL,                -- 'running', 'stopped'
    outcome TEXT,                       -- last lifecycle outcome
    pid INTEGER,
    last_started DATETIME,
    last_stopped DATETIME,
    error_message TEXT,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`,
		Down: `
DROP TABLE IF EXISTS server_status;
DROP TABLE IF EXISTS activity_log;
`,
	},
	{
		Version: "002_schedule_runs",
		Up: `
CREATE TABLE schedule_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    server_name TEXT NOT NULL,
    action TEXT NOT NULL,
    cron TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    outcome TEXT,
    error_message TEXT
);

CREATE INDEX idx_schedule_runs_server ON schedule_runs(server_name, started_at DESC);
`,
		Down: `
DROP TABLE IF EXISTS schedule_runs;
`,
	},
	{
		Version: "003_backups",
		Up: `
CREATE TABLE backups (
    id TEXT PRIMARY KEY,
    server_name TEXT NOT NULL,
    filename TEXT NOT NULL DEFAULT '',
    size_bytes INTEGER NOT NULL DEFAULT 0,
    file_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    destination_type TEXT NOT NULL,
    destination_path TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,               -- 'creating', 'completed', 'failed', 'deleted'
    error_message TEXT,
    metadata TEXT,
    created_by TEXT
);

CREATE INDEX idx_backups_server ON backups(server_name, created_at DESC);
`,
		Down: `
DROP TABLE IF EXISTS backups;
`,
	},
	{
		Version: "004_server_metrics",
		Up: `
CREATE TABLE server_metrics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    server_name TEXT NOT NULL,
    sampled_at DATETIME NOT NULL,
    running BOOLEAN NOT NULL DEFAULT 0,
    pid INTEGER,
    cpu_percent REAL,
    mem_used INTEGER,
    mem_total INTEGER,
    proc_rss INTEGER
);

CREATE INDEX idx_server_metrics_server_time ON server_metrics(server_name, sampled_at DESC);
`,
		Down: `
DROP TABLE IF EXISTS server_metrics;
`,
	},
}
