package store

// migrations are applied in order; the index+1 is the schema version.
// Never edit an applied migration, append a new one.
var migrations = []string{
	// 1: query history
	`CREATE TABLE IF NOT EXISTS query_history (
		id            TEXT PRIMARY KEY,
		query_id      TEXT NOT NULL DEFAULT '',
		sql_text      TEXT NOT NULL,
		dataspace     TEXT NOT NULL DEFAULT '',
		workload_name TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL,
		row_count     INTEGER NOT NULL DEFAULT 0,
		polls         INTEGER NOT NULL DEFAULT 0,
		pages         INTEGER NOT NULL DEFAULT 0,
		error         TEXT NOT NULL DEFAULT '',
		duration_ms   INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_history_created_at ON query_history(created_at);
	CREATE INDEX IF NOT EXISTS idx_query_history_status ON query_history(status);`,

	// 2: record which surface issued the query
	`ALTER TABLE query_history ADD COLUMN source TEXT NOT NULL DEFAULT 'cli';`,
}
