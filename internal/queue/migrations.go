package queue

// GetSQLiteMigrations returns the queue schema migrations in order.
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create queued_requests table",
			SQL: `
				CREATE TABLE IF NOT EXISTS queued_requests (
					rowid INTEGER PRIMARY KEY AUTOINCREMENT,
					id TEXT NOT NULL UNIQUE,
					endpoint TEXT NOT NULL,
					data TEXT NOT NULL,
					created_at DATETIME NOT NULL
				);
			`,
		},
		{
			Version:     "002",
			Description: "Index queued_requests by id",
			SQL: `
				CREATE INDEX IF NOT EXISTS idx_queued_requests_id ON queued_requests(id);
			`,
		},
	}
}
