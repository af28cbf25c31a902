package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Sessions table - one row per finished live session
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			room TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL CHECK(reason IN ('ended', 'left')),
			peer_state TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			ended_at INTEGER NOT NULL,
			samples INTEGER NOT NULL DEFAULT 0,
			detected INTEGER NOT NULL DEFAULT 0,
			eye_contact REAL NOT NULL DEFAULT 0,
			motor_coordination REAL NOT NULL DEFAULT 0,
			engagement REAL NOT NULL DEFAULT 0
		)`,

		// Screening results - response of the processing endpoint for a session
		`CREATE TABLE IF NOT EXISTS screening_results (
			session_id TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
			remote_id TEXT NOT NULL DEFAULT '',
			risk_score REAL NOT NULL,
			confidence TEXT NOT NULL DEFAULT '',
			recommendation TEXT NOT NULL DEFAULT '',
			report_url TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sessions_room ON sessions(room)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_ended_at ON sessions(ended_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
