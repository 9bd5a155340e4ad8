package store

// migration is one forward-only schema step
type migration struct {
	version int
	stmts   []string
}

// migrationsFor returns the schema steps in the driver's dialect. Timestamps
// are unix milliseconds so every driver scans them the same way.
func migrationsFor(driver string) []migration {
	textType, keyType, floatType := "TEXT", "TEXT", "REAL"
	switch driver {
	case DriverMySQL:
		keyType, floatType = "VARCHAR(191)", "DOUBLE"
	case DriverPostgres:
		floatType = "DOUBLE PRECISION"
	}

	return []migration{
		{
			version: 1,
			stmts: []string{
				`CREATE TABLE IF NOT EXISTS classifications (
					id ` + keyType + ` PRIMARY KEY,
					sender ` + textType + ` NOT NULL,
					domain ` + keyType + ` NOT NULL,
					subject ` + textType + ` NOT NULL,
					category ` + keyType + ` NOT NULL,
					confidence ` + floatType + ` NOT NULL,
					action ` + keyType + ` NOT NULL,
					created_at BIGINT NOT NULL
				)`,
				`CREATE INDEX idx_classifications_action ON classifications (action, created_at)`,
				`CREATE TABLE IF NOT EXISTS pattern_hits (
					category ` + keyType + ` NOT NULL,
					subcategory ` + keyType + ` NOT NULL,
					pattern ` + keyType + ` NOT NULL,
					hits BIGINT NOT NULL,
					updated_at BIGINT NOT NULL,
					PRIMARY KEY (category, subcategory, pattern)
				)`,
				`CREATE TABLE IF NOT EXISTS feedback (
					id ` + keyType + ` PRIMARY KEY,
					sender ` + textType + ` NOT NULL,
					subject ` + textType + ` NOT NULL,
					predicted_category ` + keyType + ` NOT NULL,
					correct_category ` + keyType + ` NOT NULL,
					confidence_rating INTEGER NOT NULL,
					submitted_at BIGINT NOT NULL,
					consumed_at BIGINT
				)`,
				`CREATE INDEX idx_feedback_consumed ON feedback (consumed_at)`,
			},
		},
		{
			version: 2,
			stmts: []string{
				`ALTER TABLE classifications ADD COLUMN auth_results ` + textType,
			},
		},
	}
}

// incrementPatternSQL adds to a counter row, creating it when absent
func incrementPatternSQL(driver string) string {
	if driver == DriverMySQL {
		return `INSERT INTO pattern_hits (category, subcategory, pattern, hits, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE hits = hits + VALUES(hits), updated_at = VALUES(updated_at)`
	}
	return `INSERT INTO pattern_hits (category, subcategory, pattern, hits, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (category, subcategory, pattern)
		DO UPDATE SET hits = pattern_hits.hits + excluded.hits, updated_at = excluded.updated_at`
}
