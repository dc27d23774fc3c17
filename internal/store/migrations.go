package store

import (
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS province_cases (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    data_timestamp DATETIME NOT NULL,
    stato TEXT NOT NULL,
    codice_regione INTEGER NOT NULL,
    denominazione_regione TEXT NOT NULL,
    codice_provincia INTEGER NOT NULL,
    denominazione_provincia TEXT NOT NULL,
    sigla_provincia TEXT,
    lat REAL DEFAULT 0,
    long REAL DEFAULT 0,
    totale_casi INTEGER NOT NULL,
    note TEXT,
    codice_nuts_1 TEXT,
    codice_nuts_2 TEXT,
    codice_nuts_3 TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(data_timestamp, codice_regione, codice_provincia)
);

CREATE TABLE IF NOT EXISTS data_cache (
    cache_type TEXT PRIMARY KEY,
    last_fetch_time DATETIME NOT NULL,
    last_data_timestamp DATETIME NOT NULL,
    records_count INTEGER NOT NULL,
    data_dates_range TEXT
);

CREATE INDEX IF NOT EXISTS idx_cases_timestamp ON province_cases(data_timestamp);
`,
	},
	{
		Version:     2,
		Description: "Index region code for aggregation queries",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_cases_region ON province_cases(codice_regione);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		log.Printf("migrations: applying %d - %s", m.Version, m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, formatTime(time.Now()),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    description TEXT,
    applied_at DATETIME
)`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
