package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	_ "github.com/mattn/go-sqlite3"
)

// SchemaVersion is written to meta on every start so later releases can migrate.
const SchemaVersion = 2

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_events (
			name TEXT PRIMARY KEY,
			scheduled_at INTEGER,
			timer_key INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS prayer_times (
			month_name TEXT NOT NULL,
			day INTEGER NOT NULL,
			fajr TEXT NOT NULL,
			sunrise TEXT NOT NULL,
			dhuhr TEXT NOT NULL,
			asr TEXT NOT NULL,
			maghrib TEXT NOT NULL,
			isha TEXT NOT NULL,
			PRIMARY KEY (month_name, day)
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		// v2: booking timestamp for staleness checks
		`ALTER TABLE scheduled_events ADD COLUMN booked_at INTEGER`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// Ignore "duplicate column" errors for ALTER TABLE
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return err
		}
	}

	_, err := s.db.Exec(`INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, strconv.Itoa(SchemaVersion))
	if err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}

	log.Debug().Str("component", "storage").Int("schema_version", SchemaVersion).Msg("migrations applied")
	return nil
}

func (s *Storage) SchemaVersion(ctx context.Context) (int, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(raw)
}
