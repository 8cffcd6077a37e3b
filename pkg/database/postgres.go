package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/noah-isme/timetable-api/pkg/config"
)

// NewPostgres returns a configured PostgreSQL client.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Schema creates the timetable tables when missing.
const Schema = `
CREATE TABLE IF NOT EXISTS timetable_versions (
	id            UUID PRIMARY KEY,
	version       INTEGER NOT NULL UNIQUE,
	run_id        TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	status        TEXT NOT NULL,
	solver        TEXT NOT NULL,
	solver_status TEXT NOT NULL,
	policy        TEXT NOT NULL,
	fingerprint   TEXT NOT NULL,
	objective     BIGINT NOT NULL,
	placed        INTEGER NOT NULL,
	unplaced      INTEGER NOT NULL,
	unplaced_json JSONB NOT NULL DEFAULT '[]',
	created_by    TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS timetable_entries (
	id          UUID PRIMARY KEY,
	version_id  UUID NOT NULL REFERENCES timetable_versions(id) ON DELETE CASCADE,
	day         TEXT NOT NULL,
	day_index   INTEGER NOT NULL,
	start_slot  INTEGER NOT NULL,
	end_slot    INTEGER NOT NULL,
	start_time  TEXT NOT NULL,
	end_time    TEXT NOT NULL,
	room        TEXT NOT NULL,
	course_id   TEXT NOT NULL,
	section     TEXT NOT NULL,
	kind        TEXT NOT NULL,
	part        INTEGER NOT NULL DEFAULT 0,
	staff       TEXT NOT NULL DEFAULT '',
	annotations TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_timetable_entries_version ON timetable_entries(version_id, day_index, start_slot);
`

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
