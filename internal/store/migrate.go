package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// Migration is one ordered schema step.
type Migration struct {
	Index       int
	Description string
	Query       string
}

// Schema lists every migration in apply order. Append only.
var Schema = []Migration{
	{
		Index:       1,
		Description: "Create table: profiles.",
		Query: `
		CREATE TABLE IF NOT EXISTS profiles (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			email      TEXT NOT NULL,
			mobile_no  TEXT,
			user_type  TEXT NOT NULL DEFAULT 'student'
				CHECK (user_type IN ('student', 'admin', 'supervisor')),
			status     TEXT NOT NULL DEFAULT 'active'
				CHECK (status IN ('active', 'inactive', 'suspended')),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deleted_at TIMESTAMPTZ
		);`,
	},
	{
		Index:       2,
		Description: "Create table: student_profiles.",
		Query: `
		CREATE TABLE IF NOT EXISTS student_profiles (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL UNIQUE REFERENCES profiles(id),
			student_id TEXT NOT NULL,
			company    TEXT,
			supervisor TEXT,
			address    TEXT,
			duration   TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ
		);`,
	},
	{
		Index:       3,
		Description: "Create table: attendance.",
		Query: `
		CREATE TABLE IF NOT EXISTS attendance (
			id                  TEXT PRIMARY KEY,
			user_id             TEXT NOT NULL REFERENCES profiles(id),
			date                DATE NOT NULL,
			check_in_time       TIMESTAMPTZ,
			check_out_time      TIMESTAMPTZ,
			check_in_photo_url  TEXT,
			check_out_photo_url TEXT,
			check_in_location   TEXT,
			check_out_location  TEXT,
			check_in_latitude   DOUBLE PRECISION,
			check_in_longitude  DOUBLE PRECISION,
			check_out_latitude  DOUBLE PRECISION,
			check_out_longitude DOUBLE PRECISION,
			hours_logged        NUMERIC(6, 2) CHECK (hours_logged >= 0),
			status              TEXT NOT NULL CHECK (status IN ('checked_in', 'completed')),
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT attendance_user_date_key UNIQUE (user_id, date),
			CONSTRAINT attendance_checkout_after_checkin
				CHECK (check_out_time IS NULL OR check_in_time IS NOT NULL)
		);`,
	},
	{
		Index:       4,
		Description: "Create index: attendance date.",
		Query:       `CREATE INDEX IF NOT EXISTS attendance_date_idx ON attendance (date DESC);`,
	},
}

// Migrate applies every migration newer than the recorded version, each in
// its own transaction.
func Migrate(ctx context.Context, db *sql.DB, log *zap.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range Schema {
		if m.Index <= current {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Index, m.Description, err)
		}
		log.Info("migration applied", zap.Int("index", m.Index), zap.String("description", m.Description))
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, m.Query); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, description) VALUES ($1, $2)`, m.Index, m.Description); err != nil {
		return err
	}
	return tx.Commit()
}
