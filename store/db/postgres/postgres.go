package postgres

import (
	"context"
	"database/sql"
	"fmt"

	// Import the postgres driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/picarcade/picarcade/internal/profile"
	"github.com/picarcade/picarcade/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres")
	}
	return &DB{db: db, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_reference (
			id                   TEXT   PRIMARY KEY,
			user_id              TEXT   NOT NULL,
			tag                  TEXT   NOT NULL,
			tag_key              TEXT   NOT NULL,
			display_name         TEXT   NOT NULL DEFAULT '',
			description          TEXT   NOT NULL DEFAULT '',
			image_url            TEXT   NOT NULL,
			thumbnail_url        TEXT   NOT NULL DEFAULT '',
			category             TEXT   NOT NULL DEFAULT 'general',
			source_type          TEXT   NOT NULL DEFAULT 'upload',
			source_generation_id TEXT   NOT NULL DEFAULT '',
			created_ts           BIGINT NOT NULL,
			updated_ts           BIGINT NOT NULL,
			UNIQUE (user_id, tag_key)
		)`,
		`CREATE TABLE IF NOT EXISTS generation_history (
			id             SERIAL PRIMARY KEY,
			generation_id  TEXT    NOT NULL UNIQUE,
			user_id        TEXT    NOT NULL,
			prompt         TEXT    NOT NULL,
			intent         TEXT    NOT NULL DEFAULT '',
			model_used     TEXT    NOT NULL DEFAULT '',
			success        BOOLEAN NOT NULL DEFAULT FALSE,
			output_url     TEXT    NOT NULL DEFAULT '',
			error_message  TEXT    NOT NULL DEFAULT '',
			execution_time DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_ts     BIGINT  NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_generation_history_user ON generation_history(user_id, created_ts)`,
		`CREATE TABLE IF NOT EXISTS generation_session (
			session_id        TEXT   PRIMARY KEY,
			user_id           TEXT   NOT NULL,
			working_image_url TEXT   NOT NULL DEFAULT '',
			updated_ts        BIGINT NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := d.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}
