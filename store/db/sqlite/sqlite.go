package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/picarcade/picarcade/internal/profile"
	"github.com/picarcade/picarcade/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a database specified by its database driver name and a
// driver-specific data source name, usually consisting of at least a
// database name and connection information.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	// Ensure a DSN is set before attempting to open the database.
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// Connect to the database with some sane settings:
	// - No shared-cache: it's obsolete; WAL journal mode is a better solution.
	// - No foreign key constraints: they are not used by this schema.
	// - Journal mode set to WAL: it's the recommended journal mode for most applications
	//   as it prevents locking issues.
	// - busy_timeout keeps concurrent writers from failing immediately.
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	return &DB{db: sqliteDB, profile: profile}, nil
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
			id                   TEXT    NOT NULL PRIMARY KEY,
			user_id              TEXT    NOT NULL,
			tag                  TEXT    NOT NULL,
			tag_key              TEXT    NOT NULL,
			display_name         TEXT    NOT NULL DEFAULT '',
			description          TEXT    NOT NULL DEFAULT '',
			image_url            TEXT    NOT NULL,
			thumbnail_url        TEXT    NOT NULL DEFAULT '',
			category             TEXT    NOT NULL DEFAULT 'general',
			source_type          TEXT    NOT NULL DEFAULT 'upload',
			source_generation_id TEXT    NOT NULL DEFAULT '',
			created_ts           BIGINT  NOT NULL,
			updated_ts           BIGINT  NOT NULL,
			UNIQUE (user_id, tag_key)
		)`,
		`CREATE TABLE IF NOT EXISTS generation_history (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			generation_id  TEXT    NOT NULL UNIQUE,
			user_id        TEXT    NOT NULL,
			prompt         TEXT    NOT NULL,
			intent         TEXT    NOT NULL DEFAULT '',
			model_used     TEXT    NOT NULL DEFAULT '',
			success        INTEGER NOT NULL DEFAULT 0,
			output_url     TEXT    NOT NULL DEFAULT '',
			error_message  TEXT    NOT NULL DEFAULT '',
			execution_time REAL    NOT NULL DEFAULT 0,
			created_ts     BIGINT  NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_generation_history_user ON generation_history(user_id, created_ts)`,
		`CREATE TABLE IF NOT EXISTS generation_session (
			session_id        TEXT   NOT NULL PRIMARY KEY,
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
