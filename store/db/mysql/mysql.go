package mysql

import (
	"context"
	"database/sql"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/picarcade/picarcade/internal/profile"
	"github.com/picarcade/picarcade/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
	config  *mysql.Config
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	// Open MySQL connection with parameter.
	// multiStatements=true is required for migration.
	// See more in: https://github.com/go-sql-driver/mysql#multistatements
	dsn, err := mergeDSN(profile.DSN)
	if err != nil {
		return nil, err
	}

	driver := DB{profile: profile}
	driver.config, err = mysql.ParseDSN(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse DSN")
	}

	driver.db, err = sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db: %s", profile.DSN)
	}
	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS `user_reference` (" +
			"`id` VARCHAR(64) NOT NULL PRIMARY KEY," +
			"`user_id` VARCHAR(256) NOT NULL," +
			"`tag` VARCHAR(256) NOT NULL," +
			"`tag_key` VARCHAR(256) NOT NULL," +
			"`display_name` TEXT NOT NULL," +
			"`description` TEXT NOT NULL," +
			"`image_url` TEXT NOT NULL," +
			"`thumbnail_url` TEXT NOT NULL," +
			"`category` VARCHAR(32) NOT NULL DEFAULT 'general'," +
			"`source_type` VARCHAR(32) NOT NULL DEFAULT 'upload'," +
			"`source_generation_id` VARCHAR(64) NOT NULL DEFAULT ''," +
			"`created_ts` BIGINT NOT NULL," +
			"`updated_ts` BIGINT NOT NULL," +
			"UNIQUE KEY `uk_user_reference_tag` (`user_id`, `tag_key`)" +
			")",
		"CREATE TABLE IF NOT EXISTS `generation_history` (" +
			"`id` INT NOT NULL AUTO_INCREMENT PRIMARY KEY," +
			"`generation_id` VARCHAR(64) NOT NULL UNIQUE," +
			"`user_id` VARCHAR(256) NOT NULL," +
			"`prompt` TEXT NOT NULL," +
			"`intent` VARCHAR(32) NOT NULL DEFAULT ''," +
			"`model_used` VARCHAR(128) NOT NULL DEFAULT ''," +
			"`success` BOOLEAN NOT NULL DEFAULT FALSE," +
			"`output_url` TEXT NOT NULL," +
			"`error_message` TEXT NOT NULL," +
			"`execution_time` DOUBLE NOT NULL DEFAULT 0," +
			"`created_ts` BIGINT NOT NULL," +
			"INDEX `idx_generation_history_user` (`user_id`, `created_ts`)" +
			")",
		"CREATE TABLE IF NOT EXISTS `generation_session` (" +
			"`session_id` VARCHAR(64) NOT NULL PRIMARY KEY," +
			"`user_id` VARCHAR(256) NOT NULL," +
			"`working_image_url` TEXT NOT NULL," +
			"`updated_ts` BIGINT NOT NULL" +
			")",
	}
	for _, s := range stmts {
		if _, err := d.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func mergeDSN(baseDSN string) (string, error) {
	config, err := mysql.ParseDSN(baseDSN)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse DSN: %s", baseDSN)
	}

	config.MultiStatements = true
	return config.FormatDSN(), nil
}
