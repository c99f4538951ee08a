package teststore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/picarcade/picarcade/internal/profile"
	"github.com/picarcade/picarcade/store"
	"github.com/picarcade/picarcade/store/db"
)

// NewTestingStore returns a migrated store. The driver comes from the DRIVER
// environment variable and defaults to sqlite in a temp dir.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()
	p := getTestingProfile(ctx, t)
	dbDriver, err := db.NewDBDriver(p)
	require.NoError(t, err, "failed to create db driver")

	s := store.New(dbDriver, p)
	require.NoError(t, s.Migrate(ctx), "failed to migrate db")
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func getTestingProfile(ctx context.Context, t *testing.T) *profile.Profile {
	dir := t.TempDir()
	driver := getDriverFromEnv()
	p := &profile.Profile{
		Mode:         "dev",
		Data:         dir,
		Driver:       driver,
		HistoryLimit: 5,
	}
	switch driver {
	case "mysql":
		p.DSN = startMySQL(ctx, t)
	case "postgres":
		p.DSN = startPostgres(ctx, t)
	default:
		p.Driver = "sqlite"
		p.DSN = filepath.Join(dir, "picarcade_test.db")
	}
	return p
}

func getDriverFromEnv() string {
	driver := os.Getenv("DRIVER")
	if driver == "" {
		driver = "sqlite"
	}
	return driver
}
