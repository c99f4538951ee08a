package store

import (
	"context"
	"database/sql"

	"github.com/picarcade/picarcade/internal/profile"
)

// Driver is the dialect-specific persistence layer behind Store.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate creates the tables the store needs if they are missing.
	Migrate(ctx context.Context) error

	CreateReference(ctx context.Context, create *Reference) (*Reference, error)
	ListReferences(ctx context.Context, find *FindReference) ([]*Reference, error)
	UpdateReference(ctx context.Context, update *UpdateReference) (*Reference, error)
	DeleteReference(ctx context.Context, delete *DeleteReference) error

	CreateGeneration(ctx context.Context, create *Generation) (*Generation, error)
	ListGenerations(ctx context.Context, find *FindGeneration) ([]*Generation, error)
	DeleteGeneration(ctx context.Context, delete *DeleteGeneration) error
	// PruneGenerations keeps only the newest keep rows for the user.
	PruneGenerations(ctx context.Context, userID string, keep int) error

	UpsertGenerationSession(ctx context.Context, upsert *GenerationSession) (*GenerationSession, error)
	GetGenerationSession(ctx context.Context, find *FindGenerationSession) (*GenerationSession, error)
	DeleteGenerationSession(ctx context.Context, sessionID string) error
}

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

// Migrate prepares the schema.
func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}
