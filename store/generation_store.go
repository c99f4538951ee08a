package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// AppendGeneration writes a history row and trims the user's history to the
// configured limit.
func (s *Store) AppendGeneration(ctx context.Context, create *Generation) (*Generation, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	g, err := s.driver.CreateGeneration(ctx, create)
	if err != nil {
		return nil, err
	}
	if limit := s.historyLimit(); limit > 0 {
		if err := s.driver.PruneGenerations(ctx, create.UserID, limit); err != nil {
			return g, errors.Wrap(err, "failed to prune generation history")
		}
	}
	return g, nil
}

// ListGenerations returns the user's most recent generations, newest first.
func (s *Store) ListGenerations(ctx context.Context, find *FindGeneration) ([]*Generation, error) {
	return s.driver.ListGenerations(ctx, find)
}

// DeleteGeneration removes one history row.
func (s *Store) DeleteGeneration(ctx context.Context, generationID string) error {
	return s.driver.DeleteGeneration(ctx, &DeleteGeneration{GenerationID: generationID})
}

func (s *Store) historyLimit() int {
	if s.profile == nil {
		return 0
	}
	return s.profile.HistoryLimit
}
