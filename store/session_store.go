package store

import (
	"context"
	"time"
)

// GetWorkingImage returns the session's current working image URL, or "" when the
// session is unknown.
func (s *Store) GetWorkingImage(ctx context.Context, sessionID string) (string, error) {
	sess, err := s.driver.GetGenerationSession(ctx, &FindGenerationSession{SessionID: sessionID})
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", nil
	}
	return sess.WorkingImageURL, nil
}

// GetGenerationSession returns the session or nil.
func (s *Store) GetGenerationSession(ctx context.Context, sessionID string) (*GenerationSession, error) {
	return s.driver.GetGenerationSession(ctx, &FindGenerationSession{SessionID: sessionID})
}

// SetWorkingImage records url as the session's working image. Last writer wins.
func (s *Store) SetWorkingImage(ctx context.Context, sessionID, url, userID string) error {
	_, err := s.driver.UpsertGenerationSession(ctx, &GenerationSession{
		SessionID:       sessionID,
		UserID:          userID,
		WorkingImageURL: url,
		UpdatedTs:       time.Now().Unix(),
	})
	return err
}

// ClearSession forgets the session's working image.
func (s *Store) ClearSession(ctx context.Context, sessionID string) error {
	return s.driver.DeleteGenerationSession(ctx, sessionID)
}
