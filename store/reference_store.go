package store

import (
	"context"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
)

var (
	ErrReferenceExists   = errors.New("reference tag already exists")
	ErrReferenceNotFound = errors.New("reference not found")
)

// ListReferences lists references matching the given filter, oldest first.
func (s *Store) ListReferences(ctx context.Context, find *FindReference) ([]*Reference, error) {
	return s.driver.ListReferences(ctx, find)
}

// GetReference returns the first reference matching the filter, or nil.
func (s *Store) GetReference(ctx context.Context, find *FindReference) (*Reference, error) {
	list, err := s.driver.ListReferences(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// CreateReference saves a new reference. It fails with ErrReferenceExists when the
// user already owns the tag in any letter case.
func (s *Store) CreateReference(ctx context.Context, create *Reference) (*Reference, error) {
	existing, err := s.GetReference(ctx, &FindReference{UserID: &create.UserID, Tag: &create.Tag})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errors.Wrapf(ErrReferenceExists, "@%s", create.Tag)
	}
	if create.ID == "" {
		create.ID = shortuuid.New()
	}
	if create.Category == "" {
		create.Category = CategoryGeneral
	}
	if create.SourceType == "" {
		create.SourceType = SourceUpload
	}
	now := time.Now().Unix()
	create.CreatedTs, create.UpdatedTs = now, now
	return s.driver.CreateReference(ctx, create)
}

// UpdateReference renames or edits the reference tagged oldTag for the user.
// A rename keeps the record ID and refuses tags already taken by another record.
func (s *Store) UpdateReference(ctx context.Context, userID, oldTag string, update *UpdateReference) (*Reference, error) {
	current, err := s.GetReference(ctx, &FindReference{UserID: &userID, Tag: &oldTag})
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, errors.Wrapf(ErrReferenceNotFound, "@%s", oldTag)
	}
	if update.Tag != nil && !strings.EqualFold(*update.Tag, current.Tag) {
		clash, err := s.GetReference(ctx, &FindReference{UserID: &userID, Tag: update.Tag})
		if err != nil {
			return nil, err
		}
		if clash != nil && clash.ID != current.ID {
			return nil, errors.Wrapf(ErrReferenceExists, "@%s", *update.Tag)
		}
	}
	update.ID = current.ID
	update.UpdatedTs = time.Now().Unix()
	return s.driver.UpdateReference(ctx, update)
}

// DeleteReference removes the reference tagged tag for the user.
func (s *Store) DeleteReference(ctx context.Context, userID, tag string) error {
	current, err := s.GetReference(ctx, &FindReference{UserID: &userID, Tag: &tag})
	if err != nil {
		return err
	}
	if current == nil {
		return errors.Wrapf(ErrReferenceNotFound, "@%s", tag)
	}
	return s.driver.DeleteReference(ctx, &DeleteReference{ID: current.ID})
}
