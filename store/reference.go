package store

// ReferenceCategory groups references in the catalog.
type ReferenceCategory string

const (
	CategoryCharacters ReferenceCategory = "characters"
	CategoryLocations  ReferenceCategory = "locations"
	CategoryObjects    ReferenceCategory = "objects"
	CategoryStyles     ReferenceCategory = "styles"
	CategoryGeneral    ReferenceCategory = "general"
)

// Valid reports whether c is one of the known categories.
func (c ReferenceCategory) Valid() bool {
	switch c {
	case CategoryCharacters, CategoryLocations, CategoryObjects, CategoryStyles, CategoryGeneral:
		return true
	}
	return false
}

// ReferenceSourceType records where a reference image came from.
type ReferenceSourceType string

const (
	SourceUpload     ReferenceSourceType = "upload"
	SourceGeneration ReferenceSourceType = "generation"
)

// Reference is a user-owned tagged image usable as generation input.
type Reference struct {
	ID     string
	UserID string
	// Tag is unique per user, compared case-insensitively.
	Tag                string
	DisplayName        string
	Description        string
	ImageURL           string
	ThumbnailURL       string
	Category           ReferenceCategory
	SourceType         ReferenceSourceType
	SourceGenerationID string
	CreatedTs          int64
	UpdatedTs          int64
}

// FindReference filters for ListReferences.
type FindReference struct {
	ID       *string
	UserID   *string
	Tag      *string // matched case-insensitively
	Category *ReferenceCategory
}

// UpdateReference carries fields accepted by UpdateReference.
// The record is addressed by ID so a rename keeps its identity.
type UpdateReference struct {
	ID          string
	Tag         *string
	DisplayName *string
	Description *string
	Category    *ReferenceCategory
	UpdatedTs   int64
}

// DeleteReference addresses a single reference.
type DeleteReference struct {
	ID string
}
