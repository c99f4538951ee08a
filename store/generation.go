package store

// Generation is a history row written after an orchestration run.
type Generation struct {
	ID            int32
	GenerationID  string
	UserID        string
	Prompt        string
	Intent        string
	ModelUsed     string
	Success       bool
	OutputURL     string
	ErrorMessage  string
	ExecutionTime float64 // seconds
	CreatedTs     int64
}

// FindGeneration filters for ListGenerations. Results are newest first.
type FindGeneration struct {
	GenerationID *string
	UserID       *string
	SuccessOnly  bool
	Limit        *int
}

// DeleteGeneration addresses a single history row.
type DeleteGeneration struct {
	GenerationID string
}

// GenerationSession associates a conversational session with its working image.
type GenerationSession struct {
	SessionID       string
	UserID          string
	WorkingImageURL string
	UpdatedTs       int64
}

// FindGenerationSession filters for GetGenerationSession.
type FindGenerationSession struct {
	SessionID string
}
