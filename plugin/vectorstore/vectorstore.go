package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/picarcade/picarcade/store"
)

// SearchResult is a single semantic-search hit.
type SearchResult struct {
	ReferenceID string
	Tag         string
	Content     string
	Score       float32
}

// Store wraps chromem-go with per-user collections of reference descriptions.
type Store struct {
	mu      sync.RWMutex
	db      *chromem.DB
	embedFn chromem.EmbeddingFunc
}

// New creates (or opens) the persistent vector store at dataDir/vectorstore/.
func New(dataDir string, embedFunc chromem.EmbeddingFunc) (*Store, error) {
	dir := filepath.Join(dataDir, "vectorstore")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create vectorstore dir: %w", err)
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open vectorstore: %w", err)
	}
	return &Store{db: db, embedFn: embedFunc}, nil
}

// NewInMemory creates a store that is lost on exit.
func NewInMemory(embedFunc chromem.EmbeddingFunc) *Store {
	return &Store{db: chromem.NewDB(), embedFn: embedFunc}
}

// NewEmbeddingFunc returns an embedding function for an OpenAI-compatible endpoint.
func NewEmbeddingFunc(baseURL, apiKey, model string) chromem.EmbeddingFunc {
	return chromem.NewEmbeddingFuncOpenAICompat(baseURL, apiKey, model, nil)
}

func collectionName(userID string) string {
	return fmt.Sprintf("user_%s_references", userID)
}

func (s *Store) getOrCreateCollection(userID string) *chromem.Collection {
	name := collectionName(userID)
	col := s.db.GetCollection(name, s.embedFn)
	if col == nil {
		var err error
		col, err = s.db.CreateCollection(name, nil, s.embedFn)
		if err != nil {
			slog.Error("failed to create vector collection", "user", userID, "err", err)
			return nil
		}
	}
	return col
}

// document is the text a reference is embedded as.
func document(ref *store.Reference) string {
	parts := []string{ref.Tag}
	for _, s := range []string{ref.DisplayName, ref.Description, string(ref.Category)} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// UpsertReference indexes (or re-indexes) a reference for its owner.
func (s *Store) UpsertReference(ctx context.Context, ref *store.Reference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.getOrCreateCollection(ref.UserID)
	if col == nil {
		return fmt.Errorf("vectorstore: nil collection for user %s", ref.UserID)
	}
	return col.AddDocument(ctx, chromem.Document{
		ID:      ref.ID,
		Content: document(ref),
		Metadata: map[string]string{
			"tag":      ref.Tag,
			"category": string(ref.Category),
		},
	})
}

// DeleteReference drops a reference from the user's index.
func (s *Store) DeleteReference(ctx context.Context, userID, referenceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.db.GetCollection(collectionName(userID), s.embedFn)
	if col == nil {
		return nil
	}
	return col.Delete(ctx, nil, nil, referenceID)
}

// SearchSimilar returns the top-k references most semantically similar to the query.
func (s *Store) SearchSimilar(ctx context.Context, userID, query string, k int) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.db.GetCollection(collectionName(userID), s.embedFn)
	if col == nil || k <= 0 {
		return nil, nil
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	var results []chromem.Result
	var err error

	// chromem-go sometimes throws "nResults must be <= number of documents" despite Count checks.
	// Step down k if it fails.
	for attemptK := k; attemptK > 0; attemptK-- {
		results, err = col.Query(ctx, query, attemptK, nil, nil)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, SearchResult{
			ReferenceID: r.ID,
			Tag:         r.Metadata["tag"],
			Content:     r.Content,
			Score:       r.Similarity,
		})
	}
	return out, nil
}

// SuggestTags returns the tags of the references closest to query.
func (s *Store) SuggestTags(ctx context.Context, userID, query string, k int) ([]string, error) {
	results, err := s.SearchSimilar(ctx, userID, query, k)
	if err != nil {
		return nil, err
	}
	tags := make([]string, 0, len(results))
	for _, r := range results {
		tags = append(tags, r.Tag)
	}
	return tags, nil
}
