package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hieutran/bookstore-ingest/internal/ingest"
)

// AuthorStore is an in-memory ingest.AuthorStore.
type AuthorStore struct {
	mu      sync.Mutex
	authors map[naturalKey]ingest.Author
}

// NewAuthorStore constructs an AuthorStore.
func NewAuthorStore() *AuthorStore {
	return &AuthorStore{authors: make(map[naturalKey]ingest.Author)}
}

// FindOrCreate resolves (externalId, source) to an author id, inserting on
// first sighting.
func (s *AuthorStore) FindOrCreate(_ context.Context, author ingest.Author) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := naturalKey{externalID: author.ExternalID, source: author.Source}
	if existing, ok := s.authors[key]; ok {
		return existing.ID, nil
	}
	author.ID = uuid.NewString()
	s.authors[key] = author
	return author.ID, nil
}
