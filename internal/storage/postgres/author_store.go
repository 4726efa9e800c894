package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hieutran/bookstore-ingest/internal/ingest"
)

// AuthorStore implements ingest.AuthorStore on Postgres.
type AuthorStore struct {
	db DB
}

// NewAuthorStore constructs an AuthorStore over an existing pool.
func NewAuthorStore(db DB) *AuthorStore {
	return &AuthorStore{db: db}
}

const authorSelectSQL = `SELECT id FROM authors WHERE external_id = $1 AND source = $2;`

// FindOrCreate resolves (externalId, source) to an author id, inserting on
// first sighting. A concurrent insert loses the ON CONFLICT race and falls
// back to one re-query.
func (s *AuthorStore) FindOrCreate(ctx context.Context, author ingest.Author) (string, error) {
	var id string
	err := s.db.QueryRow(ctx, authorSelectSQL, author.ExternalID, author.Source).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("find author: %w", err)
	}

	insert := `
		INSERT INTO authors (external_id, source, name, slug, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_id, source) DO NOTHING
		RETURNING id;
	`
	err = s.db.QueryRow(ctx, insert,
		author.ExternalID, author.Source, author.Name, author.Slug, author.CreatedAt).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("insert author: %w", err)
	}

	// Another writer inserted the same key between our select and insert.
	if err := s.db.QueryRow(ctx, authorSelectSQL, author.ExternalID, author.Source).Scan(&id); err != nil {
		return "", fmt.Errorf("re-query author after insert race: %w", err)
	}
	return id, nil
}
