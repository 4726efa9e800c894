package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hieutran/bookstore-ingest/internal/ingest"
)

type naturalKey struct {
	externalID string
	source     string
}

// BookStore is an in-memory ingest.BookStore.
type BookStore struct {
	mu    sync.RWMutex
	byKey map[naturalKey]string
	books map[string]ingest.Book
}

// NewBookStore constructs a BookStore.
func NewBookStore() *BookStore {
	return &BookStore{
		byKey: make(map[naturalKey]string),
		books: make(map[string]ingest.Book),
	}
}

// BulkUpsert writes one overview batch, keyed on (externalId, source).
func (s *BookStore) BulkUpsert(_ context.Context, books []ingest.BookOverview, now time.Time) (ingest.BulkUpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res ingest.BulkUpsertResult
	for _, o := range books {
		key := naturalKey{externalID: o.ExternalID, source: o.Source}
		if id, ok := s.byKey[key]; ok {
			b := s.books[id]
			b.Title = o.Title
			b.OriginalPrice = o.OriginalPrice
			b.PromotionalPrice = o.PromotionalPrice
			b.QuantitySold = o.QuantitySold
			b.ImageURL = o.ImageURL
			b.NeedsDetailCrawl = true
			b.UpdatedAt = now
			s.books[id] = b
			res.Updated++
			continue
		}
		id := uuid.NewString()
		s.byKey[key] = id
		s.books[id] = ingest.Book{
			ID:               id,
			ExternalID:       o.ExternalID,
			Source:           o.Source,
			Title:            o.Title,
			OriginalPrice:    o.OriginalPrice,
			PromotionalPrice: o.PromotionalPrice,
			QuantitySold:     o.QuantitySold,
			ImageURL:         o.ImageURL,
			IsFromCrawler:    true,
			NeedsDetailCrawl: true,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		res.New++
	}
	return res, nil
}

// UpdateDetails applies a successful detail crawl.
func (s *BookStore) UpdateDetails(_ context.Context, externalID, source string, upd ingest.BookDetailUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.lookup(externalID, source)
	if !ok {
		return ingest.ErrNotFound
	}
	b.Description = upd.Description
	b.OriginalPrice = upd.OriginalPrice
	b.PromotionalPrice = upd.PromotionalPrice
	b.QuantitySold = upd.QuantitySold
	b.ImageURL = upd.ImageURL
	b.AuthorIDs = upd.AuthorIDs
	b.DetailAttempts++
	b.NeedsDetailCrawl = false
	b.DetailSuccess = true
	b.PermanentlyFailed = false
	b.LastDetailCrawlAt = pointerTime(upd.CrawledAt)
	b.LastDetailError = ""
	b.UpdatedAt = upd.CrawledAt
	s.books[b.ID] = b
	return nil
}

// MarkDetailCrawlFailure bumps the attempt counter and records the error.
func (s *BookStore) MarkDetailCrawlFailure(_ context.Context, externalID, source, errorMessage string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.lookup(externalID, source)
	if !ok {
		return ingest.ErrNotFound
	}
	b.DetailAttempts++
	b.DetailSuccess = false
	b.LastDetailCrawlAt = pointerTime(at)
	b.LastDetailError = errorMessage
	b.UpdatedAt = at
	s.books[b.ID] = b
	return nil
}

// MarkPermanentlyFailed takes a row out of detail-crawl rotation.
func (s *BookStore) MarkPermanentlyFailed(_ context.Context, externalID, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.lookup(externalID, source)
	if !ok {
		return ingest.ErrNotFound
	}
	b.NeedsDetailCrawl = false
	b.PermanentlyFailed = true
	s.books[b.ID] = b
	return nil
}

// GetByNaturalKey fetches one book by (externalId, source).
func (s *BookStore) GetByNaturalKey(_ context.Context, externalID, source string) (ingest.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.lookup(externalID, source)
	if !ok {
		return ingest.Book{}, ingest.ErrNotFound
	}
	return b, nil
}

// GetPrices loads the current price snapshot.
func (s *BookStore) GetPrices(_ context.Context, bookID string) (ingest.BookPrices, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[bookID]
	if !ok {
		return ingest.BookPrices{}, ingest.ErrNotFound
	}
	return ingest.BookPrices{OriginalPrice: b.OriginalPrice, PromotionalPrice: b.PromotionalPrice}, nil
}

// CountEligible counts crawler-sourced rows with a usable natural key.
func (s *BookStore) CountEligible(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.eligibleRefs()), nil
}

// StreamEligible walks eligible rows in stable id order.
func (s *BookStore) StreamEligible(_ context.Context, fn func(ingest.BookRef) error) error {
	s.mu.RLock()
	refs := s.eligibleRefs()
	s.mu.RUnlock()
	for _, ref := range refs {
		if err := fn(ref); err != nil {
			return err
		}
	}
	return nil
}

// ListNeedingDetailCrawl returns rows still waiting on a detail crawl.
func (s *BookStore) ListNeedingDetailCrawl(_ context.Context, limit, maxAttempts int) ([]ingest.BookRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var refs []ingest.BookRef
	for _, b := range s.sortedBooks() {
		if !b.NeedsDetailCrawl || b.PermanentlyFailed || b.DetailAttempts >= maxAttempts {
			continue
		}
		refs = append(refs, ingest.BookRef{ID: b.ID, ExternalID: b.ExternalID, Source: b.Source})
		if limit > 0 && len(refs) >= limit {
			break
		}
	}
	return refs, nil
}

// FindRefsByIDs resolves known ids to refs, dropping unknown ones.
func (s *BookStore) FindRefsByIDs(_ context.Context, ids []string) ([]ingest.BookRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var refs []ingest.BookRef
	for _, id := range ids {
		b, ok := s.books[id]
		if !ok || b.ExternalID == "" || b.Source == "" {
			continue
		}
		refs = append(refs, ingest.BookRef{ID: b.ID, ExternalID: b.ExternalID, Source: b.Source})
	}
	return refs, nil
}

// setPrices is used by the price history store's transactional apply.
func (s *BookStore) setPrices(bookID string, original, promotional float64, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[bookID]
	if !ok {
		return false
	}
	b.OriginalPrice = original
	b.PromotionalPrice = promotional
	b.UpdatedAt = at
	s.books[b.ID] = b
	return true
}

func (s *BookStore) lookup(externalID, source string) (ingest.Book, bool) {
	id, ok := s.byKey[naturalKey{externalID: externalID, source: source}]
	if !ok {
		return ingest.Book{}, false
	}
	return s.books[id], true
}

func (s *BookStore) eligibleRefs() []ingest.BookRef {
	var refs []ingest.BookRef
	for _, b := range s.sortedBooks() {
		if !b.IsFromCrawler || b.ExternalID == "" || b.Source == "" {
			continue
		}
		refs = append(refs, ingest.BookRef{ID: b.ID, ExternalID: b.ExternalID, Source: b.Source})
	}
	return refs
}

func (s *BookStore) sortedBooks() []ingest.Book {
	books := make([]ingest.Book, 0, len(s.books))
	for _, b := range s.books {
		books = append(books, b)
	}
	sort.Slice(books, func(i, j int) bool { return books[i].ID < books[j].ID })
	return books
}
