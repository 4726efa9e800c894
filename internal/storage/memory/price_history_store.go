package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hieutran/bookstore-ingest/internal/ingest"
)

// PriceHistoryStore is an in-memory ingest.PriceHistoryStore. It holds a
// reference to the BookStore so ApplyPriceUpdate can mirror the transactional
// SUCCESS path: price write and history append happen together or not at all.
type PriceHistoryStore struct {
	mu      sync.RWMutex
	books   *BookStore
	records map[string][]ingest.PriceRecord
}

// NewPriceHistoryStore constructs a PriceHistoryStore bound to a BookStore.
func NewPriceHistoryStore(books *BookStore) *PriceHistoryStore {
	return &PriceHistoryStore{
		books:   books,
		records: make(map[string][]ingest.PriceRecord),
	}
}

// Insert appends one record as-is.
func (s *PriceHistoryStore) Insert(_ context.Context, rec ingest.PriceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = uuid.NewString()
	s.records[rec.BookID] = append(s.records[rec.BookID], rec)
	return nil
}

// LatestSuccess returns the most recent SUCCESS record, or nil when none.
func (s *PriceHistoryStore) LatestSuccess(_ context.Context, bookID string) (*ingest.PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.latestSuccessLocked(bookID)
	if rec == nil {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

// History lists a book's records newest first.
func (s *PriceHistoryStore) History(_ context.Context, bookID string, limit int) ([]ingest.PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.records[bookID]
	out := make([]ingest.PriceRecord, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		out = append(out, recs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ApplyPriceUpdate writes the catalog prices and appends the SUCCESS record
// with its delta against the nearest earlier SUCCESS record. An unknown book
// leaves the history untouched.
func (s *PriceHistoryStore) ApplyPriceUpdate(_ context.Context, upd ingest.PriceUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.books.setPrices(upd.BookID, upd.OriginalPrice, upd.PromotionalPrice, upd.RecordedAt) {
		return ingest.ErrNotFound
	}

	rec := ingest.PriceRecord{
		ID:               uuid.NewString(),
		BookID:           upd.BookID,
		ExternalID:       upd.ExternalID,
		Source:           upd.Source,
		OriginalPrice:    upd.OriginalPrice,
		PromotionalPrice: upd.PromotionalPrice,
		RecordedAt:       upd.RecordedAt,
		JobID:            upd.JobID,
		Status:           ingest.PriceStatusSuccess,
	}
	if prior := s.latestSuccessLocked(upd.BookID); prior != nil {
		delta := upd.PromotionalPrice - prior.PromotionalPrice
		rec.PriceChange = &delta
		if prior.PromotionalPrice != 0 {
			pct := delta / prior.PromotionalPrice * 100
			rec.PriceChangePct = &pct
		}
	}
	s.records[upd.BookID] = append(s.records[upd.BookID], rec)
	return nil
}

func (s *PriceHistoryStore) latestSuccessLocked(bookID string) *ingest.PriceRecord {
	recs := s.records[bookID]
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Status == ingest.PriceStatusSuccess {
			return &recs[i]
		}
	}
	return nil
}
