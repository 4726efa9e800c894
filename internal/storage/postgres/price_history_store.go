package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hieutran/bookstore-ingest/internal/ingest"
)

// PriceHistoryStore implements ingest.PriceHistoryStore on Postgres. The
// history table is append-only.
type PriceHistoryStore struct {
	db DB
}

// NewPriceHistoryStore constructs a PriceHistoryStore over an existing pool.
func NewPriceHistoryStore(db DB) *PriceHistoryStore {
	return &PriceHistoryStore{db: db}
}

const insertRecordSQL = `
	INSERT INTO price_history (
		book_id, external_id, source, original_price, promotional_price,
		price_change, price_change_pct, recorded_at, job_id, status, error_message
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
`

// Insert appends one history record as-is.
func (s *PriceHistoryStore) Insert(ctx context.Context, rec ingest.PriceRecord) error {
	_, err := s.db.Exec(ctx, insertRecordSQL,
		rec.BookID, rec.ExternalID, rec.Source,
		rec.OriginalPrice, rec.PromotionalPrice,
		rec.PriceChange, rec.PriceChangePct,
		rec.RecordedAt, rec.JobID, rec.Status, rec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert price record: %w", err)
	}
	return nil
}

const priceRecordColumns = `
	id, book_id, external_id, source, original_price, promotional_price,
	price_change, price_change_pct, recorded_at, job_id, status, error_message
`

func scanPriceRecord(row pgx.Row) (ingest.PriceRecord, error) {
	var rec ingest.PriceRecord
	err := row.Scan(
		&rec.ID, &rec.BookID, &rec.ExternalID, &rec.Source,
		&rec.OriginalPrice, &rec.PromotionalPrice,
		&rec.PriceChange, &rec.PriceChangePct,
		&rec.RecordedAt, &rec.JobID, &rec.Status, &rec.ErrorMessage,
	)
	return rec, err
}

const latestSuccessSQL = `
	SELECT` + priceRecordColumns + `
	FROM price_history
	WHERE book_id = $1 AND status = $2
	ORDER BY recorded_at DESC
	LIMIT 1;
`

// LatestSuccess returns the most recent SUCCESS record for a book, or nil
// when the book has none.
func (s *PriceHistoryStore) LatestSuccess(ctx context.Context, bookID string) (*ingest.PriceRecord, error) {
	rec, err := scanPriceRecord(s.db.QueryRow(ctx, latestSuccessSQL, bookID, ingest.PriceStatusSuccess))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest success price record: %w", err)
	}
	return &rec, nil
}

// History lists a book's records newest first.
func (s *PriceHistoryStore) History(ctx context.Context, bookID string, limit int) ([]ingest.PriceRecord, error) {
	query := `
		SELECT` + priceRecordColumns + `
		FROM price_history
		WHERE book_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2;
	`
	rows, err := s.db.Query(ctx, query, bookID, limit)
	if err != nil {
		return nil, fmt.Errorf("list price history: %w", err)
	}
	defer rows.Close()

	var recs []ingest.PriceRecord
	for rows.Next() {
		rec, err := scanPriceRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan price record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price records: %w", err)
	}
	return recs, nil
}

// ApplyPriceUpdate commits the catalog price write and the history append as
// one transaction. The delta is computed against the nearest earlier SUCCESS
// record inside the same transaction, so concurrent updates for the same book
// cannot interleave between the read and the write.
func (s *PriceHistoryStore) ApplyPriceUpdate(ctx context.Context, upd ingest.PriceUpdate) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin price update: %w", err)
	}
	defer tx.Rollback(ctx)

	updateBook := `
		UPDATE books
		SET promotional_price = $2, original_price = $3, updated_at = $4
		WHERE id = $1;
	`
	tag, err := tx.Exec(ctx, updateBook, upd.BookID, upd.PromotionalPrice, upd.OriginalPrice, upd.RecordedAt)
	if err != nil {
		return fmt.Errorf("update book price: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ingest.ErrNotFound
	}

	var priorPromo float64
	priorSQL := `
		SELECT promotional_price
		FROM price_history
		WHERE book_id = $1 AND status = $2
		ORDER BY recorded_at DESC
		LIMIT 1;
	`
	var change, changePct *float64
	err = tx.QueryRow(ctx, priorSQL, upd.BookID, ingest.PriceStatusSuccess).Scan(&priorPromo)
	switch {
	case err == nil:
		delta := upd.PromotionalPrice - priorPromo
		change = &delta
		if priorPromo != 0 {
			pct := delta / priorPromo * 100
			changePct = &pct
		}
	case errors.Is(err, pgx.ErrNoRows):
		// First success for this book: no delta.
	default:
		return fmt.Errorf("load prior price record: %w", err)
	}

	_, err = tx.Exec(ctx, insertRecordSQL,
		upd.BookID, upd.ExternalID, upd.Source,
		upd.OriginalPrice, upd.PromotionalPrice,
		change, changePct,
		upd.RecordedAt, upd.JobID, ingest.PriceStatusSuccess, "",
	)
	if err != nil {
		return fmt.Errorf("insert price record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit price update: %w", err)
	}
	return nil
}
