package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hieutran/bookstore-ingest/internal/ingest"
)

// BookStore implements ingest.BookStore on Postgres.
type BookStore struct {
	db DB
}

// NewBookStore constructs a BookStore over an existing pool.
func NewBookStore(db DB) *BookStore {
	return &BookStore{db: db}
}

// bulkUpsertSQL writes a whole overview batch in one statement. Conflicting
// rows are updated in place and flagged for a fresh detail crawl; xmax = 0
// distinguishes inserts from updates per returned row.
const bulkUpsertSQL = `
	INSERT INTO books (
		external_id, source, title, original_price, promotional_price,
		quantity_sold, image_url, is_from_crawler, needs_detail_crawl,
		created_at, updated_at
	)
	SELECT u.external_id, u.source, u.title, u.original_price, u.promotional_price,
	       u.quantity_sold, u.image_url, TRUE, TRUE, $8, $8
	FROM unnest(
		$1::text[], $2::text[], $3::text[], $4::numeric[],
		$5::numeric[], $6::int[], $7::text[]
	) AS u(external_id, source, title, original_price, promotional_price, quantity_sold, image_url)
	ON CONFLICT (external_id, source) DO UPDATE SET
		title = EXCLUDED.title,
		original_price = EXCLUDED.original_price,
		promotional_price = EXCLUDED.promotional_price,
		quantity_sold = EXCLUDED.quantity_sold,
		image_url = EXCLUDED.image_url,
		needs_detail_crawl = TRUE,
		updated_at = EXCLUDED.updated_at
	RETURNING (xmax = 0) AS inserted;
`

// BulkUpsert writes one overview batch and reports how many rows were new
// versus refreshed. Re-delivering the same batch is harmless.
func (s *BookStore) BulkUpsert(ctx context.Context, books []ingest.BookOverview, now time.Time) (ingest.BulkUpsertResult, error) {
	if len(books) == 0 {
		return ingest.BulkUpsertResult{}, nil
	}

	externalIDs := make([]string, len(books))
	sources := make([]string, len(books))
	titles := make([]string, len(books))
	originalPrices := make([]float64, len(books))
	promoPrices := make([]float64, len(books))
	quantities := make([]int32, len(books))
	imageURLs := make([]string, len(books))
	for i, b := range books {
		externalIDs[i] = b.ExternalID
		sources[i] = b.Source
		titles[i] = b.Title
		originalPrices[i] = b.OriginalPrice
		promoPrices[i] = b.PromotionalPrice
		quantities[i] = int32(b.QuantitySold)
		imageURLs[i] = b.ImageURL
	}

	rows, err := s.db.Query(ctx, bulkUpsertSQL,
		externalIDs, sources, titles, originalPrices, promoPrices, quantities, imageURLs, now)
	if err != nil {
		return ingest.BulkUpsertResult{}, fmt.Errorf("bulk upsert books: %w", err)
	}
	defer rows.Close()

	var res ingest.BulkUpsertResult
	for rows.Next() {
		var inserted bool
		if err := rows.Scan(&inserted); err != nil {
			return ingest.BulkUpsertResult{}, fmt.Errorf("scan upsert outcome: %w", err)
		}
		if inserted {
			res.New++
		} else {
			res.Updated++
		}
	}
	if err := rows.Err(); err != nil {
		return ingest.BulkUpsertResult{}, fmt.Errorf("iterate upsert outcomes: %w", err)
	}
	return res, nil
}

// UpdateDetails applies a successful detail crawl and clears the crawl flags.
func (s *BookStore) UpdateDetails(ctx context.Context, externalID, source string, upd ingest.BookDetailUpdate) error {
	query := `
		UPDATE books
		SET description = $3, original_price = $4, promotional_price = $5,
		    quantity_sold = $6, image_url = $7, author_ids = $8,
		    detail_crawl_attempts = detail_crawl_attempts + 1,
		    needs_detail_crawl = FALSE, detail_crawl_success = TRUE,
		    detail_crawl_permanently_failed = FALSE,
		    last_detail_crawl_at = $9, last_detail_crawl_error = '',
		    updated_at = $9
		WHERE external_id = $1 AND source = $2;
	`
	tag, err := s.db.Exec(ctx, query,
		externalID, source,
		upd.Description, upd.OriginalPrice, upd.PromotionalPrice,
		upd.QuantitySold, upd.ImageURL, upd.AuthorIDs, upd.CrawledAt,
	)
	if err != nil {
		return fmt.Errorf("update book details: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ingest.ErrNotFound
	}
	return nil
}

// MarkDetailCrawlFailure bumps the attempt counter and records the error.
func (s *BookStore) MarkDetailCrawlFailure(ctx context.Context, externalID, source, errorMessage string, at time.Time) error {
	query := `
		UPDATE books
		SET detail_crawl_attempts = detail_crawl_attempts + 1,
		    detail_crawl_success = FALSE,
		    last_detail_crawl_at = $4, last_detail_crawl_error = $3, updated_at = $4
		WHERE external_id = $1 AND source = $2;
	`
	tag, err := s.db.Exec(ctx, query, externalID, source, errorMessage, at)
	if err != nil {
		return fmt.Errorf("mark detail crawl failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ingest.ErrNotFound
	}
	return nil
}

// MarkPermanentlyFailed takes a row out of detail-crawl rotation for good.
func (s *BookStore) MarkPermanentlyFailed(ctx context.Context, externalID, source string) error {
	query := `
		UPDATE books
		SET needs_detail_crawl = FALSE, detail_crawl_permanently_failed = TRUE
		WHERE external_id = $1 AND source = $2;
	`
	tag, err := s.db.Exec(ctx, query, externalID, source)
	if err != nil {
		return fmt.Errorf("mark book permanently failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ingest.ErrNotFound
	}
	return nil
}

const bookColumns = `
	id, external_id, source, title, description, original_price, promotional_price,
	quantity_sold, image_url, author_ids, is_from_crawler, needs_detail_crawl,
	detail_crawl_attempts, detail_crawl_success, detail_crawl_permanently_failed,
	last_detail_crawl_at, last_detail_crawl_error, created_at, updated_at
`

func scanBook(row pgx.Row) (ingest.Book, error) {
	var b ingest.Book
	err := row.Scan(
		&b.ID, &b.ExternalID, &b.Source, &b.Title, &b.Description,
		&b.OriginalPrice, &b.PromotionalPrice, &b.QuantitySold, &b.ImageURL,
		&b.AuthorIDs, &b.IsFromCrawler, &b.NeedsDetailCrawl,
		&b.DetailAttempts, &b.DetailSuccess, &b.PermanentlyFailed,
		&b.LastDetailCrawlAt, &b.LastDetailError, &b.CreatedAt, &b.UpdatedAt,
	)
	return b, err
}

// GetByNaturalKey fetches one book by (externalId, source).
func (s *BookStore) GetByNaturalKey(ctx context.Context, externalID, source string) (ingest.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE external_id = $1 AND source = $2;`
	b, err := scanBook(s.db.QueryRow(ctx, query, externalID, source))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ingest.Book{}, ingest.ErrNotFound
		}
		return ingest.Book{}, fmt.Errorf("get book by natural key: %w", err)
	}
	return b, nil
}

// GetPrices loads the current price snapshot of one book.
func (s *BookStore) GetPrices(ctx context.Context, bookID string) (ingest.BookPrices, error) {
	query := `SELECT original_price, promotional_price FROM books WHERE id = $1;`
	var p ingest.BookPrices
	err := s.db.QueryRow(ctx, query, bookID).Scan(&p.OriginalPrice, &p.PromotionalPrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ingest.BookPrices{}, ingest.ErrNotFound
		}
		return ingest.BookPrices{}, fmt.Errorf("get book prices: %w", err)
	}
	return p, nil
}

// eligibleFilter selects crawler-sourced rows with a usable natural key that
// have not been soft-deleted.
const eligibleFilter = `
	is_from_crawler AND external_id <> '' AND source <> '' AND deleted_at IS NULL
`

// CountEligible counts rows eligible for price updates.
func (s *BookStore) CountEligible(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM books WHERE` + eligibleFilter + `;`
	var n int
	if err := s.db.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count eligible books: %w", err)
	}
	return n, nil
}

// StreamEligible walks eligible rows in stable id order, calling fn per row.
func (s *BookStore) StreamEligible(ctx context.Context, fn func(ingest.BookRef) error) error {
	query := `SELECT id, external_id, source FROM books WHERE` + eligibleFilter + `ORDER BY id;`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("stream eligible books: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref ingest.BookRef
		if err := rows.Scan(&ref.ID, &ref.ExternalID, &ref.Source); err != nil {
			return fmt.Errorf("scan eligible book: %w", err)
		}
		if err := fn(ref); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate eligible books: %w", err)
	}
	return nil
}

// ListNeedingDetailCrawl returns rows still waiting on a successful detail
// crawl, oldest update first so stale rows go out before fresh failures.
func (s *BookStore) ListNeedingDetailCrawl(ctx context.Context, limit, maxAttempts int) ([]ingest.BookRef, error) {
	query := `
		SELECT id, external_id, source
		FROM books
		WHERE needs_detail_crawl
		  AND NOT detail_crawl_permanently_failed
		  AND detail_crawl_attempts < $2
		  AND deleted_at IS NULL
		ORDER BY updated_at ASC
		LIMIT $1;
	`
	rows, err := s.db.Query(ctx, query, limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("list books needing detail crawl: %w", err)
	}
	defer rows.Close()

	return collectRefs(rows)
}

// FindRefsByIDs resolves an explicit id list to fan-out refs. Unknown ids
// are silently dropped.
func (s *BookStore) FindRefsByIDs(ctx context.Context, ids []string) ([]ingest.BookRef, error) {
	query := `
		SELECT id, external_id, source
		FROM books
		WHERE id = ANY($1) AND external_id <> '' AND source <> '' AND deleted_at IS NULL;
	`
	rows, err := s.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("find books by ids: %w", err)
	}
	defer rows.Close()

	return collectRefs(rows)
}

func collectRefs(rows pgx.Rows) ([]ingest.BookRef, error) {
	var refs []ingest.BookRef
	for rows.Next() {
		var ref ingest.BookRef
		if err := rows.Scan(&ref.ID, &ref.ExternalID, &ref.Source); err != nil {
			return nil, fmt.Errorf("scan book ref: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate book refs: %w", err)
	}
	return refs, nil
}
