// Package ingest defines core types shared across the pipeline stages.
package ingest

import "time"

// JobStatus represents the lifecycle state of a pipeline job.
type JobStatus string

// Job status values persisted in the job store. Transitions are
// PENDING -> PROCESSING -> {COMPLETED, FAILED} and never reverse.
const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// JobType identifies what a job tracks.
type JobType string

// Job types created by the pipeline triggers.
const (
	JobTypeListCrawl   JobType = "LIST_CRAWL"
	JobTypePriceUpdate JobType = "PRICE_UPDATE"
)

// JobCounters tracks progress stats per job.
type JobCounters struct {
	Crawled    int `json:"crawled"`
	Total      int `json:"total"`
	NewBooks   int `json:"newBooks"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
	Percent    int `json:"percent"`
}

// Job represents the metadata persisted for each tracked unit of pipeline work.
type Job struct {
	ID           string      `json:"id"`
	Type         JobType     `json:"type"`
	Status       JobStatus   `json:"status"`
	Counters     JobCounters `json:"counters"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	StartedAt    *time.Time  `json:"startedAt,omitempty"`
	CompletedAt  *time.Time  `json:"completedAt,omitempty"`
}

// Book is a catalog overview row crawled from the remote marketplace.
// (ExternalID, Source) is the natural key; re-crawls upsert in place.
type Book struct {
	ID                string     `json:"id"`
	ExternalID        string     `json:"externalId"`
	Source            string     `json:"source"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	OriginalPrice     float64    `json:"originalPrice"`
	PromotionalPrice  float64    `json:"promotionalPrice"`
	QuantitySold      int        `json:"quantitySold"`
	ImageURL          string     `json:"imageUrl,omitempty"`
	AuthorIDs         []string   `json:"authorIds,omitempty"`
	IsFromCrawler     bool       `json:"isFromCrawler"`
	NeedsDetailCrawl  bool       `json:"needsDetailCrawl"`
	DetailAttempts    int        `json:"detailCrawlAttempts"`
	DetailSuccess     bool       `json:"detailCrawlSuccess"`
	PermanentlyFailed bool       `json:"detailCrawlPermanentlyFailed"`
	LastDetailCrawlAt *time.Time `json:"lastDetailCrawlAt,omitempty"`
	LastDetailError   string     `json:"lastDetailCrawlError,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// BookOverview is the subset of a Book written by the list crawler.
type BookOverview struct {
	ExternalID       string
	Source           string
	Title            string
	OriginalPrice    float64
	PromotionalPrice float64
	QuantitySold     int
	ImageURL         string
}

// BookDetailUpdate carries the fields applied after a successful detail crawl.
type BookDetailUpdate struct {
	Description      string
	OriginalPrice    float64
	PromotionalPrice float64
	QuantitySold     int
	ImageURL         string
	AuthorIDs        []string
	CrawledAt        time.Time
}

// BookRef is a lightweight projection used for task fan-out.
type BookRef struct {
	ID         string
	ExternalID string
	Source     string
}

// BookPrices is the current price snapshot of a catalog row.
type BookPrices struct {
	OriginalPrice    float64
	PromotionalPrice float64
}

// BulkUpsertResult reports the outcome of one overview batch write.
type BulkUpsertResult struct {
	New     int
	Updated int
}

// Author is a contributor entity referenced by catalog rows.
// Rows hold author ids only; authors carry no back-references.
type Author struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"externalId"`
	Source     string    `json:"source"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// PriceStatus marks whether a price crawl produced a usable quote.
type PriceStatus string

// Price record statuses.
const (
	PriceStatusSuccess PriceStatus = "SUCCESS"
	PriceStatusFailed  PriceStatus = "FAILED"
)

// PriceRecord is one append-only entry in a book's price audit trail.
// PriceChange is always relative to the nearest earlier SUCCESS record,
// skipping FAILED ones; nil when no such record exists.
type PriceRecord struct {
	ID               string      `json:"id"`
	BookID           string      `json:"bookId"`
	ExternalID       string      `json:"externalId"`
	Source           string      `json:"source"`
	OriginalPrice    float64     `json:"originalPrice"`
	PromotionalPrice float64     `json:"promotionalPrice"`
	PriceChange      *float64    `json:"priceChange,omitempty"`
	PriceChangePct   *float64    `json:"priceChangePercentage,omitempty"`
	RecordedAt       time.Time   `json:"recordedAt"`
	JobID            string      `json:"crawlJobId,omitempty"`
	Status           PriceStatus `json:"status"`
	ErrorMessage     string      `json:"errorMessage,omitempty"`
}

// PriceUpdate is the unit applied transactionally by the price update consumer:
// the catalog row's price fields and a new history record commit together.
type PriceUpdate struct {
	BookID           string
	ExternalID       string
	Source           string
	JobID            string
	PromotionalPrice float64
	OriginalPrice    float64
	RecordedAt       time.Time
}

// JobFilter narrows job listings.
type JobFilter struct {
	Status JobStatus
	Type   JobType
}
