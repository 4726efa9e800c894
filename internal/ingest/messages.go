package ingest

// Channel names for the task bus. Payload shapes are part of the contract:
// producers and consumers on both sides of a channel marshal the same struct.
const (
	ChannelListCrawl   = "crawl-book-list"
	ChannelDetailCrawl = "crawl-book-detail"
	ChannelPriceCrawl  = "price-update"
	ChannelPriceResult = "price-update-result"
)

// ListCrawlTask kicks off a full listing crawl for one job.
type ListCrawlTask struct {
	JobID     string  `json:"jobId"`
	Type      JobType `json:"type"`
	Timestamp string  `json:"timestamp"`
}

// DetailCrawlTask requests a per-item detail crawl. RetryCount counts
// scheduled re-publishes, not the client's immediate fetch retries.
type DetailCrawlTask struct {
	ProductID  int64  `json:"productId"`
	JobID      string `json:"jobId"`
	Source     string `json:"source"`
	Timestamp  string `json:"timestamp"`
	RetryCount int    `json:"retryCount"`
}

// PriceCrawlTask requests a current-price fetch for one catalog row.
type PriceCrawlTask struct {
	BookID     string `json:"bookId"`
	ExternalID string `json:"externalId"`
	Source     string `json:"source"`
	JobID      string `json:"jobId"`
	Timestamp  string `json:"timestamp"`
	RetryCount int    `json:"retryCount"`
}

// PriceResultMessage carries the outcome of a price crawl to the update consumer.
type PriceResultMessage struct {
	BookID        string      `json:"bookId"`
	ExternalID    string      `json:"externalId"`
	Source        string      `json:"source"`
	JobID         string      `json:"jobId"`
	NewPrice      float64     `json:"newPrice"`
	OriginalPrice float64     `json:"originalPrice"`
	Status        PriceStatus `json:"status"`
	ErrorMessage  string      `json:"errorMessage,omitempty"`
	Timestamp     string      `json:"timestamp"`
}
