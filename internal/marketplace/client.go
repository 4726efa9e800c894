// Package marketplace implements the HTTP client for the remote book
// marketplace's JSON APIs: the paginated category listing, the per-item
// detail endpoint, and the price quote derived from it.
package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hieutran/bookstore-ingest/internal/metrics"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultAccept    = "application/json, text/plain, */*"

	baseRetryDelay = 2 * time.Second
)

// Config controls client behavior.
type Config struct {
	ListingURL string // paginated category listing endpoint
	DetailURL  string // per-item detail endpoint, id appended as a path segment
	Category   string // remote category id for the listing endpoint
	URLKey     string // remote category slug
	Origin     string // Origin/Referer header value the remote expects
	PageSize   int
	Timeout    time.Duration
	MaxRetries int // immediate in-process retries on transient failures

	// sleep is overridable in tests to skip real backoff waits.
	sleep func(time.Duration)
}

func (c *Config) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = 40
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.sleep == nil {
		c.sleep = time.Sleep
	}
}

// Client fetches listing, detail, and price data from the marketplace.
type Client struct {
	http   *http.Client
	cfg    Config
	logger *zap.Logger
}

// NewClient constructs a Client. Redirects are not followed: the remote
// redirects blocked or delisted items to landing pages, which is treated as
// a semantic failure rather than content.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cfg:    cfg,
		logger: logger,
	}
}

// ListPage fetches one page of the category listing. An empty slice means
// the listing is exhausted.
func (c *Client) ListPage(ctx context.Context, page int) ([]ListItem, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(c.cfg.PageSize))
	params.Set("category", c.cfg.Category)
	params.Set("page", strconv.Itoa(page))
	params.Set("urlKey", c.cfg.URLKey)
	params.Set("aggregations", "2")

	var resp listResponse
	if err := c.getJSON(ctx, "listing", c.cfg.ListingURL+"?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("fetch listing page %d: %w", page, err)
	}
	return resp.Data, nil
}

// FetchDetail fetches and normalizes the detail payload for one item.
func (c *Client) FetchDetail(ctx context.Context, productID int64) (*Detail, error) {
	var resp detailResponse
	u := fmt.Sprintf("%s/%d?platform=web&version=3", c.cfg.DetailURL, productID)
	if err := c.getJSON(ctx, "detail", u, &resp); err != nil {
		return nil, fmt.Errorf("fetch detail for product %d: %w", productID, err)
	}
	return normalizeDetail(resp), nil
}

// FetchPrice fetches the current price pair for one item. It reads the same
// detail endpoint but only the price fields are kept.
func (c *Client) FetchPrice(ctx context.Context, productID int64) (PriceQuote, error) {
	var resp detailResponse
	u := fmt.Sprintf("%s/%d?platform=web&version=3", c.cfg.DetailURL, productID)
	if err := c.getJSON(ctx, "price", u, &resp); err != nil {
		return PriceQuote{}, fmt.Errorf("fetch price for product %d: %w", productID, err)
	}
	quote := PriceQuote{
		PromotionalPrice: resp.Price,
		OriginalPrice:    resp.OriginalPrice,
	}
	if quote.OriginalPrice == 0 {
		quote.OriginalPrice = resp.Price
	}
	return quote, nil
}

// getJSON performs a GET with a short bounded retry for transient failures.
// This inner retry handles network hiccups; persistent failures escalate to
// the caller, which owns the scheduled re-publish retry.
func (c *Client) getJSON(ctx context.Context, endpoint, rawURL string, out any) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = c.doOnce(ctx, endpoint, rawURL, out)
		if lastErr == nil {
			return nil
		}
		if attempt >= c.cfg.MaxRetries || !isRetryable(lastErr) {
			return lastErr
		}
		c.logger.Warn("retrying marketplace request",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
		c.cfg.sleep(retryDelay(attempt))
	}
}

func (c *Client) doOnce(ctx context.Context, endpoint, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", defaultAccept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,vi;q=0.8")
	if c.cfg.Origin != "" {
		req.Header.Set("Referer", c.cfg.Origin)
		req.Header.Set("Origin", c.cfg.Origin)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.RemoteRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
		return &httpStatusError{status: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func normalizeDetail(resp detailResponse) *Detail {
	d := &Detail{
		ID:               resp.ID,
		Name:             resp.Name,
		Description:      resp.Description,
		OriginalPrice:    resp.OriginalPrice,
		PromotionalPrice: resp.Price,
		ThumbnailURL:     resp.ThumbnailURL,
	}
	if d.Description == "" {
		d.Description = resp.ShortDescription
	}
	if resp.QuantitySold != nil {
		d.QuantitySold = resp.QuantitySold.Value
	} else {
		d.QuantitySold = resp.AllTimeQuantitySold
	}
	for _, a := range resp.Authors {
		if a.ID == 0 || a.Name == "" {
			continue
		}
		d.Authors = append(d.Authors, a)
	}
	return d
}
