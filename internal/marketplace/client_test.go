package marketplace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler, mutate func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := Config{
		ListingURL: srv.URL + "/listing",
		DetailURL:  srv.URL + "/detail",
		Category:   "8322",
		URLKey:     "nha-sach-tiki",
		Origin:     "https://tiki.vn",
		PageSize:   40,
		Timeout:    2 * time.Second,
		sleep:      func(time.Duration) {},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewClient(cfg, zap.NewNop())
}

func TestListPageSendsQueryAndDecodesItems(t *testing.T) {
	t.Parallel()

	var gotQuery map[string]string
	var gotUA, gotReferer string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/listing", r.URL.Path)
		gotQuery = map[string]string{
			"limit":    r.URL.Query().Get("limit"),
			"category": r.URL.Query().Get("category"),
			"page":     r.URL.Query().Get("page"),
			"urlKey":   r.URL.Query().Get("urlKey"),
		}
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		json.NewEncoder(w).Encode(listResponse{Data: []ListItem{
			{ID: 101, Name: "Book A", Price: 90000, OriginalPrice: 100000},
			{ID: 102, Name: "Book B", Price: 50000, ListPrice: 60000},
		}})
	}), nil)

	items, err := client.ListPage(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, int64(101), items[0].ID)
	require.Equal(t, 60000.0, items[1].ListPrice)

	require.Equal(t, "40", gotQuery["limit"])
	require.Equal(t, "8322", gotQuery["category"])
	require.Equal(t, "2", gotQuery["page"])
	require.Equal(t, "nha-sach-tiki", gotQuery["urlKey"])
	require.NotEmpty(t, gotUA)
	require.Equal(t, "https://tiki.vn", gotReferer)
}

func TestFetchDetailNormalizesPayload(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/detail/101", r.URL.Path)
		w.Write([]byte(`{
			"id": 101,
			"name": "Book",
			"short_description": "Short blurb",
			"price": 95000,
			"original_price": 120000,
			"thumbnail_url": "https://img/101",
			"all_time_quantity_sold": 12,
			"authors": [
				{"id": 7, "name": "Nguyen Nhat Anh", "slug": "nguyen-nhat-anh"},
				{"id": 0, "name": "Broken"},
				{"id": 8, "name": ""}
			]
		}`))
	}), nil)

	detail, err := client.FetchDetail(context.Background(), 101)
	require.NoError(t, err)
	require.Equal(t, int64(101), detail.ID)
	// description falls back to short_description when absent
	require.Equal(t, "Short blurb", detail.Description)
	require.Equal(t, 95000.0, detail.PromotionalPrice)
	require.Equal(t, 120000.0, detail.OriginalPrice)
	require.Equal(t, 12, detail.QuantitySold)
	require.Len(t, detail.Authors, 1)
	require.Equal(t, "Nguyen Nhat Anh", detail.Authors[0].Name)
}

func TestFetchDetailPrefersStructuredQuantitySold(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": 101,
			"name": "Book",
			"description": "Full",
			"short_description": "Short",
			"all_time_quantity_sold": 999,
			"quantity_sold": {"value": 42}
		}`))
	}), nil)

	detail, err := client.FetchDetail(context.Background(), 101)
	require.NoError(t, err)
	require.Equal(t, "Full", detail.Description)
	require.Equal(t, 42, detail.QuantitySold)
}

func TestFetchPriceFallsBackToCurrentPrice(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": 101, "price": 95000}`))
	}), nil)

	quote, err := client.FetchPrice(context.Background(), 101)
	require.NoError(t, err)
	require.Equal(t, 95000.0, quote.PromotionalPrice)
	require.Equal(t, 95000.0, quote.OriginalPrice)
}

func TestTransientStatusIsRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"id": 101, "price": 95000}`))
	}), func(cfg *Config) {
		cfg.MaxRetries = 2
	})

	quote, err := client.FetchPrice(context.Background(), 101)
	require.NoError(t, err)
	require.Equal(t, 95000.0, quote.PromotionalPrice)
	require.Equal(t, int32(2), hits.Load())
}

func TestNotFoundIsNotRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}), func(cfg *Config) {
		cfg.MaxRetries = 3
	})

	_, err := client.FetchDetail(context.Background(), 101)
	require.Error(t, err)
	require.Equal(t, int32(1), hits.Load())
}

func TestRedirectIsTreatedAsFailure(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://tiki.vn/blocked", http.StatusFound)
	}), nil)

	_, err := client.FetchDetail(context.Background(), 101)
	require.Error(t, err)
}
