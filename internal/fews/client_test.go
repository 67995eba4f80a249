package fews

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:         baseURL,
		CountryCode:     "HT",
		PageSize:        3,
		Timeout:         5 * time.Second,
		MaxAttempts:     3,
		BreakerFailures: 10,
		RetryBaseDelay:  time.Millisecond,
		RetryMaxDelay:   5 * time.Millisecond,
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func recordJSON(market int64, product string, value float64) string {
	return fmt.Sprintf(`{"market_id":%d,"market":"M%d","product":%q,"unit":"kg","period_date":"2024-01-15","price_type":"Retail","currency":"HTG","value":%g}`,
		market, market, product, value)
}

// twoPageServer serves two envelope pages linked by an absolute next URL.
func twoPageServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/api/marketpricefacts/" {
			http.NotFound(w, r)
			return
		}
		switch r.URL.Query().Get("page") {
		case "":
			fmt.Fprintf(w, `{"count":4,"next":"%s/api/marketpricefacts/?page=2","results":[%s,%s]}`,
				srv.URL, recordJSON(1, "Rice", 100), recordJSON(1, "Beans", 200))
		case "2":
			fmt.Fprintf(w, `{"count":4,"next":null,"results":[%s,%s]}`,
				recordJSON(2, "Rice", 110), recordJSON(2, "Beans", 210))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collect(t *testing.T, c *Client, q Query) ([]Page, error) {
	t.Helper()
	var pages []Page
	for page, err := range c.Pages(context.Background(), q) {
		if err != nil {
			return pages, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func TestPages_FollowsNextLinks(t *testing.T) {
	var hits atomic.Int32
	srv := twoPageServer(t, &hits)
	c := newTestClient(t, srv.URL+"/api")

	pages, err := collect(t, c, Query{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("got %d pages, want 2", len(pages))
	}
	if pages[0].Number != 1 || pages[1].Number != 2 {
		t.Errorf("page numbers = %d,%d, want 1,2", pages[0].Number, pages[1].Number)
	}
	if pages[0].Total != 4 {
		t.Errorf("Total = %d, want 4", pages[0].Total)
	}
	if got := pages[1].Records[0].MarketID; got != 2 {
		t.Errorf("page 2 market = %d, want 2", got)
	}
	if got := *pages[1].Records[1].Value; got != 210 {
		t.Errorf("page 2 value = %v, want 210", got)
	}
}

func TestPages_Restartable(t *testing.T) {
	var hits atomic.Int32
	srv := twoPageServer(t, &hits)
	c := newTestClient(t, srv.URL+"/api")

	first, err := collect(t, c, Query{})
	if err != nil {
		t.Fatalf("first iteration: %v", err)
	}
	second, err := collect(t, c, Query{})
	if err != nil {
		t.Fatalf("second iteration: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("iterations differ: %d vs %d pages", len(first), len(second))
	}
	if hits.Load() != 4 {
		t.Errorf("server hits = %d, want 4", hits.Load())
	}
}

func TestPages_BreakStopsRequests(t *testing.T) {
	var hits atomic.Int32
	srv := twoPageServer(t, &hits)
	c := newTestClient(t, srv.URL+"/api")

	for _, err := range c.Pages(context.Background(), Query{}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		break
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}
}

func TestPages_BareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "[%s]", recordJSON(7, "Maize", 55))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	pages, err := collect(t, c, Query{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages) != 1 || len(pages[0].Records) != 1 {
		t.Fatalf("got %+v, want one page with one record", pages)
	}
	if pages[0].Records[0].Product != "Maize" {
		t.Errorf("Product = %q, want Maize", pages[0].Records[0].Product)
	}
}

func TestPages_QueryParameters(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.URL.Query())
		fmt.Fprint(w, "[]")
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	_, err := collect(t, c, Query{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q := got.Load().(url.Values)
	want := map[string]string{
		"format":       "json",
		"country_code": "HT",
		"start_date":   "2024-01-01",
		"end_date":     "2024-03-31",
		"page_size":    "3",
	}
	for k, v := range want {
		if len(q[k]) != 1 || q[k][0] != v {
			t.Errorf("query %s = %v, want %q", k, q[k], v)
		}
	}
}

func TestPages_RetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, "[%s]", recordJSON(1, "Rice", 100))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	pages, err := collect(t, c, Query{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(pages))
	}
	if hits.Load() != 3 {
		t.Errorf("server hits = %d, want 3", hits.Load())
	}
}

func TestPages_RetriesExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	_, err := collect(t, c, Query{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !IsRetryable(err) {
		t.Errorf("expected RetryableFetchError, got %v", err)
	}
	var re *RetryableFetchError
	if errors.As(err, &re) && re.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", re.StatusCode)
	}
	if hits.Load() != 3 {
		t.Errorf("server hits = %d, want 3", hits.Load())
	}
}

func TestPages_FatalNotRetried(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"not found", http.StatusNotFound, `{"detail":"not found"}`},
		{"bad request", http.StatusBadRequest, `{"detail":"bad country"}`},
		{"malformed json", http.StatusOK, `{"results": [`},
		{"wrong shape", http.StatusOK, `{"detail":"no results key"}`},
		{"not json", http.StatusOK, `<html></html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()
			c := newTestClient(t, srv.URL)

			_, err := collect(t, c, Query{})
			if !IsFatal(err) {
				t.Fatalf("expected FatalFetchError, got %v", err)
			}
			if hits.Load() != 1 {
				t.Errorf("server hits = %d, want 1", hits.Load())
			}
		})
	}
}

func TestPages_FailureAfterFirstPage(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprintf(w, `{"next":"%s/marketpricefacts/?page=2","results":[%s]}`, srv.URL, recordJSON(1, "Rice", 1))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	pages, err := collect(t, c, Query{})
	if len(pages) != 1 {
		t.Errorf("got %d pages before failure, want 1", len(pages))
	}
	if !IsFatal(err) {
		t.Errorf("expected FatalFetchError, got %v", err)
	}
}

func TestPages_PaginationLoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"next":"?page=2","results":[%s]}`, recordJSON(1, "Rice", 1))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	pages, err := collect(t, c, Query{})
	if !IsFatal(err) {
		t.Fatalf("expected FatalFetchError for repeated next link, got %v", err)
	}
	if len(pages) != 2 {
		t.Errorf("got %d pages, want 2 before the loop is detected", len(pages))
	}
}

func TestPages_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewClient(Config{
		BaseURL:         srv.URL,
		MaxAttempts:     5,
		BreakerFailures: 2,
		BreakerCooldown: time.Hour,
		RetryBaseDelay:  time.Millisecond,
		RetryMaxDelay:   time.Millisecond,
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = collect(t, c, Query{})
	if !IsRetryable(err) {
		t.Fatalf("expected RetryableFetchError, got %v", err)
	}
	if !strings.Contains(err.Error(), "circuit breaker is open") {
		t.Errorf("error = %v, want open breaker", err)
	}
	if hits.Load() != 2 {
		t.Errorf("server hits = %d, want 2", hits.Load())
	}
}

func TestPages_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[]")
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, err := range c.Pages(ctx, Query{}) {
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/market/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `[{"id":1,"name":"Port-au-Prince","admin_1":"Ouest"}]`)
	}))
	defer srv.Close()

	if err := newTestClient(t, srv.URL).Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestMarkets(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("country_code") != "ML" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"next":null,"results":[{"id":2,"name":"Mopti","admin_1":"Mopti"}]}`)
			return
		}
		fmt.Fprintf(w, `{"next":"%s/market/?country_code=ML&page=2","results":[{"id":1,"name":"Bamako","admin_1":"Bamako"}]}`, srv.URL)
	}))
	defer srv.Close()

	markets, err := newTestClient(t, srv.URL).Markets(context.Background(), "ML")
	if err != nil {
		t.Fatalf("Markets: %v", err)
	}
	if len(markets) != 2 || markets[0].Name != "Bamako" || markets[1].Name != "Mopti" {
		t.Errorf("markets = %+v", markets)
	}
}

func TestNewClient_RejectsBadBaseURL(t *testing.T) {
	if _, err := NewClient(Config{BaseURL: "ftp://example.org"}, discardLogger()); err == nil {
		t.Error("expected error for non-http base URL")
	}
}
