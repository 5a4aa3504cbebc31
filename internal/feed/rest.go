package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/tradequote/internal/book"
)

// SnapshotFetcher pulls a full depth snapshot from the exchange REST API.
// It seeds books after a reconnect when the resync policy is "snapshot".
// Requests go through a token-bucket rate limiter and a circuit breaker so a
// flapping feed cannot hammer the REST endpoint.
type SnapshotFetcher struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
}

// BookSnapshot is one full-depth REST snapshot.
type BookSnapshot struct {
	Symbol    string
	Asks      []book.Delta
	Bids      []book.Delta
	Timestamp time.Time
}

// NewSnapshotFetcher creates a fetcher against baseURL (the exchange REST
// root, e.g. https://www.okx.com).
func NewSnapshotFetcher(baseURL string) *SnapshotFetcher {
	return &SnapshotFetcher{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "book-snapshot",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Snapshot breaker state change")
			},
		}),
	}
}

// Fetch retrieves up to depth levels per side for symbol.
func (f *SnapshotFetcher) Fetch(ctx context.Context, symbol string, depth int) (*BookSnapshot, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	result, err := f.breaker.Execute(func() (interface{}, error) {
		return f.fetch(ctx, symbol, depth)
	})
	if err != nil {
		return nil, err
	}
	return result.(*BookSnapshot), nil
}

func (f *SnapshotFetcher) fetch(ctx context.Context, symbol string, depth int) (*BookSnapshot, error) {
	url := fmt.Sprintf("%s/api/v5/market/books?instId=%s&sz=%d", f.baseURL, symbol, depth)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot request returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read snapshot body: %w", err)
	}

	var payload struct {
		Code string         `json:"code"`
		Msg  string         `json:"msg"`
		Data []bookDataItem `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse snapshot body: %w", err)
	}
	if payload.Code != "0" {
		return nil, fmt.Errorf("snapshot API error %s: %s", payload.Code, payload.Msg)
	}
	if len(payload.Data) == 0 {
		return nil, fmt.Errorf("snapshot response has no data")
	}

	item := payload.Data[0]
	asks, err := parseLevels(item.Asks)
	if err != nil {
		return nil, fmt.Errorf("snapshot asks: %w", err)
	}
	bids, err := parseLevels(item.Bids)
	if err != nil {
		return nil, fmt.Errorf("snapshot bids: %w", err)
	}

	ts := time.Now()
	if ms, perr := strconv.ParseInt(item.TS, 10, 64); perr == nil {
		ts = time.UnixMilli(ms)
	}

	log.Info().
		Str("symbol", symbol).
		Int("ask_levels", len(asks)).
		Int("bid_levels", len(bids)).
		Msg("Fetched book snapshot")

	return &BookSnapshot{Symbol: symbol, Asks: asks, Bids: bids, Timestamp: ts}, nil
}
