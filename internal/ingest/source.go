package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// TickerSource returns the full ticker snapshot, pair symbol -> price
type TickerSource interface {
	Fetch(ctx context.Context) (map[string]float64, error)
}

// HTTPTickerSource reads a Binance-style ticker endpoint:
// [{"symbol":"BTCUSDT","price":"65000.10"}, ...]
type HTTPTickerSource struct {
	URL    string
	Client *http.Client
	Logger *zap.Logger
}

// NewHTTPTickerSource creates a source for url. A nil logger discards
// log output.
func NewHTTPTickerSource(url string, logger *zap.Logger) *HTTPTickerSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPTickerSource{URL: url, Client: http.DefaultClient, Logger: logger}
}

type ticker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Fetch retrieves and decodes one snapshot
func (s *HTTPTickerSource) Fetch(ctx context.Context) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build ticker request: %w", err)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tickers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("ticker endpoint returned %s", resp.Status)
	}

	var tickers []ticker
	if err := json.NewDecoder(resp.Body).Decode(&tickers); err != nil {
		return nil, fmt.Errorf("failed to decode tickers: %w", err)
	}

	snapshot := make(map[string]float64, len(tickers))
	skipped := 0
	for _, t := range tickers {
		price, err := strconv.ParseFloat(t.Price, 64)
		if err != nil {
			skipped++
			s.Logger.Debug("Skipping ticker with unparsable price",
				zap.String("symbol", t.Symbol),
				zap.String("price", t.Price))
			continue
		}
		snapshot[t.Symbol] = price
	}
	if skipped > 0 {
		s.Logger.Warn("Dropped unparsable tickers", zap.Int("skipped", skipped), zap.Int("total", len(tickers)))
	}
	return snapshot, nil
}
