package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xtrntr/papertrade/internal/prices"
)

// SymbolSource lists the pair symbols flagged active
type SymbolSource interface {
	ActiveSymbols(ctx context.Context) ([]string, error)
}

// PricePublisher puts one price on the bus
type PricePublisher interface {
	Publish(ctx context.Context, symbol string, price float64) error
}

// Options configures an Ingester
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Quote    string
}

// Ingester polls a ticker snapshot on a fixed interval and republishes the
// price of every active symbol under its base symbol.
type Ingester struct {
	tickers   TickerSource
	symbols   SymbolSource
	publisher PricePublisher
	opts      Options
	logger    *zap.Logger

	running atomic.Bool
}

// NewIngester creates an ingester
func NewIngester(tickers TickerSource, symbols SymbolSource, publisher PricePublisher, opts Options, logger *zap.Logger) *Ingester {
	return &Ingester{
		tickers:   tickers,
		symbols:   symbols,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
	}
}

// ErrCycleInProgress is returned when a cycle starts before the previous one finished
var ErrCycleInProgress = errors.New("ingest cycle already in progress")

// Run polls until ctx is done. The first cycle runs immediately. Run
// returns only after the cycle in flight, if any, has finished, so the
// publisher can be closed right after it.
func (in *Ingester) Run(ctx context.Context) {
	ticker := time.NewTicker(in.opts.Interval)
	defer ticker.Stop()

	var wg sync.WaitGroup

	in.logger.Info("Ingester Started",
		zap.Duration("interval", in.opts.Interval),
		zap.String("quote", in.opts.Quote))

	for {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in.tick(ctx)
		}()

		select {
		case <-ctx.Done():
			wg.Wait()
			in.logger.Info("Ingester stopped")
			return
		case <-ticker.C:
		}
	}
}

func (in *Ingester) tick(ctx context.Context) {
	published, err := in.Cycle(ctx)
	switch {
	case errors.Is(err, ErrCycleInProgress):
		in.logger.Warn("Skipping tick, previous cycle still running")
	case err != nil:
		in.logger.Error("Ingest cycle failed", zap.Error(err))
	default:
		in.logger.Debug("Ingest cycle done", zap.Int("published", published))
	}
}

// Cycle fetches one snapshot and publishes every active symbol found in
// it. A missing ticker or failed publish for one symbol is logged and the
// rest are still processed; a failed fetch aborts the cycle.
func (in *Ingester) Cycle(ctx context.Context) (int, error) {
	if !in.running.CompareAndSwap(false, true) {
		return 0, ErrCycleInProgress
	}
	defer in.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, in.opts.Timeout)
	defer cancel()

	snapshot, err := in.tickers.Fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}

	symbols, err := in.symbols.ActiveSymbols(ctx)
	if err != nil {
		return 0, fmt.Errorf("active symbols: %w", err)
	}

	published := 0
	for _, symbol := range symbols {
		price, ok := snapshot[symbol]
		if !ok {
			in.logger.Warn("No ticker for active symbol", zap.String("symbol", symbol))
			continue
		}

		base := prices.BaseSymbol(symbol, in.opts.Quote)
		if err := in.publisher.Publish(ctx, base, price); err != nil {
			in.logger.Error("Failed to publish price", zap.String("symbol", base), zap.Error(err))
			continue
		}
		published++
	}
	return published, nil
}
