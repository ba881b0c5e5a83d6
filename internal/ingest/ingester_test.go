package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xtrntr/papertrade/internal/bus"
	"github.com/xtrntr/papertrade/internal/prices"
)

type staticTickers struct {
	snapshot map[string]float64
	err      error
	block    chan struct{}
}

func (s *staticTickers) Fetch(ctx context.Context) (map[string]float64, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.snapshot, s.err
}

// gatedTickers signals when a fetch starts and then holds it until
// release is closed, even past cancellation
type gatedTickers struct {
	snapshot map[string]float64
	entered  chan struct{}
	release  chan struct{}
	once     sync.Once
}

func (g *gatedTickers) Fetch(ctx context.Context) (map[string]float64, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.snapshot, nil
}

type staticSymbols []string

func (s staticSymbols) ActiveSymbols(ctx context.Context) ([]string, error) { return s, nil }

type recordingPublisher struct {
	mu        sync.Mutex
	published map[string]float64
	failOn    string
}

func (p *recordingPublisher) Publish(ctx context.Context, symbol string, price float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if symbol == p.failOn {
		return errors.New("broker down")
	}
	if p.published == nil {
		p.published = make(map[string]float64)
	}
	p.published[symbol] = price
	return nil
}

var testOpts = Options{Interval: time.Second, Timeout: time.Second, Quote: "USDT"}

func TestIngester_Cycle(t *testing.T) {
	tickers := &staticTickers{snapshot: map[string]float64{
		"BTCUSDT": 65000,
		"ETHUSDT": 3000,
		"XRPUSDT": 0.5,
	}}
	pub := &recordingPublisher{}
	in := NewIngester(tickers, staticSymbols{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, pub, testOpts, zap.NewNop())

	n, err := in.Cycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, map[string]float64{"BTC": 65000, "ETH": 3000}, pub.published)
}

func TestIngester_FetchFailureAbortsCycle(t *testing.T) {
	tickers := &staticTickers{err: errors.New("connection refused")}
	pub := &recordingPublisher{}
	in := NewIngester(tickers, staticSymbols{"BTCUSDT"}, pub, testOpts, zap.NewNop())

	_, err := in.Cycle(context.Background())
	assert.Error(t, err)
	assert.Empty(t, pub.published)

	// The next cycle is not blocked by the failed one
	tickers.err = nil
	tickers.snapshot = map[string]float64{"BTCUSDT": 1}
	n, err := in.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIngester_PublishFailureSkipsSymbol(t *testing.T) {
	tickers := &staticTickers{snapshot: map[string]float64{"BTCUSDT": 1, "ETHUSDT": 2}}
	pub := &recordingPublisher{failOn: "BTC"}
	in := NewIngester(tickers, staticSymbols{"BTCUSDT", "ETHUSDT"}, pub, testOpts, zap.NewNop())

	n, err := in.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, map[string]float64{"ETH": 2}, pub.published)
}

func TestIngester_SkipsOverlappingCycle(t *testing.T) {
	tickers := &staticTickers{snapshot: map[string]float64{"BTCUSDT": 1}, block: make(chan struct{})}
	in := NewIngester(tickers, staticSymbols{"BTCUSDT"}, &recordingPublisher{}, testOpts, zap.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		in.Cycle(context.Background())
	}()

	require.Eventually(t, in.running.Load, time.Second, time.Millisecond)

	_, err := in.Cycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)

	close(tickers.block)
	<-done
	assert.False(t, in.running.Load())
}

func TestIngester_FetchTimeout(t *testing.T) {
	tickers := &staticTickers{block: make(chan struct{})}
	opts := testOpts
	opts.Timeout = 20 * time.Millisecond
	in := NewIngester(tickers, staticSymbols{"BTCUSDT"}, &recordingPublisher{}, opts, zap.NewNop())

	_, err := in.Cycle(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIngester_RunWaitsForInFlightCycle(t *testing.T) {
	tickers := &gatedTickers{
		snapshot: map[string]float64{"BTCUSDT": 65000},
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	pub := &recordingPublisher{}
	opts := testOpts
	opts.Interval = time.Hour
	opts.Timeout = time.Hour
	in := NewIngester(tickers, staticSymbols{"BTCUSDT"}, pub, opts, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		in.Run(ctx)
		close(stopped)
	}()

	<-tickers.entered
	cancel()

	select {
	case <-stopped:
		t.Fatal("Run returned while a cycle was still publishing")
	case <-time.After(50 * time.Millisecond):
	}

	close(tickers.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the cycle finished")
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, 65000.0, pub.published["BTC"])
}

func TestHTTPTickerSource_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"BTCUSDT","price":"65000.10"},{"symbol":"ETHUSDT","price":"3000"},{"symbol":"BAD","price":"x"}]`))
	}))
	defer srv.Close()

	core, logs := observer.New(zap.DebugLevel)
	snapshot, err := NewHTTPTickerSource(srv.URL, zap.New(core)).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTCUSDT": 65000.10, "ETHUSDT": 3000}, snapshot)

	skipped := logs.FilterMessage("Skipping ticker with unparsable price").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, "BAD", skipped[0].ContextMap()["symbol"])
	assert.Equal(t, "x", skipped[0].ContextMap()["price"])

	dropped := logs.FilterMessage("Dropped unparsable tickers").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, zap.WarnLevel, dropped[0].Level)
	assert.EqualValues(t, 1, dropped[0].ContextMap()["skipped"])
}

func TestHTTPTickerSource_CleanSnapshotLogsNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"BTCUSDT","price":"65000"}]`))
	}))
	defer srv.Close()

	core, logs := observer.New(zap.DebugLevel)
	_, err := NewHTTPTickerSource(srv.URL, zap.New(core)).Fetch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, logs.Len())
}

func TestHTTPTickerSource_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTPTickerSource(srv.URL, nil).Fetch(context.Background())
	assert.Error(t, err)
}

func TestIngester_EndToEndThroughBus(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cache := prices.NewCache(zap.NewNop())
	sub := bus.NewSubscriber(rdb, "papertrade", zap.NewNop())
	sub.OnUpdate(cache.Update)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sub.Connect(ctx))
	defer sub.Close()
	go sub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"BTCUSDT","price":"65000"},{"symbol":"SOLUSDT","price":"150.5"}]`))
	}))
	defer srv.Close()

	in := NewIngester(NewHTTPTickerSource(srv.URL, nil), staticSymbols{"BTCUSDT", "SOLUSDT"},
		bus.NewPublisher(rdb, "papertrade"), testOpts, zap.NewNop())

	go in.Run(ctx)

	require.Eventually(t, func() bool {
		return cache.Get("BTC") == 65000 && cache.Get("SOL") == 150.5
	}, 2*time.Second, 10*time.Millisecond)

	symbols := make([]string, 0)
	for s := range cache.GetAll() {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	assert.Equal(t, []string{"BTC", "SOL"}, symbols)
}
