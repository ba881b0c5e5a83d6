package prices

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Cache holds the last known price per base symbol (BTC, not BTCUSDT).
// Callers strip the quote suffix before Get/Update; the cache does no
// normalization of its own.
type Cache struct {
	mu        sync.RWMutex
	prices    map[string]float64
	observers *Observers
}

// NewCache creates an empty price cache
func NewCache(logger *zap.Logger) *Cache {
	return &Cache{
		prices:    make(map[string]float64),
		observers: NewObservers(logger),
	}
}

// Update overwrites the entry for symbol and notifies observers
func (c *Cache) Update(symbol string, price float64) {
	c.mu.Lock()
	c.prices[symbol] = price
	c.mu.Unlock()

	c.observers.Notify(symbol, price)
}

// Get returns the last known price, or 0 if the symbol has never been seen.
// A 0 result means "price unavailable".
func (c *Cache) Get(symbol string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prices[symbol]
}

// GetAll returns a snapshot copy of every cached price
func (c *Cache) GetAll() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := make(map[string]float64, len(c.prices))
	for symbol, price := range c.prices {
		snapshot[symbol] = price
	}
	return snapshot
}

// OnUpdate registers fn to run after every Update
func (c *Cache) OnUpdate(fn UpdateFunc) (remove func()) {
	return c.observers.Add(fn)
}

// BaseSymbol strips the quote-currency suffix from a trading pair symbol
// (BTCUSDT -> BTC). Symbols without the suffix are returned unchanged.
func BaseSymbol(symbol, quote string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	quote = strings.ToUpper(quote)
	if quote == "" || symbol == quote {
		return symbol
	}
	return strings.TrimSuffix(symbol, quote)
}
