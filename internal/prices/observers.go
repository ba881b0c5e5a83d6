package prices

import (
	"sync"

	"go.uber.org/zap"
)

// UpdateFunc receives one (symbol, price) pair
type UpdateFunc func(symbol string, price float64)

// Observers is an ordered list of update callbacks. Every registered
// callback is invoked on every Notify; a panic in one is logged and does
// not prevent the others from running.
type Observers struct {
	mu     sync.RWMutex
	next   int
	fns    []observer
	logger *zap.Logger
}

type observer struct {
	id int
	fn UpdateFunc
}

// NewObservers creates an empty observer list
func NewObservers(logger *zap.Logger) *Observers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observers{logger: logger}
}

// Add registers fn and returns a function that removes it
func (o *Observers) Add(fn UpdateFunc) (remove func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.next++
	id := o.next
	o.fns = append(o.fns, observer{id: id, fn: fn})

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, ob := range o.fns {
			if ob.id == id {
				o.fns = append(o.fns[:i:i], o.fns[i+1:]...)
				return
			}
		}
	}
}

// Len returns the number of registered callbacks
func (o *Observers) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.fns)
}

// Notify calls every callback in registration order
func (o *Observers) Notify(symbol string, price float64) {
	o.mu.RLock()
	fns := o.fns
	o.mu.RUnlock()

	for _, ob := range fns {
		o.call(ob.fn, symbol, price)
	}
}

func (o *Observers) call(fn UpdateFunc, symbol string, price float64) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Price observer panicked",
				zap.String("symbol", symbol),
				zap.Float64("price", price),
				zap.Any("panic", r))
		}
	}()
	fn(symbol, price)
}
