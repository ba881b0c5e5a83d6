package testutils

import (
	"context"
	"sync"

	"github.com/xtrntr/papertrade/internal/models"
)

// StaticPrices is a fixed price table
type StaticPrices map[string]float64

func (p StaticPrices) Get(symbol string) float64 { return p[symbol] }

// RecordingEvents captures published orders
type RecordingEvents struct {
	Mu     sync.Mutex
	Orders []models.Order
	Err    error
}

func (r *RecordingEvents) PublishOrder(ctx context.Context, order models.Order) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Orders = append(r.Orders, order)
	return nil
}

func (r *RecordingEvents) Count() int {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return len(r.Orders)
}

// BlockingEvents holds every publish until Release is closed or the
// publish context ends
type BlockingEvents struct {
	RecordingEvents
	Release chan struct{}
}

func NewBlockingEvents() *BlockingEvents {
	return &BlockingEvents{Release: make(chan struct{})}
}

func (b *BlockingEvents) PublishOrder(ctx context.Context, order models.Order) error {
	select {
	case <-b.Release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.RecordingEvents.PublishOrder(ctx, order)
}
