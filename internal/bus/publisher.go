package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xtrntr/papertrade/internal/models"
)

// Publisher publishes prices onto the bus under per-symbol topics
type Publisher struct {
	rdb       redis.UniversalClient
	namespace string
}

// NewPublisher creates a publisher for namespace
func NewPublisher(rdb redis.UniversalClient, namespace string) *Publisher {
	return &Publisher{rdb: rdb, namespace: namespace}
}

// Publish sends {"price": price} on <namespace>/market/<symbol>
func (p *Publisher) Publish(ctx context.Context, symbol string, price float64) error {
	payload, err := json.Marshal(models.PriceUpdate{Price: &price})
	if err != nil {
		return fmt.Errorf("failed to encode price for %s: %w", symbol, err)
	}

	if err := p.rdb.Publish(ctx, Topic(p.namespace, symbol), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish price for %s: %w", symbol, err)
	}
	return nil
}
