package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xtrntr/papertrade/internal/models"
	"github.com/xtrntr/papertrade/internal/prices"
)

// ErrNotConnected is returned by Run when Connect has not been called
var ErrNotConnected = errors.New("bus: not connected")

// Subscriber is the price bus client. It holds one pattern subscription
// covering every market topic in its namespace and hands each well-formed
// price to the registered callbacks.
//
// Reconnection is left to go-redis: a PubSub transparently redials and
// resubscribes after network errors.
type Subscriber struct {
	rdb       redis.UniversalClient
	namespace string
	logger    *zap.Logger
	observers *prices.Observers

	mu     sync.Mutex
	pubsub *redis.PubSub
}

// NewSubscriber creates a bus client for namespace
func NewSubscriber(rdb redis.UniversalClient, namespace string, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		rdb:       rdb,
		namespace: namespace,
		logger:    logger,
		observers: prices.NewObservers(logger),
	}
}

// OnUpdate registers fn for every accepted price message
func (s *Subscriber) OnUpdate(fn prices.UpdateFunc) (remove func()) {
	return s.observers.Add(fn)
}

// Connect subscribes to the namespace's market pattern and waits for the
// broker to confirm. A failed confirmation is returned but the
// subscription is kept, so Run still delivers once the broker is back.
func (s *Subscriber) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pubsub != nil {
		return nil
	}

	pattern := redisPattern(s.namespace)
	s.pubsub = s.rdb.PSubscribe(ctx, pattern)

	if _, err := s.pubsub.Receive(ctx); err != nil {
		s.logger.Warn("Bus subscription not confirmed, relying on reconnect",
			zap.String("pattern", Pattern(s.namespace)), zap.Error(err))
		return fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}

	s.logger.Info("Bus subscribed", zap.String("pattern", Pattern(s.namespace)))
	return nil
}

// Run delivers messages until ctx is done or the subscription is closed
func (s *Subscriber) Run(ctx context.Context) error {
	s.mu.Lock()
	ps := s.pubsub
	s.mu.Unlock()
	if ps == nil {
		return ErrNotConnected
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(msg.Channel, []byte(msg.Payload))
		}
	}
}

// handle runs on the hot path for every tick and never blocks
func (s *Subscriber) handle(topic string, payload []byte) {
	symbol, ok := SymbolFromTopic(s.namespace, topic)
	if !ok {
		s.logger.Debug("Dropping message on unexpected topic", zap.String("topic", topic))
		return
	}

	var update models.PriceUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		s.logger.Warn("Dropping malformed price message",
			zap.String("topic", topic), zap.ByteString("payload", payload), zap.Error(err))
		return
	}
	if update.Price == nil {
		s.logger.Warn("Dropping price message without price",
			zap.String("topic", topic), zap.ByteString("payload", payload))
		return
	}

	s.observers.Notify(symbol, *update.Price)
}

// Close ends the subscription
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pubsub == nil {
		return nil
	}
	err := s.pubsub.Close()
	s.pubsub = nil
	return err
}
