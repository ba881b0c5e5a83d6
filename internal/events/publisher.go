package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/papertrade/internal/models"
)

const OrderExecutedType = "ORDER_EXECUTED"

type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OrderExecuted is the message body written for every committed order
type OrderExecuted struct {
	Type               string          `json:"type"`
	OrderID            int             `json:"order_id"`
	UserID             int             `json:"user_id"`
	AssetSymbol        string          `json:"asset_symbol"`
	OrderType          string          `json:"order_type"`
	Amount             decimal.Decimal `json:"amount"`
	PriceAtTransaction decimal.Decimal `json:"price_at_transaction"`
	Total              decimal.Decimal `json:"total"`
	Timestamp          time.Time       `json:"timestamp"`
}

func NewOrderExecuted(order models.Order) OrderExecuted {
	return OrderExecuted{
		Type:               OrderExecutedType,
		OrderID:            order.ID,
		UserID:             order.UserID,
		AssetSymbol:        order.AssetSymbol,
		OrderType:          order.OrderType,
		Amount:             order.Amount,
		PriceAtTransaction: order.PriceAtTransaction,
		Total:              order.Amount.Mul(order.PriceAtTransaction),
		Timestamp:          order.Timestamp,
	}
}

// KafkaPublisher writes order events keyed by user id, so one user's
// events stay ordered within a partition.
type KafkaPublisher struct {
	writer KafkaWriter
	logger *zap.Logger
}

func NewKafkaPublisher(writer KafkaWriter, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, logger: logger}
}

// NewKafkaWriter builds a writer for topic on brokers
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
}

func (p *KafkaPublisher) PublishOrder(ctx context.Context, order models.Order) error {
	payload, err := json.Marshal(NewOrderExecuted(order))
	if err != nil {
		return fmt.Errorf("failed to marshal order event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.Itoa(order.UserID)),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to write order event: %w", err)
	}

	p.logger.Debug("Order event published", zap.Int("order_id", order.ID))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishOrder(ctx context.Context, order models.Order) error { return nil }

func (NopPublisher) Close() error { return nil }
