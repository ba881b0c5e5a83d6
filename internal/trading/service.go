package trading

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/papertrade/internal/models"
	"github.com/xtrntr/papertrade/internal/prices"
)

// Stage is a step of one placeOrder request. Requests move forward
// through the stages in order; a rejected or failed request reports the
// last stage it reached in its OrderError.
type Stage string

const (
	StageReceived      Stage = "RECEIVED"
	StagePriceResolved Stage = "PRICE_RESOLVED"
	StageValidated     Stage = "VALIDATED"
	StageLedgerUpdated Stage = "LEDGER_UPDATED"
	StageRecorded      Stage = "RECORDED"
	StageComplete      Stage = "COMPLETE"
)

// eventTimeout bounds one order event publish, which runs detached from
// the request
const eventTimeout = 5 * time.Second

// OrderRequest is the client input for one market order
type OrderRequest struct {
	AssetSymbol string  `json:"asset_symbol"`
	Amount      float64 `json:"amount"`
	OrderType   string  `json:"order_type"`
}

// Execution is the result of a filled order
type Execution struct {
	Asset string       `json:"asset"`
	Price float64      `json:"price"`
	Total float64      `json:"total"`
	Order models.Order `json:"-"`
}

// Service executes market orders against the cached price. It is the
// only writer of balances, holdings and order records.
type Service struct {
	store  Store
	prices PriceSource
	events EventPublisher
	quote  string
	logger *zap.Logger
	locks  *userLocks
	now    func() time.Time

	pending sync.WaitGroup
}

// NewService creates an order execution service. events may be nil.
func NewService(store Store, priceSource PriceSource, events EventPublisher, quote string, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		prices: priceSource,
		events: events,
		quote:  quote,
		logger: logger,
		locks:  newUserLocks(),
		now:    time.Now,
	}
}

// PlaceOrder fills a BUY or SELL of amount units of symbol at the current
// cached price. Balance, holding and the order record are written in one
// transaction; requests for the same user run one at a time.
func (s *Service) PlaceOrder(ctx context.Context, userID int, req OrderRequest) (*Execution, error) {
	exec, err := s.placeOrder(ctx, userID, req)
	if err != nil {
		var oe *OrderError
		if !errors.As(err, &oe) {
			oe = reject(StageReceived, err)
		}
		fields := []zap.Field{
			zap.Int("user_id", userID),
			zap.String("symbol", req.AssetSymbol),
			zap.String("order_type", req.OrderType),
			zap.String("stage", string(oe.Stage)),
			zap.Error(err),
		}
		if IsClientError(oe) {
			s.logger.Info("Order rejected", fields...)
		} else {
			s.logger.Error("Order failed", fields...)
		}
		return nil, oe
	}

	s.logger.Info("Order executed",
		zap.Int("user_id", userID),
		zap.String("symbol", exec.Asset),
		zap.String("order_type", exec.Order.OrderType),
		zap.String("amount", exec.Order.Amount.String()),
		zap.Float64("price", exec.Price),
		zap.String("stage", string(StageComplete)))

	if s.events != nil {
		s.pending.Add(1)
		go s.publish(exec.Order)
	}
	return exec, nil
}

func (s *Service) publish(order models.Order) {
	defer s.pending.Done()

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	if err := s.events.PublishOrder(ctx, order); err != nil {
		s.logger.Warn("Failed to publish order event", zap.Int("order_id", order.ID), zap.Error(err))
	}
}

// Wait blocks until every order event started so far has been published
// or has failed
func (s *Service) Wait() {
	s.pending.Wait()
}

// LedgerSymbol is the key holdings and orders are stored under: the pair
// form, so BTC and BTCUSDT name the same row
func LedgerSymbol(symbol, quote string) string {
	base := prices.BaseSymbol(symbol, quote)
	if quote == "" {
		return base
	}
	return base + strings.ToUpper(quote)
}

func (s *Service) placeOrder(ctx context.Context, userID int, req OrderRequest) (*Execution, error) {
	raw := strings.ToUpper(strings.TrimSpace(req.AssetSymbol))
	if raw == "" {
		return nil, invalid("asset_symbol is required")
	}
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) || req.Amount <= 0 {
		return nil, invalid("amount must be a positive number")
	}
	orderType := req.OrderType
	if orderType != models.OrderTypeBuy && orderType != models.OrderTypeSell {
		return nil, invalid("order_type must be BUY or SELL")
	}

	base := prices.BaseSymbol(raw, s.quote)
	symbol := LedgerSymbol(raw, s.quote)

	unlock := s.locks.lock(userID)
	defer unlock()

	// Price is read after taking the user lock so a queued request
	// executes at the price current when it runs.
	price := s.prices.Get(base)
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return nil, reject(StagePriceResolved, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol))
	}

	amount := decimal.NewFromFloat(req.Amount)
	unitPrice := decimal.NewFromFloat(price)
	total := amount.Mul(unitPrice)

	var recorded models.Order
	err := s.store.WithTx(ctx, func(tx LedgerTx) error {
		balance, err := tx.Balance(ctx, userID)
		if err != nil {
			return ledgerFault(StagePriceResolved, err)
		}

		switch orderType {
		case models.OrderTypeBuy:
			if err := s.buy(ctx, tx, userID, symbol, balance, amount, total); err != nil {
				return err
			}
		case models.OrderTypeSell:
			if err := s.sell(ctx, tx, userID, symbol, balance, amount, total); err != nil {
				return err
			}
		}

		recorded, err = tx.InsertOrder(ctx, models.Order{
			UserID:             userID,
			AssetSymbol:        symbol,
			OrderType:          orderType,
			Amount:             amount,
			PriceAtTransaction: unitPrice,
			Timestamp:          s.now().UTC(),
		})
		if err != nil {
			return ledgerFault(StageLedgerUpdated, err)
		}
		return nil
	})
	if err != nil {
		var oe *OrderError
		if errors.As(err, &oe) {
			return nil, oe
		}
		// Begin or commit failed
		return nil, ledgerFault(StageRecorded, err)
	}

	return &Execution{
		Asset: symbol,
		Price: price,
		Total: total.InexactFloat64(),
		Order: recorded,
	}, nil
}

func (s *Service) buy(ctx context.Context, tx LedgerTx, userID int, symbol string, balance, amount, total decimal.Decimal) error {
	if balance.LessThan(total) {
		return reject(StageValidated, fmt.Errorf("%w: need %s, have %s", ErrInsufficientBalance, total, balance))
	}

	if err := tx.SetBalance(ctx, userID, balance.Sub(total)); err != nil {
		return ledgerFault(StageValidated, err)
	}
	if err := tx.AddHolding(ctx, userID, symbol, amount); err != nil {
		return ledgerFault(StageValidated, err)
	}
	return nil
}

func (s *Service) sell(ctx context.Context, tx LedgerTx, userID int, symbol string, balance, amount, total decimal.Decimal) error {
	held, ok, err := tx.Holding(ctx, userID, symbol)
	if err != nil {
		return ledgerFault(StagePriceResolved, err)
	}
	if !ok || held.LessThan(amount) {
		return reject(StageValidated, fmt.Errorf("%w: want %s, have %s", ErrInsufficientHoldings, amount, held))
	}

	if err := tx.SetBalance(ctx, userID, balance.Add(total)); err != nil {
		return ledgerFault(StageValidated, err)
	}

	remaining := held.Sub(amount)
	if remaining.LessThanOrEqual(decimal.Zero) {
		err = tx.DeleteHolding(ctx, userID, symbol)
	} else {
		err = tx.AddHolding(ctx, userID, symbol, amount.Neg())
	}
	if err != nil {
		return ledgerFault(StageValidated, err)
	}
	return nil
}

// ledgerFault wraps a persistence error. stage is the last stage reached.
func ledgerFault(stage Stage, err error) *OrderError {
	if errors.Is(err, ErrUnknownUser) {
		return reject(stage, err)
	}
	return reject(stage, fmt.Errorf("%w: %w", ErrLedger, err))
}

// Orders returns the user's order history, newest first
func (s *Service) Orders(ctx context.Context, userID int) ([]models.Order, error) {
	orders, err := s.store.GetUserOrders(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedger, err)
	}
	return orders, nil
}
