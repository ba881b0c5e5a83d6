package trading

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/papertrade/internal/models"
)

// LedgerTx is one open persistence transaction over balances, holdings
// and order records. Nothing it writes is visible to other requests until
// the surrounding WithTx commits.
type LedgerTx interface {
	// Balance reads the user's cash balance and locks the user's row
	// until the transaction ends. Returns ErrUnknownUser for a missing user.
	Balance(ctx context.Context, userID int) (decimal.Decimal, error)
	SetBalance(ctx context.Context, userID int, balance decimal.Decimal) error

	// Holding returns the held amount and whether a row exists
	Holding(ctx context.Context, userID int, symbol string) (decimal.Decimal, bool, error)
	Holdings(ctx context.Context, userID int) ([]models.Holding, error)
	// AddHolding inserts the row or adds delta to the existing amount
	AddHolding(ctx context.Context, userID int, symbol string, delta decimal.Decimal) error
	DeleteHolding(ctx context.Context, userID int, symbol string) error

	InsertOrder(ctx context.Context, order models.Order) (models.Order, error)
}

// Store is the persistence boundary consumed by the Service
type Store interface {
	// WithTx runs fn in a transaction, committing if fn returns nil and
	// rolling back otherwise. fn's error is returned unchanged.
	WithTx(ctx context.Context, fn func(tx LedgerTx) error) error
	// Snapshot reads the user's balance and holdings as of one point in
	// time without locking anything. Returns ErrUnknownUser for a missing
	// user.
	Snapshot(ctx context.Context, userID int) (decimal.Decimal, []models.Holding, error)
	GetUserOrders(ctx context.Context, userID int) ([]models.Order, error)
}

// PriceSource resolves the current price of a base symbol, 0 if unknown
type PriceSource interface {
	Get(symbol string) float64
}

// EventPublisher announces committed orders
type EventPublisher interface {
	PublishOrder(ctx context.Context, order models.Order) error
}
