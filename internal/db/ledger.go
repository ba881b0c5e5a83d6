package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/papertrade/internal/models"
	"github.com/xtrntr/papertrade/internal/trading"
)

var _ trading.Store = (*DB)(nil)

// WithTx runs fn inside one database transaction. The transaction is
// committed only if fn returns nil; fn's error is returned as is.
func (db *DB) WithTx(ctx context.Context, fn func(tx trading.LedgerTx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Snapshot reads balance and holdings in one read-only repeatable-read
// transaction. Plain SELECTs take no row locks, so it never waits on an
// order holding the user's row.
func (db *DB) Snapshot(ctx context.Context, userID int) (decimal.Decimal, []models.Holding, error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	var bal string
	err = tx.QueryRow(ctx, "SELECT balance::text FROM users WHERE id = $1", userID).Scan(&bal)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil, trading.ErrUnknownUser
		}
		return decimal.Zero, nil, fmt.Errorf("failed to get balance: %w", err)
	}
	balance, err := decimal.NewFromString(bal)
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("failed to parse balance: %w", err)
	}

	holdings, err := (&ledgerTx{tx: tx}).Holdings(ctx, userID)
	if err != nil {
		return decimal.Zero, nil, err
	}
	return balance, holdings, nil
}

type ledgerTx struct {
	tx pgx.Tx
}

func (l *ledgerTx) Balance(ctx context.Context, userID int) (decimal.Decimal, error) {
	// Lock the user row so concurrent orders for the same user serialize
	var bal string
	err := l.tx.QueryRow(ctx,
		"SELECT balance::text FROM users WHERE id = $1 FOR UPDATE",
		userID).Scan(&bal)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, trading.ErrUnknownUser
		}
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return decimal.NewFromString(bal)
}

func (l *ledgerTx) SetBalance(ctx context.Context, userID int, balance decimal.Decimal) error {
	tag, err := l.tx.Exec(ctx,
		"UPDATE users SET balance = $1::numeric WHERE id = $2",
		balance.String(), userID)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return trading.ErrUnknownUser
	}
	return nil
}

func (l *ledgerTx) Holding(ctx context.Context, userID int, symbol string) (decimal.Decimal, bool, error) {
	var amount string
	err := l.tx.QueryRow(ctx,
		"SELECT amount::text FROM portfolio WHERE user_id = $1 AND asset_symbol = $2 FOR UPDATE",
		userID, symbol).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, fmt.Errorf("failed to get holding: %w", err)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to parse holding: %w", err)
	}
	return d, true, nil
}

func (l *ledgerTx) Holdings(ctx context.Context, userID int) ([]models.Holding, error) {
	rows, err := l.tx.Query(ctx,
		"SELECT asset_symbol, amount::text FROM portfolio WHERE user_id = $1 ORDER BY asset_symbol",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get holdings: %w", err)
	}
	defer rows.Close()

	var holdings []models.Holding
	for rows.Next() {
		h := models.Holding{UserID: userID}
		var amount string
		if err := rows.Scan(&h.AssetSymbol, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		if h.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get holdings: %w", err)
	}
	return holdings, nil
}

func (l *ledgerTx) AddHolding(ctx context.Context, userID int, symbol string, delta decimal.Decimal) error {
	_, err := l.tx.Exec(ctx, `
		INSERT INTO portfolio (user_id, asset_symbol, amount) VALUES ($1, $2, $3::numeric)
		ON CONFLICT (user_id, asset_symbol) DO UPDATE SET amount = portfolio.amount + EXCLUDED.amount
	`, userID, symbol, delta.String())
	if err != nil {
		return fmt.Errorf("failed to update holding: %w", err)
	}
	return nil
}

func (l *ledgerTx) DeleteHolding(ctx context.Context, userID int, symbol string) error {
	_, err := l.tx.Exec(ctx,
		"DELETE FROM portfolio WHERE user_id = $1 AND asset_symbol = $2",
		userID, symbol)
	if err != nil {
		return fmt.Errorf("failed to delete holding: %w", err)
	}
	return nil
}

func (l *ledgerTx) InsertOrder(ctx context.Context, order models.Order) (models.Order, error) {
	row := l.tx.QueryRow(ctx, `
		INSERT INTO orders (user_id, asset_symbol, order_type, amount, price_at_transaction, timestamp)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6)
		RETURNING id, user_id, asset_symbol, order_type, amount::text, price_at_transaction::text, timestamp
	`, order.UserID, order.AssetSymbol, order.OrderType, order.Amount.String(), order.PriceAtTransaction.String(), order.Timestamp)
	return scanOrder(row)
}
