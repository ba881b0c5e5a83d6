package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/papertrade/internal/models"
)

var (
	// ErrUserNotFound is returned by user lookups with no matching row
	ErrUserNotFound  = errors.New("user not found")
	ErrUsernameTaken = errors.New("username already taken")
)

const uniqueViolation = "23505"

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool. maxConns <= 0 keeps
// the pgxpool default.
func NewDB(ctx context.Context, connString string, maxConns int32) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Ping checks that the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	if err := db.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// CreateUser inserts a new user with a starting cash balance
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string, balance decimal.Decimal) (*models.User, error) {
	user := &models.User{}
	var bal string
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash, balance) VALUES ($1, $2, $3::numeric) RETURNING id, username, password_hash, balance::text, created_at",
		username, passwordHash, balance.String()).Scan(&user.ID, &user.Username, &user.PasswordHash, &bal, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if user.Balance, err = decimal.NewFromString(bal); err != nil {
		return nil, fmt.Errorf("failed to parse balance: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	var bal string
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, balance::text, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &bal, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user.Balance, err = decimal.NewFromString(bal); err != nil {
		return nil, fmt.Errorf("failed to parse balance: %w", err)
	}
	return user, nil
}

// UpsertAsset inserts an asset or updates its name and active flag
func (db *DB) UpsertAsset(ctx context.Context, asset models.Asset) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO assets (symbol, name, active) VALUES ($1, $2, $3)
		ON CONFLICT (symbol) DO UPDATE SET name = EXCLUDED.name, active = EXCLUDED.active
	`, asset.Symbol, asset.Name, asset.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert asset %s: %w", asset.Symbol, err)
	}
	return nil
}

// ListAssets returns every asset ordered by symbol
func (db *DB) ListAssets(ctx context.Context) ([]models.Asset, error) {
	rows, err := db.Pool.Query(ctx, "SELECT symbol, name, active FROM assets ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []models.Asset
	for rows.Next() {
		var a models.Asset
		if err := rows.Scan(&a.Symbol, &a.Name, &a.Active); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	return assets, nil
}

// ActiveSymbols returns the symbols of assets flagged active
func (db *DB) ActiveSymbols(ctx context.Context) ([]string, error) {
	rows, err := db.Pool.Query(ctx, "SELECT symbol FROM assets WHERE active ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to get active symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get active symbols: %w", err)
	}
	return symbols, nil
}

// GetUserOrders retrieves all orders for a user, newest first
func (db *DB) GetUserOrders(ctx context.Context, userID int) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, user_id, asset_symbol, order_type, amount::text, price_at_transaction::text, timestamp
		FROM orders
		WHERE user_id = $1
		ORDER BY timestamp DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get user orders: %w", err)
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (models.Order, error) {
	var order models.Order
	var amount, price string
	err := row.Scan(&order.ID, &order.UserID, &order.AssetSymbol, &order.OrderType, &amount, &price, &order.Timestamp)
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to scan order: %w", err)
	}
	if order.Amount, err = decimal.NewFromString(amount); err != nil {
		return models.Order{}, fmt.Errorf("failed to parse order amount: %w", err)
	}
	if order.PriceAtTransaction, err = decimal.NewFromString(price); err != nil {
		return models.Order{}, fmt.Errorf("failed to parse order price: %w", err)
	}
	return order, nil
}
