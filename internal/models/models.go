package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order types accepted by order execution
const (
	OrderTypeBuy  = "BUY"
	OrderTypeSell = "SELL"
)

// User represents a registered user and their virtual cash balance
type User struct {
	ID           int
	Username     string
	PasswordHash string
	Balance      decimal.Decimal
	CreatedAt    time.Time
}

// Asset is a tradable trading pair, e.g. BTCUSDT
type Asset struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Holding is a user's nonzero quantity of one asset
type Holding struct {
	UserID      int             `json:"user_id"`
	AssetSymbol string          `json:"asset_symbol"`
	Amount      decimal.Decimal `json:"amount"`
}

// Order is an executed, immutable trade record
type Order struct {
	ID                 int             `json:"id"`
	UserID             int             `json:"user_id"`
	AssetSymbol        string          `json:"asset_symbol"`
	OrderType          string          `json:"order_type"`
	Amount             decimal.Decimal `json:"amount"`
	PriceAtTransaction decimal.Decimal `json:"price_at_transaction"`
	Timestamp          time.Time       `json:"timestamp"`
}

// PriceUpdate is the bus message payload
type PriceUpdate struct {
	Price *float64 `json:"price"`
}

// PriceEvent is pushed to realtime sessions on every cache update
type PriceEvent struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// Welcome is sent once when a realtime session opens
type Welcome struct {
	Message string `json:"message"`
}

const PriceEventType = "PRICE_UPDATE"
