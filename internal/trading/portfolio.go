package trading

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/papertrade/internal/prices"
)

// Position is one holding valued at the cached price
type Position struct {
	AssetSymbol string          `json:"asset_symbol"`
	Amount      decimal.Decimal `json:"amount"`
	Price       float64         `json:"price"`
	Value       decimal.Decimal `json:"value"`
	Priced      bool            `json:"priced"`
}

// Portfolio is a user's cash plus positions at current prices
type Portfolio struct {
	Balance       decimal.Decimal `json:"balance"`
	Positions     []Position      `json:"positions"`
	HoldingsValue decimal.Decimal `json:"holdings_value"`
	Equity        decimal.Decimal `json:"equity"`
}

// Portfolio values the user's holdings. It reads a snapshot and takes no
// ledger locks, so it never waits on an in-flight order. Holdings with no
// cached price are listed with Priced=false and contribute nothing to the
// totals.
func (s *Service) Portfolio(ctx context.Context, userID int) (*Portfolio, error) {
	balance, holdings, err := s.store.Snapshot(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio: %w", err)
	}

	p := &Portfolio{Balance: balance, Positions: []Position{}}
	for _, h := range holdings {
		price := s.prices.Get(prices.BaseSymbol(h.AssetSymbol, s.quote))
		pos := Position{AssetSymbol: h.AssetSymbol, Amount: h.Amount, Price: price, Value: decimal.Zero}
		if price > 0 {
			pos.Priced = true
			pos.Value = h.Amount.Mul(decimal.NewFromFloat(price))
		}
		p.HoldingsValue = p.HoldingsValue.Add(pos.Value)
		p.Positions = append(p.Positions, pos)
	}
	p.Equity = p.Balance.Add(p.HoldingsValue)
	return p, nil
}
