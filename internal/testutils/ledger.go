package testutils

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/papertrade/internal/models"
	"github.com/xtrntr/papertrade/internal/trading"
)

// Compile-time check
var _ trading.Store = (*MemStore)(nil)

type holdingKey struct {
	userID int
	symbol string
}

// MemStore is an in-memory trading.Store. Transactions read committed
// state and buffer their writes until commit, with no row locking, so
// concurrent transactions on the same row can lose updates just like an
// unlocked read-modify-write against a real database.
type MemStore struct {
	mu       sync.Mutex
	balances map[int]decimal.Decimal
	holdings map[holdingKey]decimal.Decimal
	orders   []models.Order
	nextID   int
	txCount  int

	// FailInsertOrder makes InsertOrder return this error
	FailInsertOrder error
	// FailCommit makes the commit step return this error
	FailCommit error
	// BeforeCommit runs after fn and before commit
	BeforeCommit func()
}

func NewMemStore() *MemStore {
	return &MemStore{
		balances: make(map[int]decimal.Decimal),
		holdings: make(map[holdingKey]decimal.Decimal),
	}
}

// AddUser creates a user with balance
func (m *MemStore) AddUser(userID int, balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = decimal.NewFromFloat(balance)
}

// PutHolding sets a committed holding row
func (m *MemStore) PutHolding(userID int, symbol string, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holdings[holdingKey{userID, symbol}] = decimal.NewFromFloat(amount)
}

// BalanceOf returns the committed balance
func (m *MemStore) BalanceOf(userID int) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID]
}

// HoldingOf returns the committed holding and whether the row exists
func (m *MemStore) HoldingOf(userID int, symbol string) (decimal.Decimal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holdings[holdingKey{userID, symbol}]
	return h, ok
}

// TxCount is the number of WithTx calls so far
func (m *MemStore) TxCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txCount
}

// AllOrders returns committed order records in insertion order
func (m *MemStore) AllOrders() []models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Order(nil), m.orders...)
}

func (m *MemStore) WithTx(ctx context.Context, fn func(tx trading.LedgerTx) error) error {
	m.mu.Lock()
	m.txCount++
	m.mu.Unlock()

	tx := &memTx{
		store:    m,
		balances: make(map[int]decimal.Decimal),
		holdings: make(map[holdingKey]*decimal.Decimal),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if m.BeforeCommit != nil {
		m.BeforeCommit()
	}
	if m.FailCommit != nil {
		return m.FailCommit
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, b := range tx.balances {
		m.balances[id] = b
	}
	for k, h := range tx.holdings {
		if h == nil {
			delete(m.holdings, k)
		} else {
			m.holdings[k] = *h
		}
	}
	m.orders = append(m.orders, tx.orders...)
	return nil
}

func (m *MemStore) Snapshot(ctx context.Context, userID int) (decimal.Decimal, []models.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	balance, ok := m.balances[userID]
	if !ok {
		return decimal.Zero, nil, trading.ErrUnknownUser
	}
	holdings := []models.Holding{}
	for k, h := range m.holdings {
		if k.userID == userID {
			holdings = append(holdings, models.Holding{UserID: userID, AssetSymbol: k.symbol, Amount: h})
		}
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].AssetSymbol < holdings[j].AssetSymbol })
	return balance, holdings, nil
}

func (m *MemStore) GetUserOrders(ctx context.Context, userID int) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var orders []models.Order
	for i := len(m.orders) - 1; i >= 0; i-- {
		if m.orders[i].UserID == userID {
			orders = append(orders, m.orders[i])
		}
	}
	return orders, nil
}

type memTx struct {
	store    *MemStore
	balances map[int]decimal.Decimal
	holdings map[holdingKey]*decimal.Decimal // nil marks a deleted row
	orders   []models.Order
}

func (tx *memTx) Balance(ctx context.Context, userID int) (decimal.Decimal, error) {
	if b, ok := tx.balances[userID]; ok {
		return b, nil
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	b, ok := tx.store.balances[userID]
	if !ok {
		return decimal.Zero, trading.ErrUnknownUser
	}
	return b, nil
}

func (tx *memTx) SetBalance(ctx context.Context, userID int, balance decimal.Decimal) error {
	tx.balances[userID] = balance
	return nil
}

func (tx *memTx) Holding(ctx context.Context, userID int, symbol string) (decimal.Decimal, bool, error) {
	k := holdingKey{userID, symbol}
	if h, ok := tx.holdings[k]; ok {
		if h == nil {
			return decimal.Zero, false, nil
		}
		return *h, true, nil
	}
	h, ok := tx.store.HoldingOf(userID, symbol)
	return h, ok, nil
}

func (tx *memTx) Holdings(ctx context.Context, userID int) ([]models.Holding, error) {
	merged := make(map[string]decimal.Decimal)

	tx.store.mu.Lock()
	for k, h := range tx.store.holdings {
		if k.userID == userID {
			merged[k.symbol] = h
		}
	}
	tx.store.mu.Unlock()

	for k, h := range tx.holdings {
		if k.userID != userID {
			continue
		}
		if h == nil {
			delete(merged, k.symbol)
		} else {
			merged[k.symbol] = *h
		}
	}

	holdings := make([]models.Holding, 0, len(merged))
	for symbol, amount := range merged {
		holdings = append(holdings, models.Holding{UserID: userID, AssetSymbol: symbol, Amount: amount})
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].AssetSymbol < holdings[j].AssetSymbol })
	return holdings, nil
}

func (tx *memTx) AddHolding(ctx context.Context, userID int, symbol string, delta decimal.Decimal) error {
	current, ok, _ := tx.Holding(ctx, userID, symbol)
	if !ok {
		current = decimal.Zero
	}
	next := current.Add(delta)
	tx.holdings[holdingKey{userID, symbol}] = &next
	return nil
}

func (tx *memTx) DeleteHolding(ctx context.Context, userID int, symbol string) error {
	tx.holdings[holdingKey{userID, symbol}] = nil
	return nil
}

func (tx *memTx) InsertOrder(ctx context.Context, order models.Order) (models.Order, error) {
	if tx.store.FailInsertOrder != nil {
		return models.Order{}, tx.store.FailInsertOrder
	}
	if order.Timestamp.IsZero() {
		order.Timestamp = time.Now().UTC()
	}

	tx.store.mu.Lock()
	tx.store.nextID++
	order.ID = tx.store.nextID
	tx.store.mu.Unlock()

	tx.orders = append(tx.orders, order)
	return order, nil
}
