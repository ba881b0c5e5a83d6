package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/papertrade/internal/db"
	"github.com/xtrntr/papertrade/internal/models"
)

// MemUsers is an in-memory auth.UserStore. When Ledger is set, created
// users are also given a balance there so orders can be placed for them.
type MemUsers struct {
	mu     sync.Mutex
	users  map[string]*models.User
	nextID int
	Ledger *MemStore
}

func NewMemUsers(ledger *MemStore) *MemUsers {
	return &MemUsers{users: make(map[string]*models.User), Ledger: ledger}
}

func (m *MemUsers) CreateUser(ctx context.Context, username, passwordHash string, balance decimal.Decimal) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[username]; ok {
		return nil, db.ErrUsernameTaken
	}
	m.nextID++
	user := &models.User{
		ID:           m.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		Balance:      balance,
		CreatedAt:    time.Now().UTC(),
	}
	m.users[username] = user
	if m.Ledger != nil {
		m.Ledger.AddUser(user.ID, balance.InexactFloat64())
	}

	copied := *user
	return &copied, nil
}

func (m *MemUsers) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[username]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}
