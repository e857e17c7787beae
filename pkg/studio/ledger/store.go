package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tunivo/studio/pkg/models"
)

var ErrUnknownAccount = errors.New("unknown ledger account")

// UpdateFunc mutates an account balance and one reservation atomically. res is
// the zero Reservation when the job has none yet; setting res.JobID creates
// it. Returning an error discards every change.
type UpdateFunc func(bal *models.Balance, res *models.Reservation) error

// Store persists accounts and reservations. Implementations must run each
// Update as a single transaction.
type Store interface {
	// OpenAccount creates the account with plan and allowance unless it
	// already exists, and returns its current balance.
	OpenAccount(ctx context.Context, account, plan string, allowance int64) (models.Balance, error)
	Balance(ctx context.Context, account string) (models.Balance, error)
	// Reservation returns ErrUnknownReservation when jobID has none.
	Reservation(ctx context.Context, account, jobID string) (models.Reservation, error)
	Update(ctx context.Context, account, jobID string, fn UpdateFunc) (models.Reservation, error)
	Close() error
}

// MemoryStore keeps ledger state in process memory.
type MemoryStore struct {
	mu           sync.Mutex
	accounts     map[string]models.Balance
	reservations map[string]map[string]models.Reservation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]models.Balance),
		reservations: make(map[string]map[string]models.Reservation),
	}
}

func (m *MemoryStore) OpenAccount(_ context.Context, account, plan string, allowance int64) (models.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bal, ok := m.accounts[account]; ok {
		return bal, nil
	}
	bal := models.Balance{Plan: plan, Allowance: allowance}
	m.accounts[account] = bal
	m.reservations[account] = make(map[string]models.Reservation)
	return bal, nil
}

func (m *MemoryStore) Balance(_ context.Context, account string) (models.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.accounts[account]
	if !ok {
		return models.Balance{}, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	return bal, nil
}

func (m *MemoryStore) Reservation(_ context.Context, account, jobID string) (models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.reservations[account][jobID]
	if !ok {
		return models.Reservation{}, fmt.Errorf("%w: %s", models.ErrUnknownReservation, jobID)
	}
	return res, nil
}

func (m *MemoryStore) Update(ctx context.Context, account, jobID string, fn UpdateFunc) (models.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return models.Reservation{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.accounts[account]
	if !ok {
		return models.Reservation{}, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	res := m.reservations[account][jobID]

	if err := fn(&bal, &res); err != nil {
		return models.Reservation{}, err
	}

	m.accounts[account] = bal
	if res.JobID != "" {
		m.reservations[account][res.JobID] = res
	}
	return res, nil
}

func (m *MemoryStore) Close() error { return nil }
