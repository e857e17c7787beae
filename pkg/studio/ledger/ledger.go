// Package ledger holds, debits and releases credits for generation jobs.
//
// Every operation is idempotent per job id: a reservation is created once,
// committed at most once and debited exactly once however often a caller
// retries. Committed reservations are final.
package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/tunivo/studio/pkg/logger"
	"github.com/tunivo/studio/pkg/models"
)

// DefaultAccount names the ledger account when none is configured.
const DefaultAccount = "default"

type config struct {
	account string
	store   Store
	log     logger.Interface
}

type Option func(*config)

// WithAccount scopes the ledger to one account in a shared store.
func WithAccount(account string) Option {
	return func(c *config) {
		c.account = account
	}
}

func WithStore(s Store) Option {
	return func(c *config) {
		c.store = s
	}
}

func WithLogger(log logger.Interface) Option {
	return func(c *config) {
		c.log = log
	}
}

// Ledger is safe for concurrent use.
type Ledger struct {
	account string
	plan    string
	store   Store
	locks   *keyedMutex
	log     logger.Interface
}

// New opens the ledger account. An account that already exists in the store
// keeps its persisted plan and allowance.
func New(ctx context.Context, plan string, allowance int64, opts ...Option) (*Ledger, error) {
	cfg := &config{account: DefaultAccount}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.store == nil {
		cfg.store = NewMemoryStore()
	}
	if cfg.log == nil {
		cfg.log = logger.Nop()
	}
	if allowance < 0 {
		return nil, fmt.Errorf("%w: allowance %d", models.ErrInvalidAmount, allowance)
	}

	bal, err := cfg.store.OpenAccount(ctx, cfg.account, plan, allowance)
	if err != nil {
		return nil, fmt.Errorf("opening ledger account %q: %w", cfg.account, err)
	}

	return &Ledger{
		account: cfg.account,
		plan:    bal.Plan,
		store:   cfg.store,
		locks:   newKeyedMutex(),
		log:     cfg.log,
	}, nil
}

func (l *Ledger) Account() string { return l.account }

func (l *Ledger) Plan() string { return l.plan }

func (l *Ledger) Balance(ctx context.Context) (models.Balance, error) {
	return l.store.Balance(ctx, l.account)
}

// Allowance is the remaining credit, already net of committed jobs.
func (l *Ledger) Allowance(ctx context.Context) (int64, error) {
	bal, err := l.Balance(ctx)
	return bal.Allowance, err
}

// Held is the sum of open reservations.
func (l *Ledger) Held(ctx context.Context) (int64, error) {
	bal, err := l.Balance(ctx)
	return bal.Held, err
}

func (l *Ledger) Reservation(ctx context.Context, jobID string) (models.Reservation, error) {
	return l.store.Reservation(ctx, l.account, jobID)
}

// Reserve holds amount credits for jobID. A job that already has a
// reservation gets it back unchanged, whatever amount is passed. Reserving
// more than the unheld allowance fails without changing any state.
func (l *Ledger) Reserve(ctx context.Context, jobID string, amount int64) (models.Reservation, error) {
	if strings.TrimSpace(jobID) == "" {
		return models.Reservation{}, models.ErrInvalidJobID
	}

	unlock := l.locks.Lock(jobID)
	defer unlock()

	created := false
	res, err := l.store.Update(ctx, l.account, jobID, func(bal *models.Balance, res *models.Reservation) error {
		if res.JobID != "" {
			return nil
		}
		if amount <= 0 {
			return fmt.Errorf("%w: %d", models.ErrInvalidAmount, amount)
		}
		if amount > bal.Available() {
			return fmt.Errorf("%w: job %s needs %d, %d available", models.ErrInsufficientAllowance, jobID, amount, bal.Available())
		}
		*res = models.Reservation{JobID: jobID, Amount: amount}
		bal.Held += amount
		created = true
		return nil
	})
	if err != nil {
		return models.Reservation{}, err
	}

	if created {
		l.log.Infof("reserved %d credits for job %s", res.Amount, jobID)
	} else {
		l.log.Debugf("reservation for job %s already exists", jobID)
	}
	return res, nil
}

// Commit debits the reservation for jobID. Repeated commits are no-ops.
func (l *Ledger) Commit(ctx context.Context, jobID string) (models.Reservation, error) {
	unlock := l.locks.Lock(jobID)
	defer unlock()

	debited := false
	res, err := l.store.Update(ctx, l.account, jobID, func(bal *models.Balance, res *models.Reservation) error {
		switch {
		case res.JobID == "":
			return fmt.Errorf("%w: %s", models.ErrUnknownReservation, jobID)
		case res.Committed:
			return nil
		case res.Released:
			return fmt.Errorf("%w: job %s", models.ErrReservationReleased, jobID)
		}
		res.Committed = true
		bal.Held -= res.Amount
		bal.Allowance -= res.Amount
		debited = true
		return nil
	})
	if err != nil {
		return models.Reservation{}, err
	}

	if debited {
		l.log.Infof("committed %d credits for job %s", res.Amount, jobID)
	}
	return res, nil
}

// Release returns held credits for jobID without a debit. Releasing a
// released job is a no-op; releasing a committed one fails.
func (l *Ledger) Release(ctx context.Context, jobID string) (models.Reservation, error) {
	unlock := l.locks.Lock(jobID)
	defer unlock()

	freed := false
	res, err := l.store.Update(ctx, l.account, jobID, func(bal *models.Balance, res *models.Reservation) error {
		switch {
		case res.JobID == "":
			return fmt.Errorf("%w: %s", models.ErrUnknownReservation, jobID)
		case res.Released:
			return nil
		case res.Committed:
			return fmt.Errorf("%w: job %s", models.ErrAlreadyCommitted, jobID)
		}
		res.Released = true
		bal.Held -= res.Amount
		freed = true
		return nil
	})
	if err != nil {
		return models.Reservation{}, err
	}

	if freed {
		l.log.Infof("released %d credits for job %s", res.Amount, jobID)
	}
	return res, nil
}

// Close releases the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}
