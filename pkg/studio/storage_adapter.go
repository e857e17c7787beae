package studio

import (
	"context"
	"errors"
	"fmt"

	"github.com/tunivo/studio/pkg/models"
	"github.com/tunivo/studio/pkg/studio/ledger"
	"github.com/tunivo/studio/pkg/studio/storage"
)

// ledgerStore adapts storage.DBClient to ledger.Store.
type ledgerStore struct {
	db *storage.DBClient
}

// NewSQLiteLedgerStore opens a sqlite-backed ledger store at dbPath.
func NewSQLiteLedgerStore(dbPath string) (ledger.Store, error) {
	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		return nil, err
	}
	return &ledgerStore{db: db}, nil
}

// LedgerStoreFromClient shares an open DBClient, for callers that also keep
// job records in it.
func LedgerStoreFromClient(db *storage.DBClient) ledger.Store {
	return &ledgerStore{db: db}
}

func (s *ledgerStore) OpenAccount(ctx context.Context, account, plan string, allowance int64) (models.Balance, error) {
	acct, err := s.db.OpenAccount(ctx, account, plan, allowance)
	if err != nil {
		return models.Balance{}, err
	}
	return toBalance(acct), nil
}

func (s *ledgerStore) Balance(ctx context.Context, account string) (models.Balance, error) {
	acct, err := s.db.GetAccount(ctx, account)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Balance{}, fmt.Errorf("%w: %s", ledger.ErrUnknownAccount, account)
	}
	if err != nil {
		return models.Balance{}, err
	}
	return toBalance(acct), nil
}

func (s *ledgerStore) Reservation(ctx context.Context, account, jobID string) (models.Reservation, error) {
	res, err := s.db.GetReservation(ctx, account, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Reservation{}, fmt.Errorf("%w: %s", models.ErrUnknownReservation, jobID)
	}
	if err != nil {
		return models.Reservation{}, err
	}
	return toReservation(res), nil
}

func (s *ledgerStore) Update(ctx context.Context, account, jobID string, fn ledger.UpdateFunc) (models.Reservation, error) {
	row, err := s.db.UpdateReservation(ctx, account, jobID, func(acct *storage.Account, res *storage.Reservation) error {
		bal := toBalance(*acct)
		r := toReservation(*res)
		if err := fn(&bal, &r); err != nil {
			return err
		}
		acct.Allowance, acct.Held = bal.Allowance, bal.Held
		res.JobID = r.JobID
		res.Amount = r.Amount
		res.Committed = r.Committed
		res.Released = r.Released
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return models.Reservation{}, fmt.Errorf("%w: %s", ledger.ErrUnknownAccount, account)
	}
	if err != nil {
		return models.Reservation{}, err
	}
	return toReservation(row), nil
}

func (s *ledgerStore) Close() error {
	return s.db.Close()
}

func toBalance(a storage.Account) models.Balance {
	return models.Balance{Plan: a.Plan, Allowance: a.Allowance, Held: a.Held}
}

func toReservation(r storage.Reservation) models.Reservation {
	return models.Reservation{
		JobID:     r.JobID,
		Amount:    r.Amount,
		Committed: r.Committed,
		Released:  r.Released,
	}
}
