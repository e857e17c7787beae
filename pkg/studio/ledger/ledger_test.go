package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/tunivo/studio/pkg/models"
)

func newTestLedger(t *testing.T, allowance int64) *Ledger {
	t.Helper()
	l, err := New(context.Background(), "creator", allowance)
	if err != nil {
		t.Fatalf("New ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func balance(t *testing.T, l *Ledger) models.Balance {
	t.Helper()
	bal, err := l.Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return bal
}

func TestCommitTwiceDebitsOnce(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 100)

	if _, err := l.Reserve(ctx, "job-1", 10); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	for i := 0; i < 2; i++ {
		res, err := l.Commit(ctx, "job-1")
		if err != nil {
			t.Fatalf("Commit #%d: %v", i+1, err)
		}
		if !res.Committed {
			t.Errorf("Commit #%d returned an uncommitted reservation", i+1)
		}
	}

	bal := balance(t, l)
	if bal.Allowance != 90 {
		t.Errorf("allowance = %d, want 90", bal.Allowance)
	}
	if bal.Held != 0 {
		t.Errorf("held = %d, want 0", bal.Held)
	}
	if l.Plan() != "creator" {
		t.Errorf("plan = %q", l.Plan())
	}
}

func TestReserveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 100)

	first, err := l.Reserve(ctx, "job-1", 10)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	second, err := l.Reserve(ctx, "job-1", 20)
	if err != nil {
		t.Fatalf("second Reserve: %v", err)
	}
	if second != first || second.Amount != 10 {
		t.Errorf("second reservation = %+v, want %+v", second, first)
	}
	if held := balance(t, l).Held; held != 10 {
		t.Errorf("held = %d, want 10", held)
	}

	// A retry after commit still returns the original reservation.
	if _, err := l.Commit(ctx, "job-1"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	again, err := l.Reserve(ctx, "job-1", 50)
	if err != nil {
		t.Fatalf("Reserve after commit: %v", err)
	}
	if again.Amount != 10 || !again.Committed {
		t.Errorf("reservation after commit = %+v", again)
	}
	if bal := balance(t, l); bal.Allowance != 90 || bal.Held != 0 {
		t.Errorf("balance after retry = %+v", bal)
	}
}

func TestReserveInsufficientAllowance(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 30)

	if _, err := l.Reserve(ctx, "job-a", 20); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	_, err := l.Reserve(ctx, "job-b", 11)
	if !errors.Is(err, models.ErrInsufficientAllowance) {
		t.Fatalf("got %v, want ErrInsufficientAllowance", err)
	}
	if _, err := l.Reservation(ctx, "job-b"); !errors.Is(err, models.ErrUnknownReservation) {
		t.Errorf("failed reserve left state behind: %v", err)
	}
	if held := balance(t, l).Held; held != 20 {
		t.Errorf("held = %d, want 20", held)
	}

	if _, err := l.Reserve(ctx, "job-b", 10); err != nil {
		t.Errorf("reserving exactly the remainder failed: %v", err)
	}
}

func TestReleaseFreesHeldCredits(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 20)

	if _, err := l.Reserve(ctx, "job-1", 20); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	for i := 0; i < 2; i++ {
		res, err := l.Release(ctx, "job-1")
		if err != nil {
			t.Fatalf("Release #%d: %v", i+1, err)
		}
		if !res.Released || res.Committed {
			t.Errorf("Release #%d returned %+v", i+1, res)
		}
	}
	if bal := balance(t, l); bal.Allowance != 20 || bal.Held != 0 {
		t.Errorf("balance = %+v, want allowance 20 held 0", bal)
	}

	if _, err := l.Commit(ctx, "job-1"); !errors.Is(err, models.ErrReservationReleased) {
		t.Errorf("commit after release: got %v, want ErrReservationReleased", err)
	}
	if _, err := l.Reserve(ctx, "job-2", 20); err != nil {
		t.Errorf("released credits should be reservable again: %v", err)
	}
}

func TestReleaseAfterCommitFails(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 50)

	if _, err := l.Reserve(ctx, "job-1", 5); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := l.Commit(ctx, "job-1"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := l.Release(ctx, "job-1"); !errors.Is(err, models.ErrAlreadyCommitted) {
		t.Fatalf("got %v, want ErrAlreadyCommitted", err)
	}
	if a := balance(t, l).Allowance; a != 45 {
		t.Errorf("allowance = %d, want 45", a)
	}
}

func TestUnknownReservation(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 10)

	if _, err := l.Commit(ctx, "ghost"); !errors.Is(err, models.ErrUnknownReservation) {
		t.Errorf("Commit: got %v", err)
	}
	if _, err := l.Release(ctx, "ghost"); !errors.Is(err, models.ErrUnknownReservation) {
		t.Errorf("Release: got %v", err)
	}
	if _, err := l.Reservation(ctx, "ghost"); !errors.Is(err, models.ErrUnknownReservation) {
		t.Errorf("Reservation: got %v", err)
	}
}

func TestReserveValidatesInput(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 10)

	if _, err := l.Reserve(ctx, " ", 1); !errors.Is(err, models.ErrInvalidJobID) {
		t.Errorf("blank job id: got %v", err)
	}
	for _, amount := range []int64{0, -3} {
		if _, err := l.Reserve(ctx, "job", amount); !errors.Is(err, models.ErrInvalidAmount) {
			t.Errorf("amount %d: got %v", amount, err)
		}
	}
	if _, err := New(ctx, "free", -1); !errors.Is(err, models.ErrInvalidAmount) {
		t.Errorf("negative allowance: got %v", err)
	}
}

func TestConcurrentRetriesDebitOnce(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 100)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Reserve(ctx, "job-1", 10); err != nil {
				t.Errorf("Reserve: %v", err)
				return
			}
			if _, err := l.Commit(ctx, "job-1"); err != nil {
				t.Errorf("Commit: %v", err)
			}
		}()
	}
	wg.Wait()

	if a := balance(t, l).Allowance; a != 90 {
		t.Errorf("allowance = %d, want 90", a)
	}
	if n := l.locks.size(); n != 0 {
		t.Errorf("%d job locks leaked", n)
	}
}

func TestConcurrentJobsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 50)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Reserve(ctx, fmt.Sprintf("job-%d", i), 10)
			switch {
			case err == nil:
				mu.Lock()
				granted++
				mu.Unlock()
			case !errors.Is(err, models.ErrInsufficientAllowance):
				t.Errorf("job-%d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if granted != 5 {
		t.Errorf("granted %d reservations of 10 from 50", granted)
	}
	if held := balance(t, l).Held; held != 50 {
		t.Errorf("held = %d, want 50", held)
	}
}

func TestAccountsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	a, err := New(ctx, "free", 30, WithStore(store), WithAccount("alice"))
	if err != nil {
		t.Fatalf("New alice: %v", err)
	}
	b, err := New(ctx, "pro", 500, WithStore(store), WithAccount("bob"))
	if err != nil {
		t.Fatalf("New bob: %v", err)
	}

	if _, err := a.Reserve(ctx, "job-1", 30); err != nil {
		t.Fatalf("alice Reserve: %v", err)
	}
	if _, err := b.Reservation(ctx, "job-1"); !errors.Is(err, models.ErrUnknownReservation) {
		t.Errorf("bob sees alice's reservation: %v", err)
	}

	// Reopening keeps the persisted allowance rather than the new default.
	again, err := New(ctx, "free", 999, WithStore(store), WithAccount("alice"))
	if err != nil {
		t.Fatalf("reopen alice: %v", err)
	}
	if bal := balance(t, again); bal.Allowance != 30 || bal.Held != 30 {
		t.Errorf("reopened balance = %+v", bal)
	}
}

func TestMemoryStoreHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := newTestLedger(t, 10)
	cancel()

	if _, err := l.Reserve(ctx, "job-1", 5); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if held := balance(t, l).Held; held != 0 {
		t.Errorf("held = %d after cancelled reserve", held)
	}
}
