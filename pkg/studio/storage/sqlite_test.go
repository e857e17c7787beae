package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Helper function to create a temporary test database
func setupTestDB(t *testing.T) (*DBClient, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test_tunivo.sqlite3")
	client, err := NewDBClientWithPath(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test DB client: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})
	return client, dbPath
}

func TestNewDBClient(t *testing.T) {
	client, dbPath := setupTestDB(t)

	if client.DB == nil || client.db == nil {
		t.Fatal("Expected non-nil database handles")
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("Database file was not created at %s", dbPath)
	}
}

func TestNewDBClientFromEnv(t *testing.T) {
	customPath := filepath.Join(t.TempDir(), "subdir", "custom.db")
	t.Setenv("TUNIVO_DB_PATH", customPath)

	client, err := NewDBClient()
	if err != nil {
		t.Fatalf("NewDBClient: %v", err)
	}
	defer client.Close()

	if _, err := os.Stat(customPath); os.IsNotExist(err) {
		t.Errorf("Database was not created in nested directory %s", customPath)
	}
}

func TestOpenAccountKeepsExistingRow(t *testing.T) {
	client, _ := setupTestDB(t)
	ctx := context.Background()

	first, err := client.OpenAccount(ctx, "alice", "creator", 100)
	if err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}
	if first.Allowance != 100 || first.Plan != "creator" {
		t.Errorf("unexpected account %+v", first)
	}

	again, err := client.OpenAccount(ctx, "alice", "pro", 500)
	if err != nil {
		t.Fatalf("second OpenAccount: %v", err)
	}
	if again.Allowance != 100 || again.Plan != "creator" {
		t.Errorf("reopening overwrote the account: %+v", again)
	}

	if _, err := client.GetAccount(ctx, "bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAccount(bob): got %v, want ErrNotFound", err)
	}
}

func TestUpdateReservation(t *testing.T) {
	client, _ := setupTestDB(t)
	ctx := context.Background()
	if _, err := client.OpenAccount(ctx, "alice", "creator", 100); err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}

	res, err := client.UpdateReservation(ctx, "alice", "job-1", func(acct *Account, res *Reservation) error {
		if res.JobID != "" {
			t.Errorf("expected no reservation yet, got %+v", res)
		}
		res.JobID = "job-1"
		res.Amount = 10
		acct.Held += 10
		return nil
	})
	if err != nil {
		t.Fatalf("create reservation: %v", err)
	}
	if res.AccountID != "alice" || res.Amount != 10 {
		t.Errorf("unexpected reservation %+v", res)
	}

	_, err = client.UpdateReservation(ctx, "alice", "job-1", func(acct *Account, res *Reservation) error {
		res.Committed = true
		acct.Held -= res.Amount
		acct.Allowance -= res.Amount
		return nil
	})
	if err != nil {
		t.Fatalf("commit reservation: %v", err)
	}

	acct, err := client.GetAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.Allowance != 90 || acct.Held != 0 {
		t.Errorf("account after commit = %+v", acct)
	}
	stored, err := client.GetReservation(ctx, "alice", "job-1")
	if err != nil {
		t.Fatalf("GetReservation: %v", err)
	}
	if !stored.Committed || stored.Released {
		t.Errorf("stored reservation = %+v", stored)
	}
}

func TestUpdateReservationRollsBack(t *testing.T) {
	client, _ := setupTestDB(t)
	ctx := context.Background()
	if _, err := client.OpenAccount(ctx, "alice", "free", 30); err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}

	boom := errors.New("boom")
	_, err := client.UpdateReservation(ctx, "alice", "job-1", func(acct *Account, res *Reservation) error {
		res.JobID = "job-1"
		res.Amount = 5
		acct.Held += 5
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}

	if _, err := client.GetReservation(ctx, "alice", "job-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("reservation survived rollback: %v", err)
	}
	acct, _ := client.GetAccount(ctx, "alice")
	if acct.Held != 0 {
		t.Errorf("held = %d after rollback", acct.Held)
	}

	_, err = client.UpdateReservation(ctx, "nobody", "job-1", func(*Account, *Reservation) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown account: got %v, want ErrNotFound", err)
	}
}

func TestJobsRoundTripAndExpire(t *testing.T) {
	client, _ := setupTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"old", "fresh"} {
		if err := client.SaveJob(ctx, &Job{ID: id, AccountID: "alice", Status: "queued"}); err != nil {
			t.Fatalf("SaveJob(%s): %v", id, err)
		}
	}
	if err := client.SaveJob(ctx, &Job{ID: "fresh", AccountID: "alice", Status: "completed", Progress: 1}); err != nil {
		t.Fatalf("update job: %v", err)
	}
	job, err := client.GetJob(ctx, "fresh")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != "completed" || job.Progress != 1 {
		t.Errorf("job = %+v", job)
	}

	old := time.Now().Add(-3 * time.Hour)
	if err := client.DB.Model(&Job{}).Where("id = ?", "old").UpdateColumn("updated_at", old).Error; err != nil {
		t.Fatalf("backdating job: %v", err)
	}

	stale, err := client.DeleteJobsBefore(ctx, time.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("DeleteJobsBefore: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "old" {
		t.Fatalf("stale jobs = %+v", stale)
	}
	if _, err := client.GetJob(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired job still present: %v", err)
	}
	if _, err := client.GetJob(ctx, "fresh"); err != nil {
		t.Errorf("fresh job removed: %v", err)
	}
}

func TestNilClient(t *testing.T) {
	var c *DBClient
	if err := c.Close(); err != nil {
		t.Errorf("Close on nil client: %v", err)
	}
	if _, err := c.GetJob(context.Background(), "x"); err == nil {
		t.Error("expected an error from a nil client")
	}
}
