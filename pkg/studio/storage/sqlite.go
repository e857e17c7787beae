package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const DefaultDBFile = "tunivo.sqlite3"
const errDBClientNil = "db client is nil"

// ErrNotFound is returned for missing accounts and jobs.
var ErrNotFound = errors.New("record not found")

type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

type Account struct {
	ID        string `gorm:"primaryKey;type:varchar(128)"`
	Plan      string `gorm:"type:varchar(32)"`
	Allowance int64
	Held      int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Reservation struct {
	AccountID string `gorm:"primaryKey;type:varchar(128)"`
	JobID     string `gorm:"primaryKey;type:varchar(128)"`
	Amount    int64
	Committed bool
	Released  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Job is the persisted status of one pipeline run.
type Job struct {
	ID          string `gorm:"primaryKey;type:varchar(64)"`
	AccountID   string `gorm:"type:varchar(128);index:idx_job_account"`
	Status      string `gorm:"type:varchar(16)"`
	Progress    float64
	Message     string
	Report      string // JSON encoded score
	Plan        string // JSON encoded plan
	OutputPath  string
	DownloadURL string
	CreatedAt   time.Time
	UpdatedAt   time.Time `gorm:"index:idx_job_updated"`
}

func NewDBClient() (*DBClient, error) {
	dbPath := os.Getenv("TUNIVO_DB_PATH")
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	return NewDBClientWithPath(dbPath)
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	// sqlite has a single writer; one connection keeps ledger transactions
	// strictly serialized instead of failing with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Account{}, &Reservation{}, &Job{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// OpenAccount inserts the account unless it exists and returns the stored row.
func (c *DBClient) OpenAccount(ctx context.Context, id, plan string, allowance int64) (Account, error) {
	if c == nil || c.DB == nil {
		return Account{}, errors.New(errDBClientNil)
	}
	acct := Account{ID: id, Plan: plan, Allowance: allowance}
	if err := c.DB.WithContext(ctx).Where("id = ?", id).FirstOrCreate(&acct).Error; err != nil {
		return Account{}, fmt.Errorf("opening account %s: %w", id, err)
	}
	return acct, nil
}

func (c *DBClient) GetAccount(ctx context.Context, id string) (Account, error) {
	if c == nil || c.DB == nil {
		return Account{}, errors.New(errDBClientNil)
	}
	var acct Account
	err := c.DB.WithContext(ctx).Where("id = ?", id).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Account{}, fmt.Errorf("querying account %s: %w", id, err)
	}
	return acct, nil
}

func (c *DBClient) GetReservation(ctx context.Context, accountID, jobID string) (Reservation, error) {
	if c == nil || c.DB == nil {
		return Reservation{}, errors.New(errDBClientNil)
	}
	var res Reservation
	err := c.DB.WithContext(ctx).Where("account_id = ? AND job_id = ?", accountID, jobID).First(&res).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Reservation{}, fmt.Errorf("reservation %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("querying reservation %s: %w", jobID, err)
	}
	return res, nil
}

// UpdateReservation loads the account and reservation, applies fn and writes
// both back in one transaction. res is zero-valued with an empty JobID when
// the job has no reservation; fn creates one by setting it.
func (c *DBClient) UpdateReservation(ctx context.Context, accountID, jobID string, fn func(acct *Account, res *Reservation) error) (Reservation, error) {
	if c == nil || c.DB == nil {
		return Reservation{}, errors.New(errDBClientNil)
	}

	var out Reservation
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acct Account
		if err := tx.Where("id = ?", accountID).First(&acct).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("account %s: %w", accountID, ErrNotFound)
			}
			return err
		}

		var res Reservation
		exists := true
		if err := tx.Where("account_id = ? AND job_id = ?", accountID, jobID).First(&res).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			res, exists = Reservation{}, false
		}

		if err := fn(&acct, &res); err != nil {
			return err
		}

		if err := tx.Save(&acct).Error; err != nil {
			return fmt.Errorf("saving account: %w", err)
		}
		switch {
		case res.JobID == "":
		case exists:
			if err := tx.Save(&res).Error; err != nil {
				return fmt.Errorf("saving reservation: %w", err)
			}
		default:
			res.AccountID = accountID
			if err := tx.Create(&res).Error; err != nil {
				return fmt.Errorf("creating reservation: %w", err)
			}
		}
		out = res
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	return out, nil
}

// SaveJob inserts or replaces a job row.
func (c *DBClient) SaveJob(ctx context.Context, job *Job) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	if err := c.DB.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("saving job %s: %w", job.ID, err)
	}
	return nil
}

func (c *DBClient) GetJob(ctx context.Context, id string) (Job, error) {
	if c == nil || c.DB == nil {
		return Job{}, errors.New(errDBClientNil)
	}
	var job Job
	err := c.DB.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Job{}, fmt.Errorf("querying job %s: %w", id, err)
	}
	return job, nil
}

// DeleteJobsBefore removes jobs last touched before cutoff and returns them so
// the caller can clean up their files.
func (c *DBClient) DeleteJobsBefore(ctx context.Context, cutoff time.Time) ([]Job, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var stale []Job
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("updated_at < ?", cutoff).Find(&stale).Error; err != nil {
			return err
		}
		if len(stale) == 0 {
			return nil
		}
		return tx.Where("updated_at < ?", cutoff).Delete(&Job{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("deleting stale jobs: %w", err)
	}
	return stale, nil
}
