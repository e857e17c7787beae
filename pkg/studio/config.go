package studio

import (
	"os"

	"github.com/tunivo/studio/pkg/studio/ledger"
	"github.com/tunivo/studio/pkg/studio/montage"
	"github.com/tunivo/studio/pkg/studio/provider"
)

type Config struct {
	DBPath         string // sqlite ledger; empty keeps the ledger in memory
	TempDir        string
	Account        string
	PlanTier       string
	Allowance      int64
	CreditsPerClip int64
	ScoreCacheSize int
	Logger         Logger
	Provider       provider.ClipProvider
	Exporter       Exporter
	Ledger         *ledger.Ledger
	LedgerStore    ledger.Store
	Transitions    montage.TransitionPolicy
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

// WithAccount selects the ledger account charged for jobs.
func WithAccount(account string) Option {
	return func(c *Config) {
		c.Account = account
	}
}

func WithPlanTier(tier string) Option {
	return func(c *Config) {
		c.PlanTier = tier
	}
}

// WithAllowance sets the starting credits of a newly opened account.
func WithAllowance(credits int64) Option {
	return func(c *Config) {
		c.Allowance = credits
	}
}

func WithCreditsPerClip(credits int64) Option {
	return func(c *Config) {
		c.CreditsPerClip = credits
	}
}

// WithScoreCacheSize bounds the evaluation cache. Zero disables it.
func WithScoreCacheSize(n int) Option {
	return func(c *Config) {
		c.ScoreCacheSize = n
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithProvider(p provider.ClipProvider) Option {
	return func(c *Config) {
		c.Provider = p
	}
}

func WithExporter(e Exporter) Option {
	return func(c *Config) {
		c.Exporter = e
	}
}

// WithLedger uses an already opened ledger. Account, plan and allowance
// options are then ignored.
func WithLedger(l *ledger.Ledger) Option {
	return func(c *Config) {
		c.Ledger = l
	}
}

// WithLedgerStore opens the ledger account in a caller-owned store.
func WithLedgerStore(s ledger.Store) Option {
	return func(c *Config) {
		c.LedgerStore = s
	}
}

func WithTransitionPolicy(p montage.TransitionPolicy) Option {
	return func(c *Config) {
		c.Transitions = p
	}
}

func defaultConfig() *Config {
	return &Config{
		TempDir:        os.TempDir(),
		Account:        ledger.DefaultAccount,
		PlanTier:       "creator",
		Allowance:      100,
		CreditsPerClip: 1,
		ScoreCacheSize: 128,
	}
}
