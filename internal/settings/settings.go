// Package settings loads process configuration for the tunivo binaries from
// the environment, an optional .env file and an optional YAML plan catalog.
package settings

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAllowedOrigin  = "http://localhost:5173"
	DefaultHMACSecret     = "tunivo-dev-secret"
	DefaultRetentionHours = 2
	DefaultRateLimit      = 6
	DefaultPort           = 8080
	DefaultDBPath         = "tunivo.sqlite3"
	DefaultOutputDir      = "output"
	DefaultAudioDir       = "uploads"
	DefaultPlan           = "free"
)

// Settings is the resolved process configuration.
type Settings struct {
	AllowedOrigin string
	HMACSecret    string
	Retention     time.Duration
	RateLimit     int // Jobs per user per minute
	Port          int
	DBPath        string
	TempDir       string
	OutputDir     string
	AudioDir      string // Soundtracks referenced by job requests must live here
	Plans         Catalog
}

// Catalog maps a plan tier to the credits a new account starts with.
type Catalog map[string]int64

// DefaultCatalog is used when no plans file is configured.
func DefaultCatalog() Catalog {
	return Catalog{"free": 30, "creator": 100, "pro": 500}
}

// Allowance returns the starting credits for tier.
func (c Catalog) Allowance(tier string) (int64, error) {
	credits, ok := c[strings.ToLower(strings.TrimSpace(tier))]
	if !ok {
		return 0, fmt.Errorf("unknown plan %q (have %s)", tier, strings.Join(c.Tiers(), ", "))
	}
	return credits, nil
}

func (c Catalog) Tiers() []string {
	tiers := make([]string, 0, len(c))
	for t := range c {
		tiers = append(tiers, t)
	}
	sort.Strings(tiers)
	return tiers
}

type catalogFile struct {
	Plans map[string]int64 `yaml:"plans"`
}

// LoadCatalog reads a YAML file of the form
//
//	plans:
//	  free: 30
//	  pro: 500
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plans file: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing plans file %s: %w", path, err)
	}
	if len(file.Plans) == 0 {
		return nil, fmt.Errorf("plans file %s defines no plans", path)
	}
	cat := make(Catalog, len(file.Plans))
	for tier, credits := range file.Plans {
		if credits < 0 {
			return nil, fmt.Errorf("plan %q has negative allowance %d", tier, credits)
		}
		cat[strings.ToLower(tier)] = credits
	}
	return cat, nil
}

// Load reads envFiles (".env" when none are given) into the environment
// without overriding variables already set, then resolves Settings. Missing
// env files are not an error.
func Load(envFiles ...string) (*Settings, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv resolves Settings from the current environment only.
func FromEnv() (*Settings, error) {
	retention, err := envInt("TUNIVO_RETENTION_HOURS", DefaultRetentionHours)
	if err != nil {
		return nil, err
	}
	rate, err := envInt("TUNIVO_RATE_LIMIT", DefaultRateLimit)
	if err != nil {
		return nil, err
	}
	port, err := envInt("TUNIVO_PORT", DefaultPort)
	if err != nil {
		return nil, err
	}
	if retention <= 0 || rate <= 0 {
		return nil, fmt.Errorf("retention hours and rate limit must be positive, got %d and %d", retention, rate)
	}

	s := &Settings{
		AllowedOrigin: GetEnvOrDefault("TUNIVO_ALLOWED_ORIGIN", DefaultAllowedOrigin),
		HMACSecret:    GetEnvOrDefault("TUNIVO_HMAC_SECRET", DefaultHMACSecret),
		Retention:     time.Duration(retention) * time.Hour,
		RateLimit:     rate,
		Port:          port,
		DBPath:        GetEnvOrDefault("TUNIVO_DB_PATH", DefaultDBPath),
		TempDir:       GetEnvOrDefault("TUNIVO_TEMP_DIR", os.TempDir()),
		OutputDir:     GetEnvOrDefault("TUNIVO_OUTPUT_DIR", DefaultOutputDir),
		AudioDir:      GetEnvOrDefault("TUNIVO_AUDIO_DIR", DefaultAudioDir),
		Plans:         DefaultCatalog(),
	}

	if path := os.Getenv("TUNIVO_PLANS_FILE"); path != "" {
		if s.Plans, err = LoadCatalog(path); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, raw)
	}
	return n, nil
}
