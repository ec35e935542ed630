// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/ksred/klear-mf/internal/types"
)

type Config struct {
	Env   string `env:"ENV" envDefault:"development"`
	Debug bool   `env:"DEBUG" envDefault:"false"`
	Port  string `env:"PORT" envDefault:"8080"`

	DBPath string `env:"DB_PATH" envDefault:"klear-mf.db"`

	JWTSecret         string        `env:"JWT_SECRET" envDefault:"klear-secret-key"`
	TokenTTL          time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	APIKey            string        `env:"API_KEY" envDefault:"test-api-key"`
	APISecret         string        `env:"API_SECRET" envDefault:"test-api-secret"`
	DistributorID     string        `env:"DISTRIBUTOR_ID" envDefault:"ARN-DEMO"`
	InternalAPIKey    string        `env:"INTERNAL_API_KEY" envDefault:"internal-api-key"`
	InternalAPISecret string        `env:"INTERNAL_API_SECRET" envDefault:"internal-api-secret"`

	SubmitTimeout      time.Duration `env:"SUBMIT_TIMEOUT" envDefault:"10s"`
	ProbeTimeout       time.Duration `env:"PROBE_TIMEOUT" envDefault:"2s"`
	RuleReloadSchedule string        `env:"RULE_RELOAD_SCHEDULE" envDefault:"@every 30s"`
	DefaultConnector   string        `env:"DEFAULT_CONNECTOR" envDefault:"RTA"`

	ExchangeSchemes     []string `env:"EXCHANGE_SCHEMES" envSeparator:"," envDefault:"Alpha Growth Fund,Beta Corporate Debt Fund,Delta Tax Saver"`
	ExchangeSuccessRate float64  `env:"EXCHANGE_SUCCESS_RATE" envDefault:"0.95"`

	OrderRatePerMinute float64 `env:"ORDER_RATE_PER_MINUTE" envDefault:"600"`
	OrderRateBurst     int     `env:"ORDER_RATE_BURST" envDefault:"50"`

	SeedProducts bool   `env:"SEED_PRODUCTS" envDefault:"true"`
	MetricsPath  string `env:"METRICS_PATH" envDefault:"/metrics"`
}

// Load reads the optional dotenv files (".env" when none are given) and then
// parses the environment. Variables already set win over file values.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DefaultConnector != "" && !types.ConnectorType(c.DefaultConnector).Valid() {
		return fmt.Errorf("DEFAULT_CONNECTOR must be RTA or EXCHANGE, got %q", c.DefaultConnector)
	}
	if c.ExchangeSuccessRate < 0 || c.ExchangeSuccessRate > 1 {
		return fmt.Errorf("EXCHANGE_SUCCESS_RATE must be between 0 and 1, got %v", c.ExchangeSuccessRate)
	}
	if c.SubmitTimeout <= 0 || c.ProbeTimeout <= 0 {
		return errors.New("SUBMIT_TIMEOUT and PROBE_TIMEOUT must be positive")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}
