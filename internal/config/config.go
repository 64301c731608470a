// Package config assembles the daemon configuration from an optional .env
// file, environment variables, and flags. Flags win over environment;
// everything has a usable default except the remote server URL and API key,
// which are required for sync.
package config

import (
	"errors"
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr          string
	DBPath        string
	MigrationsDir string
	QuestionsFile string

	ServerURL     string
	APIKey        string
	HTTPTimeout   time.Duration
	RetryInterval time.Duration

	JWTSecret string

	// Facility configuration consumed by the engine.
	CouponsToIssue      int
	ReenrollWindowDays  int
	PaymentAmount       float64
	PaymentCurrency     string
	FingerprintRequired bool
	AuditPhoneRequired  bool
}

// Load parses flags and environment. A .env file in the working directory
// is loaded first when present.
func Load(args []string) (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	fs := flag.NewFlagSet("fieldlink", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", "", "control API listen address")
	fs.StringVar(&cfg.DBPath, "db", "", "sqlite database path")
	fs.StringVar(&cfg.QuestionsFile, "questions", "", "questionnaire JSON file to load at startup")
	fs.StringVar(&cfg.ServerURL, "server", "", "remote collection server URL")
	fs.StringVar(&cfg.APIKey, "api-key", "", "remote collection API key (prefer env)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.Addr == "" {
		cfg.Addr = env("FIELDLINK_ADDR", ":8089")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = env("FIELDLINK_DB", "fieldlink.db")
	}
	cfg.MigrationsDir = os.Getenv("FIELDLINK_MIGRATIONS_DIR")
	if cfg.QuestionsFile == "" {
		cfg.QuestionsFile = os.Getenv("FIELDLINK_QUESTIONS")
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = os.Getenv("FIELDLINK_SERVER_URL")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("FIELDLINK_API_KEY")
	}
	cfg.JWTSecret = os.Getenv("FIELDLINK_JWT_SECRET")

	var err error
	if cfg.HTTPTimeout, err = envDuration("FIELDLINK_HTTP_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RetryInterval, err = envDuration("FIELDLINK_RETRY_INTERVAL", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.CouponsToIssue, err = envInt("FIELDLINK_COUPONS", 3); err != nil {
		return Config{}, err
	}
	if cfg.ReenrollWindowDays, err = envInt("FIELDLINK_REENROLL_DAYS", 90); err != nil {
		return Config{}, err
	}
	if cfg.PaymentAmount, err = envFloat("FIELDLINK_PAYMENT_AMOUNT", 0); err != nil {
		return Config{}, err
	}
	cfg.PaymentCurrency = env("FIELDLINK_PAYMENT_CURRENCY", "USD")
	cfg.FingerprintRequired = envBool("FIELDLINK_FINGERPRINT_REQUIRED")
	cfg.AuditPhoneRequired = envBool("FIELDLINK_AUDIT_PHONE_REQUIRED")
	return cfg, nil
}

// ValidateSync checks that the remote sync settings are present.
func (c Config) ValidateSync() error {
	if c.ServerURL == "" {
		return errors.New("FIELDLINK_SERVER_URL is required")
	}
	if c.APIKey == "" {
		return errors.New("FIELDLINK_API_KEY is required")
	}
	return nil
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New("invalid " + key + " value")
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.New("invalid " + key + " value")
	}
	return f, nil
}

func envBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.New("invalid " + key + " value")
	}
	return d, nil
}
