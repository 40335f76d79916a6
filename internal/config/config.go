package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr     string
	BaseURL        string
	CookieHashKey  []byte
	CookieBlockKey []byte

	// storage
	DatabaseDriver string
	DatabaseURL    string
	SQLitePath     string
	AccountKey     []byte

	// portal
	PortalBaseURL  string
	PortalInsecure bool
	PortalTimeout  time.Duration
	CrawlerEmail   string
	CrawlerPass    string
	PrimaryAntenna int

	// engine
	MaxWorkers int
	RateLimit  time.Duration
	Sleep      time.Duration

	LogLevel  string
	LogPretty bool

	TelegramToken  string
	TelegramChatID int64
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:     os.Getenv("LISTEN_ADDR"),
		BaseURL:        getenv("BASE_URL", "http://localhost:8080"),
		DatabaseDriver: strings.ToLower(getenv("DATABASE_DRIVER", "sqlite")),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SQLitePath:     getenv("SQLITE_PATH", "./tcf.sqlite"),
		PortalBaseURL:  strings.TrimRight(getenv("PORTAL_BASE_URL", "https://portail.if-algerie.com"), "/"),
		CrawlerEmail:   os.Getenv("CRAWLER_EMAIL"),
		CrawlerPass:    os.Getenv("CRAWLER_PASSWORD"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
	}
	if _, ok := os.LookupEnv("LISTEN_ADDR"); !ok {
		cfg.ListenAddr = ":8080"
	}

	switch cfg.DatabaseDriver {
	case "sqlite":
	case "postgres", "pgx":
		cfg.DatabaseDriver = "postgres"
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return Config{}, fmt.Errorf("invalid DATABASE_DRIVER %q (want sqlite or postgres)", cfg.DatabaseDriver)
	}

	var err error
	if cfg.PortalInsecure, err = getbool("PORTAL_INSECURE_TLS", true); err != nil {
		return Config{}, err
	}
	if cfg.LogPretty, err = getbool("LOG_PRETTY", false); err != nil {
		return Config{}, err
	}

	timeoutSec, err := getint("PORTAL_TIMEOUT_SECONDS", 10, 1)
	if err != nil {
		return Config{}, err
	}
	cfg.PortalTimeout = time.Duration(timeoutSec) * time.Second

	if cfg.PrimaryAntenna, err = getint("PRIMARY_ANTENNA", 1, 1); err != nil {
		return Config{}, err
	}
	if cfg.MaxWorkers, err = getint("ENGINE_MAX_WORKERS", 10, 1); err != nil {
		return Config{}, err
	}
	rateMS, err := getint("ENGINE_RATE_LIMIT_MS", 500, 0)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimit = time.Duration(rateMS) * time.Millisecond
	sleepSec, err := getint("ENGINE_SLEEP_SECONDS", 5, 0)
	if err != nil {
		return Config{}, err
	}
	cfg.Sleep = time.Duration(sleepSec) * time.Second

	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if cfg.TelegramChatID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return Config{}, fmt.Errorf("invalid TELEGRAM_CHAT_ID")
		}
	}

	if v := os.Getenv("ACCOUNT_ENC_KEY"); v != "" {
		if cfg.AccountKey, err = decodeB64(v); err != nil {
			return Config{}, fmt.Errorf("ACCOUNT_ENC_KEY: %w", err)
		}
	}

	hashKey := os.Getenv("COOKIE_HASH_KEY")
	blockKey := os.Getenv("COOKIE_BLOCK_KEY")
	if hashKey != "" {
		if cfg.CookieHashKey, err = decodeB64(hashKey); err != nil {
			return Config{}, fmt.Errorf("COOKIE_HASH_KEY: %w", err)
		}
	}
	if blockKey != "" {
		if cfg.CookieBlockKey, err = decodeB64(blockKey); err != nil {
			return Config{}, fmt.Errorf("COOKIE_BLOCK_KEY: %w", err)
		}
	}

	return cfg, nil
}

// WebEnabled reports whether the operator UI should be served.
func (c Config) WebEnabled() bool { return c.ListenAddr != "" }

func (c Config) ValidateWeb() error {
	if len(c.CookieHashKey) == 0 || len(c.CookieBlockKey) == 0 {
		return fmt.Errorf("COOKIE_HASH_KEY and COOKIE_BLOCK_KEY are required (32 and 32/16/24/32 bytes base64)")
	}
	return nil
}

func (c Config) TelegramEnabled() bool { return c.TelegramToken != "" && c.TelegramChatID != 0 }

// DSN is the connection string for the selected driver.
func (c Config) DSN() string {
	if c.DatabaseDriver == "postgres" {
		return c.DatabaseURL
	}
	return c.SQLitePath
}

func decodeB64(s string) ([]byte, error) {
	if b, err := os.ReadFile(s); err == nil {
		// allow pointing to file path for k8s secret mounts
		s = string(b)
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getint(k string, def, min int) (int, error) {
	v, err := strconv.Atoi(getenv(k, strconv.Itoa(def)))
	if err != nil || v < min {
		return 0, fmt.Errorf("invalid %s", k)
	}
	return v, nil
}

func getbool(k string, def bool) (bool, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s", k)
	}
	return b, nil
}
