package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"launch-helpdesk/internal/chain"
)

type Config struct {
	AdminAddress string // ADMIN_ADDRESS (required, stored in Robonomics SS58 format)
	WSSEndpoint  string // WSS_ENDPOINT (required)

	OdooURL      string // ODOO_URL (required)
	OdooDB       string // ODOO_DB (required)
	OdooUser     string // ODOO_USER (required)
	OdooPassword string // ODOO_PASSWORD (required)

	IPFSAPIURL    string        // IPFS_API_URL (default "http://127.0.0.1:5001")
	StagingDir    string        // STAGING_DIR (default os.TempDir())
	MaxBundleSize int64         // MAX_BUNDLE_SIZE in bytes (default 32MiB)
	WorkerCount   int32         // WORKER_COUNT (default 16; 0 = unbounded)
	LivenessEvery time.Duration // LIVENESS_INTERVAL (default 15s)
	RetryDelay    time.Duration // TICKET_RETRY_DELAY (default 5s)

	NATSURL     string     // NATS_URL (optional, empty = no notifications)
	MetricsAddr string     // METRICS_ADDR (optional, empty = disabled)
	LogLevel    slog.Level // LOG_LEVEL (default info)
}

// LoadFromEnv reads a .env file when present, then the process environment.
func LoadFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return Load(os.Getenv)
}

// Load builds a Config from getenv. Split out so tests don't touch the process env.
func Load(getenv func(string) string) (*Config, error) {
	c := &Config{
		AdminAddress: getenv("ADMIN_ADDRESS"),
		WSSEndpoint:  getenv("WSS_ENDPOINT"),
		OdooURL:      strings.TrimRight(getenv("ODOO_URL"), "/"),
		OdooDB:       getenv("ODOO_DB"),
		OdooUser:     getenv("ODOO_USER"),
		OdooPassword: getenv("ODOO_PASSWORD"),
		IPFSAPIURL:   orDefault(getenv("IPFS_API_URL"), "http://127.0.0.1:5001"),
		StagingDir:   orDefault(getenv("STAGING_DIR"), os.TempDir()),
		NATSURL:      getenv("NATS_URL"),
		MetricsAddr:  getenv("METRICS_ADDR"),
	}

	for _, req := range []struct{ key, val string }{
		{"ADMIN_ADDRESS", c.AdminAddress},
		{"WSS_ENDPOINT", c.WSSEndpoint},
		{"ODOO_URL", c.OdooURL},
		{"ODOO_DB", c.OdooDB},
		{"ODOO_USER", c.OdooUser},
		{"ODOO_PASSWORD", c.OdooPassword},
	} {
		if req.val == "" {
			return nil, fmt.Errorf("%s is required", req.key)
		}
	}

	admin, err := chain.NormalizeAddress(c.AdminAddress)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_ADDRESS: %w", err)
	}
	c.AdminAddress = admin

	if c.LivenessEvery, err = duration(getenv, "LIVENESS_INTERVAL", 15*time.Second); err != nil {
		return nil, err
	}
	if c.RetryDelay, err = duration(getenv, "TICKET_RETRY_DELAY", 5*time.Second); err != nil {
		return nil, err
	}

	workers, err := integer(getenv, "WORKER_COUNT", 16)
	if err != nil {
		return nil, err
	}
	if workers < 0 {
		return nil, fmt.Errorf("WORKER_COUNT: must not be negative")
	}
	c.WorkerCount = int32(workers)

	if c.MaxBundleSize, err = integer(getenv, "MAX_BUNDLE_SIZE", 32<<20); err != nil {
		return nil, err
	}
	if c.MaxBundleSize <= 0 {
		return nil, fmt.Errorf("MAX_BUNDLE_SIZE: must be positive")
	}

	if v := getenv("LOG_LEVEL"); v != "" {
		if err := c.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("LOG_LEVEL: %w", err)
		}
	}

	return c, nil
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func duration(getenv func(string) string, key string, fallback time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive", key)
	}
	return d, nil
}

func integer(getenv func(string) string, key string, fallback int64) (int64, error) {
	v := getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
