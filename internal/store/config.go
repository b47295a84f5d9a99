package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type SQLiteConfig struct {
	BusyTimeoutMs int
	WAL           bool
	ForeignKeys   bool
}

type Config struct {
	DSN    string
	SQLite SQLiteConfig
}

func DefaultConfig() Config {
	return Config{
		DSN: "",
		SQLite: SQLiteConfig{
			BusyTimeoutMs: 5000,
			WAL:           true,
			ForeignKeys:   true,
		},
	}
}

// ResolveDSN returns the configured DSN, or picks the usage database path.
// Precedence: explicit DSN, existing $HOME/.memebot/usage_stats.db, existing
// ./usage_stats.db, then create and use the home location.
func ResolveDSN(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn != "" {
		return dsn, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	homeDir := filepath.Join(home, ".memebot")
	homeDB := filepath.Join(homeDir, "usage_stats.db")
	localDB := filepath.Clean("./usage_stats.db")

	if _, err := os.Stat(homeDB); err == nil {
		return homeDB, nil
	}
	if _, err := os.Stat(localDB); err == nil {
		return localDB, nil
	}
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return "", err
	}
	return homeDB, nil
}

// sqliteDSN appends the pragma options the driver understands.
func sqliteDSN(path string, cfg SQLiteConfig) string {
	params := []string{}
	if cfg.BusyTimeoutMs > 0 {
		params = append(params, fmt.Sprintf("_pragma=busy_timeout(%d)", cfg.BusyTimeoutMs))
	}
	if cfg.WAL {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	if cfg.ForeignKeys {
		params = append(params, "_pragma=foreign_keys(1)")
	}
	if len(params) == 0 {
		return path
	}
	return path + "?" + strings.Join(params, "&")
}
