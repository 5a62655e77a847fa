// Package config loads the daemon's TOML configuration file, matching
// spec.md §6's key table. The original daemon used Python's ConfigParser
// .ini format; BurntSushi/toml is this corpus's idiomatic equivalent for
// a typed, validated config struct.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config is the daemon's full configuration, decoded from a single TOML
// file under a [main] table.
type Config struct {
	Main Main `toml:"main"`
}

// Main holds every key from spec.md §6.
type Main struct {
	// ExtendPct is X in the reschedule formula (spec.md §4.4.2), 0-100.
	ExtendPct int `toml:"extend_pct"`
	// FetchTimeoutSeconds bounds every poll HTTP fetch.
	FetchTimeoutSeconds int `toml:"fetch_timeout"`
	// ProxyAddr, when non-empty, routes poll fetches through this HTTP
	// proxy (host:port).
	ProxyAddr string `toml:"proxy_addr"`
	// DBFile is the FileStore path for the channel-URI set.
	DBFile string `toml:"db_file"`
	// PIDFile, when non-empty, is written on startup and removed on
	// clean shutdown.
	PIDFile string `toml:"pid_file"`
	// LogLevel is one of DEBUG, INFO, WARNING, CRITICAL.
	LogLevel string `toml:"log_level"`
	// LogFile, when non-empty, routes logs to a rotated file instead of
	// stderr.
	LogFile string `toml:"log_file"`
	// LogBackup is the number of rotated log files kept.
	LogBackup int `toml:"log_backup"`

	// StoreBackend selects the persistence.Store backend for the
	// channel-URI set, when set instead of DBFile: one of "disk",
	// "leveldb", "redis". Empty means use DBFile's plain FileStore.
	StoreBackend string `toml:"store_backend"`
	// StoreDSN is the backend-specific connection string or filesystem
	// path for StoreBackend (a directory for disk/leveldb, a single
	// address for redis).
	StoreDSN string `toml:"store_dsn"`
}

// Defaults matches the original daemon's built-in fallbacks (spec.md §6).
func Defaults() Main {
	return Main{
		ExtendPct:           33,
		FetchTimeoutSeconds: 10,
		DBFile:              "channels.db",
		LogLevel:            "INFO",
		LogBackup:           5,
	}
}

// Load decodes path into a Config, applying Defaults() for any key the
// file omits.
func Load(path string) (Config, error) {
	cfg := Config{Main: Defaults()}
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config: unknown keys: %v", undecoded)
	}
	return cfg, cfg.Main.validate()
}

func (m Main) validate() error {
	if m.ExtendPct < 0 || m.ExtendPct > 100 {
		return fmt.Errorf("config: extend_pct must be 0-100, got %d", m.ExtendPct)
	}
	if m.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("config: fetch_timeout must be positive, got %d", m.FetchTimeoutSeconds)
	}
	switch m.StoreBackend {
	case "", "disk", "leveldb", "redis":
	default:
		return fmt.Errorf("config: unknown store_backend %q", m.StoreBackend)
	}
	return nil
}
