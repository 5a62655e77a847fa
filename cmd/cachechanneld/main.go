// Command cachechanneld runs the cache-invalidation coordinator: it reads
// proxy requests on stdin, answers FRESH/STALE over stdout, and polls
// cache-channel feeds in the background to keep its invalidation index
// current.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mchtech/cachechannel/channel"
	"github.com/mchtech/cachechannel/config"
	"github.com/mchtech/cachechannel/fetch"
	"github.com/mchtech/cachechannel/logging"
	"github.com/mchtech/cachechannel/persistence"
	"github.com/mchtech/cachechannel/persistence/diskstore"
	"github.com/mchtech/cachechannel/persistence/leveldbstore"
	"github.com/mchtech/cachechannel/persistence/redisstore"
	"github.com/mchtech/cachechannel/proto"
)

func main() {
	configPath := flag.String("config", "/etc/cachechannel/cachechannel.toml", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("Configuration file: %v", err)
	}

	logger := logging.New(logging.Options{
		Level:      cfg.Main.LogLevel,
		Path:       cfg.Main.LogFile,
		MaxBackups: cfg.Main.LogBackup,
	})

	if cfg.Main.PIDFile != "" {
		if err := acquirePIDFile(cfg.Main.PIDFile); err != nil {
			fatal("%v", err)
		}
		defer os.Remove(cfg.Main.PIDFile)
	}

	persist, err := openStore(cfg.Main)
	if err != nil {
		fatal("%v", err)
	}

	fetcher := fetch.NewHTTPFetcher(time.Duration(cfg.Main.FetchTimeoutSeconds)*time.Second, cfg.Main.ProxyAddr)
	manager := channel.NewManager(fetcher, persist, logger, cfg.Main.ExtendPct)
	manager.SetFetchTimeout(time.Duration(cfg.Main.FetchTimeoutSeconds) * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.Start(ctx)

	logger.Info().Msg("cachechanneld started")

	server := proto.New(os.Stdin, os.Stdout, manager, logger, nil)
	if err := server.Run(); err != nil {
		logger.Error().Err(err).Msg("protocol_loop_error")
	}

	manager.Shutdown()
	logger.Info().Msg("cachechanneld stopped")
}

// acquirePIDFile refuses to start if path already exists, matching the
// original daemon's single-instance guarantee, then writes this
// process's PID to it.
func acquirePIDFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		existing, _ := os.ReadFile(path)
		return fmt.Errorf("coordinator already running (PID %s)", existing)
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644)
}

// openStore resolves cfg.StoreBackend into a persistence.Store. An empty
// StoreBackend falls back to the plain-text FileStore at cfg.DBFile.
func openStore(cfg config.Main) (persistence.Store, error) {
	switch cfg.StoreBackend {
	case "":
		return persistence.NewFileStore(cfg.DBFile), nil
	case "disk":
		return diskstore.New(cfg.StoreDSN), nil
	case "leveldb":
		s, err := leveldbstore.New(cfg.StoreDSN)
		if err != nil {
			return nil, fmt.Errorf("leveldb store: %w", err)
		}
		return s, nil
	case "redis":
		s, err := redisstore.New(cfg.StoreDSN)
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store_backend %q", cfg.StoreBackend)
	}
}

func fatal(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
	os.Exit(1)
}
