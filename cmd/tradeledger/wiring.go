package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"tradeledger/internal/alerts"
	"tradeledger/internal/archive"
	"tradeledger/internal/config"
	"tradeledger/internal/engine"
	"tradeledger/internal/ledger/sqlite"
	"tradeledger/internal/logging"
	"tradeledger/internal/metrics"
	"tradeledger/internal/source"
	"tradeledger/internal/trace"
)

type app struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *sqlite.Store
	syncer  *engine.Syncer
	archive *archive.Writer
	prom    *metrics.Prometheus
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.Log)
	if err := trace.Init(cfg.Trace.Enabled); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Ledger.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.Ledger.SQLitePath)
	if err != nil {
		return nil, err
	}
	adapters, err := source.NewRegistry(cfg.Sources, loc, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	syncer := engine.New(adapters, store, loc, log)
	a := &app{cfg: cfg, log: log, store: store, syncer: syncer}
	if cfg.Metrics.Enabled {
		a.prom = metrics.NewPrometheus()
		syncer.SetMetrics(a.prom.Metrics)
	}
	if cfg.Telegram.Enabled {
		syncer.SetAlerts(alerts.NewTelegram(cfg.Telegram, log))
	}
	if cfg.Archive.Enabled {
		writer, err := archive.New(cfg.Archive, log)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("init archive: %w", err)
		}
		a.archive = writer
		syncer.SetArchive(writer)
	}
	return a, nil
}

func (a *app) close() {
	if a.archive != nil {
		_ = a.archive.Close()
	}
	_ = a.store.Close()
	_ = a.log.Sync()
}

func credentialFromEnv(sourceName string) source.Credential {
	switch sourceName {
	case "zerodha":
		return source.Credential{
			APIKey:      os.Getenv("ZERODHA_API_KEY"),
			AccessToken: os.Getenv("ZERODHA_ACCESS_TOKEN"),
		}
	case "fyers":
		return source.Credential{
			APIKey:      os.Getenv("FYERS_APP_ID"),
			AccessToken: os.Getenv("FYERS_ACCESS_TOKEN"),
		}
	case "dhan":
		return source.Credential{
			ClientID:    os.Getenv("DHAN_CLIENT_ID"),
			AccessToken: os.Getenv("DHAN_ACCESS_TOKEN"),
		}
	default:
		return source.Credential{}
	}
}
