package source

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"tradeledger/internal/config"
)

// NewRegistry builds the enabled adapters keyed by source name.
func NewRegistry(cfg config.SourcesConfig, loc *time.Location, log *zap.Logger) (map[string]Adapter, error) {
	adapters := make(map[string]Adapter)
	if cfg.Zerodha.Enabled {
		a, err := NewZerodha(cfg.Zerodha, cfg.Timeout, loc, log)
		if err != nil {
			return nil, fmt.Errorf("zerodha adapter: %w", err)
		}
		adapters[a.Name()] = a
	}
	if cfg.Fyers.Enabled {
		a, err := NewFyers(cfg.Fyers, cfg.Timeout, loc, log)
		if err != nil {
			return nil, fmt.Errorf("fyers adapter: %w", err)
		}
		adapters[a.Name()] = a
	}
	if cfg.Dhan.Enabled {
		a, err := NewDhan(cfg.Dhan, cfg.Timeout, loc, log)
		if err != nil {
			return nil, fmt.Errorf("dhan adapter: %w", err)
		}
		adapters[a.Name()] = a
	}
	return adapters, nil
}
