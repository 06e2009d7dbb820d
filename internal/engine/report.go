package engine

import (
	"context"
	"fmt"
	"sort"

	"tradeledger/internal/ledger"
	"tradeledger/internal/pnl"
)

// DaySummary is one ledger day rolled up for reporting.
type DaySummary struct {
	Date   string
	Trades int
	PnL    float64
}

// Report is the read-side metrics view consumed by downstream reporting.
type Report struct {
	Overall pnl.Overall
	Days    []DaySummary
	Open    []ledger.OpenPosition
}

// Report aggregates realized P&L across every ledger recorded for the
// user. Trades failing the quantity invariant are skipped and listed in
// Overall.Skipped, never fatal.
func (s *Syncer) Report(ctx context.Context, userID string) (Report, error) {
	ledgers, err := s.store.ListLedgers(ctx, userID)
	if err != nil {
		return Report{}, fmt.Errorf("list ledgers: %w", err)
	}
	open, err := s.store.GetOpenPositions(ctx, userID)
	if err != nil {
		return Report{}, fmt.Errorf("load open positions: %w", err)
	}

	report := Report{
		Overall: pnl.OverallFor(ledgers),
		Open:    open,
	}
	for _, daily := range ledgers {
		day := DaySummary{Date: daily.Date}
		for _, trade := range daily.Trades {
			result := pnl.ForTrade(trade.Legs)
			if result.Mismatch {
				continue
			}
			day.Trades++
			day.PnL += *result.PnL
		}
		report.Days = append(report.Days, day)
	}
	sort.Slice(report.Days, func(i, j int) bool {
		return report.Days[i].Date < report.Days[j].Date
	})
	return report, nil
}
