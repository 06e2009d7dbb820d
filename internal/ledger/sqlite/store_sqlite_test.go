package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tradeledger/internal/ledger"
	"tradeledger/internal/order"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleDaily(date string) ledger.Daily {
	return ledger.Daily{
		Date: date,
		Trades: map[string]ledger.Trade{
			"TRADE_001": {
				Symbol: "RELIANCE",
				Legs: []ledger.Leg{
					{ExternalID: "B1", Side: order.SideBuy, Quantity: 10, Price: 100,
						Timestamp: time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)},
					{ExternalID: "S1", Side: order.SideSell, Quantity: 10, Price: 120,
						Timestamp: time.Date(2024, 3, 15, 9, 10, 0, 0, time.UTC)},
				},
				Strategy: "orb",
			},
		},
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	daily, version, err := s.GetLedger(ctx, "u1", "2024-03-15")
	if err != nil || daily != nil || version != 0 {
		t.Fatalf("missing ledger = %v, %d, %v", daily, version, err)
	}

	if err := s.CreateLedger(ctx, "u1", sampleDaily("2024-03-15"), nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateLedger(ctx, "u1", sampleDaily("2024-03-15"), nil); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("duplicate create error = %v, want ErrConflict", err)
	}

	daily, version, err = s.GetLedger(ctx, "u1", "2024-03-15")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if daily == nil || version != 1 {
		t.Fatalf("ledger = %v, version %d", daily, version)
	}
	trade := daily.Trades["TRADE_001"]
	if trade.Strategy != "orb" || len(trade.Legs) != 2 {
		t.Fatalf("trade = %+v", trade)
	}
}

func TestStoreMergeCAS(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	if err := s.CreateLedger(ctx, "u1", sampleDaily("2024-03-15"), nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, version, err := s.GetLedger(ctx, "u1", "2024-03-15")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	add := map[string]ledger.Trade{
		"TRADE_002": {Symbol: "RELIANCE", Legs: []ledger.Leg{
			{ExternalID: "B2", Side: order.SideBuy, Quantity: 5, Price: 101},
			{ExternalID: "S2", Side: order.SideSell, Quantity: 5, Price: 103},
		}},
	}
	if err := s.MergeTrades(ctx, "u1", "2024-03-15", version, add, nil); err != nil {
		t.Fatalf("merge: %v", err)
	}

	// Version moved; the stale handle must be rejected.
	if err := s.MergeTrades(ctx, "u1", "2024-03-15", version, map[string]ledger.Trade{"TRADE_003": {}}, nil); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("stale merge error = %v, want ErrConflict", err)
	}

	daily, newVersion, err := s.GetLedger(ctx, "u1", "2024-03-15")
	if err != nil {
		t.Fatalf("get after merge: %v", err)
	}
	if newVersion != version+1 {
		t.Fatalf("version = %d, want %d", newVersion, version+1)
	}
	if len(daily.Trades) != 2 || daily.Trades["TRADE_001"].Strategy != "orb" {
		t.Fatalf("merge damaged existing trades: %+v", daily.Trades)
	}

	// Re-inserting an existing key must fail even with a fresh version.
	if err := s.MergeTrades(ctx, "u1", "2024-03-15", newVersion, map[string]ledger.Trade{"TRADE_001": {}}, nil); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("duplicate key error = %v, want ErrConflict", err)
	}
}

func TestStoreListLedgers(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	for _, date := range []string{"2024-03-15", "2024-03-14"} {
		if err := s.CreateLedger(ctx, "u1", sampleDaily(date), nil); err != nil {
			t.Fatalf("create %s: %v", date, err)
		}
	}
	if err := s.CreateLedger(ctx, "u2", sampleDaily("2024-03-15"), nil); err != nil {
		t.Fatalf("create u2: %v", err)
	}

	ledgers, err := s.ListLedgers(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ledgers) != 2 {
		t.Fatalf("ledgers = %d, want 2", len(ledgers))
	}
}

func TestStoreOpenPositions(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	got, err := s.GetOpenPositions(ctx, "u1")
	if err != nil || got != nil {
		t.Fatalf("initial open = %v, %v", got, err)
	}

	pos := []ledger.OpenPosition{{
		Symbol: "TCS", Side: order.SideBuy, Remaining: 6,
		Fills: []ledger.Leg{{ExternalID: "B1", Side: order.SideBuy, Quantity: 6, Price: 3500,
			Timestamp: time.Date(2024, 3, 14, 14, 0, 0, 0, time.UTC)}},
	}}
	if err := s.SaveOpenPositions(ctx, "u1", pos); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err = s.GetOpenPositions(ctx, "u1")
	if err != nil || len(got) != 1 || got[0].Remaining != 6 {
		t.Fatalf("open = %+v, %v", got, err)
	}

	if err := s.SaveOpenPositions(ctx, "u1", nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err = s.GetOpenPositions(ctx, "u1")
	if err != nil || got != nil {
		t.Fatalf("cleared open = %v, %v", got, err)
	}
}

func TestStoreWritesCarryOpenSnapshot(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	carried := []ledger.OpenPosition{{
		Symbol: "TCS", Side: order.SideBuy, Remaining: 6,
		Fills: []ledger.Leg{{ExternalID: "B9", Side: order.SideBuy, Quantity: 6, Price: 3500,
			Timestamp: time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)}},
	}}
	if err := s.CreateLedger(ctx, "u1", sampleDaily("2024-03-15"), carried); err != nil {
		t.Fatalf("create: %v", err)
	}
	open, err := s.GetOpenPositions(ctx, "u1")
	if err != nil || len(open) != 1 || open[0].Remaining != 6 {
		t.Fatalf("open after create = %+v, %v", open, err)
	}

	// A conflicting merge rolls back as a unit: no trade lands and the
	// snapshot keeps its pre-merge value.
	if err := s.MergeTrades(ctx, "u1", "2024-03-15", 99, map[string]ledger.Trade{"TRADE_002": {}}, nil); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("stale merge error = %v", err)
	}
	open, err = s.GetOpenPositions(ctx, "u1")
	if err != nil || len(open) != 1 {
		t.Fatalf("open after failed merge = %+v, %v", open, err)
	}
	daily, version, err := s.GetLedger(ctx, "u1", "2024-03-15")
	if err != nil || len(daily.Trades) != 1 || version != 1 {
		t.Fatalf("ledger after failed merge = %+v, v%d, %v", daily, version, err)
	}

	// A successful merge replaces the snapshot in the same transaction.
	if err := s.MergeTrades(ctx, "u1", "2024-03-15", version, map[string]ledger.Trade{"TRADE_002": {}}, nil); err != nil {
		t.Fatalf("merge: %v", err)
	}
	open, err = s.GetOpenPositions(ctx, "u1")
	if err != nil || open != nil {
		t.Fatalf("open after merge = %+v, %v", open, err)
	}
}
