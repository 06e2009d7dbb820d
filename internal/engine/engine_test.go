package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"tradeledger/internal/ledger"
	"tradeledger/internal/order"
	"tradeledger/internal/source"
)

var ist = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		panic(err)
	}
	return loc
}()

// fakeAdapter serves canned raw orders in a canonical shape so engine tests
// exercise the pipeline without a broker behind it.
type fakeAdapter struct {
	raws     []source.RawOrder
	fetchErr error
	fetches  int
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) FetchOrders(ctx context.Context, cred source.Credential) ([]source.RawOrder, error) {
	f.fetches++
	if f.fetchErr != nil {
		return nil, &source.AdapterError{Source: f.Name(), Err: f.fetchErr}
	}
	out := make([]source.RawOrder, len(f.raws))
	copy(out, f.raws)
	return out, nil
}

func (f *fakeAdapter) Normalize(raw source.RawOrder) (order.Order, error) {
	id, _ := raw["id"].(string)
	if id == "" {
		return order.Order{}, order.ErrMalformed
	}
	o := order.Order{
		ExternalID: id,
		Symbol:     raw["symbol"].(string),
		Side:       order.Side(raw["side"].(string)),
		Quantity:   raw["qty"].(float64),
		Price:      raw["price"].(float64),
		Timestamp:  raw["ts"].(time.Time),
		RawStatus:  raw["status"].(string),
	}
	return o, nil
}

func (f *fakeAdapter) Classify(rawStatus string) order.Status {
	return order.DefaultStatusTable().Classify(rawStatus)
}

func rawFill(id, symbol, side string, qty, price float64, at time.Time, status string) source.RawOrder {
	return source.RawOrder{
		"id": id, "symbol": symbol, "side": side,
		"qty": qty, "price": price, "ts": at, "status": status,
	}
}

func newTestSyncer(adapter source.Adapter, store ledger.Store) *Syncer {
	return New(map[string]source.Adapter{"fake": adapter}, store, ist, zap.NewNop())
}

func TestSyncCreatesTrades(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 3, 15, 9, 0, 0, 0, ist)
	adapter := &fakeAdapter{raws: []source.RawOrder{
		rawFill("B1", "RELIANCE", "BUY", 10, 100, day, "COMPLETE"),
		rawFill("B2", "RELIANCE", "BUY", 5, 101, day.Add(5*time.Minute), "COMPLETE"),
		rawFill("S1", "RELIANCE", "SELL", 12, 120, day.Add(10*time.Minute), "COMPLETE"),
		rawFill("S2", "RELIANCE", "SELL", 3, 121, day.Add(15*time.Minute), "COMPLETE"),
	}}
	store := ledger.NewMemory()
	syncer := newTestSyncer(adapter, store)

	res, err := syncer.Sync(ctx, "u1", "fake", source.Credential{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !res.Created || res.NoNewTrades {
		t.Fatalf("result = %+v, want trades created", res)
	}
	if res.NewTradeCount != 2 || res.Date != "2024-03-15" {
		t.Fatalf("result = %+v", res)
	}
	if res.RunID == "" {
		t.Fatal("missing run id")
	}

	daily, _, err := store.GetLedger(ctx, "u1", "2024-03-15")
	if err != nil || daily == nil {
		t.Fatalf("ledger: %v %v", daily, err)
	}
	if len(daily.Trades) != 2 {
		t.Fatalf("trades = %v", daily.Trades)
	}
	open, err := store.GetOpenPositions(ctx, "u1")
	if err != nil || open != nil {
		t.Fatalf("open = %v, %v", open, err)
	}
}

func TestSyncSecondRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 3, 15, 9, 0, 0, 0, ist)
	adapter := &fakeAdapter{raws: []source.RawOrder{
		rawFill("B1", "RELIANCE", "BUY", 10, 100, day, "COMPLETE"),
		rawFill("S1", "RELIANCE", "SELL", 10, 120, day.Add(10*time.Minute), "COMPLETE"),
	}}
	store := ledger.NewMemory()
	syncer := newTestSyncer(adapter, store)

	if _, err := syncer.Sync(ctx, "u1", "fake", source.Credential{}); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	res, err := syncer.Sync(ctx, "u1", "fake", source.Credential{})
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if !res.NoNewTrades || res.Created {
		t.Fatalf("second run result = %+v, want no new trades", res)
	}

	daily, _, err := store.GetLedger(ctx, "u1", "2024-03-15")
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(daily.Trades) != 1 {
		t.Fatalf("refetch duplicated trades: %v", daily.Trades)
	}
}

func TestSyncCarriesOpenRemainderAcrossRuns(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 3, 15, 9, 0, 0, 0, ist)
	adapter := &fakeAdapter{raws: []source.RawOrder{
		rawFill("B1", "TCS", "BUY", 10, 3500, day, "COMPLETE"),
	}}
	store := ledger.NewMemory()
	syncer := newTestSyncer(adapter, store)

	res, err := syncer.Sync(ctx, "u1", "fake", source.Credential{})
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if res.Created {
		t.Fatalf("no round trip should close yet: %+v", res)
	}
	open, err := store.GetOpenPositions(ctx, "u1")
	if err != nil || len(open) != 1 || open[0].Remaining != 10 {
		t.Fatalf("open = %+v, %v", open, err)
	}

	// Next day the closing fill arrives alongside the already-recorded buy.
	adapter.raws = append(adapter.raws,
		rawFill("S1", "TCS", "SELL", 10, 3550, day.Add(24*time.Hour), "COMPLETE"))
	res, err = syncer.Sync(ctx, "u1", "fake", source.Credential{})
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if !res.Created || res.NewTradeCount != 1 || res.Date != "2024-03-16" {
		t.Fatalf("second run result = %+v", res)
	}

	daily, _, err := store.GetLedger(ctx, "u1", "2024-03-16")
	if err != nil || daily == nil {
		t.Fatalf("ledger: %v %v", daily, err)
	}
	trade := daily.Trades["TRADE_001"]
	if len(trade.Legs) != 2 || trade.Legs[0].ExternalID != "B1" || trade.Legs[1].ExternalID != "S1" {
		t.Fatalf("trade = %+v", trade)
	}
	open, err = store.GetOpenPositions(ctx, "u1")
	if err != nil || open != nil {
		t.Fatalf("remainder not cleared: %+v, %v", open, err)
	}
}

func TestSyncSkipsCancelledAndMalformed(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 3, 15, 9, 0, 0, 0, ist)
	adapter := &fakeAdapter{raws: []source.RawOrder{
		rawFill("B1", "INFY", "BUY", 5, 1500, day, "COMPLETE"),
		rawFill("C1", "INFY", "BUY", 5, 1500, day, "CANCELLED"),
		rawFill("R1", "INFY", "SELL", 5, 1501, day, "REJECTED"),
		{"id": "", "symbol": "INFY"}, // malformed
		rawFill("S1", "INFY", "SELL", 5, 1550, day.Add(time.Hour), "COMPLETE"),
	}}
	store := ledger.NewMemory()
	syncer := newTestSyncer(adapter, store)

	res, err := syncer.Sync(ctx, "u1", "fake", source.Credential{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.NewTradeCount != 1 {
		t.Fatalf("result = %+v", res)
	}
	daily, _, err := store.GetLedger(ctx, "u1", "2024-03-15")
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	for _, trade := range daily.Trades {
		for _, leg := range trade.Legs {
			if leg.ExternalID == "C1" || leg.ExternalID == "R1" {
				t.Fatalf("non-complete fill recorded: %+v", trade)
			}
		}
	}
}

func TestSyncFetchFailureLeavesLedgerUntouched(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{fetchErr: errors.New("token expired")}
	store := ledger.NewMemory()
	syncer := newTestSyncer(adapter, store)

	_, err := syncer.Sync(ctx, "u1", "fake", source.Credential{})
	if err == nil {
		t.Fatal("expected fetch failure to surface")
	}
	var aerr *source.AdapterError
	if !errors.As(err, &aerr) {
		t.Fatalf("error = %v, want AdapterError", err)
	}

	ledgers, err := store.ListLedgers(ctx, "u1")
	if err != nil || len(ledgers) != 0 {
		t.Fatalf("ledgers after failed fetch = %v, %v", ledgers, err)
	}
}

func TestSyncUnknownSource(t *testing.T) {
	syncer := newTestSyncer(&fakeAdapter{}, ledger.NewMemory())
	_, err := syncer.Sync(context.Background(), "u1", "nope", source.Credential{})
	if !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("error = %v, want ErrUnknownSource", err)
	}
}

func TestSyncContinuesTradeKeysAcrossRuns(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 3, 15, 9, 0, 0, 0, ist)
	adapter := &fakeAdapter{raws: []source.RawOrder{
		rawFill("B1", "AAA", "BUY", 1, 10, day, "COMPLETE"),
		rawFill("S1", "AAA", "SELL", 1, 12, day.Add(time.Minute), "COMPLETE"),
	}}
	store := ledger.NewMemory()
	syncer := newTestSyncer(adapter, store)
	if _, err := syncer.Sync(ctx, "u1", "fake", source.Credential{}); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	// A later fill pair on the same day must continue the key sequence.
	adapter.raws = append(adapter.raws,
		rawFill("B2", "AAA", "BUY", 2, 11, day.Add(2*time.Hour), "COMPLETE"),
		rawFill("S2", "AAA", "SELL", 2, 13, day.Add(3*time.Hour), "COMPLETE"))
	if _, err := syncer.Sync(ctx, "u1", "fake", source.Credential{}); err != nil {
		t.Fatalf("second sync: %v", err)
	}

	daily, _, err := store.GetLedger(ctx, "u1", "2024-03-15")
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if _, ok := daily.Trades["TRADE_001"]; !ok {
		t.Fatalf("trades = %v", daily.Trades)
	}
	if _, ok := daily.Trades["TRADE_002"]; !ok {
		t.Fatalf("second run restarted keys: %v", daily.Trades)
	}
}

func TestReportAggregatesLedgers(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 3, 15, 9, 0, 0, 0, ist)
	adapter := &fakeAdapter{raws: []source.RawOrder{
		rawFill("B1", "AAA", "BUY", 10, 100, day, "COMPLETE"),
		rawFill("S1", "AAA", "SELL", 10, 120, day.Add(time.Minute), "COMPLETE"),
	}}
	store := ledger.NewMemory()
	syncer := newTestSyncer(adapter, store)

	if _, err := syncer.Sync(ctx, "u1", "fake", source.Credential{}); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// Next day's fills arrive and are reconciled by a second run.
	adapter.raws = append(adapter.raws,
		rawFill("B2", "BBB", "BUY", 5, 50, day.Add(24*time.Hour), "COMPLETE"),
		rawFill("S2", "BBB", "SELL", 5, 45, day.Add(24*time.Hour+time.Minute), "COMPLETE"),
		rawFill("B3", "CCC", "BUY", 3, 10, day.Add(24*time.Hour+2*time.Minute), "COMPLETE"))
	if _, err := syncer.Sync(ctx, "u1", "fake", source.Credential{}); err != nil {
		t.Fatalf("second sync: %v", err)
	}

	report, err := syncer.Report(ctx, "u1")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Overall.Trades != 2 || report.Overall.PnL != 175 {
		t.Fatalf("overall = %+v", report.Overall)
	}
	if report.Overall.Wins != 1 || report.Overall.Losses != 1 {
		t.Fatalf("overall = %+v", report.Overall)
	}
	if len(report.Days) != 2 || report.Days[0].Date != "2024-03-15" || report.Days[1].Date != "2024-03-16" {
		t.Fatalf("days = %+v", report.Days)
	}
	if len(report.Open) != 1 || report.Open[0].Symbol != "CCC" || report.Open[0].Remaining != 3 {
		t.Fatalf("open = %+v", report.Open)
	}
}

// racingStore lands a competing trade carrying the same fills right before
// the engine's own merge, so the engine's write conflicts the way a second
// process syncing the same account would make it conflict.
type racingStore struct {
	*ledger.Memory
	raced bool
}

func (r *racingStore) MergeTrades(ctx context.Context, userID, date string, version int64, trades map[string]ledger.Trade, open []ledger.OpenPosition) error {
	if !r.raced {
		r.raced = true
		competitor := map[string]ledger.Trade{
			"TRADE_002": {Symbol: "RELIANCE", Legs: []ledger.Leg{
				{ExternalID: "B2", Side: order.SideBuy, Quantity: 5, Price: 101},
				{ExternalID: "S2", Side: order.SideSell, Quantity: 5, Price: 103},
			}},
		}
		if err := r.Memory.MergeTrades(ctx, userID, date, version, competitor, nil); err != nil {
			return err
		}
	}
	return r.Memory.MergeTrades(ctx, userID, date, version, trades, open)
}

func TestSyncConflictRetryRebuildsDedupSnapshot(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 3, 15, 9, 0, 0, 0, ist)
	adapter := &fakeAdapter{raws: []source.RawOrder{
		rawFill("B1", "RELIANCE", "BUY", 10, 100, day, "COMPLETE"),
		rawFill("S1", "RELIANCE", "SELL", 10, 120, day.Add(time.Minute), "COMPLETE"),
	}}
	store := &racingStore{Memory: ledger.NewMemory()}
	syncer := newTestSyncer(adapter, store)

	if _, err := syncer.Sync(ctx, "u1", "fake", source.Credential{}); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	// The second batch conflicts mid-merge with a writer that records the
	// exact same fills. The retry must re-diff against the fresh documents
	// and find nothing left to record, never re-emit B2/S2 under new keys.
	adapter.raws = append(adapter.raws,
		rawFill("B2", "RELIANCE", "BUY", 5, 101, day.Add(2*time.Hour), "COMPLETE"),
		rawFill("S2", "RELIANCE", "SELL", 5, 103, day.Add(3*time.Hour), "COMPLETE"))
	res, err := syncer.Sync(ctx, "u1", "fake", source.Credential{})
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if !res.NoNewTrades || res.Created {
		t.Fatalf("result = %+v, want no new trades after competitor won the race", res)
	}
	if !store.raced {
		t.Fatal("race never triggered")
	}

	daily, _, err := store.GetLedger(ctx, "u1", "2024-03-15")
	if err != nil || daily == nil {
		t.Fatalf("ledger: %v %v", daily, err)
	}
	if len(daily.Trades) != 2 {
		t.Fatalf("trades = %v, want the competitor's write and nothing more", daily.Trades)
	}
	seen := make(map[string]int)
	for _, trade := range daily.Trades {
		for _, leg := range trade.Legs {
			seen[leg.ExternalID]++
		}
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("fill %s recorded %d times", id, n)
		}
	}
}

// snapshotFailStore refuses standalone snapshot writes, proving a run that
// produced trades persists its remainder through the trade write itself.
type snapshotFailStore struct {
	*ledger.Memory
}

func (s *snapshotFailStore) SaveOpenPositions(ctx context.Context, userID string, positions []ledger.OpenPosition) error {
	return errors.New("open position write refused")
}

func TestSyncRemainderRidesTheTradeWrite(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 3, 15, 9, 0, 0, 0, ist)
	adapter := &fakeAdapter{raws: []source.RawOrder{
		rawFill("B1", "TCS", "BUY", 10, 3500, day, "COMPLETE"),
		rawFill("S1", "TCS", "SELL", 4, 3550, day.Add(time.Minute), "COMPLETE"),
	}}
	store := &snapshotFailStore{Memory: ledger.NewMemory()}
	syncer := newTestSyncer(adapter, store)

	res, err := syncer.Sync(ctx, "u1", "fake", source.Credential{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !res.Created || res.NewTradeCount != 1 {
		t.Fatalf("result = %+v", res)
	}
	open, err := store.Memory.GetOpenPositions(ctx, "u1")
	if err != nil || len(open) != 1 || open[0].Remaining != 6 {
		t.Fatalf("open = %+v, %v, want the remainder persisted with the trade", open, err)
	}
}

func TestSyncWithoutTradesFailsOnSnapshotError(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 3, 15, 9, 0, 0, 0, ist)
	adapter := &fakeAdapter{raws: []source.RawOrder{
		rawFill("B1", "TCS", "BUY", 10, 3500, day, "COMPLETE"),
	}}
	store := &snapshotFailStore{Memory: ledger.NewMemory()}
	syncer := newTestSyncer(adapter, store)

	if _, err := syncer.Sync(ctx, "u1", "fake", source.Credential{}); err == nil {
		t.Fatal("expected snapshot write failure to surface")
	}
}
