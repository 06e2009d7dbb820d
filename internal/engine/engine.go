package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"tradeledger/internal/alerts"
	"tradeledger/internal/archive"
	"tradeledger/internal/ledger"
	"tradeledger/internal/match"
	"tradeledger/internal/metrics"
	"tradeledger/internal/order"
	"tradeledger/internal/pnl"
	"tradeledger/internal/source"
	"tradeledger/internal/trace"
)

var ErrUnknownSource = errors.New("unknown source")

// SyncResult distinguishes the three terminal outcomes the caller must
// never see collapsed: trades created, nothing new, or failure (the error
// return).
type SyncResult struct {
	RunID         string
	Created       bool
	NewTradeCount int
	NoNewTrades   bool
	Date          string
}

// Syncer runs the reconciliation pipeline: fetch, normalize, classify,
// diff, match, persist. One run per user at a time; the per-user lock plus
// the store's version CAS make the fetch-to-persist window a critical
// section, so two racing runs cannot double-insert the same fill.
type Syncer struct {
	adapters map[string]source.Adapter
	store    ledger.Store
	loc      *time.Location
	log      *zap.Logger
	metrics  *metrics.Metrics
	alerts   *alerts.Telegram
	archive  *archive.Writer
	entropy  *ulid.MonotonicEntropy

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(adapters map[string]source.Adapter, store ledger.Store, loc *time.Location, log *zap.Logger) *Syncer {
	if loc == nil {
		loc = time.UTC
	}
	return &Syncer{
		adapters: adapters,
		store:    store,
		loc:      loc,
		log:      log,
		metrics:  metrics.NewNoop(),
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *Syncer) SetMetrics(m *metrics.Metrics) {
	if m != nil {
		s.metrics = m
	}
}

func (s *Syncer) SetAlerts(t *alerts.Telegram) {
	s.alerts = t
}

func (s *Syncer) SetArchive(w *archive.Writer) {
	s.archive = w
}

// Sync runs one reconciliation for userID against the named source.
func (s *Syncer) Sync(ctx context.Context, userID, sourceName string, cred source.Credential) (SyncResult, error) {
	adapter, ok := s.adapters[sourceName]
	if !ok {
		return SyncResult{}, fmt.Errorf("%w: %s", ErrUnknownSource, sourceName)
	}
	runID := ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
	log := s.log.With(zap.String("run_id", runID), zap.String("user_id", userID), zap.String("source", sourceName))

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	s.metrics.SyncsRun.Inc()
	ctx, span := trace.StartSpan(ctx, "sync.run")
	defer span.End()

	result, err := s.run(ctx, log, runID, userID, adapter, cred)
	if err != nil {
		s.metrics.SyncsFailed.Inc()
		log.Warn("sync failed", zap.Error(err))
		if s.alerts != nil {
			s.notify(log, s.alerts.SyncFailed(ctx, userID, sourceName, err))
		}
		return SyncResult{RunID: runID}, err
	}
	if result.NoNewTrades {
		s.metrics.NoNewOrders.Inc()
		log.Info("no new orders")
	} else {
		log.Info("sync complete",
			zap.String("date", result.Date),
			zap.Int("new_trades", result.NewTradeCount),
		)
		if s.alerts != nil {
			s.notify(log, s.alerts.TradesRecorded(ctx, userID, result.Date, result.NewTradeCount))
		}
	}
	result.RunID = runID
	return result, nil
}

func (s *Syncer) run(ctx context.Context, log *zap.Logger, runID, userID string, adapter source.Adapter, cred source.Credential) (SyncResult, error) {
	// Fetch fails closed: FIFO matching assumes the full relevant order
	// history, so a failed or truncated feed aborts before any mutation.
	fetchCtx, fetchSpan := trace.StartSpan(ctx, "sync.fetch")
	raws, err := adapter.FetchOrders(fetchCtx, cred)
	fetchSpan.End()
	if err != nil {
		return SyncResult{}, err
	}

	completed := s.normalize(log, adapter, raws)
	if len(completed) == 0 {
		return SyncResult{NoNewTrades: true}, nil
	}
	order.SortAscending(completed)

	result, err := s.reconcile(ctx, userID, completed)
	if errors.Is(err, ledger.ErrConflict) {
		// A conflict means another writer landed first, so the dedup
		// snapshot the delta was diffed against is stale too. The retry
		// rebuilds the whole snapshot from the stored documents; fills
		// the competitor already recorded drop out of the delta instead
		// of being re-emitted under fresh keys. A second conflict means
		// a live writer outside our lock and the run aborts.
		s.metrics.PersistConflicts.Inc()
		log.Warn("ledger write conflict, retrying", zap.Error(err))
		result, err = s.reconcile(ctx, userID, completed)
		if errors.Is(err, ledger.ErrConflict) {
			return SyncResult{}, fmt.Errorf("sync aborted: %w", err)
		}
	}
	if err != nil {
		return SyncResult{}, err
	}
	s.archiveTrades(runID, userID, result)
	return result.SyncResult, nil
}

// reconcile builds the dedup snapshot from the stored documents, isolates
// the unrecorded delta, and writes the resulting trades. Snapshot and write
// happen together so a retry never reuses a delta diffed against state a
// competing writer has since changed.
func (s *Syncer) reconcile(ctx context.Context, userID string, completed []order.Order) (persistResult, error) {
	_, diffSpan := trace.StartSpan(ctx, "sync.diff")
	ledgers, err := s.store.ListLedgers(ctx, userID)
	if err != nil {
		diffSpan.End()
		return persistResult{}, fmt.Errorf("list ledgers: %w", err)
	}
	open, err := s.store.GetOpenPositions(ctx, userID)
	if err != nil {
		diffSpan.End()
		return persistResult{}, fmt.Errorf("load open positions: %w", err)
	}
	delta := diff(ledger.RecordedIDs(ledgers, open), completed)
	diffSpan.End()
	if len(delta) == 0 {
		return persistResult{SyncResult: SyncResult{NoNewTrades: true}}, nil
	}

	date := delta[0].Timestamp.In(s.loc).Format("2006-01-02")
	ctx, span := trace.StartSpan(ctx, "sync.persist")
	defer span.End()
	return s.matchAndWrite(ctx, userID, date, delta, open)
}

// diff isolates the unrecorded subset. Identity is external-id based:
// value-identical fills with distinct ids are distinct fills.
func diff(recorded map[string]struct{}, orders []order.Order) []order.Order {
	var delta []order.Order
	for _, o := range orders {
		if _, ok := recorded[o.ExternalID]; ok {
			continue
		}
		delta = append(delta, o)
	}
	return delta
}

type persistResult struct {
	SyncResult
	Trades map[string]ledger.Trade
}

func (s *Syncer) matchAndWrite(ctx context.Context, userID, date string, delta []order.Order, open []ledger.OpenPosition) (persistResult, error) {
	existing, version, err := s.store.GetLedger(ctx, userID, date)
	if err != nil {
		return persistResult{}, fmt.Errorf("read ledger: %w", err)
	}
	startKey := 1
	if existing != nil {
		startKey = ledger.HighestKey(existing.Trades) + 1
	}
	matched := match.Run(match.Input{
		Orders:   delta,
		StartKey: startKey,
		Seed:     open,
		Location: s.loc,
	})

	// Trades and the open-position snapshot travel in one store write so a
	// failure can never leave the two documents describing different runs.
	if len(matched.Trades) > 0 {
		if existing == nil {
			daily := ledger.Daily{Date: matched.Date, Trades: matched.Trades}
			if err := s.store.CreateLedger(ctx, userID, daily, matched.Open); err != nil {
				return persistResult{}, err
			}
		} else {
			if err := s.store.MergeTrades(ctx, userID, date, version, matched.Trades, matched.Open); err != nil {
				return persistResult{}, err
			}
		}
		for range matched.Trades {
			s.metrics.TradesCreated.Inc()
		}
	} else if err := s.store.SaveOpenPositions(ctx, userID, matched.Open); err != nil {
		return persistResult{}, fmt.Errorf("save open positions: %w", err)
	}

	result := persistResult{Trades: matched.Trades}
	if len(matched.Trades) == 0 {
		result.NoNewTrades = true
	} else {
		result.Created = true
		result.NewTradeCount = len(matched.Trades)
		result.Date = matched.Date
	}
	return result, nil
}

func (s *Syncer) normalize(log *zap.Logger, adapter source.Adapter, raws []source.RawOrder) []order.Order {
	completed := make([]order.Order, 0, len(raws))
	for _, raw := range raws {
		o, err := adapter.Normalize(raw)
		if err != nil {
			// Row-level failures are recovered locally; the batch goes on.
			s.metrics.MalformedOrders.Inc()
			log.Warn("dropping malformed order", zap.Error(err))
			continue
		}
		if adapter.Classify(o.RawStatus) != order.StatusComplete {
			continue
		}
		completed = append(completed, o)
	}
	return completed
}

func (s *Syncer) archiveTrades(runID, userID string, res persistResult) {
	if s.archive == nil || len(res.Trades) == 0 {
		return
	}
	now := time.Now().UTC()
	for key, trade := range res.Trades {
		details := pnl.DetailsFor(trade.Legs)
		s.archive.Enqueue(archive.ClosedTrade{
			Time:       now,
			RunID:      runID,
			UserID:     userID,
			Date:       res.Date,
			TradeKey:   key,
			Symbol:     trade.Symbol,
			Direction:  string(details.Direction),
			Quantity:   details.Quantity,
			EntryPrice: details.EntryPrice,
			ExitPrice:  details.ExitPrice,
			PnL:        details.PnL,
		})
	}
}

// notify only logs delivery failures; alerting is best effort and never
// fails a run.
func (s *Syncer) notify(log *zap.Logger, err error) {
	if err != nil {
		log.Warn("alert send failed", zap.Error(err))
	}
}

func (s *Syncer) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	return lock
}
