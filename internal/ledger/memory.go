package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory is an in-process Store with the same versioning semantics as the
// sqlite implementation. Used in tests and for dry runs.
type Memory struct {
	mu      sync.Mutex
	docs    map[string]memoryDoc // keyed userID + "\x00" + date
	open    map[string][]byte
	version map[string]int64
}

type memoryDoc struct {
	raw []byte
}

func NewMemory() *Memory {
	return &Memory{
		docs:    make(map[string]memoryDoc),
		open:    make(map[string][]byte),
		version: make(map[string]int64),
	}
}

func memoryKey(userID, date string) string {
	return userID + "\x00" + date
}

func (m *Memory) GetLedger(ctx context.Context, userID, date string) (*Daily, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey(userID, date)
	doc, ok := m.docs[key]
	if !ok {
		return nil, 0, nil
	}
	var daily Daily
	if err := json.Unmarshal(doc.raw, &daily); err != nil {
		return nil, 0, err
	}
	return &daily, m.version[key], nil
}

func (m *Memory) CreateLedger(ctx context.Context, userID string, daily Daily, open []OpenPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey(userID, daily.Date)
	if _, ok := m.docs[key]; ok {
		return fmt.Errorf("ledger for %s already exists: %w", daily.Date, ErrConflict)
	}
	raw, err := json.Marshal(daily)
	if err != nil {
		return err
	}
	openRaw, err := EncodeOpenPositions(open)
	if err != nil {
		return err
	}
	m.docs[key] = memoryDoc{raw: raw}
	m.version[key] = 1
	m.setOpenLocked(userID, openRaw)
	return nil
}

func (m *Memory) MergeTrades(ctx context.Context, userID, date string, version int64, trades map[string]Trade, open []OpenPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey(userID, date)
	doc, ok := m.docs[key]
	if !ok {
		return fmt.Errorf("ledger for %s not found: %w", date, ErrConflict)
	}
	if m.version[key] != version {
		return ErrConflict
	}
	var daily Daily
	if err := json.Unmarshal(doc.raw, &daily); err != nil {
		return err
	}
	if daily.Trades == nil {
		daily.Trades = make(map[string]Trade, len(trades))
	}
	for k, trade := range trades {
		if _, exists := daily.Trades[k]; exists {
			return fmt.Errorf("trade key %s already present: %w", k, ErrConflict)
		}
		daily.Trades[k] = trade
	}
	raw, err := json.Marshal(daily)
	if err != nil {
		return err
	}
	openRaw, err := EncodeOpenPositions(open)
	if err != nil {
		return err
	}
	m.docs[key] = memoryDoc{raw: raw}
	m.version[key]++
	m.setOpenLocked(userID, openRaw)
	return nil
}

func (m *Memory) setOpenLocked(userID string, raw []byte) {
	if raw == nil {
		delete(m.open, userID)
	} else {
		m.open[userID] = raw
	}
}

func (m *Memory) ListLedgers(ctx context.Context, userID string) ([]Daily, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := userID + "\x00"
	var ledgers []Daily
	for key, doc := range m.docs {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		var daily Daily
		if err := json.Unmarshal(doc.raw, &daily); err != nil {
			return nil, err
		}
		ledgers = append(ledgers, daily)
	}
	return ledgers, nil
}

func (m *Memory) GetOpenPositions(ctx context.Context, userID string) ([]OpenPosition, error) {
	m.mu.Lock()
	raw := m.open[userID]
	m.mu.Unlock()
	return DecodeOpenPositions(raw)
}

func (m *Memory) SaveOpenPositions(ctx context.Context, userID string, positions []OpenPosition) error {
	raw, err := EncodeOpenPositions(positions)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.setOpenLocked(userID, raw)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
