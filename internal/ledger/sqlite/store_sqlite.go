package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"tradeledger/internal/ledger"
)

// Store persists ledger documents as JSON rows with a version column. The
// version is the compare-and-swap guard for merge writes: every merge runs
// in one transaction against the version the caller read.
type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ledgers (
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		doc TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (user_id, date)
	)`); err != nil {
		return err
	}
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS open_positions (
		user_id TEXT PRIMARY KEY,
		doc BLOB NOT NULL
	)`)
	return err
}

func (s *Store) GetLedger(ctx context.Context, userID, date string) (*ledger.Daily, int64, error) {
	var raw string
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT doc, version FROM ledgers WHERE user_id = ? AND date = ?`,
		userID, date).Scan(&raw, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	var daily ledger.Daily
	if err := json.Unmarshal([]byte(raw), &daily); err != nil {
		return nil, 0, fmt.Errorf("decode ledger %s/%s: %w", userID, date, err)
	}
	return &daily, version, nil
}

func (s *Store) CreateLedger(ctx context.Context, userID string, daily ledger.Daily, open []ledger.OpenPosition) error {
	raw, err := json.Marshal(daily)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledgers (user_id, date, doc, version) VALUES (?, ?, ?, 1)`,
		userID, daily.Date, string(raw))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("ledger for %s already exists: %w", daily.Date, ledger.ErrConflict)
		}
		return err
	}
	if err := saveOpenPositionsTx(ctx, tx, userID, open); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) MergeTrades(ctx context.Context, userID, date string, version int64, trades map[string]ledger.Trade, open []ledger.OpenPosition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT doc, version FROM ledgers WHERE user_id = ? AND date = ?`,
		userID, date).Scan(&raw, &current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("ledger for %s not found: %w", date, ledger.ErrConflict)
		}
		return err
	}
	if current != version {
		return ledger.ErrConflict
	}
	var daily ledger.Daily
	if err := json.Unmarshal([]byte(raw), &daily); err != nil {
		return fmt.Errorf("decode ledger %s/%s: %w", userID, date, err)
	}
	if daily.Trades == nil {
		daily.Trades = make(map[string]ledger.Trade, len(trades))
	}
	for key, trade := range trades {
		if _, exists := daily.Trades[key]; exists {
			return fmt.Errorf("trade key %s already present: %w", key, ledger.ErrConflict)
		}
		daily.Trades[key] = trade
	}
	merged, err := json.Marshal(daily)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE ledgers SET doc = ?, version = version + 1 WHERE user_id = ? AND date = ? AND version = ?`,
		string(merged), userID, date, version)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return ledger.ErrConflict
	}
	if err := saveOpenPositionsTx(ctx, tx, userID, open); err != nil {
		return err
	}
	return tx.Commit()
}

// saveOpenPositionsTx writes the open-position snapshot inside the same
// transaction as the trade batch, so the two documents can never come apart
// on a partial failure.
func saveOpenPositionsTx(ctx context.Context, tx *sql.Tx, userID string, positions []ledger.OpenPosition) error {
	raw, err := ledger.EncodeOpenPositions(positions)
	if err != nil {
		return err
	}
	if raw == nil {
		_, err = tx.ExecContext(ctx, `DELETE FROM open_positions WHERE user_id = ?`, userID)
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO open_positions (user_id, doc) VALUES (?, ?) ON CONFLICT(user_id) DO UPDATE SET doc = excluded.doc`,
		userID, raw)
	return err
}

func (s *Store) ListLedgers(ctx context.Context, userID string) ([]ledger.Daily, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM ledgers WHERE user_id = ? ORDER BY date`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ledgers []ledger.Daily
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var daily ledger.Daily
		if err := json.Unmarshal([]byte(raw), &daily); err != nil {
			return nil, fmt.Errorf("decode ledger for %s: %w", userID, err)
		}
		ledgers = append(ledgers, daily)
	}
	return ledgers, rows.Err()
}

func (s *Store) GetOpenPositions(ctx context.Context, userID string) ([]ledger.OpenPosition, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM open_positions WHERE user_id = ?`, userID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ledger.DecodeOpenPositions(raw)
}

func (s *Store) SaveOpenPositions(ctx context.Context, userID string, positions []ledger.OpenPosition) error {
	raw, err := ledger.EncodeOpenPositions(positions)
	if err != nil {
		return err
	}
	if raw == nil {
		_, err = s.db.ExecContext(ctx, `DELETE FROM open_positions WHERE user_id = ?`, userID)
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO open_positions (user_id, doc) VALUES (?, ?) ON CONFLICT(user_id) DO UPDATE SET doc = excluded.doc`,
		userID, raw)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
