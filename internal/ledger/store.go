package ledger

import (
	"context"
	"errors"
)

// ErrConflict signals that a write raced a concurrent writer on the same
// document version. Callers re-read and retry or abort; partial application
// never happens.
var ErrConflict = errors.New("ledger version conflict")

// Store is the persisted-document boundary. Implementations must make
// CreateLedger and MergeTrades atomic: the whole batch of new trades AND
// the open-position snapshot passed alongside land together or not at all.
// A remainder produced by a run must never be lost because the trade write
// succeeded and the snapshot write did not.
//
// GetLedger returns the document and its current version, or a nil ledger
// when none exists for that day. MergeTrades is strictly additive and must
// fail with ErrConflict when the version moved or a key already exists.
// SaveOpenPositions stands alone for runs that produced no trades.
type Store interface {
	GetLedger(ctx context.Context, userID, date string) (*Daily, int64, error)
	CreateLedger(ctx context.Context, userID string, daily Daily, open []OpenPosition) error
	MergeTrades(ctx context.Context, userID, date string, version int64, trades map[string]Trade, open []OpenPosition) error
	ListLedgers(ctx context.Context, userID string) ([]Daily, error)
	GetOpenPositions(ctx context.Context, userID string) ([]OpenPosition, error)
	SaveOpenPositions(ctx context.Context, userID string, positions []OpenPosition) error
	Close() error
}
