package ledger

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"tradeledger/internal/order"
)

// OpenPosition carries an unmatched remainder between reconciliation runs
// so odd lots are matched against later fills instead of silently dropping
// out. Fills hold only the unmatched portion of each contributing fill;
// their quantities sum to Remaining.
type OpenPosition struct {
	Symbol    string     `msgpack:"symbol"`
	Side      order.Side `msgpack:"side"`
	Remaining float64    `msgpack:"remaining"`
	Fills     []Leg      `msgpack:"fills"`
}

// Open positions are engine-internal documents, never edited by users, so
// they are stored msgpack-encoded rather than as JSON.

func EncodeOpenPositions(positions []OpenPosition) ([]byte, error) {
	if len(positions) == 0 {
		return nil, nil
	}
	data, err := msgpack.Marshal(positions)
	if err != nil {
		return nil, fmt.Errorf("encode open positions: %w", err)
	}
	return data, nil
}

func DecodeOpenPositions(data []byte) ([]OpenPosition, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var positions []OpenPosition
	if err := msgpack.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("decode open positions: %w", err)
	}
	return positions, nil
}
