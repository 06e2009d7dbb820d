package order

import (
	"errors"
	"sort"
	"time"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ErrMalformed marks a raw record that cannot be normalized. Callers drop
// the single record and keep processing the batch.
var ErrMalformed = errors.New("malformed order")

// Order is the canonical, source-agnostic representation of a single fill.
// Orders are immutable once normalized.
type Order struct {
	ExternalID string
	Symbol     string
	Side       Side
	Quantity   float64
	Price      float64
	Timestamp  time.Time
	RawStatus  string
}

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// SortAscending orders fills by timestamp, breaking ties on external id so
// matching stays reproducible.
func SortAscending(orders []Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].Timestamp.Equal(orders[j].Timestamp) {
			return orders[i].ExternalID < orders[j].ExternalID
		}
		return orders[i].Timestamp.Before(orders[j].Timestamp)
	})
}
