package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"tradeledger/internal/order"
)

const tradeKeyPrefix = "TRADE_"

// Leg is one fill contributing to a round-trip trade.
type Leg struct {
	ExternalID string     `json:"external_id" msgpack:"external_id"`
	Side       order.Side `json:"side" msgpack:"side"`
	Quantity   float64    `json:"quantity" msgpack:"quantity"`
	Price      float64    `json:"price" msgpack:"price"`
	Timestamp  time.Time  `json:"timestamp" msgpack:"timestamp"`
}

// Trade is a matched round trip. Leg data is written once by the matcher
// and never touched again; the annotation fields belong to the journaling
// side and must survive every later merge untouched.
type Trade struct {
	Symbol      string  `json:"symbol,omitempty"`
	Legs        []Leg   `json:"legs"`
	StopLoss    float64 `json:"stop_loss,omitempty"`
	TargetPrice float64 `json:"target_price,omitempty"`
	Feelings    string  `json:"feelings,omitempty"`
	Strategy    string  `json:"strategy,omitempty"`
	Mistake     string  `json:"mistake,omitempty"`
	ChartImage  string  `json:"chart_image,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Daily is the per-user, per-day ledger document. Date is a YYYY-MM-DD
// string in the configured exchange timezone.
type Daily struct {
	Date   string           `json:"date"`
	Trades map[string]Trade `json:"trades"`
}

// TradeKey renders the zero-padded monotonic key for trade number n.
func TradeKey(n int) string {
	return fmt.Sprintf("%s%03d", tradeKeyPrefix, n)
}

// HighestKey returns the largest TRADE_NNN number present, or 0 for an
// empty ledger.
func HighestKey(trades map[string]Trade) int {
	highest := 0
	for key := range trades {
		n, ok := parseTradeKey(key)
		if ok && n > highest {
			highest = n
		}
	}
	return highest
}

func parseTradeKey(key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, tradeKeyPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// RecordedIDs collects every external id already present across the given
// ledgers and open positions. This is the dedup snapshot: matching identity
// is id-based, never value-based.
func RecordedIDs(ledgers []Daily, open []OpenPosition) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, daily := range ledgers {
		for _, trade := range daily.Trades {
			for _, leg := range trade.Legs {
				if leg.ExternalID != "" {
					ids[leg.ExternalID] = struct{}{}
				}
			}
		}
	}
	for _, pos := range open {
		for _, fill := range pos.Fills {
			if fill.ExternalID != "" {
				ids[fill.ExternalID] = struct{}{}
			}
		}
	}
	return ids
}

// BuyQuantity sums the BUY legs of a trade.
func (t Trade) BuyQuantity() float64 {
	return t.sideQuantity(order.SideBuy)
}

// SellQuantity sums the SELL legs of a trade.
func (t Trade) SellQuantity() float64 {
	return t.sideQuantity(order.SideSell)
}

func (t Trade) sideQuantity(side order.Side) float64 {
	var total float64
	for _, leg := range t.Legs {
		if leg.Side == side {
			total += leg.Quantity
		}
	}
	return total
}
