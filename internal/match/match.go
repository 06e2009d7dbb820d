package match

import (
	"sort"
	"time"

	"tradeledger/internal/ledger"
	"tradeledger/internal/order"
)

// Input is one matching batch. Orders must already be status-filtered to
// COMPLETE and delta-filtered; the matcher sorts them itself to keep the
// FIFO discipline independent of caller ordering.
type Input struct {
	Orders   []order.Order
	StartKey int                   // number assigned to the first emitted trade
	Seed     []ledger.OpenPosition // remainders carried over from earlier runs
	Location *time.Location        // exchange timezone for the batch date
}

// Result is the matcher output: closed round trips keyed TRADE_NNN in
// emission order, plus whatever remained open.
type Result struct {
	Date   string
	Trades map[string]ledger.Trade
	Keys   []string
	Open   []ledger.OpenPosition
}

// book is the per-symbol matching state. Cross-symbol state is disjoint.
type book struct {
	symbol  string
	buys    Queue
	sells   Queue
	pending *pendingTrade
}

// pendingTrade accumulates counter-side fills against one anchor entry (the
// earliest unmatched fill) until the anchor is fully offset. Grouping per
// anchor is what turns partial fills into one round trip with multiple
// closing legs instead of a trade per partial match.
type pendingTrade struct {
	anchor      Entry
	anchorSide  order.Side
	matched     float64
	counterLegs []ledger.Leg
}

// Run FIFO-pairs completed orders per symbol into round-trip trades.
func Run(in Input) Result {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	startKey := in.StartKey
	if startKey < 1 {
		startKey = 1
	}

	orders := make([]order.Order, 0, len(in.Orders))
	for _, o := range in.Orders {
		if o.Quantity > 0 && o.Side.Valid() {
			orders = append(orders, o)
		}
	}
	order.SortAscending(orders)

	result := Result{Trades: make(map[string]ledger.Trade)}
	if len(orders) > 0 {
		result.Date = orders[0].Timestamp.In(loc).Format("2006-01-02")
	}

	books := make(map[string]*book)
	for _, pos := range in.Seed {
		b := bookFor(books, pos.Symbol)
		for _, fill := range pos.Fills {
			if fill.Quantity <= 0 {
				continue
			}
			b.enqueue(pos.Side, Entry{
				ExternalID: fill.ExternalID,
				Price:      fill.Price,
				Remaining:  fill.Quantity,
				Timestamp:  fill.Timestamp,
			})
		}
	}

	next := startKey
	for _, o := range orders {
		b := bookFor(books, o.Symbol)
		b.enqueue(o.Side, Entry{
			ExternalID: o.ExternalID,
			Price:      o.Price,
			Remaining:  o.Quantity,
			Timestamp:  o.Timestamp,
		})
		for {
			trade, ok := b.settle()
			if !ok {
				break
			}
			key := ledger.TradeKey(next)
			next++
			result.Trades[key] = trade
			result.Keys = append(result.Keys, key)
		}
	}

	symbols := make([]string, 0, len(books))
	for symbol := range books {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		b := books[symbol]
		if trade, ok := b.flushPending(); ok {
			key := ledger.TradeKey(next)
			next++
			result.Trades[key] = trade
			result.Keys = append(result.Keys, key)
		}
		result.Open = append(result.Open, b.openPositions()...)
	}
	return result
}

func bookFor(books map[string]*book, symbol string) *book {
	if b, ok := books[symbol]; ok {
		return b
	}
	b := &book{symbol: symbol}
	books[symbol] = b
	return b
}

func (b *book) enqueue(side order.Side, e Entry) {
	if side == order.SideBuy {
		b.buys = b.buys.Push(e)
	} else {
		b.sells = b.sells.Push(e)
	}
}

// settle advances matching one trade at a time. It returns a closed trade
// when the current anchor entry is fully offset, false when no further
// progress is possible with the fills seen so far.
func (b *book) settle() (ledger.Trade, bool) {
	if b.pending == nil {
		buyHead, okBuy := b.buys.Head()
		sellHead, okSell := b.sells.Head()
		if !okBuy || !okSell {
			return ledger.Trade{}, false
		}
		side := order.SideBuy
		if earlier(sellHead, buyHead) {
			side = order.SideSell
		}
		var anchor Entry
		if side == order.SideBuy {
			anchor, b.buys, _ = b.buys.Pop()
		} else {
			anchor, b.sells, _ = b.sells.Pop()
		}
		b.pending = &pendingTrade{anchor: anchor, anchorSide: side}
	}

	p := b.pending
	counterSide := p.anchorSide.Opposite()
	for p.anchor.Remaining > 0 {
		var head Entry
		var ok bool
		if counterSide == order.SideBuy {
			head, b.buys, ok = b.buys.Pop()
		} else {
			head, b.sells, ok = b.sells.Pop()
		}
		if !ok {
			return ledger.Trade{}, false
		}
		matched := head.Remaining
		if p.anchor.Remaining < matched {
			matched = p.anchor.Remaining
		}
		p.counterLegs = append(p.counterLegs, ledger.Leg{
			ExternalID: head.ExternalID,
			Side:       counterSide,
			Quantity:   matched,
			Price:      head.Price,
			Timestamp:  head.Timestamp,
		})
		p.matched += matched
		p.anchor.Remaining -= matched
		head.Remaining -= matched
		if head.Remaining > 0 {
			if counterSide == order.SideBuy {
				b.buys = b.buys.PushFront(head)
			} else {
				b.sells = b.sells.PushFront(head)
			}
		}
	}
	trade := p.close(b.symbol)
	b.pending = nil
	return trade, true
}

// flushPending closes the matched portion of a half-offset anchor at batch
// end. The unmatched remainder goes back on its queue so openPositions
// reports it.
func (b *book) flushPending() (ledger.Trade, bool) {
	p := b.pending
	if p == nil || p.matched <= 0 {
		return ledger.Trade{}, false
	}
	trade := p.close(b.symbol)
	if p.anchor.Remaining > 0 {
		if p.anchorSide == order.SideBuy {
			b.buys = b.buys.PushFront(p.anchor)
		} else {
			b.sells = b.sells.PushFront(p.anchor)
		}
	}
	b.pending = nil
	return trade, true
}

func (p *pendingTrade) close(symbol string) ledger.Trade {
	legs := make([]ledger.Leg, 0, len(p.counterLegs)+1)
	legs = append(legs, ledger.Leg{
		ExternalID: p.anchor.ExternalID,
		Side:       p.anchorSide,
		Quantity:   p.matched,
		Price:      p.anchor.Price,
		Timestamp:  p.anchor.Timestamp,
	})
	legs = append(legs, p.counterLegs...)
	return ledger.Trade{Symbol: symbol, Legs: legs}
}

func (b *book) openPositions() []ledger.OpenPosition {
	var out []ledger.OpenPosition
	if pos, ok := openFromQueue(b.symbol, order.SideBuy, b.buys); ok {
		out = append(out, pos)
	}
	if pos, ok := openFromQueue(b.symbol, order.SideSell, b.sells); ok {
		out = append(out, pos)
	}
	return out
}

func openFromQueue(symbol string, side order.Side, q Queue) (ledger.OpenPosition, bool) {
	if q.Empty() {
		return ledger.OpenPosition{}, false
	}
	pos := ledger.OpenPosition{Symbol: symbol, Side: side}
	for _, e := range q {
		pos.Remaining += e.Remaining
		pos.Fills = append(pos.Fills, ledger.Leg{
			ExternalID: e.ExternalID,
			Side:       side,
			Quantity:   e.Remaining,
			Price:      e.Price,
			Timestamp:  e.Timestamp,
		})
	}
	return pos, true
}

func earlier(a, b Entry) bool {
	if a.Timestamp.Equal(b.Timestamp) {
		return a.ExternalID < b.ExternalID
	}
	return a.Timestamp.Before(b.Timestamp)
}
