package pnl

import (
	"errors"
	"fmt"
	"math"

	"tradeledger/internal/ledger"
	"tradeledger/internal/order"
)

type Classification string

const (
	Profit    Classification = "PROFIT"
	Loss      Classification = "LOSS"
	Breakeven Classification = "BREAKEVEN"
)

type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// ErrInvalidStopLoss rejects stop-loss values inconsistent with the trade
// direction. Bad input is never silently clamped.
var ErrInvalidStopLoss = errors.New("stop loss violates trade direction")

const quantityEpsilon = 1e-9

// TradePnL is the per-trade result. A quantity mismatch is reported as a
// result, not an error: PnL stays nil and Mismatch is set so aggregation
// can skip the trade without aborting.
type TradePnL struct {
	PnL      *float64
	Class    Classification
	Mismatch bool
	BuyQty   float64
	SellQty  float64
}

// ForTrade sums BUY and SELL leg notionals and classifies the outcome.
func ForTrade(legs []ledger.Leg) TradePnL {
	var buyQty, sellQty, buyTotal, sellTotal float64
	for _, leg := range legs {
		switch leg.Side {
		case order.SideBuy:
			buyQty += leg.Quantity
			buyTotal += leg.Quantity * leg.Price
		case order.SideSell:
			sellQty += leg.Quantity
			sellTotal += leg.Quantity * leg.Price
		}
	}
	result := TradePnL{BuyQty: buyQty, SellQty: sellQty}
	if math.Abs(buyQty-sellQty) > quantityEpsilon {
		result.Mismatch = true
		return result
	}
	value := sellTotal - buyTotal
	result.PnL = &value
	result.Class = classify(value)
	return result
}

func classify(pnl float64) Classification {
	switch {
	case pnl > 0:
		return Profit
	case pnl < 0:
		return Loss
	default:
		return Breakeven
	}
}

// Details carries the weighted-price view of a trade. A trade with only one
// side present is still open: ExitPrice and PnL stay zero and Open is set.
type Details struct {
	Direction  Direction
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	Class      Classification
	Quantity   float64
	Open       bool
}

// DetailsFor derives direction from the first leg, then computes
// quantity-weighted entry and exit prices. On a mixed-quantity trade the
// PnL quantity is min(total buy, total sell).
func DetailsFor(legs []ledger.Leg) Details {
	if len(legs) == 0 {
		return Details{Open: true}
	}
	direction := Long
	openSide := order.SideBuy
	if legs[0].Side == order.SideSell {
		direction = Short
		openSide = order.SideSell
	}
	closeSide := openSide.Opposite()

	openQty, openNotional := sideTotals(legs, openSide)
	closeQty, closeNotional := sideTotals(legs, closeSide)

	details := Details{Direction: direction}
	if openQty > 0 {
		details.EntryPrice = openNotional / openQty
	}
	if closeQty <= 0 {
		details.Open = true
		return details
	}
	details.ExitPrice = closeNotional / closeQty

	qty := math.Min(openQty, closeQty)
	details.Quantity = qty
	if direction == Long {
		details.PnL = (details.ExitPrice - details.EntryPrice) * qty
	} else {
		details.PnL = (details.EntryPrice - details.ExitPrice) * qty
	}
	details.Class = classify(details.PnL)
	return details
}

func sideTotals(legs []ledger.Leg, side order.Side) (qty, notional float64) {
	for _, leg := range legs {
		if leg.Side != side {
			continue
		}
		qty += leg.Quantity
		notional += leg.Quantity * leg.Price
	}
	return qty, notional
}

// Overall aggregates across ledgers. Trades failing the quantity invariant
// are skipped and reported, never fatal.
type Overall struct {
	PnL        float64
	Trades     int
	Wins       int
	Losses     int
	Breakevens int
	Skipped    []SkippedTrade
}

type SkippedTrade struct {
	Date   string
	Key    string
	Reason string
}

func OverallFor(ledgers []ledger.Daily) Overall {
	var overall Overall
	for _, daily := range ledgers {
		for key, trade := range daily.Trades {
			result := ForTrade(trade.Legs)
			if result.Mismatch {
				overall.Skipped = append(overall.Skipped, SkippedTrade{
					Date:   daily.Date,
					Key:    key,
					Reason: fmt.Sprintf("buy qty %.4f != sell qty %.4f", result.BuyQty, result.SellQty),
				})
				continue
			}
			overall.Trades++
			overall.PnL += *result.PnL
			switch result.Class {
			case Profit:
				overall.Wins++
			case Loss:
				overall.Losses++
			default:
				overall.Breakevens++
			}
		}
	}
	return overall
}

// ValidateStopLoss checks direction consistency: a long stop must sit at or
// below the weighted entry, a short stop at or above it.
func ValidateStopLoss(legs []ledger.Leg, stopLoss float64) error {
	details := DetailsFor(legs)
	if details.EntryPrice <= 0 {
		return fmt.Errorf("%w: trade has no entry price", ErrInvalidStopLoss)
	}
	switch details.Direction {
	case Long:
		if stopLoss > details.EntryPrice {
			return fmt.Errorf("%w: long stop %.4f above entry %.4f", ErrInvalidStopLoss, stopLoss, details.EntryPrice)
		}
	case Short:
		if stopLoss < details.EntryPrice {
			return fmt.Errorf("%w: short stop %.4f below entry %.4f", ErrInvalidStopLoss, stopLoss, details.EntryPrice)
		}
	}
	return nil
}
