package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tradeledger/internal/config"
	"tradeledger/internal/order"
)

// Fyers reads the order book over plain REST. Sides arrive as 1/-1 and
// statuses as numeric codes; timestamps use the fixed DD-Mon-YYYY HH:MM:SS
// pattern in exchange time.
type Fyers struct {
	rest     *restClient
	log      *zap.Logger
	statuses order.StatusTable
	loc      *time.Location
}

// Fyers status codes, mapped to canonical statuses at the adapter boundary.
var fyersStatuses = order.StatusTable{
	"1": order.StatusCancelled, // cancelled
	"2": order.StatusComplete,  // traded / filled
	"3": order.StatusOther,     // for-future reference
	"4": order.StatusOther,     // transit
	"5": order.StatusOther,     // rejected
	"6": order.StatusOther,     // pending
}

func NewFyers(cfg config.SourceConfig, timeout time.Duration, loc *time.Location, log *zap.Logger) (*Fyers, error) {
	statuses := order.DefaultStatusTable().Merge(fyersStatuses)
	if err := statuses.Validate(); err != nil {
		return nil, err
	}
	return &Fyers{
		rest:     newRESTClient(cfg.BaseURL, timeout, log),
		log:      log,
		statuses: statuses,
		loc:      loc,
	}, nil
}

func (f *Fyers) Name() string { return "fyers" }

func (f *Fyers) FetchOrders(ctx context.Context, cred Credential) ([]RawOrder, error) {
	if cred.AccessToken == "" {
		return nil, &AdapterError{Source: f.Name(), Err: errors.New("access token is required")}
	}
	auth := cred.AccessToken
	if cred.APIKey != "" {
		auth = cred.APIKey + ":" + cred.AccessToken
	}
	payload, err := f.rest.getJSON(ctx, "/orders", map[string]string{"Authorization": auth})
	if err != nil {
		return nil, &AdapterError{Source: f.Name(), Err: err}
	}
	if m, ok := payload.(map[string]any); ok {
		if s := order.StringFromMap(m, "s"); s != "" && s != "ok" {
			msg := order.StringFromMap(m, "message")
			return nil, &AdapterError{Source: f.Name(), Err: fmt.Errorf("upstream status %s: %s", s, msg)}
		}
	}
	return rawList(payload, "orderBook", "orders", "data"), nil
}

func (f *Fyers) Normalize(raw RawOrder) (order.Order, error) {
	id := order.StringFromMap(raw, "id", "orderId")
	if id == "" {
		return order.Order{}, fmt.Errorf("%w: missing order id", order.ErrMalformed)
	}
	symbol := order.StringFromMap(raw, "symbol")
	if symbol == "" {
		return order.Order{}, fmt.Errorf("%w: order %s missing symbol", order.ErrMalformed, id)
	}
	sideCode, ok := order.FloatFromMap(raw, "side")
	if !ok {
		return order.Order{}, fmt.Errorf("%w: order %s missing side", order.ErrMalformed, id)
	}
	var side order.Side
	switch {
	case sideCode > 0:
		side = order.SideBuy
	case sideCode < 0:
		side = order.SideSell
	default:
		return order.Order{}, fmt.Errorf("%w: order %s has side 0", order.ErrMalformed, id)
	}
	qty, ok := order.FloatFromMap(raw, "filledQty", "qty")
	if !ok || qty <= 0 {
		return order.Order{}, fmt.Errorf("%w: order %s has no filled quantity", order.ErrMalformed, id)
	}
	price, ok := order.FloatFromMap(raw, "tradedPrice", "limitPrice")
	if !ok || price < 0 {
		return order.Order{}, fmt.Errorf("%w: order %s has no price", order.ErrMalformed, id)
	}
	ts, err := order.ParseTimestamp(raw["orderDateTime"], f.loc)
	if err != nil {
		return order.Order{}, fmt.Errorf("order %s: %w", id, err)
	}
	return order.Order{
		ExternalID: id,
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		Price:      price,
		Timestamp:  ts,
		RawStatus:  order.StringFromMap(raw, "status"),
	}, nil
}

func (f *Fyers) Classify(rawStatus string) order.Status {
	return f.statuses.Classify(rawStatus)
}
