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

// Dhan reads the order book over REST. Sides arrive as single-letter B/S
// codes and timestamps as epoch-seconds wrapper objects.
type Dhan struct {
	rest     *restClient
	log      *zap.Logger
	statuses order.StatusTable
	loc      *time.Location
}

func NewDhan(cfg config.SourceConfig, timeout time.Duration, loc *time.Location, log *zap.Logger) (*Dhan, error) {
	statuses := order.DefaultStatusTable().Merge(order.StatusTable{
		"PART_TRADED": order.StatusOther,
		"PENDING":     order.StatusOther,
		"REJECTED":    order.StatusOther,
		"EXPIRED":     order.StatusOther,
	})
	if err := statuses.Validate(); err != nil {
		return nil, err
	}
	return &Dhan{
		rest:     newRESTClient(cfg.BaseURL, timeout, log),
		log:      log,
		statuses: statuses,
		loc:      loc,
	}, nil
}

func (d *Dhan) Name() string { return "dhan" }

func (d *Dhan) FetchOrders(ctx context.Context, cred Credential) ([]RawOrder, error) {
	if cred.AccessToken == "" {
		return nil, &AdapterError{Source: d.Name(), Err: errors.New("access token is required")}
	}
	headers := map[string]string{"access-token": cred.AccessToken}
	if cred.ClientID != "" {
		headers["client-id"] = cred.ClientID
	}
	payload, err := d.rest.getJSON(ctx, "/orders", headers)
	if err != nil {
		return nil, &AdapterError{Source: d.Name(), Err: err}
	}
	return rawList(payload, "data", "orders"), nil
}

func (d *Dhan) Normalize(raw RawOrder) (order.Order, error) {
	id := order.StringFromMap(raw, "orderId")
	if id == "" {
		return order.Order{}, fmt.Errorf("%w: missing orderId", order.ErrMalformed)
	}
	symbol := order.StringFromMap(raw, "tradingSymbol", "symbol")
	if symbol == "" {
		return order.Order{}, fmt.Errorf("%w: order %s missing symbol", order.ErrMalformed, id)
	}
	var side order.Side
	switch order.StringFromMap(raw, "transactionType", "side") {
	case "B", "BUY":
		side = order.SideBuy
	case "S", "SELL":
		side = order.SideSell
	default:
		return order.Order{}, fmt.Errorf("%w: order %s has unknown transaction type", order.ErrMalformed, id)
	}
	qty, ok := order.FloatFromMap(raw, "filledQty", "quantity")
	if !ok || qty <= 0 {
		return order.Order{}, fmt.Errorf("%w: order %s has no filled quantity", order.ErrMalformed, id)
	}
	price, ok := order.FloatFromMap(raw, "averageTradedPrice", "price")
	if !ok || price < 0 {
		return order.Order{}, fmt.Errorf("%w: order %s has no price", order.ErrMalformed, id)
	}
	tsRaw, ok := raw["updateTime"]
	if !ok || tsRaw == nil {
		tsRaw = raw["createTime"]
	}
	ts, err := order.ParseTimestamp(tsRaw, d.loc)
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
		RawStatus:  order.StringFromMap(raw, "orderStatus", "status"),
	}, nil
}

func (d *Dhan) Classify(rawStatus string) order.Status {
	return d.statuses.Classify(rawStatus)
}
