package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"go.uber.org/zap"

	"tradeledger/internal/config"
	"tradeledger/internal/order"
)

// Zerodha fetches the order book through the official Kite Connect SDK and
// flattens SDK orders into RawOrder maps so normalization stays uniform
// across sources.
type Zerodha struct {
	cfg      config.SourceConfig
	timeout  time.Duration
	log      *zap.Logger
	statuses order.StatusTable
	loc      *time.Location
}

func NewZerodha(cfg config.SourceConfig, timeout time.Duration, loc *time.Location, log *zap.Logger) (*Zerodha, error) {
	statuses := order.DefaultStatusTable().Merge(order.StatusTable{
		"OPEN":            order.StatusOther,
		"TRIGGER PENDING": order.StatusOther,
		"REJECTED":        order.StatusOther,
	})
	if err := statuses.Validate(); err != nil {
		return nil, err
	}
	return &Zerodha{
		cfg:      cfg,
		timeout:  timeout,
		log:      log,
		statuses: statuses,
		loc:      loc,
	}, nil
}

func (z *Zerodha) Name() string { return "zerodha" }

func (z *Zerodha) FetchOrders(ctx context.Context, cred Credential) ([]RawOrder, error) {
	if cred.APIKey == "" || cred.AccessToken == "" {
		return nil, &AdapterError{Source: z.Name(), Err: errors.New("api key and access token are required")}
	}
	kc := kiteconnect.New(cred.APIKey)
	kc.SetAccessToken(cred.AccessToken)
	kc.SetHTTPClient(&http.Client{Timeout: z.timeout})
	if z.cfg.BaseURL != "" {
		kc.SetBaseURI(z.cfg.BaseURL)
	}

	type fetchResult struct {
		orders kiteconnect.Orders
		err    error
	}
	done := make(chan fetchResult, 1)
	go func() {
		orders, err := kc.GetOrders()
		done <- fetchResult{orders: orders, err: err}
	}()
	var orders kiteconnect.Orders
	select {
	case <-ctx.Done():
		return nil, &AdapterError{Source: z.Name(), Err: ctx.Err()}
	case res := <-done:
		if res.err != nil {
			return nil, &AdapterError{Source: z.Name(), Err: res.err}
		}
		orders = res.orders
	}

	raws := make([]RawOrder, 0, len(orders))
	for _, o := range orders {
		raws = append(raws, RawOrder{
			"order_id":         o.OrderID,
			"tradingsymbol":    o.TradingSymbol,
			"transaction_type": o.TransactionType,
			"filled_quantity":  o.FilledQuantity,
			"average_price":    o.AveragePrice,
			"order_timestamp":  o.OrderTimestamp.Time,
			"status":           o.Status,
		})
	}
	return raws, nil
}

func (z *Zerodha) Normalize(raw RawOrder) (order.Order, error) {
	id := order.StringFromMap(raw, "order_id")
	if id == "" {
		return order.Order{}, fmt.Errorf("%w: missing order_id", order.ErrMalformed)
	}
	symbol := order.StringFromMap(raw, "tradingsymbol")
	if symbol == "" {
		return order.Order{}, fmt.Errorf("%w: order %s missing symbol", order.ErrMalformed, id)
	}
	var side order.Side
	switch order.StringFromMap(raw, "transaction_type") {
	case "BUY":
		side = order.SideBuy
	case "SELL":
		side = order.SideSell
	default:
		return order.Order{}, fmt.Errorf("%w: order %s has unknown transaction type", order.ErrMalformed, id)
	}
	qty, ok := order.FloatFromMap(raw, "filled_quantity", "quantity")
	if !ok || qty <= 0 {
		return order.Order{}, fmt.Errorf("%w: order %s has no filled quantity", order.ErrMalformed, id)
	}
	price, ok := order.FloatFromMap(raw, "average_price", "price")
	if !ok || price < 0 {
		return order.Order{}, fmt.Errorf("%w: order %s has no price", order.ErrMalformed, id)
	}
	ts, err := order.ParseTimestamp(raw["order_timestamp"], z.loc)
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

func (z *Zerodha) Classify(rawStatus string) order.Status {
	return z.statuses.Classify(rawStatus)
}
