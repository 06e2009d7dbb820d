package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"tradeledger/internal/config"
	"tradeledger/internal/order"
)

func timeSeconds(at time.Time) string {
	return strconv.FormatInt(at.Unix(), 10)
}

func newDhanForTest(t *testing.T, baseURL string) *Dhan {
	t.Helper()
	d, err := NewDhan(config.SourceConfig{Enabled: true, BaseURL: baseURL}, 5*time.Second, ist, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDhan: %v", err)
	}
	return d
}

func TestDhanFetchOrders(t *testing.T) {
	at := time.Date(2024, 3, 15, 9, 45, 0, 0, ist)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("access-token") != "tok" || r.Header.Get("client-id") != "c1" {
			t.Errorf("headers = %v", r.Header)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"orderId":"D1","tradingSymbol":"TCS","transactionType":"B","filledQty":4,
			 "averageTradedPrice":3500.25,
			 "updateTime":{"seconds":` + timeSeconds(at) + `,"nanoseconds":0},
			 "orderStatus":"TRADED"}
		]}`))
	}))
	defer srv.Close()

	d := newDhanForTest(t, srv.URL)
	raws, err := d.FetchOrders(context.Background(), Credential{AccessToken: "tok", ClientID: "c1"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("raws = %+v", raws)
	}

	o, err := d.Normalize(raws[0])
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if o.ExternalID != "D1" || o.Symbol != "TCS" || o.Side != order.SideBuy {
		t.Fatalf("order = %+v", o)
	}
	if o.Quantity != 4 || o.Price != 3500.25 {
		t.Fatalf("order = %+v", o)
	}
	if !o.Timestamp.Equal(at) {
		t.Fatalf("timestamp = %v, want %v", o.Timestamp, at)
	}
	if d.Classify(o.RawStatus) != order.StatusComplete {
		t.Fatalf("status %q not classified complete", o.RawStatus)
	}
}

func TestDhanNormalizeFallbacks(t *testing.T) {
	d := newDhanForTest(t, "http://127.0.0.1:0")
	created := time.Date(2024, 3, 15, 11, 0, 0, 0, ist)

	o, err := d.Normalize(RawOrder{
		"orderId": "D2", "symbol": "INFY", "side": "SELL",
		"quantity": float64(2), "price": float64(1500),
		"createTime": float64(created.Unix()),
		"status":     "COMPLETE",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if o.Side != order.SideSell || o.Symbol != "INFY" {
		t.Fatalf("order = %+v", o)
	}
	if !o.Timestamp.Equal(created) {
		t.Fatalf("timestamp = %v, want %v", o.Timestamp, created)
	}
}

func TestDhanNormalizeRejectsUnknownSide(t *testing.T) {
	d := newDhanForTest(t, "http://127.0.0.1:0")
	_, err := d.Normalize(RawOrder{
		"orderId": "D3", "tradingSymbol": "INFY", "transactionType": "X",
		"filledQty": float64(1), "averageTradedPrice": float64(1),
		"updateTime": float64(1710476100),
	})
	if !errors.Is(err, order.ErrMalformed) {
		t.Fatalf("error = %v, want ErrMalformed", err)
	}
}

func TestDhanFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := newDhanForTest(t, srv.URL)
	_, err := d.FetchOrders(context.Background(), Credential{AccessToken: "bad"})
	var aerr *AdapterError
	if !errors.As(err, &aerr) || aerr.Source != "dhan" {
		t.Fatalf("error = %v, want dhan AdapterError", err)
	}
}
