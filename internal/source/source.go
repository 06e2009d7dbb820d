package source

import (
	"context"
	"fmt"

	"tradeledger/internal/order"
)

// RawOrder is one upstream record before normalization. Field names and
// encodings are source-specific; only the adapter that fetched it knows how
// to read it.
type RawOrder map[string]any

// Credential is whatever the upstream source needs to authorize a fetch.
type Credential struct {
	APIKey      string
	AccessToken string
	ClientID    string
}

// Adapter is the per-source boundary: it fetches raw records and converts
// them to canonical orders. Adding a source means adding an adapter, never
// branching inside the matcher or the P&L code.
type Adapter interface {
	Name() string
	FetchOrders(ctx context.Context, cred Credential) ([]RawOrder, error)
	Normalize(raw RawOrder) (order.Order, error)
	Classify(rawStatus string) order.Status
}

// AdapterError wraps an upstream fetch failure. It aborts the run before
// any ledger mutation and is surfaced for re-authentication handling.
type AdapterError struct {
	Source string
	Err    error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}
