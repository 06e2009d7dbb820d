package order

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusComplete  Status = "COMPLETE"
	StatusCancelled Status = "CANCELLED"
	StatusOther     Status = "OTHER"
)

// StatusTable maps upstream free-text statuses to canonical ones. Each
// source adapter owns its own table; lookups are case-insensitive.
type StatusTable map[string]Status

// DefaultStatusTable covers the aliases shared across brokers.
func DefaultStatusTable() StatusTable {
	return StatusTable{
		"COMPLETE":  StatusComplete,
		"TRADED":    StatusComplete,
		"FILLED":    StatusComplete,
		"PLACED":    StatusComplete,
		"CLOSED":    StatusComplete,
		"CANCELLED": StatusCancelled,
		"CANCELED":  StatusCancelled,
	}
}

func (t StatusTable) Classify(raw string) Status {
	if s, ok := t[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return s
	}
	return StatusOther
}

// Merge overlays source-specific aliases on top of t without mutating it.
func (t StatusTable) Merge(extra StatusTable) StatusTable {
	merged := make(StatusTable, len(t)+len(extra))
	for k, v := range t {
		merged[strings.ToUpper(k)] = v
	}
	for k, v := range extra {
		merged[strings.ToUpper(k)] = v
	}
	return merged
}

// Validate rejects tables carrying unknown canonical statuses. Adapters
// call this at construction so bad tables fail before any sync runs.
func (t StatusTable) Validate() error {
	for alias, status := range t {
		switch status {
		case StatusComplete, StatusCancelled, StatusOther:
		default:
			return fmt.Errorf("status table alias %q maps to unknown status %q", alias, status)
		}
	}
	return nil
}
