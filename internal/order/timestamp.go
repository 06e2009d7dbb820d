package order

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Broker feeds disagree on timestamp encodings. ParseTimestamp accepts the
// shapes seen across the supported sources: ISO-8601-ish strings, the fixed
// DD-Mon-YYYY HH:MM:SS pattern, epoch numbers, and document-store style
// wrapper objects carrying a seconds field.
//
// String layouts without a zone are interpreted in loc.
func ParseTimestamp(v any, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	switch val := v.(type) {
	case time.Time:
		if val.IsZero() {
			return time.Time{}, fmt.Errorf("%w: zero timestamp", ErrMalformed)
		}
		return val, nil
	case string:
		return parseTimestampString(val, loc)
	case map[string]any:
		return parseTimestampWrapper(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrMalformed, val.String())
		}
		return epochToTime(f), nil
	case float64:
		return epochToTime(val), nil
	case int64:
		return epochToTime(float64(val)), nil
	case int:
		return epochToTime(float64(val)), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported timestamp type %T", ErrMalformed, v)
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02-Jan-2006 15:04:05",
	"2006-01-02",
}

func parseTimestampString(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", ErrMalformed)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return epochToTime(f), nil
	}
	return time.Time{}, fmt.Errorf("%w: unparsable timestamp %q", ErrMalformed, s)
}

// parseTimestampWrapper handles {"seconds": N, "nanoseconds": N} objects
// and the underscore-prefixed variant some stores emit.
func parseTimestampWrapper(m map[string]any) (time.Time, error) {
	for _, key := range []string{"seconds", "_seconds"} {
		sec, ok := FloatFromAny(m[key])
		if !ok || sec <= 0 {
			continue
		}
		var nanos float64
		for _, nk := range []string{"nanoseconds", "_nanoseconds", "nanos"} {
			if n, ok := FloatFromAny(m[nk]); ok {
				nanos = n
				break
			}
		}
		return time.Unix(int64(sec), int64(nanos)), nil
	}
	return time.Time{}, fmt.Errorf("%w: timestamp object missing seconds", ErrMalformed)
}

// epochToTime treats values past 1e12 as milliseconds, otherwise seconds.
func epochToTime(v float64) time.Time {
	if v >= 1e12 {
		return time.UnixMilli(int64(v))
	}
	return time.Unix(int64(v), 0)
}
