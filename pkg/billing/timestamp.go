package billing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ToDate truncates t to midnight UTC of its UTC calendar day.
func ToDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NormalizeDate converts a provider-supplied period end into a UTC date.
// Accepted forms: unix epoch seconds as an integer, float or numeric string,
// an RFC 3339 string, and time.Time. All forms of the same instant yield the same date.
func NormalizeDate(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, fmt.Errorf("%w: zero time", ErrInvalidTimestamp)
		}
		return ToDate(t), nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("%w: nil time", ErrInvalidTimestamp)
		}
		return NormalizeDate(*t)
	case int:
		return fromEpoch(int64(t))
	case int32:
		return fromEpoch(int64(t))
	case int64:
		return fromEpoch(t)
	case float64:
		return fromEpoch(int64(t))
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
		}
		return fromEpoch(n)
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromEpoch(n)
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ToDate(ts), nil
		}
		if ts, err := time.Parse(time.DateOnly, s); err == nil {
			return ts, nil
		}
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, t)
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidTimestamp, v)
	}
}

func fromEpoch(sec int64) (time.Time, error) {
	if sec <= 0 {
		return time.Time{}, fmt.Errorf("%w: %d", ErrInvalidTimestamp, sec)
	}
	return ToDate(time.Unix(sec, 0)), nil
}
