package repository

import (
	"strings"
	"time"
)

// Timeframe enumerates supported candle bucket sizes.
type Timeframe string

const (
	TF1m Timeframe = "1m"
	TF5m Timeframe = "5m"
	TF1h Timeframe = "1h"
	TF1d Timeframe = "1d"
)

// AllTimeframes returns every supported timeframe, smallest first.
func AllTimeframes() []Timeframe {
	return []Timeframe{TF1m, TF5m, TF1h, TF1d}
}

func (tf Timeframe) IsValid() bool {
	switch tf {
	case TF1m, TF5m, TF1h, TF1d:
		return true
	default:
		return false
	}
}

// Duration returns the bucket width.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF5m:
		return 5 * time.Minute
	case TF1h:
		return time.Hour
	case TF1d:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Bucket truncates ts down to the containing bucket start in UTC.
func (tf Timeframe) Bucket(ts time.Time) time.Time {
	return ts.UTC().Truncate(tf.Duration())
}

// DefaultTimeframe is used when a caller does not specify one.
func DefaultTimeframe() Timeframe {
	return TF1m
}

// NormalizeTimeframe trims and lowers the input, falling back to the default
// when the result is not a supported timeframe.
func NormalizeTimeframe(s string) Timeframe {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	if !tf.IsValid() {
		return DefaultTimeframe()
	}
	return tf
}
