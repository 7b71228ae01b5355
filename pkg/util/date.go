package util

import "time"

// DayKey formats t as a UTC day key used by the daily risk ledger.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
