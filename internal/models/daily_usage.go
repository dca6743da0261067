package models

import "time"

// DailyUsage is one accumulated row per (secret, UTC calendar day). Concurrent
// events for the same key accumulate via an atomic upsert-add; the row is never
// overwritten.
type DailyUsage struct {
	SecretID         string    `json:"secret_id"`
	Day              time.Time `json:"day"`
	RequestCount     int64     `json:"request_count"`
	BytesTransferred int64     `json:"bytes_transferred"`
	SuccessCount     int64     `json:"success_count"`
}

// UsageDay truncates t to its UTC calendar day.
func UsageDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
