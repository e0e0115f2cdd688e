package domain

import "time"

// CostLedgerEntry accumulates one day's extraction spend. Counters are
// monotonically non-decreasing within a day and reset only by rollover
// to a new date key.
type CostLedgerEntry struct {
	Date             string // YYYY-MM-DD, UTC
	RequestsMade     int
	TokensUsed       int
	EstimatedCostUsd float64
}

// LedgerDate formats t as the UTC day key used by the cost ledger.
func LedgerDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
