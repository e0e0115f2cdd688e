package domain

import "time"

type PriorityTier string

const (
	TierLow    PriorityTier = "low"
	TierMedium PriorityTier = "medium"
	TierHigh   PriorityTier = "high"
)

// SourceRecord is a crawl target with its historical performance.
// SuccessRate is recomputed only from completed attempts and stays in [0, 1].
type SourceRecord struct {
	ID            string
	URL           string
	Region        string
	PriorityTier  PriorityTier
	IsActive      bool
	SuccessRate   float64
	SuccessCount  int
	TotalAttempts int
	AvgDurationMs int
	LastSuccessAt *time.Time
	CreatedAt     time.Time
}
