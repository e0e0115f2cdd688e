package domain

import "time"

type Status string

const (
	Pending    Status = "pending"
	Processing Status = "processing"
	Completed  Status = "completed"
	Failed     Status = "failed"
)

// QueueJob is one scheduled crawl attempt for a (property, unit) target.
// ExternalID is the unique key; at most one job per ExternalID may be
// Processing at a time.
type QueueJob struct {
	ID            string
	ExternalID    string
	SourceID      string
	URL           string
	Status        Status
	PriorityScore int
	AttemptCount  int
	MaxAttempts   int
	LastError     *string
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// Terminal reports whether the job can no longer be mutated.
func (j QueueJob) Terminal() bool {
	return j.Status == Completed || j.Status == Failed
}
