package domain

import "time"

// CycleReport summarizes one scheduling cycle. It is the only outward
// result of RunCycle.
type CycleReport struct {
	CycleID    string
	StartedAt  time.Time
	FinishedAt time.Time
	Paused     bool
	Attempted  int
	Succeeded  int
	Failed     int
	Retried    int
	CostUsd    float64
	TokensUsed int
	FatalError string
}
