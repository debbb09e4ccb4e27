package domain

import "time"

// RateLimitCounter is the persisted fixed-window state for one token.
// Invariant: Count never exceeds Limit inside a window; crossing ResetAt
// resets Count to zero and advances WindowStart in the same atomic step.
type RateLimitCounter struct {
	TokenID     string
	WindowStart time.Time
	Count       int
	Limit       int
	ResetAt     time.Time
}

// RateDecision is the outcome of one admission attempt.
type RateDecision struct {
	Admitted  bool
	Remaining int
	ResetAt   time.Time
}
