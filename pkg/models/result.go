package models

import "time"

// Attempt is one submission, or one expired countdown, against an item
type Attempt struct {
	ItemID    string    `json:"item_id"`
	Candidate string    `json:"candidate,omitempty"`
	Expected  string    `json:"expected"`
	Correct   bool      `json:"correct"`
	Counted   bool      `json:"counted"`
	TimedOut  bool      `json:"timed_out,omitempty"`
	At        time.Time `json:"at"`
}

// SessionResult is the persisted summary of one session pass
type SessionResult struct {
	SessionID     string    `json:"session_id"`
	Level         Level     `json:"level"`
	Correct       int       `json:"correct"`
	Attempts      int       `json:"attempts"`
	SessionLength int       `json:"session_length"`
	Completed     bool      `json:"completed"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Answers       []Attempt `json:"answers,omitempty"`
}

// Accuracy returns the fraction of counted attempts that were correct
func (r SessionResult) Accuracy() float64 {
	if r.Attempts == 0 {
		return 0
	}
	return float64(r.Correct) / float64(r.Attempts)
}

// Duration is the wall time between start and finish
func (r SessionResult) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
