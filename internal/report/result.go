// Package report renders the outcome of practice passes.
package report

import (
	"fmt"
	"time"

	"github.com/psantana5/shotread/pkg/logging"
	"github.com/psantana5/shotread/pkg/models"
)

// Miss is a counted attempt that was wrong or ran out of time
type Miss struct {
	ItemID    string `json:"item_id"`
	Expected  string `json:"expected"`
	Candidate string `json:"candidate,omitempty"`
	TimedOut  bool   `json:"timed_out,omitempty"`
}

// Summary is the frozen outcome of one pass
type Summary struct {
	SessionID     string        `json:"session_id"`
	Level         models.Level  `json:"level"`
	Correct       int           `json:"correct"`
	Attempts      int           `json:"attempts"`
	SessionLength int           `json:"session_length"`
	Completed     bool          `json:"completed"`
	Accuracy      float64       `json:"accuracy"`
	Duration      time.Duration `json:"duration_ns"`
	Retries       int           `json:"retries"` // submissions that did not count
	Misses        []Miss        `json:"misses,omitempty"`
	FinishedAt    time.Time     `json:"finished_at"`
}

// Summarize freezes a session result
func Summarize(r models.SessionResult) Summary {
	s := Summary{
		SessionID:     r.SessionID,
		Level:         r.Level,
		Correct:       r.Correct,
		Attempts:      r.Attempts,
		SessionLength: r.SessionLength,
		Completed:     r.Completed,
		Accuracy:      r.Accuracy(),
		Duration:      r.Duration(),
		FinishedAt:    r.FinishedAt,
	}
	for _, a := range r.Answers {
		if !a.Counted {
			s.Retries++
			continue
		}
		if !a.Correct {
			s.Misses = append(s.Misses, Miss{ItemID: a.ItemID, Expected: a.Expected, Candidate: a.Candidate, TimedOut: a.TimedOut})
		}
	}
	return s
}

// Status is COMPLETE or PARTIAL
func (s Summary) Status() string {
	if s.Completed {
		return "COMPLETE"
	}
	return "PARTIAL"
}

// Line is the one-line summary written to logs
func (s Summary) Line() string {
	return fmt.Sprintf("SESSION %s | %s | level=%s | score=%d/%d | accuracy=%.0f%% | runtime=%.0fs",
		s.SessionID, s.Status(), s.Level, s.Correct, s.Attempts, s.Accuracy*100, s.Duration.Seconds())
}

// Log writes the summary at INFO
func (s Summary) Log(logger *logging.Logger) {
	logging.OrDefault(logger).Info(s.Line(), logging.Fields{
		"session_id": s.SessionID,
		"correct":    s.Correct,
		"attempts":   s.Attempts,
		"completed":  s.Completed,
	})
}
