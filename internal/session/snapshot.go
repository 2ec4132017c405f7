package session

import "github.com/psantana5/shotread/pkg/models"

// Score holds the session counters
type Score struct {
	CorrectCount    int `json:"correct_count"`
	AttemptsCounted int `json:"attempts_counted"`
}

// Snapshot is the read-only state exposed to presentation layers
type Snapshot struct {
	SessionID         string               `json:"session_id,omitempty"`
	Phase             models.Phase         `json:"phase"`
	Level             models.Level         `json:"level"`
	CurrentItem       *models.PracticeItem `json:"current_item,omitempty"`
	Position          int                  `json:"position"`
	QueueLength       int                  `json:"queue_length"`
	SessionLength     int                  `json:"session_length"`
	Score             Score                `json:"score"`
	BlackoutCountdown *int                 `json:"blackout_countdown,omitempty"`
	SurfaceVisible    bool                 `json:"surface_visible"`
	Feedback          Feedback             `json:"feedback"`
	PlayerReady       bool                 `json:"player_ready"`
	Attempted         bool                 `json:"attempted"`
	Flagged           []string             `json:"flagged,omitempty"`
	LastError         string               `json:"last_error,omitempty"`
}

// Outcome is the result of a submission
type Outcome struct {
	Correct  bool     `json:"correct"`
	Counted  bool     `json:"counted"`
	Feedback Feedback `json:"feedback"`
	Score    Score    `json:"score"`
}

// AnswerRecord is one entry of the session history
type AnswerRecord = models.Attempt
