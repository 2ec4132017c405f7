package session

import "math/rand"

// FeedbackKind classifies the message shown after an answer
type FeedbackKind string

const (
	FeedbackNone      FeedbackKind = ""
	FeedbackCorrect   FeedbackKind = "correct"
	FeedbackIncorrect FeedbackKind = "incorrect"
	FeedbackTimeout   FeedbackKind = "timeout"
	FeedbackNotReady  FeedbackKind = "not_ready"
)

// Feedback is the message shown to the learner
type Feedback struct {
	Kind    FeedbackKind `json:"kind,omitempty"`
	Message string       `json:"message,omitempty"`
}

var feedbackMessages = map[FeedbackKind][]string{
	FeedbackCorrect: {
		"Good Read!",
		"Great read, you saw it coming!",
		"Nice! You read the shot.",
	},
	FeedbackIncorrect: {
		"Wrong! You failed to read the shot.",
		"Not this time. Watch the hitter's shoulders.",
		"Missed it! Watch it again.",
	},
	FeedbackTimeout: {
		"Time's up! You failed to read the shot.",
	},
	FeedbackNotReady: {
		"Player not ready. Please wait a moment.",
	},
}

func pickFeedback(rng *rand.Rand, kind FeedbackKind) Feedback {
	msgs := feedbackMessages[kind]
	if len(msgs) == 0 {
		return Feedback{Kind: kind}
	}
	return Feedback{Kind: kind, Message: msgs[rng.Intn(len(msgs))]}
}
