package player

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotReady is returned by commands issued before the widget is ready.
	ErrNotReady = errors.New("player not ready")
	// ErrInitializationStalled means construction retries hit their bound.
	ErrInitializationStalled = errors.New("player initialization stalled")
	// ErrPlaybackFault means the widget reported a load or playback error.
	ErrPlaybackFault = errors.New("external playback fault")
	// ErrMethodUnavailable is returned by widgets lacking an optional method.
	ErrMethodUnavailable = errors.New("widget method unavailable")
	// ErrNoSurface means the hosting surface is not attached.
	ErrNoSurface = errors.New("hosting surface not attached")
	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("player closed")
)

// ErrorKind categorizes player failures for handling strategy
type ErrorKind int

const (
	KindUnknown               ErrorKind = iota
	KindNotReady                        // command before ready, ignored
	KindInitializationStalled           // persistent not-ready status
	KindExternalPlaybackFault           // item failed to load or play
	KindTeardown                        // detachment race during teardown, logged only
	KindWidget                          // widget call returned an error or panicked
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotReady:
		return "not_ready"
	case KindInitializationStalled:
		return "initialization_stalled"
	case KindExternalPlaybackFault:
		return "external_playback_fault"
	case KindTeardown:
		return "teardown"
	case KindWidget:
		return "widget"
	default:
		return "unknown"
	}
}

// PlayerError wraps a failure with its operation and item
type PlayerError struct {
	Kind      ErrorKind
	Op        string
	ItemID    string
	Err       error
	Timestamp time.Time
}

func (e *PlayerError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("%s failed for item %s (%s): %v", e.Op, e.ItemID, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *PlayerError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel that corresponds to the error kind
func (e *PlayerError) Is(target error) bool {
	switch e.Kind {
	case KindNotReady:
		return target == ErrNotReady
	case KindInitializationStalled:
		return target == ErrInitializationStalled
	case KindExternalPlaybackFault:
		return target == ErrPlaybackFault
	}
	return false
}

func newError(kind ErrorKind, op, itemID string, err error) *PlayerError {
	return &PlayerError{Kind: kind, Op: op, ItemID: itemID, Err: err, Timestamp: time.Now()}
}

// KindOf returns the kind of a player error, or KindUnknown
func KindOf(err error) ErrorKind {
	var pe *PlayerError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// guard runs fn and converts a panic inside the widget into an error
func guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", op, r)
		}
	}()
	return fn()
}
