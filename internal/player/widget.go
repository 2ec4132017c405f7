package player

import (
	"context"
	"sync"

	"github.com/psantana5/shotread/pkg/models"
)

// Runtime is an externally loaded media runtime that can build widgets.
// Bootstrap may be slow and is called at most once per Loader.
type Runtime interface {
	Name() string
	Bootstrap(ctx context.Context) error
	NewWidget(surface Surface, itemID string, start float64, events WidgetEvents) (Widget, error)
}

// Widget is one embedded player instance. All methods may fail or be
// missing; the Manager never lets those failures escape.
type Widget interface {
	Play() error
	Pause() error
	Stop() error
	SeekTo(seconds float64, allowAhead bool) error
	CurrentTime() (float64, error)
	State() (models.PlaybackState, error)
	Destroy() error
}

// InPlaceLoader is implemented by widgets that can swap items without
// being rebuilt. The swap completes on a repeated OnReady or on the first
// Cued, Playing or Paused state after it.
type InPlaceLoader interface {
	LoadItem(itemID string, start float64) error
}

// DurationReporter is implemented by widgets that know the media length
type DurationReporter interface {
	Duration() (float64, error)
}

// WidgetEvents are the callbacks a widget raises. Widgets deliver them
// asynchronously and in order, never from inside a command call.
type WidgetEvents struct {
	OnReady       func()
	OnStateChange func(models.PlaybackState)
	OnError       func(error)
}

// Surface is the hosting area a widget renders into
type Surface interface {
	Attached() bool
}

// AttachedSurface is a surface that is always attached
type AttachedSurface struct{}

func (AttachedSurface) Attached() bool { return true }

// SignalSurface is a surface whose attachment is toggled by its host
type SignalSurface struct {
	mu       sync.Mutex
	attached bool
	watchers []chan struct{}
}

// NewSignalSurface creates a detached surface
func NewSignalSurface() *SignalSurface {
	return &SignalSurface{}
}

// Attach marks the surface attached and wakes any watchers
func (s *SignalSurface) Attach() {
	s.mu.Lock()
	s.attached = true
	watchers := s.watchers
	s.watchers = nil
	s.mu.Unlock()
	for _, ch := range watchers {
		close(ch)
	}
}

// Detach marks the surface detached
func (s *SignalSurface) Detach() {
	s.mu.Lock()
	s.attached = false
	s.mu.Unlock()
}

func (s *SignalSurface) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

// AttachedSignal returns a channel closed on the next Attach
func (s *SignalSurface) AttachedSignal() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	if s.attached {
		close(ch)
		return ch
	}
	s.watchers = append(s.watchers, ch)
	return ch
}
