// Package sim is an in-process widget runtime driven by a clock. It
// behaves like an embedded video widget: slow to bootstrap, ready some
// time after construction, events delivered asynchronously.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/psantana5/shotread/internal/player"
	"github.com/psantana5/shotread/pkg/dispatch"
	"github.com/psantana5/shotread/pkg/models"
)

// DefaultDuration is the media length used for items without one
const DefaultDuration = 60.0

// Options tune the simulated runtime
type Options struct {
	Clock             clockwork.Clock
	BootDelay         time.Duration
	BootFailures      int // first N bootstraps fail
	ReadyDelay        time.Duration
	ConstructFailures int     // first N widget constructions fail
	Speed             float64 // playback rate, 1 is real time
	InPlace           bool    // widgets support in-place item swaps
	IgnorePause       bool    // widgets silently ignore pause
	Durations         map[string]float64
	Faulty            map[string]bool // items that report a playback error
}

// Runtime is a simulated widget runtime
type Runtime struct {
	opts  Options
	clock clockwork.Clock

	mu          sync.Mutex
	boots       int
	constructed int
	widgets     []*Widget
}

// NewRuntime creates a simulated runtime
func NewRuntime(opts Options) *Runtime {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	return &Runtime{opts: opts, clock: opts.Clock}
}

func (r *Runtime) Name() string { return "sim" }

// Bootstrap simulates loading the runtime
func (r *Runtime) Bootstrap(ctx context.Context) error {
	r.mu.Lock()
	r.boots++
	boot := r.boots
	r.mu.Unlock()

	if r.opts.BootDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(r.opts.BootDelay):
		}
	}
	if boot <= r.opts.BootFailures {
		return fmt.Errorf("simulated bootstrap failure %d", boot)
	}
	return nil
}

// Boots returns the number of bootstrap calls
func (r *Runtime) Boots() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.boots
}

// Widgets returns every widget constructed so far
func (r *Runtime) Widgets() []*Widget {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Widget, len(r.widgets))
	copy(out, r.widgets)
	return out
}

// NewWidget constructs a widget for itemID cued at start
func (r *Runtime) NewWidget(surface player.Surface, itemID string, start float64, events player.WidgetEvents) (player.Widget, error) {
	if surface == nil || !surface.Attached() {
		return nil, player.ErrNoSurface
	}
	r.mu.Lock()
	r.constructed++
	if r.constructed <= r.opts.ConstructFailures {
		r.mu.Unlock()
		return nil, fmt.Errorf("simulated construction failure %d", r.constructed)
	}
	w := &Widget{
		rt:       r,
		events:   events,
		queue:    dispatch.NewQueue(nil),
		itemID:   itemID,
		duration: r.duration(itemID),
		base:     start,
		state:    models.StateUnstarted,
	}
	r.widgets = append(r.widgets, w)
	r.mu.Unlock()

	w.mu.Lock()
	w.readyTimer = r.clock.AfterFunc(r.opts.ReadyDelay, w.becomeReady)
	w.mu.Unlock()
	return w, nil
}

func (r *Runtime) duration(itemID string) float64 {
	if d, ok := r.opts.Durations[itemID]; ok && d > 0 {
		return d
	}
	return DefaultDuration
}

// Widget is a simulated player instance
type Widget struct {
	rt     *Runtime
	events player.WidgetEvents
	queue  *dispatch.Queue

	mu         sync.Mutex
	itemID     string
	duration   float64
	state      models.PlaybackState
	base       float64   // position when anchor was taken
	anchor     time.Time // start of the current playing stretch
	endTimer   clockwork.Timer
	endSeq     uint64
	readyTimer clockwork.Timer
	destroyed  bool

	plays, pauses, stops, seeks, loads int
}

var errDestroyed = errors.New("widget destroyed")

func (w *Widget) emit(fn func()) {
	if fn != nil {
		w.queue.Push(fn)
	}
}

func (w *Widget) emitState(s models.PlaybackState) {
	if cb := w.events.OnStateChange; cb != nil {
		w.emit(func() { cb(s) })
	}
}

func (w *Widget) becomeReady() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return
	}
	w.state = models.StateCued
	if w.rt.opts.Faulty[w.itemID] {
		w.emitFaultLocked()
		return
	}
	w.emitState(models.StateCued)
	w.emit(w.events.OnReady)
}

func (w *Widget) emitFaultLocked() {
	err := fmt.Errorf("video %s cannot be played", w.itemID)
	if cb := w.events.OnError; cb != nil {
		w.emit(func() { cb(err) })
	}
}

func (w *Widget) positionLocked() float64 {
	pos := w.base
	if w.state == models.StatePlaying {
		pos += w.rt.clock.Since(w.anchor).Seconds() * w.rt.opts.Speed
	}
	if pos > w.duration {
		pos = w.duration
	}
	return pos
}

func (w *Widget) freezeLocked() {
	w.base = w.positionLocked()
	w.anchor = w.rt.clock.Now()
	w.endSeq++
	if w.endTimer != nil {
		w.endTimer.Stop()
		w.endTimer = nil
	}
}

func (w *Widget) armEndLocked() {
	w.endSeq++
	seq := w.endSeq
	remaining := time.Duration((w.duration - w.base) / w.rt.opts.Speed * float64(time.Second))
	if remaining < 0 {
		remaining = 0
	}
	w.endTimer = w.rt.clock.AfterFunc(remaining, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.destroyed || seq != w.endSeq || w.state != models.StatePlaying {
			return
		}
		w.base = w.duration
		w.state = models.StateEnded
		w.endTimer = nil
		w.emitState(models.StateEnded)
	})
}

func (w *Widget) Play() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return errDestroyed
	}
	w.plays++
	if w.state == models.StatePlaying {
		return nil
	}
	if w.state == models.StateEnded {
		w.base = 0
	}
	w.freezeLocked()
	w.state = models.StatePlaying
	w.armEndLocked()
	w.emitState(models.StatePlaying)
	return nil
}

func (w *Widget) Pause() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return errDestroyed
	}
	w.pauses++
	if w.rt.opts.IgnorePause || w.state != models.StatePlaying {
		return nil
	}
	w.freezeLocked()
	w.state = models.StatePaused
	w.emitState(models.StatePaused)
	return nil
}

func (w *Widget) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return errDestroyed
	}
	w.stops++
	w.freezeLocked()
	w.state = models.StateCued
	w.emitState(models.StateCued)
	return nil
}

func (w *Widget) SeekTo(seconds float64, allowAhead bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return errDestroyed
	}
	w.seeks++
	if seconds < 0 {
		seconds = 0
	}
	if seconds > w.duration {
		seconds = w.duration
	}
	w.freezeLocked()
	w.base = seconds
	if w.state == models.StateEnded {
		w.state = models.StatePaused
	}
	if w.state == models.StatePlaying {
		w.armEndLocked()
	}
	return nil
}

func (w *Widget) CurrentTime() (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return 0, errDestroyed
	}
	return w.positionLocked(), nil
}

func (w *Widget) State() (models.PlaybackState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return models.StateUnknown, errDestroyed
	}
	return w.state, nil
}

// Duration reports the media length
func (w *Widget) Duration() (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.duration, nil
}

// LoadItem swaps the item in place and cues it at start
func (w *Widget) LoadItem(itemID string, start float64) error {
	if !w.rt.opts.InPlace {
		return player.ErrMethodUnavailable
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return errDestroyed
	}
	w.loads++
	w.freezeLocked()
	w.itemID = itemID
	w.duration = w.rt.duration(itemID)
	w.base = start
	w.state = models.StateCued
	if w.rt.opts.Faulty[itemID] {
		w.emitFaultLocked()
		return nil
	}
	w.emitState(models.StateCued)
	return nil
}

func (w *Widget) Destroy() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return errDestroyed
	}
	w.destroyed = true
	w.freezeLocked()
	if w.readyTimer != nil {
		w.readyTimer.Stop()
	}
	w.queue.Close()
	return nil
}

// ItemID returns the loaded item
func (w *Widget) ItemID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.itemID
}

// Destroyed reports whether Destroy was called
func (w *Widget) Destroyed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.destroyed
}

// Counts returns how often each command reached the widget
func (w *Widget) Counts() (plays, pauses, stops, seeks, loads int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.plays, w.pauses, w.stops, w.seeks, w.loads
}
