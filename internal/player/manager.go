package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/psantana5/shotread/pkg/dispatch"
	"github.com/psantana5/shotread/pkg/logging"
	"github.com/psantana5/shotread/pkg/metrics"
	"github.com/psantana5/shotread/pkg/models"
	"github.com/psantana5/shotread/pkg/retry"
)

var errSuperseded = errors.New("construction superseded")

// Config holds manager timing
type Config struct {
	PollInterval    time.Duration // watchdog period
	RetryInterval   time.Duration // construction retry period
	InitMaxAttempts int           // construction checks before stalling, 0 is unbounded
	StopGrace       time.Duration // delay before escalating pause to stop
	Clock           clockwork.Clock
}

// DefaultConfig returns the standard manager timing
func DefaultConfig() Config {
	return Config{
		PollInterval:    100 * time.Millisecond,
		RetryInterval:   100 * time.Millisecond,
		InitMaxAttempts: 600,
		StopGrace:       250 * time.Millisecond,
	}
}

// StopEvent describes a threshold crossing
type StopEvent struct {
	ItemID    string
	Threshold float64 // threshold configured when the crossing was detected
	Position  float64
	Ended     bool // the widget reached the end of the media first
}

// Callbacks are raised on the manager's event queue, never while a
// manager command is still running.
type Callbacks struct {
	OnReady              func(itemID string)
	OnStoppedAtThreshold func(StopEvent)
	OnItemFault          func(itemID string, err error)
}

// WatchdogStats counts watchdog loops
type WatchdogStats struct {
	Started int
	Stopped int
	Active  int
}

// Status is a snapshot of the handle
type Status struct {
	State         models.ManagerState  `json:"state"`
	Ready         bool                 `json:"ready"`
	ItemID        string               `json:"item_id,omitempty"`
	Start         float64              `json:"start"`
	Threshold     float64              `json:"threshold"`
	Duration      float64              `json:"duration,omitempty"`
	PlaybackState models.PlaybackState `json:"playback_state"`
	StatusText    string               `json:"status_text"`
	Stalled       bool                 `json:"stalled"`
	Faulted       bool                 `json:"faulted"`
	LastError     string               `json:"last_error,omitempty"`
	Runtime       string               `json:"runtime"`
	InitAttempts  int                  `json:"init_attempts"`
	Watchdog      WatchdogStats        `json:"watchdog"`
}

// Manager owns one widget and hides its asynchronous bootstrap behind
// a fixed command set. It is safe for concurrent use.
type Manager struct {
	loader  *Loader
	cfg     Config
	clock   clockwork.Clock
	logger  *logging.Logger
	metrics *metrics.PlayerMetrics
	events  *dispatch.Queue

	mu        sync.Mutex
	callbacks Callbacks
	surface   Surface
	state     models.ManagerState
	closed    bool

	widget     Widget
	widgetTag  uint64 // tag of the installed widget
	pendingTag uint64 // tag of the widget being constructed
	earlyReady bool   // pending widget reported ready before it was installed
	tagSeq     uint64

	loadGen     uint64
	cancelBuild context.CancelFunc
	attempts    int

	itemID    string
	start     float64
	threshold float64
	duration  float64
	lastState models.PlaybackState

	watchActive bool
	watchSeq    uint64
	watchTimer  clockwork.Timer
	fired       bool // threshold already reported, cleared by play, seek or a new threshold
	stats       WatchdogStats

	haltSeq   uint64
	haltTimer clockwork.Timer

	stalled bool
	faulted bool
	lastErr error
	history []LifecycleEvent
}

// New creates a manager. surface is used when Load runs before Initialize.
func New(loader *Loader, surface Surface, cfg Config, logger *logging.Logger, m *metrics.PlayerMetrics) *Manager {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = def.StopGrace
	}
	if cfg.InitMaxAttempts < 0 {
		cfg.InitMaxAttempts = 0
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger = logging.OrDefault(logger).WithField("component", "player")

	return &Manager{
		loader:    loader,
		cfg:       cfg,
		clock:     clock,
		logger:    logger,
		metrics:   m,
		events:    dispatch.NewQueue(func(r interface{}) { logger.Error("Player callback panicked", logging.Fields{"panic": r}) }),
		surface:   surface,
		state:     models.ManagerUninitialized,
		lastState: models.StateUnknown,
	}
}

// SetCallbacks replaces the callbacks. Events already queued use the
// callbacks that were set when they were raised.
func (m *Manager) SetCallbacks(cb Callbacks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = cb
}

// Initialize begins constructing a widget for itemID. Readiness is only
// observable through OnReady. A nil surface keeps the current one.
func (m *Manager) Initialize(surface Surface, itemID string, start float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if surface != nil {
		m.surface = surface
	}
	if m.widget != nil || m.state != models.ManagerUninitialized {
		m.teardownLocked("reinitialize")
	}
	return m.initializeLocked(itemID, start)
}

func (m *Manager) initializeLocked(itemID string, start float64) error {
	if m.surface == nil {
		return newError(KindNotReady, "initialize", itemID, ErrNoSurface)
	}
	if err := m.transitionLocked(models.ManagerInitializing, "constructing widget"); err != nil {
		return err
	}
	if m.cancelBuild != nil {
		m.cancelBuild()
	}
	m.stopWatchdogLocked()
	m.cancelHaltLocked()

	m.loadGen++
	m.itemID = itemID
	m.start = start
	m.duration = 0
	m.fired = false
	m.stalled = false
	m.faulted = false
	m.attempts = 0
	m.lastState = models.StateUnknown

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelBuild = cancel
	m.loader.Start()
	go m.construct(ctx, m.loadGen, m.surface, itemID, start)
	return nil
}

// construct retries widget construction until the runtime is loaded and
// the surface is attached, in whichever order those happen.
func (m *Manager) construct(ctx context.Context, gen uint64, surface Surface, itemID string, start float64) {
	wake := make(chan struct{}, 1)
	signal := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
	cancelWaiter := m.loader.OnLoaded(signal)
	defer cancelWaiter()
	if s, ok := surface.(interface{ AttachedSignal() <-chan struct{} }); ok {
		attached := s.AttachedSignal()
		go func() {
			select {
			case <-attached:
				signal()
			case <-ctx.Done():
			}
		}()
	}

	err := retry.Poll(ctx, retry.PollConfig{
		Interval:    m.cfg.RetryInterval,
		MaxAttempts: m.cfg.InitMaxAttempts,
		Clock:       m.clock,
		Wake:        wake,
	}, func(attempt int) (bool, error) {
		return m.tryConstruct(gen, surface, itemID, start)
	})
	if err == nil || errors.Is(err, errSuperseded) || errors.Is(err, context.Canceled) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.loadGen || m.closed {
		return
	}
	cause := err
	if lerr := m.loader.Err(); lerr != nil {
		cause = fmt.Errorf("%v: %w", err, lerr)
	}
	pe := newError(KindInitializationStalled, "initialize", itemID, cause)
	m.stalled = true
	m.lastErr = pe
	m.pendingTag = 0
	if m.cancelBuild != nil {
		m.cancelBuild()
		m.cancelBuild = nil
	}
	m.metrics.InitStalled()
	m.logger.Error("Player initialization stalled", logging.Fields{"item_id": itemID, "attempts": m.attempts, "error": cause})
	m.transitionLocked(models.ManagerUninitialized, "initialization stalled")
}

func (m *Manager) tryConstruct(gen uint64, surface Surface, itemID string, start float64) (bool, error) {
	m.mu.Lock()
	if gen != m.loadGen || m.closed {
		m.mu.Unlock()
		return false, errSuperseded
	}
	m.attempts++
	m.metrics.InitAttempt()
	if !m.loader.Loaded() || !surface.Attached() {
		if !m.loader.Loaded() {
			// a failed bootstrap is restarted while construction keeps polling
			m.loader.Start()
		}
		m.mu.Unlock()
		return false, nil
	}
	m.tagSeq++
	tag := m.tagSeq
	m.pendingTag = tag
	m.earlyReady = false
	m.mu.Unlock()

	var w Widget
	err := guard("construct", func() error {
		var err error
		w, err = m.loader.Runtime().NewWidget(surface, itemID, start, m.widgetEvents(tag))
		return err
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.loadGen || m.pendingTag != tag || m.closed {
		if w != nil {
			m.destroyLocked(w, "superseded construction")
		}
		return false, errSuperseded
	}
	if err != nil {
		m.pendingTag = 0
		m.lastErr = newError(KindWidget, "construct", itemID, err)
		m.logger.Warn("Widget construction failed, retrying", logging.Fields{"item_id": itemID, "error": err})
		return false, nil
	}

	m.widget = w
	m.widgetTag = tag
	m.pendingTag = 0
	if m.cancelBuild != nil {
		m.cancelBuild()
		m.cancelBuild = nil
	}
	m.recordLocked("widget constructed")
	if m.earlyReady {
		m.earlyReady = false
		m.becomeReadyLocked()
	}
	return true, nil
}

func (m *Manager) widgetEvents(tag uint64) WidgetEvents {
	return WidgetEvents{
		OnReady:       func() { m.handleReady(tag) },
		OnStateChange: func(s models.PlaybackState) { m.handleStateChange(tag, s) },
		OnError:       func(err error) { m.handleError(tag, err) },
	}
}

// Load swaps the active item, in place when the widget supports it and by
// rebuilding otherwise. It initializes the handle on first use.
func (m *Manager) Load(itemID string, start float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	switch m.state {
	case models.ManagerUninitialized, models.ManagerInitializing:
		if m.widget != nil || m.state == models.ManagerInitializing {
			// cancels retries and any widget built for the previous item
			m.teardownLocked("superseded by " + itemID)
		}
		m.metrics.ItemLoaded("initial")
		return m.initializeLocked(itemID, start)
	}

	if loader, ok := m.widget.(InPlaceLoader); ok {
		m.stopWatchdogLocked()
		m.cancelHaltLocked()
		prevItem := m.itemID
		if err := m.transitionLocked(models.ManagerLoading, "loading "+itemID); err != nil {
			return err
		}
		m.loadGen++
		m.itemID = itemID
		m.start = start
		m.duration = 0
		m.fired = false
		m.faulted = false
		m.lastState = models.StateUnknown

		err := guard("load", func() error { return loader.LoadItem(itemID, start) })
		if err == nil {
			m.metrics.ItemLoaded("in_place")
			m.logger.Debug("Item loaded in place", logging.Fields{"item_id": itemID, "previous": prevItem})
			return nil
		}
		if !errors.Is(err, ErrMethodUnavailable) {
			m.logger.Warn("In-place load failed, rebuilding widget", logging.Fields{"item_id": itemID, "error": err})
		}
	}

	m.metrics.ItemLoaded("rebuild")
	m.teardownLocked("rebuild for " + itemID)
	return m.initializeLocked(itemID, start)
}

func (m *Manager) handleReady(tag uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if tag == m.pendingTag && m.widget == nil {
		m.earlyReady = true
		return
	}
	if tag != m.widgetTag {
		return
	}
	m.becomeReadyLocked()
}

func (m *Manager) becomeReadyLocked() {
	if m.state != models.ManagerInitializing && m.state != models.ManagerLoading {
		return
	}
	if err := m.transitionLocked(models.ManagerReady, "ready "+m.itemID); err != nil {
		return
	}
	m.stalled = false
	if m.start > 0 {
		start := m.start
		m.callWidgetLocked("seek", func() error { return m.widget.SeekTo(start, true) })
	}
	if dr, ok := m.widget.(DurationReporter); ok {
		if d, err := dr.Duration(); err == nil && d > 0 {
			m.duration = d
		}
	}
	itemID := m.itemID
	if cb := m.callbacks.OnReady; cb != nil {
		m.events.Push(func() { cb(itemID) })
	}
}

func (m *Manager) handleStateChange(tag uint64, s models.PlaybackState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || tag != m.widgetTag || m.widget == nil {
		return
	}
	m.lastState = s

	if m.state == models.ManagerLoading {
		// widgets that do not repeat onReady after an in-place swap still cue or start the item
		switch s {
		case models.StateCued, models.StatePlaying, models.StatePaused:
			m.becomeReadyLocked()
		default:
			return
		}
	}
	if m.state != models.ManagerReady {
		return
	}

	switch s {
	case models.StatePlaying:
		if !m.watchActive && !m.fired && m.haltTimer == nil {
			m.startWatchdogLocked()
		}
	case models.StatePaused, models.StateCued, models.StateUnstarted:
		m.stopWatchdogLocked()
	case models.StateEnded:
		if m.threshold > 0 && !m.fired {
			m.crossedLocked(m.positionLocked(), true)
		} else {
			m.stopWatchdogLocked()
		}
	}
}

func (m *Manager) handleError(tag uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || (tag != m.widgetTag && tag != m.pendingTag) {
		return
	}
	pe := newError(KindExternalPlaybackFault, "playback", m.itemID, err)
	m.faulted = true
	m.lastErr = pe
	m.stopWatchdogLocked()
	m.cancelHaltLocked()
	m.metrics.Fault()
	m.logger.Error("Widget reported a playback fault", logging.Fields{"item_id": m.itemID, "error": err})
	m.recordLocked("fault: " + err.Error())

	itemID := m.itemID
	if cb := m.callbacks.OnItemFault; cb != nil {
		m.events.Push(func() { cb(itemID, pe) })
	}
}

// Play resumes playback and replaces any running watchdog
func (m *Manager) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireReadyLocked("play"); err != nil {
		return err
	}
	m.cancelHaltLocked()
	m.stopWatchdogLocked()
	m.fired = false
	if err := m.callWidgetLocked("play", m.widget.Play); err != nil {
		return err
	}
	m.startWatchdogLocked()
	return nil
}

// Pause pauses playback
func (m *Manager) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireReadyLocked("pause"); err != nil {
		return err
	}
	m.stopWatchdogLocked()
	m.cancelHaltLocked()
	return m.callWidgetLocked("pause", m.widget.Pause)
}

// Stop stops playback
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireReadyLocked("stop"); err != nil {
		return err
	}
	m.stopWatchdogLocked()
	m.cancelHaltLocked()
	return m.callWidgetLocked("stop", m.widget.Stop)
}

// Seek moves the playhead. A seek re-arms threshold detection.
func (m *Manager) Seek(seconds float64, allowAhead bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireReadyLocked("seek"); err != nil {
		return err
	}
	m.fired = false
	return m.callWidgetLocked("seek", func() error { return m.widget.SeekTo(seconds, allowAhead) })
}

// CurrentTime returns the playhead position, or 0 when not ready
func (m *Manager) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != models.ManagerReady || m.widget == nil {
		return 0
	}
	return m.positionLocked()
}

// State returns the widget playback state, or StateUnknown when not ready
func (m *Manager) State() models.PlaybackState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != models.ManagerReady || m.widget == nil {
		return models.StateUnknown
	}
	var s models.PlaybackState
	err := guard("state", func() error {
		var err error
		s, err = m.widget.State()
		return err
	})
	if err != nil {
		m.logger.Debug("State query failed", logging.Fields{"error": err})
		return m.lastState
	}
	return s
}

// SetStopThreshold changes the watchdog comparison value without touching
// playback. A value of 0 or less disables threshold stops.
func (m *Manager) SetStopThreshold(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seconds != m.threshold {
		m.fired = false
	}
	m.threshold = seconds
}

// StopThreshold returns the current threshold
func (m *Manager) StopThreshold() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold
}

// Ready reports whether commands will reach the widget
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == models.ManagerReady && m.widget != nil
}

// Teardown releases the watchdog, pending construction and the widget.
// Errors are logged, never returned.
func (m *Manager) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked("teardown")
}

// Close tears down and stops the event queue
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.teardownLocked("close")
	m.closed = true
	m.mu.Unlock()
	m.events.Close()
	return nil
}

// Flush waits until every callback raised so far has run
func (m *Manager) Flush() {
	m.events.Flush()
}

func (m *Manager) teardownLocked(reason string) {
	if m.cancelBuild != nil {
		m.cancelBuild()
		m.cancelBuild = nil
	}
	m.stopWatchdogLocked()
	m.cancelHaltLocked()
	m.loadGen++
	m.pendingTag = 0
	m.earlyReady = false

	if m.widget != nil {
		w := m.widget
		m.widget = nil
		m.widgetTag = 0
		m.destroyLocked(w, reason)
	}
	m.lastState = models.StateUnknown
	m.duration = 0
	if m.state != models.ManagerUninitialized {
		m.transitionLocked(models.ManagerUninitialized, reason)
	}
}

func (m *Manager) destroyLocked(w Widget, reason string) {
	if err := guard("destroy", w.Destroy); err != nil {
		pe := newError(KindTeardown, "destroy", m.itemID, err)
		m.logger.Warn("Widget teardown error ignored", logging.Fields{"reason": reason, "error": pe})
	}
}

func (m *Manager) requireReadyLocked(op string) error {
	if m.closed {
		return ErrClosed
	}
	if m.state == models.ManagerReady && m.widget != nil {
		return nil
	}
	m.metrics.CommandIgnored(op)
	m.logger.Warn("Command ignored, player not ready", logging.Fields{"command": op, "state": string(m.state), "item_id": m.itemID})
	return newError(KindNotReady, op, m.itemID, ErrNotReady)
}

func (m *Manager) callWidgetLocked(op string, fn func() error) error {
	if err := guard(op, fn); err != nil {
		pe := newError(KindWidget, op, m.itemID, err)
		m.lastErr = pe
		m.logger.Warn("Widget command failed", logging.Fields{"command": op, "error": err})
		return pe
	}
	return nil
}

func (m *Manager) positionLocked() float64 {
	var pos float64
	err := guard("current_time", func() error {
		var err error
		pos, err = m.widget.CurrentTime()
		return err
	})
	if err != nil {
		m.logger.Debug("Position query failed", logging.Fields{"error": err})
		return 0
	}
	return pos
}

func (m *Manager) transitionLocked(to models.ManagerState, message string) error {
	if err := models.ValidateManagerTransition(m.state, to); err != nil {
		m.logger.Error("Rejected player state transition", logging.Fields{"error": err})
		return err
	}
	m.state = to
	m.recordLocked(message)
	return nil
}

// Status returns a snapshot of the handle
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	ready := m.state == models.ManagerReady && m.widget != nil
	s := Status{
		State:         m.state,
		Ready:         ready,
		ItemID:        m.itemID,
		Start:         m.start,
		Threshold:     m.threshold,
		Duration:      m.duration,
		PlaybackState: m.lastState,
		Stalled:       m.stalled,
		Faulted:       m.faulted,
		Runtime:       m.loader.Runtime().Name(),
		InitAttempts:  m.attempts,
		Watchdog:      m.stats,
	}
	switch {
	case ready:
		s.StatusText = m.lastState.StatusText()
	case m.state == models.ManagerInitializing || m.state == models.ManagerLoading:
		s.StatusText = "Loading..."
	default:
		s.StatusText = "Not Ready"
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}
