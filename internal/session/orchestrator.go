package session

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/psantana5/shotread/internal/player"
	"github.com/psantana5/shotread/pkg/dispatch"
	"github.com/psantana5/shotread/pkg/logging"
	"github.com/psantana5/shotread/pkg/metrics"
	"github.com/psantana5/shotread/pkg/models"
)

// MaxSessionLength bounds the number of counted attempts per pass
const MaxSessionLength = 10

var (
	ErrNoActiveSession = errors.New("no active session")
	ErrInvalidPhase    = errors.New("command not allowed in current phase")
	ErrEmptyCatalog    = errors.New("catalog is empty")
	ErrNoPlayableItems = errors.New("every item in the catalog failed to play")
	ErrPlayerNotReady  = errors.New("player not ready")
	ErrUnknownItem     = errors.New("item not in session queue")
)

// Player is the capability set the orchestrator drives. It must never
// invoke callbacks synchronously from inside a command.
type Player interface {
	Load(itemID string, start float64) error
	Play() error
	Pause() error
	Stop() error
	Seek(seconds float64, allowAhead bool) error
	CurrentTime() float64
	State() models.PlaybackState
	SetStopThreshold(seconds float64)
	Ready() bool
	SetCallbacks(cb player.Callbacks)
}

// Config tunes the session
type Config struct {
	SessionLength int           // counted items per pass, at most MaxSessionLength
	ExtendBy      time.Duration // stop extension after a correct answer
	BlackoutTicks int
	TickInterval  time.Duration
	AutoPlay      bool // play each item as soon as the player reports ready
	Clock         clockwork.Clock
	Seed          int64 // shuffle seed, 0 picks one from the clock
}

// DefaultConfig returns the standard session settings
func DefaultConfig() Config {
	return Config{
		SessionLength: MaxSessionLength,
		ExtendBy:      3 * time.Second,
		BlackoutTicks: 3,
		TickInterval:  time.Second,
		AutoPlay:      true,
	}
}

// Orchestrator sequences items, gates scoring to first attempts and runs
// the session phase machine. It is safe for concurrent use.
type Orchestrator struct {
	player  Player
	catalog models.Catalog
	cfg     Config
	clock   clockwork.Clock
	logger  *logging.Logger
	metrics *metrics.SessionMetrics
	notify  *dispatch.Queue

	mu          sync.Mutex
	rng         *rand.Rand
	phase       models.Phase
	level       models.Level
	sessionID   string
	startedAt   time.Time
	queue       []int
	pos         int
	attempted   map[string]bool
	correct     int
	attempts    int
	armed       string // item whose next stop completes the pass
	threshold   float64 // stop threshold last handed to the player
	completed   bool
	flagged     map[string]bool
	playerReady bool
	visible     bool
	feedback    Feedback
	lastErr     error
	history     []AnswerRecord

	blackoutSeq   uint64
	blackoutTimer clockwork.Timer
	countdown     int

	subSeq      int
	subscribers map[int]func(Snapshot)
	closed      bool
}

// New creates an orchestrator and registers its callbacks on p
func New(p Player, catalog models.Catalog, cfg Config, logger *logging.Logger, m *metrics.SessionMetrics) (*Orchestrator, error) {
	if len(catalog) == 0 {
		return nil, ErrEmptyCatalog
	}
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	def := DefaultConfig()
	if cfg.SessionLength <= 0 || cfg.SessionLength > MaxSessionLength {
		cfg.SessionLength = def.SessionLength
	}
	if cfg.ExtendBy <= 0 {
		cfg.ExtendBy = def.ExtendBy
	}
	if cfg.BlackoutTicks <= 0 {
		cfg.BlackoutTicks = def.BlackoutTicks
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = clock.Now().UnixNano()
	}
	logger = logging.OrDefault(logger).WithField("component", "session")

	o := &Orchestrator{
		player:      p,
		catalog:     append(models.Catalog(nil), catalog...),
		cfg:         cfg,
		clock:       clock,
		logger:      logger,
		metrics:     m,
		notify:      dispatch.NewQueue(func(r interface{}) { logger.Error("Session subscriber panicked", logging.Fields{"panic": r}) }),
		rng:         rand.New(rand.NewSource(seed)),
		phase:       models.PhaseIdle,
		level:       models.LevelStandard,
		attempted:   make(map[string]bool),
		flagged:     make(map[string]bool),
		visible:     true,
		subscribers: make(map[int]func(Snapshot)),
	}
	p.SetCallbacks(player.Callbacks{
		OnReady:              o.handleReady,
		OnStoppedAtThreshold: o.handleStop,
		OnItemFault:          o.handleFault,
	})
	return o, nil
}

// SessionLength is the number of counted items needed to complete a pass:
// the configured length bounded by the number of distinct catalog items.
func (o *Orchestrator) SessionLength() int {
	if len(o.catalog) < o.cfg.SessionLength {
		return len(o.catalog)
	}
	return o.cfg.SessionLength
}

// StartSession shuffles the catalog into a new queue, resets scoring and
// loads the first item.
func (o *Orchestrator) StartSession(level models.Level) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrInvalidPhase
	}
	o.level = level
	return o.beginLocked()
}

// Restart resets counters and the attempted set, reshuffles and returns
// to the first item.
func (o *Orchestrator) Restart() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sessionID == "" {
		return ErrNoActiveSession
	}
	return o.beginLocked()
}

func (o *Orchestrator) beginLocked() error {
	o.cancelBlackoutLocked()
	if o.phase != models.PhaseIdle {
		if err := o.transitionLocked(models.PhaseIdle); err != nil {
			return err
		}
	}

	o.sessionID = uuid.NewString()
	o.startedAt = o.clock.Now()
	o.correct = 0
	o.attempts = 0
	o.attempted = make(map[string]bool)
	o.flagged = make(map[string]bool)
	o.armed = ""
	o.completed = false
	o.history = nil
	o.lastErr = nil
	o.feedback = Feedback{}
	o.visible = true
	o.reshuffleLocked()

	if err := o.transitionLocked(models.PhasePlaying); err != nil {
		return err
	}
	o.metrics.SessionStarted()
	o.metrics.Score(0, 0)
	o.logger.Info("Session started", logging.Fields{"session_id": o.sessionID, "level": string(o.level), "items": len(o.queue)})
	o.loadCurrentLocked()
	o.notifyLocked()
	return nil
}

func (o *Orchestrator) reshuffleLocked() {
	o.queue = o.rng.Perm(len(o.catalog))
	o.pos = 0
}

func (o *Orchestrator) currentLocked() models.PracticeItem {
	return o.catalog[o.queue[o.pos]]
}

func (o *Orchestrator) setThresholdLocked(seconds float64) {
	o.threshold = seconds
	o.player.SetStopThreshold(seconds)
}

func (o *Orchestrator) loadCurrentLocked() {
	item := o.currentLocked()
	o.playerReady = false
	o.setThresholdLocked(item.Stop)
	if err := o.player.Load(item.ID, item.Start); err != nil {
		o.logger.Warn("Item load failed", logging.Fields{"item_id": item.ID, "error": err})
	}
}

// SubmitAnswer scores the first submission for the current item and
// replays or extends playback.
func (o *Orchestrator) SubmitAnswer(candidate string) (Outcome, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireActiveLocked(); err != nil {
		return Outcome{}, err
	}
	item := o.currentLocked()

	if !o.player.Ready() {
		o.feedback = pickFeedback(o.rng, FeedbackNotReady)
		o.notifyLocked()
		return Outcome{Feedback: o.feedback, Score: o.scoreLocked()}, ErrPlayerNotReady
	}

	if o.phase == models.PhaseBlackout {
		o.cancelBlackoutLocked()
		o.visible = true
		if err := o.transitionLocked(models.PhasePlaying); err != nil {
			return Outcome{}, err
		}
	}

	correct := item.Matches(candidate)
	counted := o.recordAttemptLocked(item, candidate, correct, false)
	if correct {
		o.feedback = pickFeedback(o.rng, FeedbackCorrect)
		o.setThresholdLocked(o.player.CurrentTime() + o.cfg.ExtendBy.Seconds())
	} else {
		o.feedback = pickFeedback(o.rng, FeedbackIncorrect)
		o.seekLocked(item)
		o.setThresholdLocked(item.Stop)
	}
	o.playLocked()

	o.logger.Debug("Answer submitted", logging.Fields{"item_id": item.ID, "correct": correct, "counted": counted})
	o.notifyLocked()
	return Outcome{Correct: correct, Counted: counted, Feedback: o.feedback, Score: o.scoreLocked()}, nil
}

// recordAttemptLocked applies first-attempt gating and arms completion
// when the count reaches the session length.
func (o *Orchestrator) recordAttemptLocked(item models.PracticeItem, candidate string, correct, timedOut bool) bool {
	counted := !o.attempted[item.ID] && o.attempts < o.SessionLength()
	if counted {
		o.attempted[item.ID] = true
		o.attempts++
		if correct {
			o.correct++
		}
		if o.attempts == o.SessionLength() && !o.completed {
			o.armed = item.ID
		}
		o.metrics.Score(o.correct, o.attempts)
	}
	o.metrics.Answer(correct, counted)
	o.history = append(o.history, AnswerRecord{
		ItemID:    item.ID,
		Candidate: candidate,
		Expected:  item.Answer,
		Correct:   correct,
		Counted:   counted,
		TimedOut:  timedOut,
		At:        o.clock.Now(),
	})
	return counted
}

// Advance moves to the next queue position, reshuffling when the queue is
// exhausted. Scoring is untouched. When the current item carries the
// session's last counted attempt, Advance completes the pass and stays on
// the item instead; it still returns nil, and Snapshot reports
// PhaseComplete.
func (o *Orchestrator) Advance() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireActiveLocked(); err != nil {
		return err
	}
	return o.moveLocked(func() { o.stepLocked() })
}

// SelectItem jumps to an item already in the queue. Like Advance, leaving
// the item that carries the last counted attempt completes the pass
// without moving.
func (o *Orchestrator) SelectItem(itemID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireActiveLocked(); err != nil {
		return err
	}
	idx := -1
	for i, ci := range o.queue {
		if o.catalog[ci].ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}
	if o.flagged[itemID] {
		return fmt.Errorf("item %s is flagged as unplayable", itemID)
	}
	return o.moveLocked(func() { o.pos = idx })
}

// moveLocked leaves the current item. Leaving an item whose completion is
// armed completes the pass instead of moving.
func (o *Orchestrator) moveLocked(step func()) error {
	if o.armed != "" && o.armed == o.currentLocked().ID {
		o.completeLocked()
		return nil
	}
	o.cancelBlackoutLocked()
	if o.phase == models.PhaseBlackout {
		if err := o.transitionLocked(models.PhasePlaying); err != nil {
			return err
		}
	}
	o.visible = true
	o.feedback = Feedback{}

	step()
	// at most one reshuffle happens before an unflagged item comes up, and
	// at least one catalog item is unflagged while a session is active
	for i := 0; i < 2*len(o.queue) && o.flagged[o.currentLocked().ID]; i++ {
		o.stepLocked()
	}
	o.loadCurrentLocked()
	o.notifyLocked()
	return nil
}

func (o *Orchestrator) stepLocked() {
	o.pos++
	if o.pos >= len(o.queue) {
		o.reshuffleLocked()
		o.metrics.Reshuffled()
		o.logger.Debug("Queue exhausted, reshuffled", logging.Fields{"session_id": o.sessionID})
	}
}

// Replay seeks back to the current item's start and plays to its
// canonical stop again. Scoring is untouched.
func (o *Orchestrator) Replay() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireActiveLocked(); err != nil {
		return err
	}
	if !o.player.Ready() {
		o.feedback = pickFeedback(o.rng, FeedbackNotReady)
		o.notifyLocked()
		return ErrPlayerNotReady
	}
	o.cancelBlackoutLocked()
	if o.phase == models.PhaseBlackout {
		if err := o.transitionLocked(models.PhasePlaying); err != nil {
			return err
		}
	}
	o.visible = true
	o.feedback = Feedback{}

	item := o.currentLocked()
	o.seekLocked(item)
	o.setThresholdLocked(item.Stop)
	o.playLocked()
	o.notifyLocked()
	return nil
}

// SetLevel changes the level used from the next item on
func (o *Orchestrator) SetLevel(level models.Level) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.level = level
	o.notifyLocked()
}

// Leave ends the session, as when the learner navigates away
func (o *Orchestrator) Leave() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelBlackoutLocked()
	if o.phase != models.PhaseIdle {
		if err := o.transitionLocked(models.PhaseIdle); err != nil {
			return err
		}
	}
	if o.player.Ready() {
		if err := o.player.Stop(); err != nil {
			o.logger.Debug("Stop on leave failed", logging.Fields{"error": err})
		}
	}
	if o.sessionID != "" {
		o.logger.Info("Session left", logging.Fields{"session_id": o.sessionID, "correct": o.correct, "attempts": o.attempts})
	}
	o.sessionID = ""
	o.armed = ""
	o.visible = true
	o.feedback = Feedback{}
	o.notifyLocked()
	return nil
}

func (o *Orchestrator) handleReady(itemID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.phase.IsActive() || itemID != o.currentLocked().ID {
		return
	}
	o.playerReady = true
	if o.cfg.AutoPlay && o.phase == models.PhasePlaying {
		o.playLocked()
	}
	o.notifyLocked()
}

func (o *Orchestrator) handleStop(ev player.StopEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase != models.PhasePlaying || ev.ItemID != o.currentLocked().ID {
		return
	}
	item := o.currentLocked()
	if o.staleStopLocked(ev) {
		o.logger.Debug("Ignoring stale stop event", logging.Fields{"item_id": ev.ItemID, "threshold": ev.Threshold, "current": o.threshold})
		return
	}

	if o.armed == item.ID {
		o.completeLocked()
		return
	}
	if o.level.Blackout() && isCanonicalStop(ev.Threshold, item.Stop) {
		o.startBlackoutLocked()
		o.notifyLocked()
	}
}

// staleStopLocked reports whether ev was raised before the threshold in
// force was set, or before a seek moved the playhead back behind it. Such
// an event was queued by the player while this side held the lock.
func (o *Orchestrator) staleStopLocked(ev player.StopEvent) bool {
	if !sameThreshold(ev.Threshold, o.threshold) {
		return true
	}
	return o.player.CurrentTime() < ev.Position-thresholdEpsilon
}

const thresholdEpsilon = 1e-6

func sameThreshold(a, b float64) bool {
	return math.Abs(a-b) < thresholdEpsilon
}

func isCanonicalStop(threshold, stop float64) bool {
	return sameThreshold(threshold, stop)
}

func (o *Orchestrator) handleFault(itemID string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.phase.IsActive() || itemID != o.currentLocked().ID {
		return
	}
	o.flagged[itemID] = true
	o.metrics.ItemSkipped()
	o.logger.Warn("Skipping item after playback fault", logging.Fields{"item_id": itemID, "error": err})

	if len(o.flagged) >= len(o.catalog) {
		o.cancelBlackoutLocked()
		o.transitionLocked(models.PhaseIdle)
		o.lastErr = ErrNoPlayableItems
		o.logger.Error("No playable items left, session stopped", logging.Fields{"session_id": o.sessionID})
		o.notifyLocked()
		return
	}
	o.moveLocked(func() { o.stepLocked() })
}

func (o *Orchestrator) completeLocked() {
	o.cancelBlackoutLocked()
	if err := o.transitionLocked(models.PhaseComplete); err != nil {
		return
	}
	o.armed = ""
	o.completed = true
	o.visible = true
	o.metrics.Completed()
	o.logger.Info("Session complete", logging.Fields{"session_id": o.sessionID, "correct": o.correct, "attempts": o.attempts})
	o.notifyLocked()
}

func (o *Orchestrator) seekLocked(item models.PracticeItem) {
	if err := o.player.Seek(item.Start, true); err != nil {
		o.logger.Warn("Seek failed", logging.Fields{"item_id": item.ID, "error": err})
	}
}

func (o *Orchestrator) playLocked() {
	if err := o.player.Play(); err != nil {
		o.logger.Warn("Play failed", logging.Fields{"error": err})
	}
}

func (o *Orchestrator) requireActiveLocked() error {
	switch o.phase {
	case models.PhasePlaying, models.PhaseBlackout:
		return nil
	case models.PhaseIdle:
		return ErrNoActiveSession
	default:
		return fmt.Errorf("%w: %s", ErrInvalidPhase, o.phase)
	}
}

func (o *Orchestrator) transitionLocked(to models.Phase) error {
	if err := models.ValidatePhaseTransition(o.phase, to); err != nil {
		o.logger.Error("Rejected session phase transition", logging.Fields{"error": err})
		return err
	}
	o.phase = to
	return nil
}

func (o *Orchestrator) scoreLocked() Score {
	return Score{CorrectCount: o.correct, AttemptsCounted: o.attempts}
}

// Snapshot returns the current read-only state
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	s := Snapshot{
		SessionID:      o.sessionID,
		Phase:          o.phase,
		Level:          o.level,
		Position:       o.pos,
		QueueLength:    len(o.queue),
		SessionLength:  o.SessionLength(),
		Score:          o.scoreLocked(),
		SurfaceVisible: o.visible,
		Feedback:       o.feedback,
		PlayerReady:    o.playerReady,
	}
	if len(o.queue) > 0 && o.sessionID != "" {
		item := o.currentLocked()
		s.CurrentItem = &item
		s.Attempted = o.attempted[item.ID]
	}
	if o.phase == models.PhaseBlackout {
		n := o.countdown
		s.BlackoutCountdown = &n
	}
	for _, item := range o.catalog {
		if o.flagged[item.ID] {
			s.Flagged = append(s.Flagged, item.ID)
		}
	}
	if o.lastErr != nil {
		s.LastError = o.lastErr.Error()
	}
	return s
}

// History returns every answer recorded in the current session
func (o *Orchestrator) History() []AnswerRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]AnswerRecord(nil), o.history...)
}

// Result summarises the current session for persistence and reports
func (o *Orchestrator) Result() models.SessionResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return models.SessionResult{
		SessionID:     o.sessionID,
		Level:         o.level,
		Correct:       o.correct,
		Attempts:      o.attempts,
		SessionLength: o.SessionLength(),
		Completed:     o.completed,
		StartedAt:     o.startedAt,
		FinishedAt:    o.clock.Now(),
		Answers:       append([]AnswerRecord(nil), o.history...),
	}
}

// Catalog returns the items the orchestrator draws from
func (o *Orchestrator) Catalog() models.Catalog {
	return append(models.Catalog(nil), o.catalog...)
}

// Subscribe registers fn for state changes. Notifications arrive in order
// on a separate goroutine.
func (o *Orchestrator) Subscribe(fn func(Snapshot)) (cancel func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subSeq++
	id := o.subSeq
	o.subscribers[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subscribers, id)
	}
}

func (o *Orchestrator) notifyLocked() {
	if len(o.subscribers) == 0 {
		return
	}
	snap := o.snapshotLocked()
	for _, fn := range o.subscribers {
		fn := fn
		o.notify.Push(func() { fn(snap) })
	}
}

// Flush waits for queued notifications to be delivered
func (o *Orchestrator) Flush() {
	o.notify.Flush()
}

// Close cancels any countdown and stops notifications
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	o.cancelBlackoutLocked()
	o.closed = true
	o.mu.Unlock()
	o.notify.Close()
	return nil
}
