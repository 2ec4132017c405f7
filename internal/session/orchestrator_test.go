package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/shotread/internal/player"
	"github.com/psantana5/shotread/pkg/logging"
	"github.com/psantana5/shotread/pkg/models"
)

// fakePlayer records commands. Callbacks are only raised by the test.
type fakePlayer struct {
	mu        sync.Mutex
	cb        player.Callbacks
	ready     bool
	itemID    string
	position  float64
	threshold float64
	state     models.PlaybackState
	loads     []string
	plays     int
	seeks     []float64
	stops     int
}

func (f *fakePlayer) Load(itemID string, start float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = false
	f.itemID = itemID
	f.position = start
	f.loads = append(f.loads, itemID)
	return nil
}

func (f *fakePlayer) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return player.ErrNotReady
	}
	f.plays++
	f.state = models.StatePlaying
	return nil
}

func (f *fakePlayer) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = models.StatePaused
	return nil
}

func (f *fakePlayer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.state = models.StateCued
	return nil
}

func (f *fakePlayer) Seek(seconds float64, allowAhead bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return player.ErrNotReady
	}
	f.position = seconds
	f.seeks = append(f.seeks, seconds)
	return nil
}

func (f *fakePlayer) CurrentTime() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return 0
	}
	return f.position
}

func (f *fakePlayer) State() models.PlaybackState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakePlayer) SetStopThreshold(seconds float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threshold = seconds
}

func (f *fakePlayer) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakePlayer) SetCallbacks(cb player.Callbacks) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb = cb
}

// becomeReady marks the loaded item ready and raises OnReady
func (f *fakePlayer) becomeReady() {
	f.mu.Lock()
	f.ready = true
	id := f.itemID
	cb := f.cb.OnReady
	f.mu.Unlock()
	cb(id)
}

// reachThreshold moves the playhead to the threshold and raises the stop
func (f *fakePlayer) reachThreshold() {
	f.mu.Lock()
	f.position = f.threshold
	f.state = models.StatePaused
	ev := player.StopEvent{ItemID: f.itemID, Threshold: f.threshold, Position: f.threshold}
	cb := f.cb.OnStoppedAtThreshold
	f.mu.Unlock()
	cb(ev)
}

func (f *fakePlayer) fault() {
	f.mu.Lock()
	id := f.itemID
	cb := f.cb.OnItemFault
	f.mu.Unlock()
	cb(id, fmt.Errorf("video %s unavailable", id))
}

func (f *fakePlayer) snapshot() (threshold, position float64, plays int, loads []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threshold, f.position, f.plays, append([]string(nil), f.loads...)
}

func testCatalog(n int) models.Catalog {
	c := make(models.Catalog, n)
	for i := range c {
		c[i] = models.PracticeItem{
			ID:     fmt.Sprintf("item-%02d", i),
			Answer: models.Answers[i%len(models.Answers)],
			Start:  float64(i),
			Stop:   float64(i) + 1.35,
		}
	}
	return c
}

func newTestOrchestrator(t *testing.T, n int) (*Orchestrator, *fakePlayer, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	fp := &fakePlayer{state: models.StateUnknown}
	cfg := DefaultConfig()
	cfg.Clock = clock
	cfg.Seed = 42
	o, err := New(fp, testCatalog(n), cfg, logging.Discard(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	return o, fp, clock
}

func currentItem(t *testing.T, o *Orchestrator) models.PracticeItem {
	t.Helper()
	snap := o.Snapshot()
	require.NotNil(t, snap.CurrentItem)
	return *snap.CurrentItem
}

func wrongAnswer(item models.PracticeItem) string {
	for _, a := range models.Answers {
		if !item.Matches(a) {
			return a
		}
	}
	return "nothing"
}

func TestStartSessionLoadsFirstItem(t *testing.T) {
	o, fp, _ := newTestOrchestrator(t, 3)
	require.NoError(t, o.StartSession(models.LevelStandard))

	snap := o.Snapshot()
	assert.Equal(t, models.PhasePlaying, snap.Phase)
	assert.NotEmpty(t, snap.SessionID)
	assert.Equal(t, 0, snap.Position)
	assert.Equal(t, 3, snap.QueueLength)
	assert.Equal(t, Score{}, snap.Score)
	assert.False(t, snap.PlayerReady)

	item := currentItem(t, o)
	threshold, _, plays, loads := fp.snapshot()
	assert.Equal(t, []string{item.ID}, loads)
	assert.Equal(t, item.Stop, threshold)
	assert.Equal(t, 0, plays)

	fp.becomeReady()
	_, _, plays, _ = fp.snapshot()
	assert.Equal(t, 1, plays, "autoplay on ready")
	assert.True(t, o.Snapshot().PlayerReady)
}

func TestFirstAttemptGating(t *testing.T) {
	o, fp, _ := newTestOrchestrator(t, 3)
	require.NoError(t, o.StartSession(models.LevelStandard))
	fp.becomeReady()
	item := currentItem(t, o)

	out, err := o.SubmitAnswer(item.Answer)
	require.NoError(t, err)
	assert.True(t, out.Correct)
	assert.True(t, out.Counted)
	assert.Equal(t, Score{CorrectCount: 1, AttemptsCounted: 1}, out.Score)
	assert.Equal(t, FeedbackCorrect, out.Feedback.Kind)

	out, err = o.SubmitAnswer(wrongAnswer(item))
	require.NoError(t, err)
	assert.False(t, out.Correct)
	assert.False(t, out.Counted)
	assert.Equal(t, Score{CorrectCount: 1, AttemptsCounted: 1}, out.Score)
	assert.Equal(t, FeedbackIncorrect, out.Feedback.Kind)

	// resubmitting anything never moves the counters again
	for _, candidate := range append([]string{item.Answer}, models.Answers...) {
		_, err := o.SubmitAnswer(candidate)
		require.NoError(t, err)
	}
	assert.Equal(t, Score{CorrectCount: 1, AttemptsCounted: 1}, o.Snapshot().Score)
	assert.True(t, o.Snapshot().Attempted)
}

func TestCorrectAnswerExtendsThreshold(t *testing.T) {
	o, fp, _ := newTestOrchestrator(t, 3)
	require.NoError(t, o.StartSession(models.LevelAdvanced))
	fp.becomeReady()
	item := currentItem(t, o)

	fp.mu.Lock()
	fp.position = item.Start + 0.5
	fp.mu.Unlock()

	_, err := o.SubmitAnswer(item.Answer)
	require.NoError(t, err)
	threshold, _, plays, _ := fp.snapshot()
	assert.InDelta(t, item.Start+0.5+3, threshold, 1e-9)
	assert.Equal(t, 2, plays)

	// the extended stop does not trigger blackout
	fp.reachThreshold()
	assert.Equal(t, models.PhasePlaying, o.Snapshot().Phase)
	assert.Nil(t, o.Snapshot().BlackoutCountdown)
}

func TestIncorrectAnswerReplaysFromStart(t *testing.T) {
	o, fp, _ := newTestOrchestrator(t, 3)
	require.NoError(t, o.StartSession(models.LevelStandard))
	fp.becomeReady()
	item := currentItem(t, o)

	o.player.SetStopThreshold(99)
	_, err := o.SubmitAnswer(wrongAnswer(item))
	require.NoError(t, err)

	threshold, position, plays, _ := fp.snapshot()
	assert.Equal(t, item.Stop, threshold)
	assert.Equal(t, item.Start, position)
	assert.Equal(t, 2, plays)
	assert.Equal(t, Score{AttemptsCounted: 1}, o.Snapshot().Score)
}

func TestSubmitBeforePlayerReady(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, 3)
	require.NoError(t, o.StartSession(models.LevelStandard))
	item := currentItem(t, o)

	out, err := o.SubmitAnswer(item.Answer)
	assert.ErrorIs(t, err, ErrPlayerNotReady)
	assert.Equal(t, FeedbackNotReady, out.Feedback.Kind)
	assert.Equal(t, "Player not ready. Please wait a moment.", out.Feedback.Message)
	assert.Equal(t, Score{}, o.Snapshot().Score)
	assert.False(t, o.Snapshot().Attempted)
}

func TestCommandsOutsideSession(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, 3)

	_, err := o.SubmitAnswer("Line")
	assert.ErrorIs(t, err, ErrNoActiveSession)
	assert.ErrorIs(t, o.Advance(), ErrNoActiveSession)
	assert.ErrorIs(t, o.Restart(), ErrNoActiveSession)
	assert.ErrorIs(t, o.Replay(), ErrNoActiveSession)
}

func TestAdvanceReshufflesWhenExhausted(t *testing.T) {
	o, fp, _ := newTestOrchestrator(t, 3)
	require.NoError(t, o.StartSession(models.LevelStandard))
	fp.becomeReady()
	_, err := o.SubmitAnswer(currentItem(t, o).Answer)
	require.NoError(t, err)

	first := o.Snapshot().SessionID
	var seen []string
	seen = append(seen, currentItem(t, o).ID)
	for i := 1; i < 3; i++ {
		require.NoError(t, o.Advance())
		assert.Equal(t, i, o.Snapshot().Position)
		seen = append(seen, currentItem(t, o).ID)
	}
	require.NoError(t, o.Advance())
	snap := o.Snapshot()
	assert.Equal(t, 0, snap.Position)
	assert.Equal(t, 3, snap.QueueLength)
	assert.Equal(t, first, snap.SessionID)
	assert.Equal(t, Score{CorrectCount: 1, AttemptsCounted: 1}, snap.Score, "advance never resets scoring")

	// the new queue is a permutation of the same catalog
	var reshuffled []string
	for _, idx := range o.queue {
		reshuffled = append(reshuffled, o.catalog[idx].ID)
	}
	sort.Strings(seen)
	sort.Strings(reshuffled)
	assert.Equal(t, seen, reshuffled)
	assert.Equal(t, []string{"item-00", "item-01", "item-02"}, reshuffled)
}

func TestRestartResetsScoring(t *testing.T) {
	o, fp, _ := newTestOrchestrator(t, 3)
	require.NoError(t, o.StartSession(models.LevelStandard))
	fp.becomeReady()
	_, err := o.SubmitAnswer(currentItem(t, o).Answer)
	require.NoError(t, err)
	require.NoError(t, o.Advance())

	first := o.Snapshot().SessionID
	require.NoError(t, o.Restart())
	snap := o.Snapshot()
	assert.Equal(t, Score{}, snap.Score)
	assert.Equal(t, models.PhasePlaying, snap.Phase)
	assert.Equal(t, 0, snap.Position)
	assert.NotEqual(t, first, snap.SessionID)
	assert.Empty(t, o.History())
}

func TestBlackoutCountdownExpires(t *testing.T) {
	o, fp, clock := newTestOrchestrator(t, 3)
	require.NoError(t, o.StartSession(models.LevelAdvanced))
	fp.becomeReady()

	fp.reachThreshold()
	snap := o.Snapshot()
	require.Equal(t, models.PhaseBlackout, snap.Phase)
	require.NotNil(t, snap.BlackoutCountdown)
	assert.Equal(t, 3, *snap.BlackoutCountdown)
	assert.False(t, snap.SurfaceVisible)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for remaining := 2; remaining >= 1; remaining-- {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(time.Second)
		want := remaining
		require.Eventually(t, func() bool {
			s := o.Snapshot()
			return s.BlackoutCountdown != nil && *s.BlackoutCountdown == want
		}, time.Second, time.Millisecond)
	}
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return o.Snapshot().Phase == models.PhasePlaying }, time.Second, time.Millisecond)

	snap = o.Snapshot()
	assert.True(t, snap.SurfaceVisible)
	assert.Nil(t, snap.BlackoutCountdown)
	assert.Equal(t, Score{AttemptsCounted: 1}, snap.Score)
	assert.Equal(t, FeedbackTimeout, snap.Feedback.Kind)

	history := o.History()
	require.Len(t, history, 1)
	assert.True(t, history[0].TimedOut)
	assert.False(t, history[0].Correct)

	// nothing else fires later
	clock.Advance(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, Score{AttemptsCounted: 1}, o.Snapshot().Score)
	assert.Len(t, o.History(), 1)
}

func TestAnswerDuringBlackoutCancelsCountdown(t *testing.T) {
	o, fp, clock := newTestOrchestrator(t, 3)
	require.NoError(t, o.StartSession(models.LevelAdvanced))
	fp.becomeReady()
	fp.reachThreshold()
	require.Equal(t, models.PhaseBlackout, o.Snapshot().Phase)

	out, err := o.SubmitAnswer(currentItem(t, o).Answer)
	require.NoError(t, err)
	assert.True(t, out.Counted)

	snap := o.Snapshot()
	assert.Equal(t, models.PhasePlaying, snap.Phase)
	assert.True(t, snap.SurfaceVisible)
	assert.Nil(t, snap.BlackoutCountdown)

	clock.Advance(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, Score{CorrectCount: 1, AttemptsCounted: 1}, o.Snapshot().Score)
	assert.Len(t, o.History(), 1)
}

func TestBlackoutOnlyAtCanonicalStop(t *testing.T) {
	o, fp, _ := newTestOrchestrator(t, 3)
	require.NoError(t, o.StartSession(models.LevelStandard))
	fp.becomeReady()

	fp.reachThreshold()
	assert.Equal(t, models.PhasePlaying, o.Snapshot().Phase, "standard level never blacks out")

	o.SetLevel(models.LevelAdvanced)
	require.NoError(t, o.Replay())
	fp.reachThreshold()
	assert.Equal(t, models.PhaseBlackout, o.Snapshot().Phase)
}

func TestCompletionFiresOncePerPass(t *testing.T) {
	o, fp, _ := newTestOrchestrator(t, 12)
	var mu sync.Mutex
	completions := 0
	last := models.PhaseIdle
	o.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if s.Phase == models.PhaseComplete && last != models.PhaseComplete {
			completions++
		}
		last = s.Phase
	})

	require.NoError(t, o.StartSession(models.LevelStandard))
	for i := 0; i < MaxSessionLength; i++ {
		fp.becomeReady()
		item := currentItem(t, o)
		answer := item.Answer
		if i%2 == 1 {
			answer = wrongAnswer(item)
		}
		_, err := o.SubmitAnswer(answer)
		require.NoError(t, err)
		fp.reachThreshold()
		if i < MaxSessionLength-1 {
			assert.Equal(t, models.PhasePlaying, o.Snapshot().Phase)
			require.NoError(t, o.Advance())
		}
	}

	snap := o.Snapshot()
	assert.Equal(t, models.PhaseComplete, snap.Phase)
	assert.Equal(t, Score{CorrectCount: 5, AttemptsCounted: 10}, snap.Score)

	// later stops and submissions for the same item change nothing
	fp.reachThreshold()
	_, err := o.SubmitAnswer("Line")
	assert.ErrorIs(t, err, ErrInvalidPhase)
	assert.ErrorIs(t, o.Advance(), ErrInvalidPhase)

	o.Flush()
	mu.Lock()
	assert.Equal(t, 1, completions)
	mu.Unlock()

	require.NoError(t, o.Restart())
	snap = o.Snapshot()
	assert.Equal(t, models.PhasePlaying, snap.Phase)
	assert.Equal(t, Score{}, snap.Score)
}

func TestCompletionWaitsForStopOfTenthItem(t *testing.T) {
	o, fp, _ := newTestOrchestrator(t, 12)
	require.NoError(t, o.StartSession(models.LevelStandard))
	for i := 0; i < MaxSessionLength-1; i++ {
		fp.becomeReady()
		_, err := o.SubmitAnswer(currentItem(t, o).Answer)
		require.NoError(t, err)
		require.NoError(t, o.Advance())
	}
	fp.becomeReady()
	tenth := currentItem(t, o)

	// rapid incorrect then correct on the tenth item
	_, err := o.SubmitAnswer(wrongAnswer(tenth))
	require.NoError(t, err)
	out, err := o.SubmitAnswer(tenth.Answer)
	require.NoError(t, err)
	assert.False(t, out.Counted)
	assert.Equal(t, models.PhasePlaying, o.Snapshot().Phase, "completion waits for the stop")

	fp.reachThreshold()
	assert.Equal(t, models.PhaseComplete, o.Snapshot().Phase)
	assert.Equal(t, Score{CorrectCount: 9, AttemptsCounted: 10}, o.Snapshot().Score)
}

func TestAdvanceAwayFromArmedItemCompletes(t *testing.T) {
	o, fp, _ := newTestOrchestrator(t, 12)
	require.NoError(t, o.StartSession(models.LevelStandard))
	for i := 0; i < MaxSessionLength; i++ {
		fp.becomeReady()
		_, err := o.SubmitAnswer(currentItem(t, o).Answer)
		require.NoError(t, err)
		require.NoError(t, o.Advance())
	}
	assert.Equal(t, models.PhaseComplete, o.Snapshot().Phase)
	assert.Equal(t, Score{CorrectCount: 10, AttemptsCounted: 10}, o.Snapshot().Score)
}

func TestBlackoutTimeoutOnTenthItemCompletes(t *testing.T) {
	o, fp, clock := newTestOrchestrator(t, 12)
	require.NoError(t, o.StartSession(models.LevelAdvanced))
	for i := 0; i < MaxSessionLength-1; i++ {
		fp.becomeReady()
		_, err := o.SubmitAnswer(currentItem(t, o).Answer)
		require.NoError(t, err)
		require.NoError(t, o.Advance())
	}
	fp.becomeReady()
	fp.reachThreshold()
	require.Equal(t, models.PhaseBlackout, o.Snapshot().Phase)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(time.Second)
		if i < 2 {
			want := 2 - i
			require.Eventually(t, func() bool {
				s := o.Snapshot()
				return s.BlackoutCountdown != nil && *s.BlackoutCountdown == want
			}, time.Second, time.Millisecond)
		}
	}
	require.Eventually(t, func() bool { return o.Snapshot().Phase == models.PhaseComplete }, time.Second, time.Millisecond)
	assert.Equal(t, Score{CorrectCount: 9, AttemptsCounted: 10}, o.Snapshot().Score)
	assert.True(t, o.Snapshot().SurfaceVisible)
}

func TestSessionLengthBoundedByCatalog(t *testing.T) {
	o, fp, _ := newTestOrchestrator(t, 3)
	assert.Equal(t, 3, o.SessionLength())

	require.NoError(t, o.StartSession(models.LevelStandard))
	for i := 0; i < 3; i++ {
		fp.becomeReady()
		_, err := o.SubmitAnswer(currentItem(t, o).Answer)
		require.NoError(t, err)
		fp.reachThreshold()
		if i < 2 {
			require.NoError(t, o.Advance())
		}
	}
	assert.Equal(t, models.PhaseComplete, o.Snapshot().Phase)
}

func TestCountersInvariantUnderRandomCommands(t *testing.T) {
	o, fp, _ := newTestOrchestrator(t, 12)
	require.NoError(t, o.StartSession(models.LevelStandard))

	for step := 0; step < 500; step++ {
		switch step % 7 {
		case 0, 3:
			fp.becomeReady()
		case 1:
			if o.Snapshot().CurrentItem != nil {
				o.SubmitAnswer(currentItem(t, o).Answer)
			}
		case 2:
			o.SubmitAnswer("Jumbo")
		case 4:
			fp.reachThreshold()
		case 5:
			o.Advance()
		case 6:
			if o.Snapshot().Phase == models.PhaseComplete && step%3 == 0 {
				require.NoError(t, o.Restart())
			}
		}
		s := o.Snapshot().Score
		require.LessOrEqual(t, s.AttemptsCounted, MaxSessionLength)
		require.LessOrEqual(t, s.CorrectCount, s.AttemptsCounted)
	}
}

func TestFaultedItemsAreSkipped(t *testing.T) {
	o, fp, _ := newTestOrchestrator(t, 3)
	require.NoError(t, o.StartSession(models.LevelStandard))
	bad := currentItem(t, o)

	fp.fault()
	snap := o.Snapshot()
	assert.Equal(t, models.PhasePlaying, snap.Phase)
	assert.Equal(t, []string{bad.ID}, snap.Flagged)
	assert.NotEqual(t, bad.ID, snap.CurrentItem.ID)

	fp.fault()
	fp.fault()
	snap = o.Snapshot()
	assert.Equal(t, models.PhaseIdle, snap.Phase)
	assert.Equal(t, ErrNoPlayableItems.Error(), snap.LastError)
	assert.Len(t, snap.Flagged, 3)
}

func TestSelectItemAndLeave(t *testing.T) {
	o, fp, _ := newTestOrchestrator(t, 3)
	require.NoError(t, o.StartSession(models.LevelStandard))
	fp.becomeReady()

	target := "item-02"
	require.NoError(t, o.SelectItem(target))
	assert.Equal(t, target, currentItem(t, o).ID)
	assert.True(t, errors.Is(o.SelectItem("missing"), ErrUnknownItem))

	require.NoError(t, o.Leave())
	snap := o.Snapshot()
	assert.Equal(t, models.PhaseIdle, snap.Phase)
	assert.Empty(t, snap.SessionID)
	assert.ErrorIs(t, o.Restart(), ErrNoActiveSession)

	require.NoError(t, o.StartSession(models.LevelAdvanced))
	assert.Equal(t, models.LevelAdvanced, o.Snapshot().Level)
}

func TestStaleCallbacksIgnored(t *testing.T) {
	o, fp, _ := newTestOrchestrator(t, 3)
	require.NoError(t, o.StartSession(models.LevelAdvanced))
	fp.becomeReady()
	current := currentItem(t, o)

	fp.cb.OnStoppedAtThreshold(player.StopEvent{ItemID: "other", Threshold: 1})
	fp.cb.OnReady("other")
	fp.cb.OnItemFault("other", errors.New("x"))

	snap := o.Snapshot()
	assert.Equal(t, models.PhasePlaying, snap.Phase)
	assert.Equal(t, current.ID, snap.CurrentItem.ID)
	assert.Empty(t, snap.Flagged)
}

func TestResultSummarisesHistory(t *testing.T) {
	o, fp, clock := newTestOrchestrator(t, 3)
	require.NoError(t, o.StartSession(models.LevelStandard))
	fp.becomeReady()
	first := currentItem(t, o)

	_, err := o.SubmitAnswer(first.Answer)
	require.NoError(t, err)
	_, err = o.SubmitAnswer(wrongAnswer(first))
	require.NoError(t, err)

	require.NoError(t, o.Advance())
	fp.becomeReady()
	second := currentItem(t, o)
	_, err = o.SubmitAnswer(wrongAnswer(second))
	require.NoError(t, err)

	clock.Advance(5 * time.Second)
	r := o.Result()
	assert.Equal(t, o.Snapshot().SessionID, r.SessionID)
	assert.Equal(t, 1, r.Correct)
	assert.Equal(t, 2, r.Attempts)
	assert.Equal(t, 3, r.SessionLength)
	assert.False(t, r.Completed)
	assert.Equal(t, 5*time.Second, r.Duration())
	require.Len(t, r.Answers, 3)
	assert.Equal(t, []bool{true, false, true}, []bool{r.Answers[0].Counted, r.Answers[1].Counted, r.Answers[2].Counted})
	assert.Equal(t, second.Answer, r.Answers[2].Expected)

	require.NoError(t, o.Leave())
	assert.Empty(t, o.Result().SessionID)
}

// answerNine counts nine correct first attempts and leaves the tenth item
// loaded and ready
func answerNine(t *testing.T, o *Orchestrator, fp *fakePlayer) models.PracticeItem {
	t.Helper()
	for i := 0; i < MaxSessionLength-1; i++ {
		fp.becomeReady()
		_, err := o.SubmitAnswer(currentItem(t, o).Answer)
		require.NoError(t, err)
		require.NoError(t, o.Advance())
	}
	fp.becomeReady()
	return currentItem(t, o)
}

func TestStopRaisedBeforeLastAttemptIsIgnored(t *testing.T) {
	o, fp, _ := newTestOrchestrator(t, 12)
	require.NoError(t, o.StartSession(models.LevelStandard))
	tenth := answerNine(t, o, fp)

	// the player paused at the canonical stop and queued the event, then
	// the answer took the lock first
	fp.mu.Lock()
	fp.position = tenth.Stop
	fp.state = models.StatePaused
	fp.mu.Unlock()
	queued := player.StopEvent{ItemID: tenth.ID, Threshold: tenth.Stop, Position: tenth.Stop}

	out, err := o.SubmitAnswer(tenth.Answer)
	require.NoError(t, err)
	require.True(t, out.Counted)
	threshold, _, _, _ := fp.snapshot()
	require.InDelta(t, tenth.Stop+3, threshold, 1e-9)

	fp.cb.OnStoppedAtThreshold(queued)
	assert.Equal(t, models.PhasePlaying, o.Snapshot().Phase, "stop predates the last attempt")

	fp.reachThreshold()
	assert.Equal(t, models.PhaseComplete, o.Snapshot().Phase)
	assert.Equal(t, Score{CorrectCount: 10, AttemptsCounted: 10}, o.Snapshot().Score)
}

func TestStopRaisedBeforeReplayIsIgnored(t *testing.T) {
	o, fp, _ := newTestOrchestrator(t, 12)
	require.NoError(t, o.StartSession(models.LevelAdvanced))
	tenth := answerNine(t, o, fp)

	fp.mu.Lock()
	fp.position = tenth.Stop
	fp.mu.Unlock()
	queued := player.StopEvent{ItemID: tenth.ID, Threshold: tenth.Stop, Position: tenth.Stop}

	// an incorrect answer seeks back to the start with the same threshold
	_, err := o.SubmitAnswer(wrongAnswer(tenth))
	require.NoError(t, err)

	fp.cb.OnStoppedAtThreshold(queued)
	snap := o.Snapshot()
	assert.Equal(t, models.PhasePlaying, snap.Phase)
	assert.Nil(t, snap.BlackoutCountdown)

	fp.reachThreshold()
	assert.Equal(t, models.PhaseComplete, o.Snapshot().Phase)
	assert.Equal(t, Score{CorrectCount: 9, AttemptsCounted: 10}, o.Snapshot().Score)
}

func TestAdvanceSkipsFlaggedItemsAcrossReshuffle(t *testing.T) {
	for seed := int64(1); seed <= 200; seed++ {
		fp := &fakePlayer{state: models.StateUnknown}
		cfg := DefaultConfig()
		cfg.Clock = clockwork.NewFakeClock()
		cfg.Seed = seed
		o, err := New(fp, testCatalog(4), cfg, logging.Discard(), nil)
		require.NoError(t, err)
		require.NoError(t, o.StartSession(models.LevelStandard))

		o.mu.Lock()
		o.queue = []int{3, 0, 1, 2}
		o.pos = 0
		o.flagged = map[string]bool{"item-00": true, "item-01": true, "item-02": true}
		o.mu.Unlock()

		require.NoError(t, o.Advance())
		snap := o.Snapshot()
		require.Equal(t, "item-03", snap.CurrentItem.ID, "seed %d", seed)
		_, _, _, loads := fp.snapshot()
		require.Equal(t, "item-03", loads[len(loads)-1], "seed %d", seed)
		require.NoError(t, o.Close())
	}
}

func TestSelectItemOnArmedItemCompletesWithoutMoving(t *testing.T) {
	o, fp, _ := newTestOrchestrator(t, 12)
	require.NoError(t, o.StartSession(models.LevelStandard))
	tenth := answerNine(t, o, fp)
	_, err := o.SubmitAnswer(tenth.Answer)
	require.NoError(t, err)

	other := o.catalog[o.queue[0]].ID
	require.NoError(t, o.SelectItem(other))
	snap := o.Snapshot()
	assert.Equal(t, models.PhaseComplete, snap.Phase)
	assert.Equal(t, tenth.ID, snap.CurrentItem.ID)
}
