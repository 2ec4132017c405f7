package session

import (
	"github.com/psantana5/shotread/pkg/logging"
	"github.com/psantana5/shotread/pkg/models"
)

// startBlackoutLocked hides the surface and starts the countdown. Each
// tick is a timer tagged with blackoutSeq; cancelling bumps the sequence
// under the lock, so a tick that is already waiting for the lock does
// nothing.
func (o *Orchestrator) startBlackoutLocked() {
	if err := o.transitionLocked(models.PhaseBlackout); err != nil {
		return
	}
	o.blackoutSeq++
	o.countdown = o.cfg.BlackoutTicks
	o.visible = false
	o.metrics.BlackoutStarted()
	o.armBlackoutTickLocked(o.blackoutSeq)
}

func (o *Orchestrator) armBlackoutTickLocked(seq uint64) {
	o.blackoutTimer = o.clock.AfterFunc(o.cfg.TickInterval, func() { o.blackoutTick(seq) })
}

func (o *Orchestrator) cancelBlackoutLocked() {
	o.blackoutSeq++
	if o.blackoutTimer != nil {
		o.blackoutTimer.Stop()
		o.blackoutTimer = nil
	}
	o.countdown = 0
}

func (o *Orchestrator) blackoutTick(seq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if seq != o.blackoutSeq || o.phase != models.PhaseBlackout {
		return
	}

	o.countdown--
	if o.countdown > 0 {
		o.armBlackoutTickLocked(seq)
		o.notifyLocked()
		return
	}
	o.expireBlackoutLocked()
}

// expireBlackoutLocked scores an unanswered countdown as an incorrect
// first attempt and reveals the surface. Playback stays paused.
func (o *Orchestrator) expireBlackoutLocked() {
	o.cancelBlackoutLocked()
	o.visible = true
	item := o.currentLocked()
	counted := o.recordAttemptLocked(item, "", false, true)
	o.feedback = pickFeedback(o.rng, FeedbackTimeout)
	o.metrics.BlackoutExpired()
	o.logger.Debug("Blackout countdown expired", logging.Fields{"item_id": item.ID, "counted": counted})

	if o.armed == item.ID {
		// no further stop will arrive for this item while it stays paused
		o.completeLocked()
		return
	}
	o.transitionLocked(models.PhasePlaying)
	o.notifyLocked()
}
