package player

import (
	"github.com/psantana5/shotread/pkg/logging"
	"github.com/psantana5/shotread/pkg/models"
)

// startWatchdogLocked replaces any running loop with a new one. The loop
// is a chain of timers tagged with watchSeq, so bumping the sequence
// retires every earlier tick.
func (m *Manager) startWatchdogLocked() {
	m.stopWatchdogLocked()
	m.watchSeq++
	seq := m.watchSeq
	m.watchActive = true
	m.stats.Started++
	m.stats.Active = 1
	m.metrics.WatchdogStarted()
	m.watchTimer = m.clock.AfterFunc(m.cfg.PollInterval, func() { m.watchTick(seq) })
}

func (m *Manager) stopWatchdogLocked() {
	if !m.watchActive {
		return
	}
	m.watchActive = false
	m.watchSeq++
	if m.watchTimer != nil {
		m.watchTimer.Stop()
		m.watchTimer = nil
	}
	m.stats.Stopped++
	m.stats.Active = 0
	m.metrics.WatchdogStopped()
}

func (m *Manager) watchTick(seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.watchActive || seq != m.watchSeq {
		return
	}
	if m.state != models.ManagerReady || m.widget == nil {
		m.stopWatchdogLocked()
		return
	}

	if limit := models.ClampStop(m.threshold, m.duration); m.threshold > 0 && !m.fired {
		if pos := m.positionLocked(); pos >= limit {
			m.crossedLocked(pos, false)
			return
		}
	}
	m.watchTimer = m.clock.AfterFunc(m.cfg.PollInterval, func() { m.watchTick(seq) })
}

// crossedLocked handles a threshold crossing: the loop is cancelled first
// so it fires once, then playback is paused, then the crossing is reported.
func (m *Manager) crossedLocked(pos float64, ended bool) {
	m.stopWatchdogLocked()
	m.fired = true
	if !ended {
		m.callWidgetLocked("pause", m.widget.Pause)
		m.armHaltLocked()
	}
	m.metrics.ThresholdStop()
	m.logger.Debug("Stop threshold reached", logging.Fields{"item_id": m.itemID, "threshold": m.threshold, "position": pos, "ended": ended})

	ev := StopEvent{ItemID: m.itemID, Threshold: m.threshold, Position: pos, Ended: ended}
	if cb := m.callbacks.OnStoppedAtThreshold; cb != nil {
		m.events.Push(func() { cb(ev) })
	}
}

// armHaltLocked re-checks the widget after the grace delay and escalates
// to stop when it kept playing through the pause.
func (m *Manager) armHaltLocked() {
	m.cancelHaltLocked()
	m.haltSeq++
	seq := m.haltSeq
	m.haltTimer = m.clock.AfterFunc(m.cfg.StopGrace, func() { m.haltCheck(seq) })
}

func (m *Manager) cancelHaltLocked() {
	m.haltSeq++
	if m.haltTimer != nil {
		m.haltTimer.Stop()
		m.haltTimer = nil
	}
}

func (m *Manager) haltCheck(seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq != m.haltSeq {
		return
	}
	m.haltTimer = nil
	if m.widget == nil || m.state != models.ManagerReady {
		return
	}
	var s models.PlaybackState
	err := guard("state", func() error {
		var err error
		s, err = m.widget.State()
		return err
	})
	if err != nil || s != models.StatePlaying {
		return
	}
	m.metrics.StopEscalated()
	m.logger.Warn("Widget ignored pause at stop threshold, stopping", logging.Fields{"item_id": m.itemID})
	m.callWidgetLocked("stop", m.widget.Stop)
}

// WatchdogStats returns loop counters. Active is never above 1.
func (m *Manager) WatchdogStats() WatchdogStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
