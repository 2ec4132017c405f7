package player

import (
	"encoding/json"
	"os"
	"time"

	"github.com/psantana5/shotread/pkg/models"
)

const maxHistory = 200

// LifecycleEvent records a handle state change
type LifecycleEvent struct {
	State     models.ManagerState `json:"state"`
	ItemID    string              `json:"item_id,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
	Message   string              `json:"message,omitempty"`
}

func (m *Manager) recordLocked(message string) {
	m.history = append(m.history, LifecycleEvent{
		State:     m.state,
		ItemID:    m.itemID,
		Timestamp: m.clock.Now(),
		Message:   message,
	})
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
}

// Events returns a copy of the recorded lifecycle events
func (m *Manager) Events() []LifecycleEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LifecycleEvent, len(m.history))
	copy(out, m.history)
	return out
}

// WriteEvents writes the lifecycle history as JSON
func (m *Manager) WriteEvents(path string) error {
	data, err := json.MarshalIndent(m.Events(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
