package events

import (
	"encoding/json"

	"github.com/rs/zerolog"
)

// Manager handles event emission and logging
type Manager struct {
	bus *Bus
	log zerolog.Logger
}

// NewManager creates a new event manager
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{
		bus: bus,
		log: log.With().Str("service", "events").Logger(),
	}
}

// Bus returns the underlying bus for subscribers.
func (m *Manager) Bus() *Bus { return m.bus }

// Emit emits an event to the bus and logs it
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	m.bus.Emit(eventType, module, data)

	dataJSON, _ := json.Marshal(data)
	m.log.Debug().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("data", dataJSON).
		Msg("Event emitted")
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{"error": err.Error()}
	for k, v := range context {
		data[k] = v
	}
	m.Emit(ErrorOccurred, module, data)
}
