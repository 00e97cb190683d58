package buffer

import (
	"sync"
	"time"

	"github.com/agrimon/agrimon/internal/telemetry"
)

// Manager owns one RetentionBuffer per sensor identifier and routes
// validated readings to the correct buffer, creating buffers lazily on
// first sight of a sensor.
//
// The Manager's lifecycle is bound to the ingestion loop: it is created
// at start and discarded at stop. Durability is the secure store's job,
// not the Manager's.
type Manager struct {
	mu      sync.RWMutex
	buffers map[string]*RetentionBuffer
	opts    Options
	created time.Time
}

// NewManager creates a Manager whose buffers use the given options.
func NewManager(opts Options) *Manager {
	return &Manager{
		buffers: make(map[string]*RetentionBuffer),
		opts:    opts.withDefaults(),
		created: time.Now(),
	}
}

// Add routes a reading to its sensor's buffer, creating the buffer if
// this is the first reading for the sensor.
func (m *Manager) Add(r telemetry.SensorReading) {
	m.buffer(r.SensorID).Add(r)
}

// buffer returns the buffer for a sensor, creating it if needed.
func (m *Manager) buffer(sensorID string) *RetentionBuffer {
	m.mu.RLock()
	b, ok := m.buffers[sensorID]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buffers[sensorID]; ok {
		return b
	}
	b = New(m.opts)
	m.buffers[sensorID] = b
	return b
}

// GetRecent returns the recent window for a sensor in chronological
// order, or nil if the sensor has never reported.
func (m *Manager) GetRecent(sensorID string, window time.Duration) []telemetry.SensorReading {
	m.mu.RLock()
	b, ok := m.buffers[sensorID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return b.GetRecent(window)
}

// Sensors returns the identifiers of all sensors with a buffer.
func (m *Manager) Sensors() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.buffers))
	for id := range m.buffers {
		ids = append(ids, id)
	}
	return ids
}

// Sizes returns the current per-sensor buffer sizes.
func (m *Manager) Sizes() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sizes := make(map[string]int, len(m.buffers))
	for id, b := range m.buffers {
		sizes[id] = b.Len()
	}
	return sizes
}

// LastCleanup returns the most recent age-based cleanup time across all
// buffers. Zero if no buffers exist.
func (m *Manager) LastCleanup() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var last time.Time
	for _, b := range m.buffers {
		if lc := b.LastCleanup(); lc.After(last) {
			last = lc
		}
	}
	return last
}

// Uptime returns how long the manager has existed.
func (m *Manager) Uptime() time.Duration {
	return time.Since(m.created)
}
