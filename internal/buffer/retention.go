// Package buffer provides the bounded per-sensor retention buffers that
// hold the recent in-memory window of validated readings.
package buffer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agrimon/agrimon/internal/telemetry"
)

// Defaults for retention buffers. Callers can override all of them via
// Options.
const (
	DefaultMaxSize         = 1000
	DefaultCleanupInterval = time.Hour
	DefaultRetention       = 7 * 24 * time.Hour
)

// Options configures a RetentionBuffer.
type Options struct {
	// MaxSize caps the number of retained readings. When full, the
	// oldest reading is evicted on insert (ring semantics).
	MaxSize int

	// CleanupInterval is the minimum time between age-based cleanup
	// passes. A pass runs during Add once the interval has elapsed.
	CleanupInterval time.Duration

	// Retention is the maximum age a reading may reach before an
	// age-based cleanup pass drops it.
	Retention time.Duration
}

// DefaultOptions returns the default buffer options.
func DefaultOptions() Options {
	return Options{
		MaxSize:         DefaultMaxSize,
		CleanupInterval: DefaultCleanupInterval,
		Retention:       DefaultRetention,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxSize
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = DefaultCleanupInterval
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	return o
}

// RetentionBuffer is a bounded, time-ordered circular buffer of sensor
// readings with two independent eviction tiers: a count cap applied on
// every insert and an age horizon applied on a periodic cleanup cadence.
//
// RetentionBuffer is safe for concurrent use; reads and mutation are
// serialized on one mutex per buffer.
type RetentionBuffer struct {
	mu       sync.Mutex
	data     []telemetry.SensorReading
	head     int64 // next write position
	tail     int64 // oldest data position
	count    int64
	capacity int64

	cleanupInterval time.Duration
	retention       time.Duration
	lastCleanup     time.Time

	// Statistics
	addCount   atomic.Int64
	evictCount atomic.Int64

	now func() time.Time // injectable clock for tests
}

// New creates a RetentionBuffer with the given options.
func New(opts Options) *RetentionBuffer {
	opts = opts.withDefaults()
	return &RetentionBuffer{
		data:            make([]telemetry.SensorReading, opts.MaxSize),
		capacity:        int64(opts.MaxSize),
		cleanupInterval: opts.CleanupInterval,
		retention:       opts.Retention,
		lastCleanup:     time.Now(),
		now:             time.Now,
	}
}

// Add appends a reading. If the buffer is at capacity, the oldest
// reading is evicted first. After every insert, an age-based cleanup
// pass runs if the cleanup interval has elapsed since the previous one.
func (b *RetentionBuffer) Add(r telemetry.SensorReading) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.capacity {
		// Overwrite oldest
		idx := b.tail % b.capacity
		b.data[idx] = telemetry.SensorReading{}
		b.tail++
		b.count--
		b.evictCount.Add(1)
	}

	idx := b.head % b.capacity
	b.data[idx] = r
	b.head++
	b.count++
	b.addCount.Add(1)

	now := b.now()
	if now.Sub(b.lastCleanup) > b.cleanupInterval {
		b.lastCleanup = now
		b.evictOlderThanLocked(now.Add(-b.retention))
	}
}

// GetRecent returns all readings newer than now minus the window, in
// insertion (chronological) order.
func (b *RetentionBuffer) GetRecent(window time.Duration) []telemetry.SensorReading {
	cutoff := b.now().Add(-window)

	b.mu.Lock()
	defer b.mu.Unlock()

	var out []telemetry.SensorReading
	for i := int64(0); i < b.count; i++ {
		idx := (b.tail + i) % b.capacity
		if b.data[idx].Timestamp.After(cutoff) {
			out = append(out, b.data[idx])
		}
	}
	return out
}

// Cleanup forces an age-based eviction pass immediately and resets the
// cleanup timer. Returns the number of readings evicted.
func (b *RetentionBuffer) Cleanup() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.lastCleanup = now
	return b.evictOlderThanLocked(now.Add(-b.retention))
}

// evictOlderThanLocked drops readings with timestamps before the cutoff.
// The buffer is time-ordered, so eviction stops at the first retained
// entry. Caller must hold b.mu.
func (b *RetentionBuffer) evictOlderThanLocked(cutoff time.Time) int {
	evicted := 0
	for b.count > 0 {
		idx := b.tail % b.capacity
		if b.data[idx].Timestamp.After(cutoff) {
			break
		}
		b.data[idx] = telemetry.SensorReading{}
		b.tail++
		b.count--
		evicted++
	}
	if evicted > 0 {
		b.evictCount.Add(int64(evicted))
	}
	return evicted
}

// Len returns the current number of readings in the buffer.
func (b *RetentionBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.count)
}

// Cap returns the configured count cap.
func (b *RetentionBuffer) Cap() int {
	return int(b.capacity)
}

// LastCleanup returns when the last age-based cleanup pass ran.
func (b *RetentionBuffer) LastCleanup() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastCleanup
}

// Stats returns buffer statistics.
func (b *RetentionBuffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Capacity:   int(b.capacity),
		Count:      int(b.count),
		AddCount:   b.addCount.Load(),
		EvictCount: b.evictCount.Load(),
	}
}

// Stats holds buffer statistics.
type Stats struct {
	Capacity   int
	Count      int
	AddCount   int64
	EvictCount int64
}
