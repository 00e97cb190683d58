package buffer

import (
	"testing"
	"time"

	"github.com/agrimon/agrimon/internal/telemetry"
)

func reading(id string, ts time.Time, v float64) telemetry.SensorReading {
	return telemetry.SensorReading{
		SensorID:  id,
		Timestamp: ts,
		Value:     v,
		Unit:      "C",
		Validated: true,
	}
}

func TestRetentionBuffer_CountCap(t *testing.T) {
	b := New(Options{MaxSize: 5})
	now := time.Now()

	for i := 0; i < 20; i++ {
		b.Add(reading("s", now.Add(time.Duration(i)*time.Second), float64(i)))
		if b.Len() > 5 {
			t.Fatalf("buffer exceeded cap after add %d: len=%d", i, b.Len())
		}
	}

	if b.Len() != 5 {
		t.Errorf("expected len=5, got %d", b.Len())
	}

	// Most-recent-N retained, in chronological order.
	recent := b.GetRecent(time.Hour)
	if len(recent) != 5 {
		t.Fatalf("expected 5 recent, got %d", len(recent))
	}
	for i, r := range recent {
		if r.Value != float64(15+i) {
			t.Errorf("recent[%d]: got value %v, want %v", i, r.Value, 15+i)
		}
	}
}

func TestRetentionBuffer_GetRecentWindow(t *testing.T) {
	b := New(Options{MaxSize: 100})
	now := time.Now()

	b.Add(reading("s", now.Add(-2*time.Hour), 1))
	b.Add(reading("s", now.Add(-30*time.Minute), 2))
	b.Add(reading("s", now.Add(-1*time.Minute), 3))

	recent := b.GetRecent(time.Hour)
	if len(recent) != 2 {
		t.Fatalf("expected 2 within window, got %d", len(recent))
	}
	if recent[0].Value != 2 || recent[1].Value != 3 {
		t.Errorf("wrong window contents: %v, %v", recent[0].Value, recent[1].Value)
	}
	for i := 1; i < len(recent); i++ {
		if recent[i].Timestamp.Before(recent[i-1].Timestamp) {
			t.Error("recent readings out of order")
		}
	}
}

func TestRetentionBuffer_AgeEviction(t *testing.T) {
	b := New(Options{
		MaxSize:         100,
		Retention:       7 * 24 * time.Hour,
		CleanupInterval: time.Hour,
	})
	now := time.Now()

	b.Add(reading("s", now.Add(-8*24*time.Hour), 1)) // beyond horizon
	b.Add(reading("s", now.Add(-6*24*time.Hour), 2)) // inside horizon
	b.Add(reading("s", now, 3))

	evicted := b.Cleanup()
	if evicted != 1 {
		t.Errorf("expected 1 evicted, got %d", evicted)
	}
	if b.Len() != 2 {
		t.Errorf("expected 2 retained, got %d", b.Len())
	}

	// No retained entry's age exceeds the horizon.
	for _, r := range b.GetRecent(30 * 24 * time.Hour) {
		if time.Since(r.Timestamp) > 7*24*time.Hour {
			t.Errorf("retained entry is too old: %v", r.Timestamp)
		}
		if r.Value == 1 {
			t.Error("expired entry still present")
		}
	}
}

func TestRetentionBuffer_CleanupCadence(t *testing.T) {
	b := New(Options{
		MaxSize:         100,
		Retention:       time.Hour,
		CleanupInterval: time.Hour,
	})

	base := time.Now()
	clock := base
	b.now = func() time.Time { return clock }
	b.lastCleanup = base

	// An entry already past the horizon is retained until the cadence
	// elapses.
	b.Add(reading("s", base.Add(-2*time.Hour), 1))
	if b.Len() != 1 {
		t.Fatalf("entry should stay until cleanup is due, len=%d", b.Len())
	}

	// Advance past the cleanup interval; the next insert triggers the pass.
	clock = base.Add(61 * time.Minute)
	b.Add(reading("s", clock, 2))

	if b.Len() != 1 {
		t.Errorf("expected expired entry evicted on cadence, len=%d", b.Len())
	}
	if got := b.LastCleanup(); !got.Equal(clock) {
		t.Errorf("cleanup timer not reset: %v", got)
	}
}

func TestRetentionBuffer_Stats(t *testing.T) {
	b := New(Options{MaxSize: 2})
	now := time.Now()

	b.Add(reading("s", now, 1))
	b.Add(reading("s", now, 2))
	b.Add(reading("s", now, 3))

	st := b.Stats()
	if st.AddCount != 3 {
		t.Errorf("add count: %d", st.AddCount)
	}
	if st.EvictCount != 1 {
		t.Errorf("evict count: %d", st.EvictCount)
	}
	if st.Count != 2 || st.Capacity != 2 {
		t.Errorf("count/capacity: %d/%d", st.Count, st.Capacity)
	}
}

func TestManager_LazyCreateAndRoute(t *testing.T) {
	m := NewManager(DefaultOptions())
	now := time.Now()

	if got := m.GetRecent("soil-01", time.Hour); got != nil {
		t.Errorf("unknown sensor should return nil, got %v", got)
	}

	m.Add(reading("soil-01", now, 1))
	m.Add(reading("soil-02", now, 2))
	m.Add(reading("soil-01", now, 3))

	sizes := m.Sizes()
	if sizes["soil-01"] != 2 || sizes["soil-02"] != 1 {
		t.Errorf("unexpected sizes: %v", sizes)
	}

	recent := m.GetRecent("soil-01", time.Hour)
	if len(recent) != 2 || recent[0].Value != 1 || recent[1].Value != 3 {
		t.Errorf("unexpected routing: %v", recent)
	}

	if len(m.Sensors()) != 2 {
		t.Errorf("expected 2 sensors, got %v", m.Sensors())
	}
}

func TestManager_ConcurrentAdd(t *testing.T) {
	m := NewManager(Options{MaxSize: 1000})
	now := time.Now()

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			id := []string{"a", "b"}[g%2]
			for i := 0; i < 200; i++ {
				m.Add(reading(id, now.Add(time.Duration(i)*time.Millisecond), float64(i)))
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	sizes := m.Sizes()
	if sizes["a"] != 800 || sizes["b"] != 800 {
		t.Errorf("lost readings under concurrency: %v", sizes)
	}
}
