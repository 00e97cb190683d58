package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agrimon/agrimon/internal/alert"
	"github.com/agrimon/agrimon/internal/buffer"
	"github.com/agrimon/agrimon/internal/crypto"
	"github.com/agrimon/agrimon/internal/errors"
	"github.com/agrimon/agrimon/internal/telemetry"
)

var (
	testCipherKey = crypto.MustRandom(crypto.KeySize)
	testSecret    = []byte("monitor-test-secret")
)

// fakeConn serves frames from a channel. Closing the conn unblocks
// ReadFrame, mirroring the websocket behavior the loop relies on.
type fakeConn struct {
	frames    chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, errors.ErrConnectionClosed
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// fakeDialer hands out a fresh fakeConn per dial and records dials.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) dial(ctx context.Context, endpoint string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := newFakeConn()
	d.conns = append(d.conns, c)
	d.dials++
	return c, nil
}

func (d *fakeDialer) current() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func newTestMonitor(t *testing.T, dialer Dialer) (*Monitor, *buffer.Manager, *alert.Dispatcher) {
	t.Helper()
	buffers := buffer.NewManager(buffer.DefaultOptions())
	dispatcher := alert.NewDispatcher(nil, nil, 4)

	m, err := New(Config{
		CipherKey:        testCipherKey,
		TagSecret:        testSecret,
		ReconnectBackoff: 20 * time.Millisecond,
		ErrorPause:       5 * time.Millisecond,
		Dialer:           dialer,
	}, buffers, dispatcher)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, buffers, dispatcher
}

func encodeFrame(t *testing.T, r telemetry.SensorReading) []byte {
	t.Helper()
	codec, err := telemetry.NewCodec(testCipherKey)
	if err != nil {
		t.Fatal(err)
	}
	frame, err := codec.Encode(testSecret, r)
	if err != nil {
		t.Fatal(err)
	}
	return frame
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestMonitor_ValidReadingFlowsToBufferAndAlerts(t *testing.T) {
	dialer := &fakeDialer{}

	var mu sync.Mutex
	var fired []alert.Event
	queue := queueFunc(func(ev alert.Event) {
		mu.Lock()
		fired = append(fired, ev)
		mu.Unlock()
	})

	dispatcher := alert.NewDispatcher(nil, queue, 4)
	dispatcher.AddPredicate(func(r telemetry.SensorReading) *alert.Event {
		return &alert.Event{Severity: alert.SeverityInfo, SensorID: r.SensorID, Message: "seen"}
	})

	buffers := buffer.NewManager(buffer.DefaultOptions())
	m, err := New(Config{
		CipherKey:        testCipherKey,
		TagSecret:        testSecret,
		ReconnectBackoff: 20 * time.Millisecond,
		ErrorPause:       5 * time.Millisecond,
		Dialer:           dialer.dial,
	}, buffers, dispatcher)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := m.Start(context.Background(), "wss://stream.test/telemetry"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	waitFor(t, time.Second, func() bool { return dialer.current() != nil })

	r := telemetry.SensorReading{
		SensorID:   "soil-01",
		Timestamp:  time.Now(),
		Value:      21.5,
		Unit:       "C",
		Confidence: 0.95,
	}
	dialer.current().frames <- encodeFrame(t, r)

	waitFor(t, time.Second, func() bool { return m.Stats().ReadingsAccepted == 1 })

	recent := buffers.GetRecent("soil-01", time.Hour)
	if len(recent) != 1 || recent[0].Value != 21.5 {
		t.Errorf("reading did not reach buffer: %v", recent)
	}
	if !recent[0].Validated {
		t.Error("buffered reading should be validated")
	}

	mu.Lock()
	nfired := len(fired)
	mu.Unlock()
	if nfired != 1 {
		t.Errorf("alert predicate should have fired once, got %d", nfired)
	}

	// The store consumer sees the same reading.
	select {
	case stored := <-m.Readings():
		if stored.SensorID != "soil-01" {
			t.Errorf("store handoff: %+v", stored)
		}
	case <-time.After(time.Second):
		t.Error("reading never reached the store channel")
	}
}

// queueFunc adapts a function to the alert.Queue interface.
type queueFunc func(alert.Event)

func (f queueFunc) Enqueue(ev alert.Event) { f(ev) }

func TestMonitor_InvalidTagDropped(t *testing.T) {
	dialer := &fakeDialer{}
	m, buffers, _ := newTestMonitor(t, dialer.dial)

	if err := m.Start(context.Background(), "wss://stream.test/telemetry"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()
	waitFor(t, time.Second, func() bool { return dialer.current() != nil })

	// Frame whose checksum was computed with the wrong secret.
	codec, _ := telemetry.NewCodec(testCipherKey)
	frame, err := codec.Encode([]byte("wrong-secret"), telemetry.SensorReading{
		SensorID:  "soil-01",
		Timestamp: time.Now(),
		Value:     1,
		Unit:      "C",
	})
	if err != nil {
		t.Fatal(err)
	}
	dialer.current().frames <- frame

	waitFor(t, time.Second, func() bool { return m.Stats().IntegrityDrops == 1 })

	if got := buffers.GetRecent("soil-01", time.Hour); len(got) != 0 {
		t.Errorf("invalid reading must not reach the buffer: %v", got)
	}
	if m.State() != StateStreaming {
		t.Errorf("loop should keep streaming after a bad tag, state=%s", m.State())
	}
}

func TestMonitor_InvalidTagDoesNotPauseStream(t *testing.T) {
	dialer := &fakeDialer{}
	buffers := buffer.NewManager(buffer.DefaultOptions())
	m, err := New(Config{
		CipherKey:        testCipherKey,
		TagSecret:        testSecret,
		ReconnectBackoff: 20 * time.Millisecond,
		// Long enough that an erroneously applied pause fails the wait
		// below.
		ErrorPause: 2 * time.Second,
		Dialer:     dialer.dial,
	}, buffers, alert.NewDispatcher(nil, nil, 4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := m.Start(context.Background(), "wss://stream.test/telemetry"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()
	waitFor(t, time.Second, func() bool { return dialer.current() != nil })

	codec, _ := telemetry.NewCodec(testCipherKey)
	forged, err := codec.Encode([]byte("wrong-secret"), telemetry.SensorReading{
		SensorID:  "soil-01",
		Timestamp: time.Now(),
		Value:     1,
		Unit:      "C",
	})
	if err != nil {
		t.Fatal(err)
	}

	// A forged frame immediately followed by a valid one; the valid
	// reading must land well before the error pause would elapse.
	dialer.current().frames <- forged
	dialer.current().frames <- encodeFrame(t, telemetry.SensorReading{
		SensorID:  "soil-01",
		Timestamp: time.Now(),
		Value:     2,
		Unit:      "C",
	})

	waitFor(t, time.Second, func() bool { return m.Stats().ReadingsAccepted == 1 })

	if m.Stats().IntegrityDrops != 1 {
		t.Errorf("integrity drops: got %d, want 1", m.Stats().IntegrityDrops)
	}
	if got := buffers.GetRecent("soil-01", time.Hour); len(got) != 1 || got[0].Value != 2 {
		t.Errorf("valid reading did not arrive cleanly: %v", got)
	}
}

func TestMonitor_MalformedFrameDropped(t *testing.T) {
	dialer := &fakeDialer{}
	m, _, _ := newTestMonitor(t, dialer.dial)

	if err := m.Start(context.Background(), "wss://stream.test/telemetry"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()
	waitFor(t, time.Second, func() bool { return dialer.current() != nil })

	dialer.current().frames <- []byte("garbage, not even encrypted")

	waitFor(t, time.Second, func() bool { return m.Stats().FramesReceived == 1 })
	if m.State() != StateStreaming {
		t.Errorf("loop should survive garbage frames, state=%s", m.State())
	}
}

func TestMonitor_ReconnectAfterConnectionLoss(t *testing.T) {
	dialer := &fakeDialer{}
	m, buffers, _ := newTestMonitor(t, dialer.dial)

	if err := m.Start(context.Background(), "wss://stream.test/telemetry"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	waitFor(t, time.Second, func() bool { return m.State() == StateStreaming })
	first := dialer.current()

	// Drop the connection.
	first.Close()

	// The loop backs off and dials again without external help.
	waitFor(t, time.Second, func() bool { return dialer.dialCount() >= 2 })
	waitFor(t, time.Second, func() bool { return m.State() == StateStreaming })

	if m.Stats().Reconnects < 1 {
		t.Errorf("reconnect counter: %d", m.Stats().Reconnects)
	}

	// The new connection works end to end.
	r := telemetry.SensorReading{
		SensorID:  "soil-01",
		Timestamp: time.Now(),
		Value:     5,
		Unit:      "C",
	}
	dialer.current().frames <- encodeFrame(t, r)
	waitFor(t, time.Second, func() bool { return m.Stats().ReadingsAccepted == 1 })

	if got := buffers.GetRecent("soil-01", time.Hour); len(got) != 1 {
		t.Errorf("reading after reconnect did not arrive: %v", got)
	}
}

func TestMonitor_StopIdempotentAndPrompt(t *testing.T) {
	dialer := &fakeDialer{}
	m, _, _ := newTestMonitor(t, dialer.dial)

	if err := m.Start(context.Background(), "wss://stream.test/telemetry"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, time.Second, func() bool { return m.State() == StateStreaming })

	done := make(chan struct{})
	go func() {
		m.Stop()
		m.Stop() // second call must be a no-op
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return promptly while a read was blocked")
	}

	if m.State() != StateStopped {
		t.Errorf("state after stop: %s", m.State())
	}

	// The store channel is closed on stop.
	if _, ok := <-m.Readings(); ok {
		t.Error("store channel should be closed after stop")
	}
}

func TestMonitor_StartTwiceRejected(t *testing.T) {
	dialer := &fakeDialer{}
	m, _, _ := newTestMonitor(t, dialer.dial)

	if err := m.Start(context.Background(), "wss://stream.test/telemetry"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	if err := m.Start(context.Background(), "wss://stream.test/telemetry"); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("second start: expected invalid state, got %v", err)
	}
}

func TestMonitor_HealthCheck(t *testing.T) {
	dialer := &fakeDialer{}
	m, buffers, _ := newTestMonitor(t, dialer.dial)

	h := m.HealthCheck()
	if h.Status != "stopped" {
		t.Errorf("pre-start status: %s", h.Status)
	}

	if err := m.Start(context.Background(), "wss://stream.test/telemetry"); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()
	waitFor(t, time.Second, func() bool { return m.State() == StateStreaming })

	buffers.Add(telemetry.SensorReading{SensorID: "soil-01", Timestamp: time.Now(), Value: 1})

	h = m.HealthCheck()
	if h.Status != "healthy" {
		t.Errorf("status: %s", h.Status)
	}
	if h.BufferSizes["soil-01"] != 1 {
		t.Errorf("buffer sizes: %v", h.BufferSizes)
	}
	if h.Uptime <= 0 {
		t.Errorf("uptime: %v", h.Uptime)
	}
}
