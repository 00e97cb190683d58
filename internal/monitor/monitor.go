// Package monitor owns the secured telemetry stream: it receives
// encrypted frames, decodes and validates readings, and feeds the
// in-memory buffers, the alert dispatcher, and the durable store.
package monitor

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agrimon/agrimon/internal/alert"
	"github.com/agrimon/agrimon/internal/buffer"
	"github.com/agrimon/agrimon/internal/errors"
	"github.com/agrimon/agrimon/internal/logging"
	"github.com/agrimon/agrimon/internal/telemetry"
)

var log = logging.Component("monitor")

// =============================================================================
// State Machine
// =============================================================================

// State represents the ingestion loop's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateConnectionLost
	StateStopped
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateConnectionLost:
		return "connection_lost"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

type stateTransition struct {
	from State
	to   State
}

// validTransitions defines all allowed state transitions.
var validTransitions = map[stateTransition]bool{
	{StateIdle, StateConnecting}: true,
	{StateIdle, StateStopped}:    true,

	{StateConnecting, StateStreaming}:      true,
	{StateConnecting, StateConnectionLost}: true,
	{StateConnecting, StateStopped}:        true,

	{StateStreaming, StateConnectionLost}: true,
	{StateStreaming, StateStopped}:        true,

	{StateConnectionLost, StateConnecting}: true,
	{StateConnectionLost, StateStopped}:    true,
}

// =============================================================================
// Connections
// =============================================================================

// Conn is one established stream connection. ReadFrame blocks until a
// frame arrives or the connection fails; Close must unblock a pending
// ReadFrame.
type Conn interface {
	ReadFrame() ([]byte, error)
	Close() error
}

// Dialer establishes a Conn to the endpoint.
type Dialer func(ctx context.Context, endpoint string) (Conn, error)

// wsConn adapts a websocket connection to Conn.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, errors.Wrap(errors.ErrConnectionClosed, err.Error())
	}
	return data, nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

// SecureDialer dials a TLS websocket with full certificate chain and
// hostname verification. There is deliberately no way to relax
// verification.
func SecureDialer(handshakeTimeout time.Duration) Dialer {
	return func(ctx context.Context, endpoint string) (Conn, error) {
		dialer := websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		}
		ws, _, err := dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			return nil, errors.Wrap(errors.ErrConnection, err.Error())
		}
		return &wsConn{ws: ws}, nil
	}
}

// =============================================================================
// Monitor
// =============================================================================

// Defaults for the ingestion loop.
const (
	DefaultReconnectBackoff = 5 * time.Second
	DefaultErrorPause       = 1 * time.Second
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultStoreQueueSize   = 1024
)

// Config holds monitor configuration.
type Config struct {
	// CipherKey is the 32-byte payload decryption key.
	CipherKey []byte

	// TagSecret is the HMAC secret readings are validated against.
	TagSecret []byte

	// ReconnectBackoff is the fixed wait after a lost connection.
	ReconnectBackoff time.Duration

	// ErrorPause is the brief pause after a recoverable per-frame error.
	ErrorPause time.Duration

	// HandshakeTimeout bounds the TLS/websocket handshake.
	HandshakeTimeout time.Duration

	// StoreQueueSize is the capacity of the durable-store handoff
	// channel. When full, readings are counted as store drops rather
	// than blocking ingestion.
	StoreQueueSize int

	// Dialer overrides the connection factory. Nil selects the secure
	// websocket dialer.
	Dialer Dialer
}

func (c *Config) withDefaults() {
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = DefaultReconnectBackoff
	}
	if c.ErrorPause <= 0 {
		c.ErrorPause = DefaultErrorPause
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.StoreQueueSize <= 0 {
		c.StoreQueueSize = DefaultStoreQueueSize
	}
	if c.Dialer == nil {
		c.Dialer = SecureDialer(c.HandshakeTimeout)
	}
}

// Stats holds ingestion counters.
type Stats struct {
	FramesReceived   int64
	ReadingsAccepted int64
	ParseFailures    int64
	IntegrityDrops   int64
	StoreDrops       int64
	Reconnects       int64
}

// Monitor drives the ingestion loop. One goroutine owns the connection
// and pushes each validated reading through buffer, alert, and store
// handoff in order.
type Monitor struct {
	cfg        Config
	codec      *telemetry.Codec
	buffers    *buffer.Manager
	dispatcher *alert.Dispatcher

	state   atomic.Int32
	started time.Time

	mu   sync.Mutex
	conn Conn

	cancel context.CancelFunc
	wg     sync.WaitGroup

	storeCh chan telemetry.SensorReading

	framesReceived   atomic.Int64
	readingsAccepted atomic.Int64
	parseFailures    atomic.Int64
	integrityDrops   atomic.Int64
	storeDrops       atomic.Int64
	reconnects       atomic.Int64
}

// New creates a Monitor feeding the given buffer manager and alert
// dispatcher.
func New(cfg Config, buffers *buffer.Manager, dispatcher *alert.Dispatcher) (*Monitor, error) {
	cfg.withDefaults()

	codec, err := telemetry.NewCodec(cfg.CipherKey)
	if err != nil {
		return nil, err
	}
	if len(cfg.TagSecret) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidKeyLength, "empty tag secret")
	}

	return &Monitor{
		cfg:        cfg,
		codec:      codec,
		buffers:    buffers,
		dispatcher: dispatcher,
		storeCh:    make(chan telemetry.SensorReading, cfg.StoreQueueSize),
	}, nil
}

// Readings returns the durable-store handoff channel. The store
// consumer reads validated readings from it independently of the
// buffer path. The channel is closed when the monitor stops.
func (m *Monitor) Readings() <-chan telemetry.SensorReading {
	return m.storeCh
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// transitionTo attempts a validated state transition.
func (m *Monitor) transitionTo(to State) bool {
	for {
		from := m.State()
		if from == to {
			return true
		}
		if !validTransitions[stateTransition{from, to}] {
			return false
		}
		if m.state.CompareAndSwap(int32(from), int32(to)) {
			return true
		}
	}
}

// Start transitions Idle to Connecting and launches the ingestion
// goroutine. It returns immediately; connection failures are handled
// inside the loop with backoff.
func (m *Monitor) Start(ctx context.Context, endpoint string) error {
	if m.State() != StateIdle {
		return errors.Wrapf(errors.ErrInvalidState, "cannot start from %s", m.State())
	}
	if !m.transitionTo(StateConnecting) {
		return errors.ErrMonitorRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.started = time.Now()

	m.wg.Add(1)
	go m.run(runCtx, endpoint)

	log.Info("monitor started", "endpoint", endpoint)
	return nil
}

// Stop is idempotent. It closes the active connection so the blocked
// receive returns promptly, waits for the loop (and with it any
// outstanding alert evaluations) to drain, and closes the store
// handoff channel.
func (m *Monitor) Stop() {
	m.transitionTo(StateStopped)

	if m.cancel != nil {
		m.cancel()
	}
	m.closeConn()
	m.wg.Wait()

	log.Info("monitor stopped")
}

func (m *Monitor) setConn(c Conn) {
	m.mu.Lock()
	m.conn = c
	m.mu.Unlock()
}

func (m *Monitor) closeConn() {
	m.mu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.mu.Unlock()
}

// run is the ingestion loop: connect, stream, reconnect on loss with a
// fixed backoff, until the context is cancelled by Stop.
func (m *Monitor) run(ctx context.Context, endpoint string) {
	defer m.wg.Done()
	defer close(m.storeCh)

	ctx = logging.ContextWithEndpoint(ctx, endpoint)
	rlog := logging.WithContext(ctx)

	for {
		if m.State() == StateStopped {
			return
		}

		conn, err := m.cfg.Dialer(ctx, endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			rlog.Error("connect failed", "error", err)
			m.transitionTo(StateConnectionLost)
			if !m.backoff(ctx, m.cfg.ReconnectBackoff) {
				return
			}
			m.transitionTo(StateConnecting)
			m.reconnects.Add(1)
			continue
		}

		m.setConn(conn)
		if !m.transitionTo(StateStreaming) {
			// Stop won the race during the dial.
			m.closeConn()
			return
		}
		rlog.Info("streaming")

		m.stream(ctx, conn)
		m.closeConn()

		if ctx.Err() != nil || m.State() == StateStopped {
			return
		}

		// Connection lost: fixed backoff, then reconnect.
		rlog.Warn("connection lost, reconnecting", "backoff", m.cfg.ReconnectBackoff)
		m.transitionTo(StateConnectionLost)
		if !m.backoff(ctx, m.cfg.ReconnectBackoff) {
			return
		}
		m.transitionTo(StateConnecting)
		m.reconnects.Add(1)
	}
}

// backoff sleeps for d unless the context is cancelled first. Returns
// false on cancellation.
func (m *Monitor) backoff(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// stream consumes frames from one connection until it fails or the
// context is cancelled. Per-frame errors are recovered locally.
func (m *Monitor) stream(ctx context.Context, conn Conn) {
	for {
		if ctx.Err() != nil || m.State() != StateStreaming {
			return
		}

		frame, err := conn.ReadFrame()
		if err != nil {
			// A closing connection is the loop's signal to reconnect
			// (or, during Stop, to exit). Anything else merits a line.
			if !errors.IsConnection(err) && ctx.Err() == nil {
				logging.WithContext(ctx).Warn("stream read failed", "error", err)
			}
			return
		}
		m.framesReceived.Add(1)

		if err := m.process(ctx, frame); err != nil {
			if errors.IsIntegrity(err) {
				// An invalid tag is drop-and-continue; forged frames
				// must not throttle the stream.
				continue
			}
			if !errors.IsRecoverable(err) {
				// Key or cipher misconfiguration; dropping frames
				// silently would mask it.
				log.Error("frame decryption failed", "error", err)
			}
			// Brief pause before the next frame, keep going.
			if !m.backoff(ctx, m.cfg.ErrorPause) {
				return
			}
		}
	}
}

// process decodes, validates, and distributes one frame. The ordering
// per reading is fixed: buffer first, then alerts (with a join), then
// the store handoff.
func (m *Monitor) process(ctx context.Context, frame []byte) error {
	reading, err := m.codec.Decode(frame)
	if err != nil {
		if errors.IsParse(err) {
			m.parseFailures.Add(1)
			log.Warn("dropping malformed frame", "error", err)
		}
		return err
	}

	ctx = logging.ContextWithSensorID(ctx, reading.SensorID)

	if !reading.Validate(m.cfg.TagSecret) {
		m.integrityDrops.Add(1)
		logging.WithContext(ctx).Warn("dropping reading with invalid tag")
		return errors.Wrapf(errors.ErrIntegrity, "sensor %s", reading.SensorID)
	}

	m.buffers.Add(reading)
	m.dispatcher.Dispatch(ctx, reading)
	m.readingsAccepted.Add(1)

	// The durable store is an independent consumer; it must not block
	// ingestion into the buffer.
	select {
	case m.storeCh <- reading:
	default:
		m.storeDrops.Add(1)
		logging.WithContext(ctx).Warn("store queue full, dropping reading")
	}

	return nil
}

// Stats returns ingestion counters.
func (m *Monitor) Stats() Stats {
	return Stats{
		FramesReceived:   m.framesReceived.Load(),
		ReadingsAccepted: m.readingsAccepted.Load(),
		ParseFailures:    m.parseFailures.Load(),
		IntegrityDrops:   m.integrityDrops.Load(),
		StoreDrops:       m.storeDrops.Load(),
		Reconnects:       m.reconnects.Load(),
	}
}

// Health is the operational snapshot exposed to collaborators.
type Health struct {
	Status      string
	State       string
	LastCleanup time.Time
	BufferSizes map[string]int
	Uptime      time.Duration
}

// HealthCheck reports the monitor's status along with per-sensor
// buffer sizes and the most recent buffer cleanup time.
func (m *Monitor) HealthCheck() Health {
	status := "healthy"
	if m.State() == StateStopped || m.State() == StateIdle {
		status = "stopped"
	}

	var uptime time.Duration
	if !m.started.IsZero() {
		uptime = time.Since(m.started)
	}

	return Health{
		Status:      status,
		State:       m.State().String(),
		LastCleanup: m.buffers.LastCleanup(),
		BufferSizes: m.buffers.Sizes(),
		Uptime:      uptime,
	}
}
