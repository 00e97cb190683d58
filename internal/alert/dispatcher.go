// Package alert evaluates registered predicates against validated
// readings and routes the resulting events by severity.
package alert

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agrimon/agrimon/internal/logging"
	"github.com/agrimon/agrimon/internal/telemetry"
)

var log = logging.Component("alert")

// Severity classifies an alert event. Critical events take the
// immediate notification path; everything else is queued for batched
// delivery.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Event is one triggered alert. Events are transient; the dispatcher
// hands them off and forgets them.
type Event struct {
	ID        string
	Severity  Severity
	SensorID  string
	Message   string
	Value     float64
	Unit      string
	Timestamp time.Time
}

// Predicate inspects a validated reading and returns an event when its
// condition matches, or nil.
type Predicate func(telemetry.SensorReading) *Event

// Notifier receives critical events synchronously, one at a time.
type Notifier interface {
	Notify(Event)
}

// Queue receives non-critical events for batched delivery. Delivery
// mechanics belong to the collaborator behind this interface.
type Queue interface {
	Enqueue(Event)
}

// DefaultWorkers is the bounded concurrency for predicate evaluation.
const DefaultWorkers = 4

// Dispatcher holds an append-only set of predicates and evaluates all
// of them against each reading on a bounded worker pool. Dispatch does
// not return until every evaluation for the reading has finished, so
// per-reading ordering is preserved even though evaluation fans out.
type Dispatcher struct {
	mu         sync.RWMutex
	predicates []Predicate

	notifier Notifier
	queue    Queue
	workers  int

	evaluated atomic.Int64
	triggered atomic.Int64
	failures  atomic.Int64
}

// NewDispatcher creates a Dispatcher with the given delivery
// collaborators. workers <= 0 selects DefaultWorkers.
func NewDispatcher(notifier Notifier, queue Queue, workers int) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Dispatcher{
		notifier: notifier,
		queue:    queue,
		workers:  workers,
	}
}

// AddPredicate registers a predicate. Predicates cannot be removed; the
// set only grows.
func (d *Dispatcher) AddPredicate(p Predicate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.predicates = append(d.predicates, p)
}

// PredicateCount returns the number of registered predicates.
func (d *Dispatcher) PredicateCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.predicates)
}

// Dispatch evaluates every registered predicate against the reading in
// parallel, waits for all of them, then routes the produced events.
// A failing predicate is logged and skipped; it never prevents the
// others from running.
func (d *Dispatcher) Dispatch(ctx context.Context, r telemetry.SensorReading) {
	d.mu.RLock()
	predicates := d.predicates
	d.mu.RUnlock()

	if len(predicates) == 0 {
		return
	}

	results := make([]*Event, len(predicates))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, p := range predicates {
		i, p := i, p
		g.Go(func() error {
			results[i] = d.evaluate(p, r)
			return nil
		})
	}
	// Predicates never return errors through the group; the join is the
	// per-reading barrier.
	g.Wait()

	for _, ev := range results {
		if ev == nil {
			continue
		}
		d.triggered.Add(1)
		d.route(*ev)
	}
}

// evaluate runs a single predicate, recovering panics so one bad
// predicate cannot take down ingestion.
func (d *Dispatcher) evaluate(p Predicate, r telemetry.SensorReading) (ev *Event) {
	defer func() {
		if rec := recover(); rec != nil {
			d.failures.Add(1)
			log.Error("alert predicate panicked", "sensor_id", r.SensorID, "panic", fmt.Sprint(rec))
			ev = nil
		}
	}()

	d.evaluated.Add(1)
	ev = p(r)
	if ev != nil && ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	return ev
}

// route delivers one event by severity.
func (d *Dispatcher) route(ev Event) {
	if ev.Severity == SeverityCritical {
		log.Error("critical alert", "sensor_id", ev.SensorID, "message", ev.Message, "value", ev.Value)
		if d.notifier != nil {
			d.notifier.Notify(ev)
		}
		return
	}

	log.Warn("alert queued", "severity", ev.Severity, "sensor_id", ev.SensorID, "message", ev.Message)
	if d.queue != nil {
		d.queue.Enqueue(ev)
	}
}

// Stats reports evaluation counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Evaluated: d.evaluated.Load(),
		Triggered: d.triggered.Load(),
		Failures:  d.failures.Load(),
	}
}

// Stats holds dispatcher counters.
type Stats struct {
	Evaluated int64
	Triggered int64
	Failures  int64
}

// Threshold returns a predicate producing an event when the reading's
// value breaches the bound. Above selects > bound, otherwise < bound.
func Threshold(sensorID string, bound float64, above bool, severity Severity, message string) Predicate {
	return func(r telemetry.SensorReading) *Event {
		if r.SensorID != sensorID {
			return nil
		}
		if above && r.Value <= bound {
			return nil
		}
		if !above && r.Value >= bound {
			return nil
		}
		return &Event{
			Severity:  severity,
			SensorID:  r.SensorID,
			Message:   message,
			Value:     r.Value,
			Unit:      r.Unit,
			Timestamp: r.Timestamp,
		}
	}
}
