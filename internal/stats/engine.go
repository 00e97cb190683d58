// Package stats computes descriptive statistics and trend signals over a
// sensor's recent in-memory window.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/agrimon/agrimon/internal/buffer"
	"github.com/agrimon/agrimon/internal/telemetry"
)

// Trend classification labels.
const (
	TrendStable     = "stable"
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
)

// stableThreshold is the trend-strength cutoff below which a series is
// classified stable. Strength is dimensionless (|slope| * window / mean),
// so the same cutoff applies across sensors of different units and scales.
const stableThreshold = 0.1

// Statistics is the descriptive summary of a sensor's recent window.
// Zero Count means the window was empty; all other fields are then
// meaningless.
type Statistics struct {
	Mean       float64
	StdDev     float64
	Min        float64
	Max        float64
	Median     float64
	Count      int
	Confidence float64 // mean confidence across the window

	// Percentiles are present only when the engine was built with
	// percentile sketches enabled.
	Percentiles *Percentiles
}

// Percentiles holds DDSketch-estimated quantiles of the window.
type Percentiles struct {
	P50 float64
	P90 float64
	P95 float64
	P99 float64
}

// TrendAnalysis is the result of a linear trend fit over a window.
// Zero Samples means fewer than two readings were available.
type TrendAnalysis struct {
	Trend    string
	Strength float64
	Slope    float64 // units per second
	RSquared float64
	Samples  int
}

// Engine computes statistics on demand from the buffer manager.
type Engine struct {
	buffers *buffer.Manager

	// percentileAccuracy enables DDSketch percentiles when > 0
	// (relative accuracy, e.g. 0.01 for 1%).
	percentileAccuracy float64
}

// NewEngine creates an Engine reading from the given buffer manager.
func NewEngine(buffers *buffer.Manager) *Engine {
	return &Engine{buffers: buffers}
}

// NewEngineWithPercentiles creates an Engine that additionally estimates
// p50/p90/p95/p99 with the given DDSketch relative accuracy.
func NewEngineWithPercentiles(buffers *buffer.Manager, accuracy float64) *Engine {
	return &Engine{buffers: buffers, percentileAccuracy: accuracy}
}

// Statistics computes the descriptive summary of the sensor's readings
// within the window. An empty window yields a zero-Count result, not an
// error.
func (e *Engine) Statistics(sensorID string, window time.Duration) Statistics {
	readings := e.buffers.GetRecent(sensorID, window)
	return e.describe(readings)
}

// Describe computes the summary over an explicit reading slice. Exposed
// for callers that already hold a window (the secure store reuses it).
func (e *Engine) Describe(readings []telemetry.SensorReading) Statistics {
	return e.describe(readings)
}

func (e *Engine) describe(readings []telemetry.SensorReading) Statistics {
	if len(readings) == 0 {
		return Statistics{}
	}

	values := make([]float64, len(readings))
	var confSum float64
	for i, r := range readings {
		values[i] = r.Value
		confSum += r.Confidence
	}

	st := Summarize(values)
	st.Confidence = confSum / float64(len(values))

	if e.percentileAccuracy > 0 {
		if p := sketchPercentiles(values, e.percentileAccuracy); p != nil {
			st.Percentiles = p
		}
	}

	return st
}

// Summarize computes the descriptive summary of raw values. Callers that
// hold decrypted stored values rather than live readings use this
// directly; Confidence is left zero.
func Summarize(values []float64) Statistics {
	if len(values) == 0 {
		return Statistics{}
	}

	var sum float64
	min, max := values[0], values[0]
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	n := float64(len(values))
	mean := sum / n

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= n // population variance, matching plain descriptive stats

	return Statistics{
		Mean:   mean,
		StdDev: math.Sqrt(variance),
		Min:    min,
		Max:    max,
		Median: median(values),
		Count:  len(values),
	}
}

// median sorts a copy of values and returns the midpoint, averaging the
// two central elements for even counts.
func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// sketchPercentiles estimates quantiles with DDSketch. Returns nil when
// the sketch cannot be built or the values are outside its range.
func sketchPercentiles(values []float64, accuracy float64) *Percentiles {
	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err != nil {
		return nil
	}
	for _, v := range values {
		if err := sketch.Add(v); err != nil {
			return nil
		}
	}

	p50, err1 := sketch.GetValueAtQuantile(0.50)
	p90, err2 := sketch.GetValueAtQuantile(0.90)
	p95, err3 := sketch.GetValueAtQuantile(0.95)
	p99, err4 := sketch.GetValueAtQuantile(0.99)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return nil
	}
	return &Percentiles{P50: p50, P90: p90, P95: p95, P99: p99}
}

// TrendAnalysis fits a degree-1 least-squares line of value against
// elapsed seconds from the first reading in the window and classifies
// the trend. Fewer than two readings yield a zero-Samples result.
func (e *Engine) TrendAnalysis(sensorID string, window time.Duration) TrendAnalysis {
	readings := e.buffers.GetRecent(sensorID, window)
	return Trend(readings, window)
}

// Trend computes the trend analysis over an explicit reading slice.
func Trend(readings []telemetry.SensorReading, window time.Duration) TrendAnalysis {
	if len(readings) < 2 {
		return TrendAnalysis{}
	}

	first := readings[0].Timestamp
	times := make([]float64, len(readings))
	values := make([]float64, len(readings))
	var sumT, sumV float64
	for i, r := range readings {
		times[i] = r.Timestamp.Sub(first).Seconds()
		values[i] = r.Value
		sumT += times[i]
		sumV += values[i]
	}

	n := float64(len(readings))
	meanT := sumT / n
	meanV := sumV / n

	var covTV, varT, varV float64
	for i := range times {
		dt := times[i] - meanT
		dv := values[i] - meanV
		covTV += dt * dv
		varT += dt * dt
		varV += dv * dv
	}

	if varT == 0 {
		// All readings share one timestamp; no slope is defined.
		return TrendAnalysis{Trend: TrendStable, Samples: len(readings)}
	}

	slope := covTV / varT

	var r2 float64
	if varV > 0 {
		r := covTV / math.Sqrt(varT*varV)
		r2 = r * r
	}

	ta := TrendAnalysis{
		Slope:    slope,
		RSquared: r2,
		Samples:  len(readings),
	}

	if meanV != 0 {
		ta.Strength = math.Abs(slope) * window.Seconds() / math.Abs(meanV)
	} else {
		ta.Strength = math.Abs(slope) * window.Seconds()
	}

	switch {
	case ta.Strength < stableThreshold:
		ta.Trend = TrendStable
	case slope > 0:
		ta.Trend = TrendIncreasing
	default:
		ta.Trend = TrendDecreasing
	}

	return ta
}
