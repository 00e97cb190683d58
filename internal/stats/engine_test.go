package stats

import (
	"math"
	"testing"
	"time"

	"github.com/agrimon/agrimon/internal/buffer"
	"github.com/agrimon/agrimon/internal/telemetry"
)

func fill(t *testing.T, m *buffer.Manager, id string, start time.Time, step time.Duration, values ...float64) {
	t.Helper()
	for i, v := range values {
		m.Add(telemetry.SensorReading{
			SensorID:   id,
			Timestamp:  start.Add(time.Duration(i) * step),
			Value:      v,
			Unit:       "C",
			Confidence: 0.9,
			Validated:  true,
		})
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestStatistics_Empty(t *testing.T) {
	e := NewEngine(buffer.NewManager(buffer.DefaultOptions()))

	st := e.Statistics("missing", time.Hour)
	if st.Count != 0 {
		t.Errorf("empty window should yield zero count, got %+v", st)
	}
}

func TestStatistics_KnownValues(t *testing.T) {
	m := buffer.NewManager(buffer.DefaultOptions())
	fill(t, m, "s", time.Now().Add(-time.Minute), time.Second, 10, 20, 30)

	st := NewEngine(m).Statistics("s", time.Hour)

	if st.Count != 3 {
		t.Fatalf("count: got %d", st.Count)
	}
	if !almostEqual(st.Mean, 20) {
		t.Errorf("mean: got %v", st.Mean)
	}
	if !almostEqual(st.Min, 10) || !almostEqual(st.Max, 30) {
		t.Errorf("min/max: got %v/%v", st.Min, st.Max)
	}
	if !almostEqual(st.Median, 20) {
		t.Errorf("median: got %v", st.Median)
	}
	// Population std dev of [10,20,30] is sqrt(200/3).
	if !almostEqual(st.StdDev, math.Sqrt(200.0/3.0)) {
		t.Errorf("stddev: got %v", st.StdDev)
	}
	if !almostEqual(st.Confidence, 0.9) {
		t.Errorf("confidence: got %v", st.Confidence)
	}
	if st.Percentiles != nil {
		t.Error("percentiles should be nil when not enabled")
	}
}

func TestStatistics_MedianEvenCount(t *testing.T) {
	m := buffer.NewManager(buffer.DefaultOptions())
	fill(t, m, "s", time.Now().Add(-time.Minute), time.Second, 4, 1, 3, 2)

	st := NewEngine(m).Statistics("s", time.Hour)
	if !almostEqual(st.Median, 2.5) {
		t.Errorf("median of [1,2,3,4]: got %v", st.Median)
	}
}

func TestStatistics_Percentiles(t *testing.T) {
	m := buffer.NewManager(buffer.DefaultOptions())
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i + 1)
	}
	fill(t, m, "s", time.Now().Add(-time.Minute), time.Millisecond, values...)

	st := NewEngineWithPercentiles(m, 0.01).Statistics("s", time.Hour)
	if st.Percentiles == nil {
		t.Fatal("expected percentiles")
	}
	// 1% relative accuracy on a 1..100 series.
	if math.Abs(st.Percentiles.P50-50) > 2 {
		t.Errorf("p50: got %v", st.Percentiles.P50)
	}
	if math.Abs(st.Percentiles.P99-99) > 3 {
		t.Errorf("p99: got %v", st.Percentiles.P99)
	}
}

func TestTrend_TooFewReadings(t *testing.T) {
	m := buffer.NewManager(buffer.DefaultOptions())
	fill(t, m, "s", time.Now(), time.Second, 5)

	ta := NewEngine(m).TrendAnalysis("s", time.Hour)
	if ta.Samples != 0 {
		t.Errorf("single reading should yield empty analysis, got %+v", ta)
	}
}

func TestTrend_Stable(t *testing.T) {
	m := buffer.NewManager(buffer.DefaultOptions())
	fill(t, m, "s", time.Now().Add(-time.Minute), time.Second, 20, 20, 20, 20, 20)

	ta := NewEngine(m).TrendAnalysis("s", time.Hour)
	if ta.Trend != TrendStable {
		t.Errorf("constant series: got %q", ta.Trend)
	}
	if ta.Slope != 0 {
		t.Errorf("constant series slope: got %v", ta.Slope)
	}
}

func TestTrend_Increasing(t *testing.T) {
	m := buffer.NewManager(buffer.DefaultOptions())
	// Doubling over one minute: slope large relative to the mean.
	fill(t, m, "s", time.Now().Add(-time.Minute), 10*time.Second, 10, 14, 18, 22, 26, 30)

	ta := NewEngine(m).TrendAnalysis("s", time.Hour)
	if ta.Trend != TrendIncreasing {
		t.Errorf("monotone series: got %q (strength %v)", ta.Trend, ta.Strength)
	}
	if ta.Slope <= 0 {
		t.Errorf("slope: got %v", ta.Slope)
	}
	// A perfect line has R^2 of 1.
	if math.Abs(ta.RSquared-1) > 1e-9 {
		t.Errorf("r^2: got %v", ta.RSquared)
	}
}

func TestTrend_Decreasing(t *testing.T) {
	m := buffer.NewManager(buffer.DefaultOptions())
	fill(t, m, "s", time.Now().Add(-time.Minute), 10*time.Second, 30, 26, 22, 18, 14, 10)

	ta := NewEngine(m).TrendAnalysis("s", time.Hour)
	if ta.Trend != TrendDecreasing {
		t.Errorf("decreasing series: got %q", ta.Trend)
	}
	if ta.Slope >= 0 {
		t.Errorf("slope: got %v", ta.Slope)
	}
}

func TestTrend_StrengthNormalization(t *testing.T) {
	now := time.Now()
	mk := func(scale float64) []telemetry.SensorReading {
		var rs []telemetry.SensorReading
		for i := 0; i < 6; i++ {
			rs = append(rs, telemetry.SensorReading{
				SensorID:  "s",
				Timestamp: now.Add(time.Duration(i) * 10 * time.Second),
				Value:     scale * float64(10+4*i),
			})
		}
		return rs
	}

	// Scaling the series should not change the dimensionless strength.
	a := Trend(mk(1), time.Hour)
	b := Trend(mk(1000), time.Hour)
	if math.Abs(a.Strength-b.Strength) > 1e-9 {
		t.Errorf("strength should be scale invariant: %v vs %v", a.Strength, b.Strength)
	}
	if a.Trend != b.Trend {
		t.Errorf("classification should be scale invariant: %q vs %q", a.Trend, b.Trend)
	}
}

func TestTrend_IdenticalTimestamps(t *testing.T) {
	now := time.Now()
	readings := []telemetry.SensorReading{
		{SensorID: "s", Timestamp: now, Value: 1},
		{SensorID: "s", Timestamp: now, Value: 2},
	}
	ta := Trend(readings, time.Hour)
	if ta.Trend != TrendStable {
		t.Errorf("degenerate time axis should be stable, got %q", ta.Trend)
	}
}
