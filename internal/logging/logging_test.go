package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

// capture routes the global logger into a buffer for one test.
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	InitWithHandler(slog.NewTextHandler(&buf, nil))
	return &buf
}

func TestComponentAttr(t *testing.T) {
	buf := capture(t)

	Component("securestore").Info("opened")

	if !strings.Contains(buf.String(), "component=securestore") {
		t.Errorf("missing component attribute: %s", buf.String())
	}
}

func TestWithContextAttrs(t *testing.T) {
	buf := capture(t)

	ctx := ContextWithSensorID(context.Background(), "soil-7")
	ctx = ContextWithEndpoint(ctx, "wss://stream.test/telemetry")
	WithContext(ctx).Warn("dropping reading")

	out := buf.String()
	if !strings.Contains(out, "sensor_id=soil-7") {
		t.Errorf("missing sensor_id attribute: %s", out)
	}
	if !strings.Contains(out, "endpoint=wss://stream.test/telemetry") {
		t.Errorf("missing endpoint attribute: %s", out)
	}
}

func TestWithContextNoScope(t *testing.T) {
	buf := capture(t)

	WithContext(context.Background()).Info("plain entry")

	out := buf.String()
	if strings.Contains(out, "sensor_id") || strings.Contains(out, "endpoint") {
		t.Errorf("unexpected scope attributes: %s", out)
	}
}
