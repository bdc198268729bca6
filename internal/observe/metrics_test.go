package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the data point carrying key=value.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q: no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.GenerationDuration.Record(ctx, 1.5)
	m.GenerationDuration.Record(ctx, 42)

	rm := collect(t, reader)
	met := findMetric(rm, "callcoach.generation.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}
}

func TestAudioFrameOutcomes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAudioFrame(ctx, "sent")
	m.RecordAudioFrame(ctx, "sent")
	m.RecordAudioFrame(ctx, "dropped")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "callcoach.audio.frames", "outcome", "sent"); got != 2 {
		t.Errorf("sent = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "callcoach.audio.frames", "outcome", "dropped"); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
}

func TestSessionCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSessionStart(ctx, "transcription", "ok")
	m.RecordSessionStart(ctx, "roleplay", "error")
	m.ActiveSessions.Add(ctx, 1)
	m.RecordTurn(ctx, "user")
	m.RecordPlayback(ctx, "interrupted", 3)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "callcoach.sessions.started", "status", "error"); got != 1 {
		t.Errorf("failed starts = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "callcoach.transcript.turns", "speaker", "user"); got != 1 {
		t.Errorf("user turns = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "callcoach.playback.fragments", "outcome", "interrupted"); got != 3 {
		t.Errorf("interrupted = %d, want 3", got)
	}
}

func TestProviderCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "gemini", "report", "ok")
	m.RecordProviderRequest(ctx, "gemini", "report", "ok")
	m.RecordProviderError(ctx, "whisper", "transcribe")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "callcoach.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "callcoach.provider.errors", "provider", "whisper"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestStoreOperations(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStoreOp(ctx, "save", "staffy", nil)
	m.RecordStoreOp(ctx, "save", "staffy", errors.New("boom"))

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "callcoach.store.operations", "status", "error"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "callcoach.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
