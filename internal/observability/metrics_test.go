package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveStream("fallback", "ok")
	m.AddChunk("fallback")
	m.ObserveTranscription("ok")
	m.ObserveInference(time.Second)
	m.SetModelState(ModelReady)
	m.ObserveWake("accepted")
	m.WakeNotifyFailed()
}

func TestMetricsExposedByHandler(t *testing.T) {
	m := NewMetrics("voiced_metrics_test")
	m.ObserveStream("concurrent", "ok")
	m.SetModelState(ModelLoading)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	if !strings.Contains(text, `voiced_metrics_test_tts_streams_total{result="ok",transport="concurrent"} 1`) {
		t.Fatalf("stream counter missing from exposition")
	}
	if !strings.Contains(text, "voiced_metrics_test_stt_model_state 1") {
		t.Fatalf("model state gauge missing from exposition")
	}
}

func TestSetupTracingWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), "voiced", "", false, zap.NewNop())
	if err != nil {
		t.Fatalf("SetupTracing() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
	_, span := Tracer().Start(context.Background(), "noop")
	span.End()
}
