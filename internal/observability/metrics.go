package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ModelState mirrors the transcription model lifecycle as a gauge value.
type ModelState int

const (
	ModelIdle ModelState = iota
	ModelLoading
	ModelReady
	ModelFailed
)

// Metrics groups all Prometheus instruments used by the daemon.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	TTSStreams       *prometheus.CounterVec
	TTSChunks        *prometheus.CounterVec
	STTRequests      *prometheus.CounterVec
	STTInference     prometheus.Histogram
	STTModelState    prometheus.Gauge
	WakeDetections   *prometheus.CounterVec
	WakeNotifyErrors prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		TTSStreams: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_streams_total",
			Help:      "Synthesis streams by transport and result.",
		}, []string{"transport", "result"}),
		TTSChunks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_chunks_total",
			Help:      "PCM chunks written to clients by transport.",
		}, []string{"transport"}),
		STTRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_requests_total",
			Help:      "Transcription requests by result.",
		}, []string{"result"}),
		STTInference: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stt_inference_seconds",
			Help:      "Time spent inside the transcription model.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		STTModelState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stt_model_state",
			Help:      "Transcription model state: 0 idle, 1 loading, 2 ready, 3 failed.",
		}),
		WakeDetections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wake_detections_total",
			Help:      "Keyword detections by outcome.",
		}, []string{"outcome"}),
		WakeNotifyErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wake_notify_errors_total",
			Help:      "Failed realtime start notifications.",
		}),
	}
}

func (m *Metrics) ObserveStream(transport, result string) {
	if m == nil {
		return
	}
	m.TTSStreams.WithLabelValues(transport, result).Inc()
}

func (m *Metrics) AddChunk(transport string) {
	if m == nil {
		return
	}
	m.TTSChunks.WithLabelValues(transport).Inc()
}

func (m *Metrics) ObserveTranscription(result string) {
	if m == nil {
		return
	}
	m.STTRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveInference(d time.Duration) {
	if m == nil {
		return
	}
	m.STTInference.Observe(d.Seconds())
}

func (m *Metrics) SetModelState(state ModelState) {
	if m == nil {
		return
	}
	m.STTModelState.Set(float64(state))
}

func (m *Metrics) ObserveWake(outcome string) {
	if m == nil {
		return
	}
	m.WakeDetections.WithLabelValues(outcome).Inc()
}

func (m *Metrics) WakeNotifyFailed() {
	if m == nil {
		return
	}
	m.WakeNotifyErrors.Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
