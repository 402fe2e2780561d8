package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// connectionStates lists every state label so the gauge can be one-hot.
var connectionStates = []string{"disconnected", "connecting", "connected"}

// Prometheus exports recorder events as Prometheus series.
type Prometheus struct {
	connectionState    *prometheus.GaugeVec
	connectAttempts    *prometheus.CounterVec
	framesReceived     *prometheus.CounterVec
	requestsSent       *prometheus.CounterVec
	submissions        *prometheus.CounterVec
	pending            prometheus.Gauge
	handlerFailures    *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
}

// NewPrometheus registers the client series on reg. A nil reg uses the default registerer.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Prometheus{
		connectionState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "devoid_client_connection_state",
				Help: "Current connection state (1 for the active state)",
			},
			[]string{"state"},
		),
		connectAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devoid_client_connect_attempts_total",
				Help: "Connection attempts by outcome",
			},
			[]string{"outcome"},
		),
		framesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devoid_client_frames_received_total",
				Help: "Inbound frames by generation status",
			},
			[]string{"status"},
		),
		requestsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devoid_client_requests_sent_total",
				Help: "Requests written to the connection",
			},
			[]string{"executor", "result"},
		),
		submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devoid_client_submissions_total",
				Help: "Per-user submissions by outcome",
			},
			[]string{"outcome"},
		),
		pending: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "devoid_client_pending_requests",
				Help: "Requests buffered behind an in-flight request",
			},
		),
		handlerFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devoid_client_handler_failures_total",
				Help: "Handler invocations that failed or panicked",
			},
			[]string{"event"},
		),
		generationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "devoid_client_generation_duration_seconds",
				Help:    "Time between sending a request and its terminal response",
				Buckets: []float64{1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120, 180, 300, 600},
			},
			[]string{"executor", "status"},
		),
	}
}

func (p *Prometheus) SetConnectionState(state string) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		p.connectionState.WithLabelValues(s).Set(v)
	}
}

func (p *Prometheus) ConnectAttempt(outcome string) {
	p.connectAttempts.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) FrameReceived(status string) {
	p.framesReceived.WithLabelValues(status).Inc()
}

func (p *Prometheus) RequestSent(executor string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.requestsSent.WithLabelValues(executor, result).Inc()
}

func (p *Prometheus) Submitted(outcome string) {
	p.submissions.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) PendingChanged(delta int) {
	p.pending.Add(float64(delta))
}

func (p *Prometheus) HandlerFailed(event string) {
	p.handlerFailures.WithLabelValues(event).Inc()
}

func (p *Prometheus) GenerationFinished(rec GenerationRecord) {
	p.generationDuration.WithLabelValues(rec.Executor, rec.Status).Observe(rec.Duration.Seconds())
}

var _ Recorder = (*Prometheus)(nil)
