package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Telemetry records which answering system served each question and how the
// fallback chain degraded. Terminal outcomes are a required observable, not
// incidental logging.
type Telemetry struct {
	logger *log.Logger

	answersTotal   *prometheus.CounterVec
	fallbacksTotal *prometheus.CounterVec
	modelSeconds   *prometheus.HistogramVec

	mu      sync.RWMutex
	serving string // system that produced the most recent answer
}

// New registers the assistant metrics on the supplied registerer.
func New(reg prometheus.Registerer) *Telemetry {
	t := &Telemetry{
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		answersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classsight_answers_total",
			Help: "Answers produced, labelled by the system that served them.",
		}, []string{"system"}),
		fallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classsight_fallbacks_total",
			Help: "Fallback transitions, labelled by the stage that failed.",
		}, []string{"reason"}),
		modelSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "classsight_model_call_seconds",
			Help:    "Latency of language model calls per operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(t.answersTotal, t.fallbacksTotal, t.modelSeconds)
	}
	return t
}

// RecordAnswer notes the terminal system for one answer cycle and, when
// degraded, the reason the preferred path was abandoned.
func (t *Telemetry) RecordAnswer(system, fallbackReason string) {
	t.answersTotal.WithLabelValues(system).Inc()
	if fallbackReason != "" {
		t.logger.Printf("answered by %s (degraded: %s)", system, fallbackReason)
	} else {
		t.logger.Printf("answered by %s", system)
	}
	t.mu.Lock()
	t.serving = system
	t.mu.Unlock()
}

// RecordFallback notes one transition of the fallback chain.
func (t *Telemetry) RecordFallback(reason string) {
	t.fallbacksTotal.WithLabelValues(reason).Inc()
}

// ObserveModelCall records the latency of one provider invocation.
func (t *Telemetry) ObserveModelCall(op string, d time.Duration) {
	t.modelSeconds.WithLabelValues(op).Observe(d.Seconds())
}

// Serving reports the system that produced the most recent answer.
func (t *Telemetry) Serving() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.serving == "" {
		return "none"
	}
	return t.serving
}
