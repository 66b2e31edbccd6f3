package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matrixhost",
			Subsystem: "driver",
			Name:      "ticks_total",
			Help:      "Plugin update calls.",
		},
		[]string{"plugin"},
	)
	framesRendered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matrixhost",
			Subsystem: "driver",
			Name:      "frames_rendered_total",
			Help:      "Frames handed to the backend.",
		},
		[]string{"plugin"},
	)
	framesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matrixhost",
			Subsystem: "driver",
			Name:      "frames_rejected_total",
			Help:      "Frames dropped for not matching the matrix size.",
		},
		[]string{"plugin"},
	)
	backendErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matrixhost",
			Subsystem: "backend",
			Name:      "errors_total",
			Help:      "Backend render failures.",
		},
		[]string{"plugin", "fatal"},
	)
	activations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matrixhost",
			Subsystem: "driver",
			Name:      "activations_total",
			Help:      "Finished plugin activations by outcome.",
		},
		[]string{"plugin", "outcome"},
	)
	tickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "matrixhost",
			Subsystem: "driver",
			Name:      "tick_duration_seconds",
			Help:      "Time spent updating, mapping and rendering one tick.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"plugin"},
	)
)

// RegisterMetrics registers the collectors with the default registry
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ticks, framesRendered, framesRejected, backendErrors, activations, tickDuration)
	})
}

func RecordTick(plugin string, duration time.Duration) {
	RegisterMetrics()
	ticks.WithLabelValues(plugin).Inc()
	tickDuration.WithLabelValues(plugin).Observe(duration.Seconds())
}

func RecordFrameRendered(plugin string) {
	RegisterMetrics()
	framesRendered.WithLabelValues(plugin).Inc()
}

func RecordFrameRejected(plugin string) {
	RegisterMetrics()
	framesRejected.WithLabelValues(plugin).Inc()
}

func RecordBackendError(plugin string, fatal bool) {
	RegisterMetrics()
	label := "false"
	if fatal {
		label = "true"
	}
	backendErrors.WithLabelValues(plugin, label).Inc()
}

// RecordActivation counts a finished activation. outcome is "done",
// "setup_failed", "timeout", "panic", "cancelled" or "backend_failed".
func RecordActivation(plugin, outcome string) {
	RegisterMetrics()
	activations.WithLabelValues(plugin, outcome).Inc()
}
