package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Low-cardinality only: labels are fixed enums, never light or channel IDs.
var (
	EventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_events_received_total",
		Help: "Event records successfully framed and parsed from the stream",
	})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_events_dropped_total",
		Help: "Event records dropped before handling, by reason",
	}, []string{"reason"})

	StreamConnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_stream_connects_total",
		Help: "Successful connections to the event stream",
	})

	StreamFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_stream_failures_total",
		Help: "Connection attempts that ended in an error",
	})

	StreamExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_stream_exhausted_total",
		Help: "Times the supervisor gave up after exhausting retries",
	})

	LightSwitches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_light_switches_total",
		Help: "Driver switch calls issued, by action (on/off)",
	}, []string{"action"})

	DriverErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_driver_errors_total",
		Help: "Light driver call failures, by action (on/off)",
	}, []string{"action"})

	TimersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "presence_timers_active",
		Help: "Lights currently held on by a pending auto-off timer",
	})

	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_publish_failures_total",
		Help: "Normalized events that could not be published to NATS",
	})
)
