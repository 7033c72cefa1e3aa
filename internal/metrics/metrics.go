package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trainwatch_events_received_total",
		Help: "Stream events received by the monitor, by kind",
	}, []string{"kind"})

	ParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trainwatch_parse_errors_total",
		Help: "Events discarded because their body was malformed",
	}, []string{"kind"})

	DuplicateEpochs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trainwatch_duplicate_epochs_total",
		Help: "Epoch updates ignored because the epoch was already rendered",
	})

	ReplacedEpochs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trainwatch_replaced_epochs_total",
		Help: "Epoch log entries replaced by authoritative resends",
	})

	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trainwatch_reconnect_attempts_total",
		Help: "Reconnects scheduled after transport errors",
	})

	Resyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trainwatch_resyncs_total",
		Help: "Targeted reconnects triggered by heartbeat epoch gaps",
	})

	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trainwatch_state_transitions_total",
		Help: "Monitor state machine transitions, by target state",
	}, []string{"state"})

	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mockserver_stream_clients_active",
		Help: "Subscribers currently attached to mock training streams",
	})

	EventsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mockserver_events_sent_total",
		Help: "Events emitted by the mock training server, by kind",
	}, []string{"kind"})

	RunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mockserver_runs_started_total",
		Help: "Simulated training runs started",
	})

	StreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mockserver_stream_duration_seconds",
		Help:    "How long subscribers stayed attached to a training stream",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"transport"})
)
