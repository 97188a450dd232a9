package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Business metrics
	ConnectedChargers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "csms_connected_chargers",
		Help: "Number of chargers currently attached",
	})

	ActiveChargingSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "csms_active_charging_sessions",
		Help: "Number of open charging sessions across all chargers",
	})

	CompletedSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csms_completed_sessions_total",
		Help: "Finished charging sessions handed to persistence",
	}, []string{"result"})

	EnergyDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csms_energy_delivered_kwh_total",
		Help: "Total energy delivered in kWh",
	})

	// Protocol metrics
	OCPPMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csms_ocpp_messages_total",
		Help: "OCPP frames by action and direction",
	}, []string{"action", "direction"})

	OCPPErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csms_ocpp_errors_total",
		Help: "Protocol and transport errors by kind",
	}, []string{"kind"})

	OCPPHandlerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "csms_ocpp_handler_latency_seconds",
		Help:    "Time spent handling an inbound Call",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	PendingCommands = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "csms_pending_commands",
		Help: "Outbound commands awaiting a reply",
	})

	// Infrastructure metrics
	DatabaseLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "csms_database_latency_seconds",
		Help:    "Latency of database writes",
		Buckets: prometheus.DefBuckets,
	})
)
