package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is the hub's own metrics registry, served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// CommandsTotal counts dispatched commands by kind and outcome.
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roamhub_commands_total",
			Help: "Total number of remote commands dispatched, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// CommandLatency observes end-to-end command duration, including the
	// partner round trip.
	CommandLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roamhub_command_latency_seconds",
			Help:    "Latency of remote command execution including partner acknowledgment.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// DroppedNotificationsTotal counts notifications dropped because a
	// subscriber's bounded queue overflowed.
	DroppedNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roamhub_bus_dropped_notifications_total",
			Help: "Notifications dropped per subscriber due to queue overflow.",
		},
		[]string{"subscriber"},
	)

	// StatusUpdatesTotal counts accepted status transitions per operator.
	StatusUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roamhub_status_updates_total",
			Help: "Total committed EVSE status transitions, by operator.",
		},
		[]string{"operator"},
	)

	// DiffEntriesTotal counts published diff entries by classification.
	DiffEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roamhub_diff_entries_total",
			Help: "Entries in published status diffs, by operator and class (new/changed/removed).",
		},
		[]string{"operator", "class"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		CommandsTotal,
		CommandLatency,
		DroppedNotificationsTotal,
		StatusUpdatesTotal,
		DiffEntriesTotal,
	)
}
