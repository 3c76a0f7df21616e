package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments one engine's control-plane activity. Engines sharing
// a registry are told apart by the node label.
type Metrics struct {
	AntsSent     *prometheus.CounterVec
	AntsReceived *prometheus.CounterVec

	HellosSent      prometheus.Counter
	HellosReceived  prometheus.Counter
	NeighboursAdded prometheus.Counter
	NeighboursLost  prometheus.Counter

	SetupsStarted   prometheus.Counter
	SetupsCompleted prometheus.Counter
	SetupsExhausted prometheus.Counter
	RepairsStarted  prometheus.Counter

	LinkFailuresSent     prometheus.Counter
	LinkFailuresReceived prometheus.Counter
	WarningsSent         prometheus.Counter
	WarningsReceived     prometheus.Counter

	DataForwarded prometheus.Counter
	DataBuffered  prometheus.Counter
	DataDropped   prometheus.Counter
}

// NewMetrics registers the engine metrics for one node on the given
// registerer.
func NewMetrics(reg prometheus.Registerer, node string) *Metrics {
	labels := prometheus.Labels{"node": node}
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "anthocnet",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	counterVec := func(name, help string, labelNames ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "anthocnet",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, labelNames)
	}

	return &Metrics{
		AntsSent:     counterVec("ants_sent_total", "Control ants sent, by kind.", "kind"),
		AntsReceived: counterVec("ants_received_total", "Control ants received, by kind.", "kind"),

		HellosSent:      counter("hellos_sent_total", "Hello beacons broadcast."),
		HellosReceived:  counter("hellos_received_total", "Hello beacons received."),
		NeighboursAdded: counter("neighbours_added_total", "Direct neighbours discovered."),
		NeighboursLost:  counter("neighbours_lost_total", "Direct neighbours declared lost."),

		SetupsStarted:   counter("path_setups_started_total", "Reactive path setups started."),
		SetupsCompleted: counter("path_setups_completed_total", "Reactive path setups completed by a matching backward ant."),
		SetupsExhausted: counter("path_setups_exhausted_total", "Reactive path setups abandoned after the retry limit."),
		RepairsStarted:  counter("path_repairs_started_total", "Local path repairs started."),

		LinkFailuresSent:     counter("link_failure_notifications_sent_total", "Link failure notifications broadcast."),
		LinkFailuresReceived: counter("link_failure_notifications_received_total", "Link failure notifications received."),
		WarningsSent:         counter("warnings_sent_total", "Warning messages sent upstream."),
		WarningsReceived:     counter("warnings_received_total", "Warning messages received."),

		DataForwarded: counter("data_forwarded_total", "Data packets routed to a next hop."),
		DataBuffered:  counter("data_buffered_total", "Data packets buffered during path setup."),
		DataDropped:   counter("data_dropped_total", "Data packets dropped."),
	}
}
