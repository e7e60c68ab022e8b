package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the discovery task lifecycle. Internal implementation detail,
// not tied to any particular transport's own RPC metrics.
var (
	// tasksStarted counts discovery tasks that were spawned: after the
	// initial predicate check, before any optional delay. A task that
	// aborts after its delay is still counted here.
	tasksStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "discovery_tasks_started_total",
			Help: "Number of discovery tasks spawned.",
		},
	)

	// tasksSkipped counts deferred-start calls that decided, before
	// spawning, that discovery was not needed. Tasks that abort after the
	// optional delay are not counted here.
	tasksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "discovery_tasks_skipped_total",
			Help: "Number of maybe-start calls that did not spawn a task.",
		},
	)

	// firstResult counts how task.FirstArrived eventually resolved.
	firstResult = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_first_result_total",
			Help: "Outcome of the first-result signal per task.",
		},
		[]string{"outcome"}, // "success" | "failure"
	)

	// itemsReceived counts non-empty DiscoveryItems delivered to the
	// address book, labeled by backend provenance.
	itemsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_items_received_total",
			Help: "Non-empty discovery items delivered to the address book, by provenance.",
		},
		[]string{"provenance"},
	)

	// itemsEmpty counts empty-AddrInfo items skipped, labeled by
	// provenance.
	itemsEmpty = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_items_empty_total",
			Help: "Empty discovery items skipped, by provenance.",
		},
		[]string{"provenance"},
	)
)

func observeFirstResult(success bool) {
	if success {
		firstResult.WithLabelValues("success").Inc()
		return
	}
	firstResult.WithLabelValues("failure").Inc()
}
