package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lorawatch_polls_total",
			Help: "Telemetry polls by result.",
		},
		[]string{"result"},
	)
	PolledNodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lorawatch_polled_nodes",
		Help: "Nodes in the last published collection.",
	})
	SkippedRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lorawatch_skipped_records_total",
		Help: "Poll payload elements skipped for lacking a device id.",
	})
	StaleDetailDiscards = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lorawatch_stale_detail_discards_total",
		Help: "Detail responses discarded because the selection moved on.",
	})
	SubscriptionOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lorawatch_subscription_ops_total",
			Help: "Subscription mutations by operation and result.",
		},
		[]string{"op", "result"},
	)
	AlertsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lorawatch_alerts_sent_total",
			Help: "Alert notifications by notifier and result.",
		},
		[]string{"notifier", "result"},
	)
	ComponentErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lorawatch_component_errors_total",
			Help: "Errors reported to the sink by component.",
		},
		[]string{"component"},
	)
	IngestedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodeapi_ingested_messages_total",
			Help: "MQTT telemetry messages by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		PollsTotal,
		PolledNodes,
		SkippedRecords,
		StaleDetailDiscards,
		SubscriptionOps,
		AlertsSent,
		ComponentErrors,
		IngestedMessages,
	)
}

// Result maps an error to the "ok"/"error" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
