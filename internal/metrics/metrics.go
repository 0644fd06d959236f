package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every broker-visible Prometheus collector. It is
// instance-scoped (not package-level promauto globals, as the teacher used)
// so tests and cmd/broker can each register against their own registry
// without a duplicate-registration panic.
type Metrics struct {
	ClientsConnected    prometheus.Gauge
	MessagesReceived    *prometheus.CounterVec
	MessagesSent        *prometheus.CounterVec
	MessagesDropped     prometheus.Counter
	BytesReceived       prometheus.Counter
	BytesSent           prometheus.Counter
	ConnectionsTotal    prometheus.Counter
	SubscriptionsActive prometheus.Gauge
	RetainedMessages    prometheus.Gauge
	QoSInflight         *prometheus.GaugeVec

	// Domain additions beyond the teacher's baseline set.
	TopicTreeNodes      prometheus.Gauge
	BridgeForwardsTotal prometheus.Counter
	BridgeIngressTotal  prometheus.Counter
	WorkItemTransitions *prometheus.CounterVec
}

// New registers and returns a fresh set of collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ClientsConnected: f.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_clients_connected",
			Help: "Number of currently connected MQTT clients",
		}),
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_messages_received_total",
			Help: "Total number of MQTT messages received by type",
		}, []string{"type"}),
		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_messages_sent_total",
			Help: "Total number of MQTT messages sent by type",
		}, []string{"type"}),
		MessagesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_messages_dropped_total",
			Help: "Total number of messages dropped by backpressure policy",
		}),
		BytesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_bytes_received_total",
			Help: "Total bytes received from MQTT clients",
		}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_bytes_sent_total",
			Help: "Total bytes sent to MQTT clients",
		}),
		ConnectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_connections_total",
			Help: "Total number of connection attempts",
		}),
		SubscriptionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_subscriptions_active",
			Help: "Number of active subscriptions",
		}),
		RetainedMessages: f.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_retained_messages",
			Help: "Number of retained messages",
		}),
		QoSInflight: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mqtt_qos_messages_inflight",
			Help: "Number of in-flight QoS 1/2 messages",
		}, []string{"qos"}),
		TopicTreeNodes: f.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_topic_tree_nodes",
			Help: "Approximate number of live topic-index nodes",
		}),
		BridgeForwardsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_bridge_forwards_total",
			Help: "Total number of messages forwarded upstream by the bridge",
		}),
		BridgeIngressTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_bridge_ingress_total",
			Help: "Total number of messages injected locally from the bridge",
		}),
		WorkItemTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_workitem_transitions_total",
			Help: "Total work-item state transitions by target state",
		}, []string{"state"}),
	}
}
