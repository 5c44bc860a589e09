package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/thermolink-core/internal/device"
	"github.com/nerrad567/thermolink-core/internal/infrastructure/mqtt"
)

const namespace = "thermolink"

// Metrics holds the process collectors on a private registry.
//
// It implements the observer hooks of the dispatcher, the provisioning
// service and the telemetry sink chain, so wiring is a matter of passing
// the same value to each SetObserver call.
type Metrics struct {
	registry *prometheus.Registry

	messagesReceived *prometheus.CounterVec
	messagesDropped  *prometheus.CounterVec
	provisioning     *prometheus.CounterVec
	readingsStored   prometheus.Counter
	configPublishes  *prometheus.CounterVec
	brokerConnected  prometheus.Gauge
	lastReading      *prometheus.GaugeVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound broker messages by classified kind.",
		}, []string{"kind"}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Inbound messages that produced no state change, by reason.",
		}, []string{"reason"}),
		provisioning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioning_outcomes_total",
			Help:      "Handled device announcements by outcome.",
		}, []string{"outcome"}),
		readingsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_stored_total",
			Help:      "Temperature readings persisted.",
		}),
		configPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_publishes_total",
			Help:      "Configuration publishes by result.",
		}, []string{"result"}),
		brokerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_connected",
			Help:      "1 while the broker session is up.",
		}),
		lastReading: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_temperature_celsius",
			Help:      "Most recent stored reading per device.",
		}, []string{"device_id"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messagesReceived,
		m.messagesDropped,
		m.provisioning,
		m.readingsStored,
		m.configPublishes,
		m.brokerConnected,
		m.lastReading,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// MessageReceived counts a classified inbound message.
func (m *Metrics) MessageReceived(kind string) {
	m.messagesReceived.WithLabelValues(kind).Inc()
}

// MessageDropped counts a message that was not acted on.
func (m *Metrics) MessageDropped(reason string) {
	m.messagesDropped.WithLabelValues(reason).Inc()
}

// ProvisioningOutcome counts one handled announcement.
func (m *Metrics) ProvisioningOutcome(outcome string) {
	m.provisioning.WithLabelValues(outcome).Inc()
}

// ReadingStored counts a persisted reading and tracks the latest value.
func (m *Metrics) ReadingStored(_ context.Context, dev *device.Device, reading *device.Reading) {
	m.readingsStored.Inc()
	if dev != nil && reading != nil {
		m.lastReading.WithLabelValues(dev.ID).Set(reading.Value.Float64())
	}
}

// ConfigPublished counts a configuration publish attempt.
func (m *Metrics) ConfigPublished(delivered bool) {
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	m.configPublishes.WithLabelValues(result).Inc()
}

// BrokerStateChanged tracks the MQTT connection state.
func (m *Metrics) BrokerStateChanged(state mqtt.State) {
	if state == mqtt.StateConnected {
		m.brokerConnected.Set(1)
		return
	}
	m.brokerConnected.Set(0)
}
