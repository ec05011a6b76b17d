package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors shared by the bus and the API client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	BusEventsPublished *prometheus.CounterVec
	BusDeliveries      *prometheus.CounterVec
	BusHandlerPanics   *prometheus.CounterVec
	BusSubscribers     *prometheus.GaugeVec
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
}

// New registers every collector on registerer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	factory := promauto.With(registerer)

	return &Metrics{
		BusEventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kg_explorer_bus_events_published_total",
				Help: "Total events published on the event bus",
			},
			[]string{"topic", "event"},
		),
		BusDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kg_explorer_bus_deliveries_total",
				Help: "Total handler invocations performed by the event bus",
			},
			[]string{"topic"},
		),
		BusHandlerPanics: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kg_explorer_bus_handler_panics_total",
				Help: "Total handler panics recovered by the event bus",
			},
			[]string{"topic", "event"},
		),
		BusSubscribers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kg_explorer_bus_subscribers",
				Help: "Active subscriptions per topic",
			},
			[]string{"topic"},
		),
		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kg_explorer_api_requests_total",
				Help: "Total requests sent to the knowledge graph service",
			},
			[]string{"operation", "status"},
		),
		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kg_explorer_api_request_duration_seconds",
				Help:    "Knowledge graph service request latency",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"operation"},
		),
	}
}

func (m *Metrics) EventPublished(topic, event string) {
	if m == nil {
		return
	}
	m.BusEventsPublished.WithLabelValues(topic, event).Inc()
}

func (m *Metrics) EventDelivered(topic string) {
	if m == nil {
		return
	}
	m.BusDeliveries.WithLabelValues(topic).Inc()
}

func (m *Metrics) HandlerPanicked(topic, event string) {
	if m == nil {
		return
	}
	m.BusHandlerPanics.WithLabelValues(topic, event).Inc()
}

func (m *Metrics) SetSubscribers(topic string, n int) {
	if m == nil {
		return
	}
	m.BusSubscribers.WithLabelValues(topic).Set(float64(n))
}

// ObserveRequest records one round trip. status is 0 for transport failures.
func (m *Metrics) ObserveRequest(operation string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.APIRequestsTotal.WithLabelValues(operation, label).Inc()
	m.APIRequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}
