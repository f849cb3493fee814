package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PrometheusObserver struct {
	attempts         *prometheus.CounterVec
	campaignsClosed  *prometheus.CounterVec
	sweepDuration    prometheus.Histogram
	sweepDue         prometheus.Gauge
	eventsPublished  *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	deliveryDropped  *prometheus.CounterVec
}

func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	factory := promauto.With(reg)
	return &PrometheusObserver{
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_retry_attempts_total",
			Help: "Payment attempts executed by the retry orchestrator, by outcome",
		}, []string{"outcome"}),
		campaignsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_retry_campaigns_closed_total",
			Help: "Retry campaigns that reached a terminal state",
		}, []string{"state"}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "payment_retry_sweep_duration_seconds",
			Help:    "Duration of due-campaign sweeps",
			Buckets: prometheus.DefBuckets,
		}),
		sweepDue: factory.NewGauge(prometheus.GaugeOpts{
			Name: "payment_retry_sweep_due_campaigns",
			Help: "Campaigns found due by the last sweep",
		}),
		eventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_retry_events_published_total",
			Help: "Events appended to the event stream, by type",
		}, []string{"type"}),
		deliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_retry_delivery_failures_total",
			Help: "Event deliveries a subscriber did not acknowledge",
		}, []string{"subscription"}),
		deliveryDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_retry_deliveries_dropped_total",
			Help: "Event deliveries abandoned after the redelivery schedule ran out",
		}, []string{"subscription"}),
	}
}

func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (p *PrometheusObserver) RecordAttempt(outcome string) {
	p.attempts.WithLabelValues(outcome).Inc()
}

func (p *PrometheusObserver) RecordCampaignClosed(state string) {
	p.campaignsClosed.WithLabelValues(state).Inc()
}

func (p *PrometheusObserver) RecordSweep(duration time.Duration, due int) {
	p.sweepDuration.Observe(duration.Seconds())
	p.sweepDue.Set(float64(due))
}

func (p *PrometheusObserver) RecordPublished(eventType string) {
	p.eventsPublished.WithLabelValues(eventType).Inc()
}

func (p *PrometheusObserver) RecordDeliveryFailure(subscription string) {
	p.deliveryFailures.WithLabelValues(subscription).Inc()
}

func (p *PrometheusObserver) RecordDeliveryDropped(subscription string) {
	p.deliveryDropped.WithLabelValues(subscription).Inc()
}
