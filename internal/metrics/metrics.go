package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blindroute-core/internal/common/logger"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveSessions prometheus.Gauge

	PollTicks  *prometheus.CounterVec // tracker label: arrival|destination
	PollErrors *prometheus.CounterVec // tracker label: arrival|destination
	Arrivals   *prometheus.CounterVec // phase label: bus|destination

	ReservationsCreated   prometheus.Counter
	ReservationsCancelled prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	TickDuration prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blindroute_active_sessions",
			Help: "Number of rider sessions with a live trip machine.",
		}),
		PollTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blindroute_poll_ticks_total",
			Help: "Total tracker poll ticks issued.",
		}, []string{"tracker"}),
		PollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blindroute_poll_errors_total",
			Help: "Total tracker poll ticks swallowed due to upstream failure.",
		}, []string{"tracker"}),
		Arrivals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blindroute_arrivals_total",
			Help: "Total arrival detections, by trip phase.",
		}, []string{"phase"}),
		ReservationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blindroute_reservations_created_total",
			Help: "Total reservations written to the store.",
		}),
		ReservationsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blindroute_reservations_cancelled_total",
			Help: "Total reservation cancel calls issued.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blindroute_nats_published_total",
			Help: "Total NATS trip events published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blindroute_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blindroute_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "blindroute_tick_duration_seconds",
			Help:    "Duration of one tracker poll tick, request included.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
	}

	reg.MustRegister(
		c.ActiveSessions,
		c.PollTicks, c.PollErrors, c.Arrivals,
		c.ReservationsCreated, c.ReservationsCancelled,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.TickDuration,
	)

	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Metrics server error", "error", err)
		}
	}()
	log.Info("Metrics server listening", "addr", addr)
	return srv
}
