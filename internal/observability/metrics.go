package observability

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FleetCollector bundles Prometheus metrics for the simulation engine, the
// broadcast hub and the HTTP API.
type FleetCollector struct {
	gatherer prometheus.Gatherer

	Ticks              *prometheus.CounterVec
	TickDurations      prometheus.Histogram
	ActiveSimulations  prometheus.Gauge
	MissionTransitions *prometheus.CounterVec
	StoreWriteFailures *prometheus.CounterVec

	Subscribers        prometheus.Gauge
	DroppedSubscribers prometheus.Counter
	EventsPublished    *prometheus.CounterVec

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
}

// NewFleetCollector registers fleet metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewFleetCollector(reg prometheus.Registerer) (*FleetCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_simulation_ticks_total",
		Help: "Simulation ticks processed, labeled by outcome.",
	}, []string{"outcome"}), "fleet_simulation_ticks_total")
	if err != nil {
		return nil, err
	}
	tickDurations, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleet_simulation_tick_duration_seconds",
		Help:    "Wall time spent processing one simulation tick.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
	}), "fleet_simulation_tick_duration_seconds")
	if err != nil {
		return nil, err
	}
	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_active_simulations",
		Help: "Missions currently being simulated.",
	}), "fleet_active_simulations")
	if err != nil {
		return nil, err
	}
	transitions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_mission_transitions_total",
		Help: "Mission status transitions performed by the engine, labeled by target status.",
	}, []string{"status"}), "fleet_mission_transitions_total")
	if err != nil {
		return nil, err
	}
	storeFailures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_store_write_failures_total",
		Help: "Mission store writes that failed during simulation, labeled by operation.",
	}, []string{"op"}), "fleet_store_write_failures_total")
	if err != nil {
		return nil, err
	}
	subscribers, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_broadcast_subscribers",
		Help: "Live broadcast subscribers.",
	}), "fleet_broadcast_subscribers")
	if err != nil {
		return nil, err
	}
	dropped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleet_broadcast_dropped_subscribers_total",
		Help: "Subscribers pruned because their queue was full.",
	}), "fleet_broadcast_dropped_subscribers_total")
	if err != nil {
		return nil, err
	}
	published, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_broadcast_events_total",
		Help: "Events published to the broadcast hub, labeled by kind.",
	}, []string{"kind"}), "fleet_broadcast_events_total")
	if err != nil {
		return nil, err
	}
	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_http_requests_total",
		Help: "HTTP requests handled, labeled by method, route and status code.",
	}, []string{"method", "route", "code"}), "fleet_http_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleet_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"method", "route"}), "fleet_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &FleetCollector{
		gatherer:           gatherer,
		Ticks:              ticks,
		TickDurations:      tickDurations,
		ActiveSimulations:  active,
		MissionTransitions: transitions,
		StoreWriteFailures: storeFailures,
		Subscribers:        subscribers,
		DroppedSubscribers: dropped,
		EventsPublished:    published,
		HTTPRequests:       requests,
		HTTPDurations:      durations,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *FleetCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// TickObserved records one processed tick.
func (c *FleetCollector) TickObserved(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.Ticks.WithLabelValues(outcome).Inc()
	c.TickDurations.Observe(d.Seconds())
}

// SetActiveSimulations sets the active simulation gauge.
func (c *FleetCollector) SetActiveSimulations(n int) {
	if c == nil {
		return
	}
	c.ActiveSimulations.Set(float64(n))
}

// MissionTransition counts a mission status change.
func (c *FleetCollector) MissionTransition(status string) {
	if c == nil {
		return
	}
	c.MissionTransitions.WithLabelValues(status).Inc()
}

// StoreWriteFailed counts a failed store write.
func (c *FleetCollector) StoreWriteFailed(op string) {
	if c == nil {
		return
	}
	c.StoreWriteFailures.WithLabelValues(op).Inc()
}

// SubscriberAdded implements broadcast.Metrics.
func (c *FleetCollector) SubscriberAdded() {
	if c == nil {
		return
	}
	c.Subscribers.Inc()
}

// SubscriberRemoved implements broadcast.Metrics.
func (c *FleetCollector) SubscriberRemoved(dropped bool) {
	if c == nil {
		return
	}
	c.Subscribers.Dec()
	if dropped {
		c.DroppedSubscribers.Inc()
	}
}

// EventPublished implements broadcast.Metrics.
func (c *FleetCollector) EventPublished(kind string) {
	if c == nil {
		return
	}
	c.EventsPublished.WithLabelValues(kind).Inc()
}

// Middleware records request counts and durations. Routes are labeled by
// their chi pattern so path parameters do not explode cardinality.
func (c *FleetCollector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if c == nil {
			return
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		c.HTTPDurations.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack is needed by the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
