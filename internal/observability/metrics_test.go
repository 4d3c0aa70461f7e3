package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func histogramSampleCount(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	if len(m.GetLabel()) != len(want) {
		return false
	}
	for _, lp := range m.GetLabel() {
		if want[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}

func TestEngineAndHubMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewFleetCollector(reg)
	if err != nil {
		t.Fatalf("NewFleetCollector: %v", err)
	}

	c.TickObserved("advanced", 2*time.Millisecond)
	c.TickObserved("advanced", time.Millisecond)
	c.TickObserved("completed", time.Millisecond)
	c.SetActiveSimulations(3)
	c.StoreWriteFailed("update_drone")
	c.MissionTransition("completed")
	c.SubscriberAdded()
	c.SubscriberAdded()
	c.SubscriberRemoved(true)
	c.EventPublished("drone-location-update")

	if got := testutil.ToFloat64(c.Ticks.WithLabelValues("advanced")); got != 2 {
		t.Fatalf("advanced ticks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.ActiveSimulations); got != 3 {
		t.Fatalf("active simulations = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.StoreWriteFailures.WithLabelValues("update_drone")); got != 1 {
		t.Fatalf("store failures = %v", got)
	}
	if got := testutil.ToFloat64(c.Subscribers); got != 1 {
		t.Fatalf("subscribers = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.DroppedSubscribers); got != 1 {
		t.Fatalf("dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.EventsPublished.WithLabelValues("drone-location-update")); got != 1 {
		t.Fatalf("published = %v", got)
	}
}

func TestCollectorReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewFleetCollector(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := NewFleetCollector(reg)
	if err != nil {
		t.Fatalf("second registration should reuse collectors: %v", err)
	}
	a.MissionTransition("cancelled")
	if got := testutil.ToFloat64(b.MissionTransitions.WithLabelValues("cancelled")); got != 1 {
		t.Fatalf("collectors not shared: %v", got)
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewFleetCollector(reg)
	if err != nil {
		t.Fatalf("NewFleetCollector: %v", err)
	}
	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/api/drones/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Method(http.MethodGet, "/metrics", c.Handler())

	for _, id := range []string{"a", "b"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/drones/"+id, nil))
	}
	if got := testutil.ToFloat64(c.HTTPRequests.WithLabelValues("GET", "/api/drones/{id}", "404")); got != 2 {
		t.Fatalf("requests = %v, want 2", got)
	}
	if n := histogramSampleCount(t, reg, "fleet_http_request_duration_seconds", map[string]string{
		"method": "GET",
		"route":  "/api/drones/{id}",
	}); n != 2 {
		t.Fatalf("duration samples = %d, want 2", n)
	}

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), "fleet_http_requests_total") {
		t.Fatalf("metrics output missing counter:\n%s", rr.Body.String())
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *FleetCollector
	c.TickObserved("advanced", time.Millisecond)
	c.SubscriberRemoved(true)
	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}
