package broadcast

import (
	"sync"
	"testing"

	"fleetops/internal/fleet"
)

type countingMetrics struct {
	mu        sync.Mutex
	added     int
	removed   int
	dropped   int
	published map[string]int
}

func (m *countingMetrics) SubscriberAdded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added++
}

func (m *countingMetrics) SubscriberRemoved(dropped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed++
	if dropped {
		m.dropped++
	}
}

func (m *countingMetrics) EventPublished(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.published == nil {
		m.published = make(map[string]int)
	}
	m.published[kind]++
}

func drain(t *testing.T, s *Subscription) []Event {
	t.Helper()
	var out []Event
	for {
		select {
		case e, ok := <-s.C:
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestSubscribeSendsConnectedFirst(t *testing.T) {
	h := NewHub()
	s := h.Subscribe()
	defer s.Unsubscribe()

	h.Publish(DroneLocationUpdate(fleet.Drone{ID: "d1"}, SourceSimulation))
	got := drain(t, s)
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Kind != KindConnected || got[0].Message == "" {
		t.Fatalf("first event = %+v, want connected handshake", got[0])
	}
	if got[1].Kind != KindDroneLocation || got[1].Drone.ID != "d1" {
		t.Fatalf("second event = %+v", got[1])
	}
}

func TestPublishFanOutPreservesOrder(t *testing.T) {
	h := NewHub()
	a, b := h.Subscribe(), h.Subscribe()
	for _, id := range []string{"d1", "d2", "d3"} {
		h.Publish(DroneLocationUpdate(fleet.Drone{ID: id}, SourceSimulation))
	}
	for _, s := range []*Subscription{a, b} {
		got := drain(t, s)[1:]
		if len(got) != 3 || got[0].Drone.ID != "d1" || got[2].Drone.ID != "d3" {
			t.Fatalf("unexpected order: %+v", got)
		}
	}
}

func TestSlowSubscriberIsPruned(t *testing.T) {
	m := &countingMetrics{}
	h := NewHub(WithBuffer(2), WithMetrics(m))
	slow := h.Subscribe()
	fast := h.Subscribe()

	// slow never reads: handshake plus one event fills its buffer
	for i := 0; i < 3; i++ {
		h.Publish(DroneLocationUpdate(fleet.Drone{ID: "d"}, SourceSimulation))
		drain(t, fast)
	}
	if !slow.Dropped() {
		t.Fatalf("slow subscriber should have been dropped")
	}
	if fast.Dropped() {
		t.Fatalf("fast subscriber should not be dropped")
	}
	if h.Len() != 1 {
		t.Fatalf("hub has %d subscribers, want 1", h.Len())
	}
	// channel is closed after the buffered events
	events := drain(t, slow)
	if len(events) != 2 {
		t.Fatalf("slow subscriber kept %d events, want 2", len(events))
	}
	if _, ok := <-slow.C; ok {
		t.Fatalf("expected closed channel")
	}
	if m.dropped != 1 || m.added != 2 {
		t.Fatalf("metrics = %+v", m)
	}
}

func TestOrganizationFilter(t *testing.T) {
	h := NewHub()
	all := h.Subscribe()
	north := h.Subscribe(WithOrganization("north"))

	h.Publish(DroneLocationUpdate(fleet.Drone{ID: "n", OrganizationID: "north"}, SourceSimulation))
	h.Publish(DroneLocationUpdate(fleet.Drone{ID: "s", OrganizationID: "south"}, SourceSimulation))
	h.Publish(MissionStatus(fleet.Mission{ID: "m", OrganizationID: "south"}, "completed"))

	if got := drain(t, all); len(got) != 4 {
		t.Fatalf("unfiltered subscriber got %d events, want 4", len(got))
	}
	got := drain(t, north)
	if len(got) != 2 || got[1].Drone.ID != "n" {
		t.Fatalf("filtered subscriber got %+v", got)
	}
}

func TestUnsubscribeIdempotentAndClose(t *testing.T) {
	h := NewHub()
	s := h.Subscribe()
	s.Unsubscribe()
	s.Unsubscribe()
	if h.Len() != 0 {
		t.Fatalf("expected no subscribers")
	}
	h.Publish(MissionLaunched(fleet.Mission{ID: "m"}))

	live := h.Subscribe()
	h.Close()
	drain(t, live)
	if _, ok := <-live.C; ok {
		t.Fatalf("expected closed channel after hub close")
	}
	late := h.Subscribe()
	if _, ok := <-late.C; ok {
		t.Fatalf("subscribing to closed hub should yield closed channel")
	}
}

func TestMissionLaunchedCopiesWaypoints(t *testing.T) {
	m := fleet.Mission{ID: "m", Waypoints: nil}
	e := MissionLaunched(m)
	if e.Mission == &m {
		t.Fatalf("event must not alias caller's mission")
	}
	if e.Kind != KindMissionLaunched {
		t.Fatalf("kind = %q", e.Kind)
	}
}
