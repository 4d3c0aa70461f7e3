package sim

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"fleetops/internal/broadcast"
	"fleetops/internal/fleet"
	"fleetops/internal/geo"
	"fleetops/internal/store"
)

// flakyStore fails drone updates while failUpdates is set.
type flakyStore struct {
	store.Store
	mu          sync.Mutex
	failUpdates bool
}

func (s *flakyStore) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUpdates = v
}

func (s *flakyStore) UpdateDrone(ctx context.Context, id string, p store.DronePatch) (fleet.Drone, error) {
	s.mu.Lock()
	fail := s.failUpdates
	s.mu.Unlock()
	if fail {
		return fleet.Drone{}, errors.New("disk full")
	}
	return s.Store.UpdateDrone(ctx, id, p)
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *flakyStore
	hub    *broadcast.Hub
	sub    *broadcast.Subscription
	sched  *ManualScheduler
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := &flakyStore{Store: store.NewMemoryStore()}
	hub := broadcast.NewHub(broadcast.WithBuffer(1024))
	sched := NewManualScheduler()
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  st,
		hub:    hub,
		sub:    hub.Subscribe(),
		sched:  sched,
		engine: NewEngine(st, hub, Options{Scheduler: sched}),
	}
	t.Cleanup(f.sub.Unsubscribe)
	return f
}

func (f *fixture) drone(name string) fleet.Drone {
	f.t.Helper()
	d, err := f.store.CreateDrone(f.ctx, fleet.Drone{Name: name, BatteryLevel: 90})
	if err != nil {
		f.t.Fatalf("create drone: %v", err)
	}
	return d
}

func (f *fixture) mission(path []geo.Waypoint, drones ...fleet.Drone) fleet.Mission {
	f.t.Helper()
	m, err := f.store.CreateMission(f.ctx, fleet.Mission{Name: "m"})
	if err != nil {
		f.t.Fatalf("create mission: %v", err)
	}
	for _, d := range drones {
		if _, err := f.store.CreateAssignment(f.ctx, fleet.DroneAssignment{MissionID: m.ID, DroneID: d.ID, Waypoints: path}); err != nil {
			f.t.Fatalf("create assignment: %v", err)
		}
	}
	return m
}

func (f *fixture) ticks(missionID string, n int) {
	for i := 0; i < n; i++ {
		f.engine.Tick(f.ctx, missionID)
	}
}

func (f *fixture) getDrone(id string) fleet.Drone {
	f.t.Helper()
	d, err := f.store.GetDrone(f.ctx, id)
	if err != nil {
		f.t.Fatalf("get drone: %v", err)
	}
	return d
}

func (f *fixture) getMission(id string) fleet.Mission {
	f.t.Helper()
	m, err := f.store.GetMission(f.ctx, id)
	if err != nil {
		f.t.Fatalf("get mission: %v", err)
	}
	return m
}

func (f *fixture) events() []broadcast.Event {
	var out []broadcast.Event
	for {
		select {
		case e := <-f.sub.C:
			out = append(out, e)
		default:
			return out
		}
	}
}

func line(n int) []geo.Waypoint {
	path := make([]geo.Waypoint, n)
	for i := range path {
		path[i] = geo.Waypoint{Lat: float64(i) * 0.01, Lng: 0}
	}
	return path
}

func TestSingleSegmentScenario(t *testing.T) {
	f := newFixture(t)
	d := f.drone("alpha")
	path := []geo.Waypoint{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}}
	m := f.mission(path, d)

	if _, err := f.engine.RequestSimulationStart(f.ctx, m.ID, d.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := f.getMission(m.ID); got.Status != fleet.MissionInProgress || got.StartTime == nil {
		t.Fatalf("mission after start = %+v", got)
	}
	if got := f.getDrone(d.ID); got.Status != fleet.DroneInMission || got.AssignedMissionID == nil || *got.AssignedMissionID != m.ID {
		t.Fatalf("drone after start = %+v", got)
	}

	f.ticks(m.ID, 1)
	want, _ := geo.Interpolate(path[0], path[1], 0.05)
	if got := f.getDrone(d.ID).LastKnownLocation; got != fleet.LocationOf(want) {
		t.Fatalf("after first tick location = %+v, want %+v", got, want)
	}

	f.ticks(m.ID, 19)
	got := f.getDrone(d.ID)
	if got.LastKnownLocation != (fleet.Location{Lat: 0, Lng: 1}) {
		t.Fatalf("final location = %+v", got.LastKnownLocation)
	}
	if got.Status != fleet.DroneAvailable || got.AssignedMissionID != nil {
		t.Fatalf("drone not released: %+v", got)
	}
	mission := f.getMission(m.ID)
	if mission.Status != fleet.MissionCompleted || mission.EndTime == nil {
		t.Fatalf("mission = %+v, want completed with end time", mission)
	}
	if f.engine.Registry().Active(m.ID) || f.sched.Scheduled(m.ID) {
		t.Fatalf("simulation should be removed and job cancelled")
	}
	assignments, _ := f.store.GetDroneAssignmentsByMission(f.ctx, m.ID)
	if len(assignments) != 1 || !assignments[0].Completed || assignments[0].IsActive {
		t.Fatalf("assignment not completed: %+v", assignments)
	}

	events := f.events()
	last := events[len(events)-1]
	if last.Kind != broadcast.KindMissionStatus || last.Mission.Status != fleet.MissionCompleted {
		t.Fatalf("last event = %+v, want mission-status completed", last)
	}
	var launched bool
	for _, e := range events {
		if e.Kind == broadcast.KindMissionLaunched {
			launched = true
			if len(e.Mission.Waypoints) != 2 {
				t.Fatalf("launched event without waypoints: %+v", e.Mission)
			}
		}
	}
	if !launched {
		t.Fatalf("no mission-launched event")
	}
}

func TestCompletesAfterTwentyTicksPerSegment(t *testing.T) {
	for _, n := range []int{2, 3, 5} {
		f := newFixture(t)
		d := f.drone("d")
		path := line(n)
		m := f.mission(path, d)
		if _, err := f.engine.RequestSimulationStart(f.ctx, m.ID, d.ID); err != nil {
			t.Fatalf("start: %v", err)
		}
		total := 20 * (n - 1)
		f.ticks(m.ID, total-1)
		if st := f.getMission(m.ID).Status; st != fleet.MissionInProgress {
			t.Fatalf("n=%d: mission %s after %d ticks, want in-progress", n, st, total-1)
		}
		f.ticks(m.ID, 1)
		if st := f.getMission(m.ID).Status; st != fleet.MissionCompleted {
			t.Fatalf("n=%d: mission %s after %d ticks, want completed", n, st, total)
		}
		if got := f.getDrone(d.ID).LastKnownLocation; got != fleet.LocationOf(path[n-1]) {
			t.Fatalf("n=%d: final location %+v", n, got)
		}
	}
}

func TestSecondStartMergesDrones(t *testing.T) {
	f := newFixture(t)
	a, b := f.drone("a"), f.drone("b")
	m := f.mission(line(2), a, b)

	if _, err := f.engine.RequestSimulationStart(f.ctx, m.ID, a.ID); err != nil {
		t.Fatalf("first start: %v", err)
	}
	f.ticks(m.ID, 2)
	st, err := f.engine.RequestSimulationStart(f.ctx, m.ID, b.ID)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if len(st.DroneIDs) != 2 || st.Ticks != 2 {
		t.Fatalf("merged state = %+v", st)
	}
	f.ticks(m.ID, 1)
	if f.getDrone(a.ID).LastKnownLocation != f.getDrone(b.ID).LastKnownLocation {
		t.Fatalf("both drones should share the position after merge")
	}
	launches := 0
	for _, e := range f.events() {
		if e.Kind == broadcast.KindMissionLaunched {
			launches++
		}
	}
	if launches != 1 {
		t.Fatalf("mission-launched published %d times, want 1", launches)
	}
}

func TestInsufficientWaypointsLeavesMissionPlanned(t *testing.T) {
	for _, n := range []int{0, 1} {
		f := newFixture(t)
		d := f.drone("d")
		m := f.mission(line(n), d)
		_, err := f.engine.RequestSimulationStart(f.ctx, m.ID, d.ID)
		if !errors.Is(err, ErrInsufficientWaypoints) {
			t.Fatalf("n=%d: err = %v, want ErrInsufficientWaypoints", n, err)
		}
		if st := f.getMission(m.ID).Status; st != fleet.MissionPlanned {
			t.Fatalf("n=%d: mission status %s, want planned", n, st)
		}
		if f.getDrone(d.ID).Status != fleet.DroneAvailable || f.engine.Registry().Len() != 0 {
			t.Fatalf("n=%d: rejected start changed state", n)
		}
	}
}

func TestMissionLevelWaypointsFallback(t *testing.T) {
	f := newFixture(t)
	d := f.drone("d")
	m, err := f.store.CreateMission(f.ctx, fleet.Mission{Name: "m", Waypoints: line(3)})
	if err != nil {
		t.Fatalf("create mission: %v", err)
	}
	st, err := f.engine.RequestSimulationStart(f.ctx, m.ID, d.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(st.Path) != 3 {
		t.Fatalf("path = %d waypoints, want 3", len(st.Path))
	}
}

func TestStartUnknownMissionOrDrone(t *testing.T) {
	f := newFixture(t)
	d := f.drone("d")
	if _, err := f.engine.RequestSimulationStart(f.ctx, "nope", d.ID); !errors.Is(err, fleet.ErrMissionNotFound) {
		t.Fatalf("err = %v, want ErrMissionNotFound", err)
	}
	m := f.mission(line(2), d)
	if _, err := f.engine.RequestSimulationStart(f.ctx, m.ID, "nope"); !errors.Is(err, fleet.ErrDroneNotFound) {
		t.Fatalf("err = %v, want ErrDroneNotFound", err)
	}
	if f.getMission(m.ID).Status != fleet.MissionPlanned {
		t.Fatalf("rejected start changed mission")
	}
}

func TestDroneBusyOnAnotherMission(t *testing.T) {
	f := newFixture(t)
	d := f.drone("d")
	m1 := f.mission(line(2), d)
	m2 := f.mission(line(2), d)
	if _, err := f.engine.RequestSimulationStart(f.ctx, m1.ID, d.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.engine.RequestSimulationStart(f.ctx, m2.ID, d.ID); !errors.Is(err, ErrDroneBusy) {
		t.Fatalf("err = %v, want ErrDroneBusy", err)
	}
}

func TestStopUnknownMissionIsNoop(t *testing.T) {
	f := newFixture(t)
	if f.engine.StopSimulation("ghost") {
		t.Fatalf("stopping unknown mission reported a stop")
	}
	if _, ok := f.engine.Registry().Stop("ghost"); ok {
		t.Fatalf("registry stop on unknown mission returned state")
	}
	f.engine.Tick(f.ctx, "ghost")
}

func TestMissingDroneSkipped(t *testing.T) {
	f := newFixture(t)
	a, b := f.drone("a"), f.drone("b")
	m := f.mission(line(2), a, b)
	if _, err := f.engine.EnsureRunning(f.ctx, m.ID); err != nil {
		t.Fatalf("ensure running: %v", err)
	}
	if err := f.store.DeleteDrone(f.ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	f.ticks(m.ID, 1)
	if f.getDrone(b.ID).LastKnownLocation.Lat == 0 {
		t.Fatalf("remaining drone did not advance")
	}
	f.ticks(m.ID, 19)
	if f.getMission(m.ID).Status != fleet.MissionCompleted {
		t.Fatalf("mission should complete despite missing drone")
	}
}

func TestStoreFailureSkipsTickWithoutRollback(t *testing.T) {
	f := newFixture(t)
	d := f.drone("d")
	path := line(2)
	m := f.mission(path, d)
	if _, err := f.engine.RequestSimulationStart(f.ctx, m.ID, d.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.ticks(m.ID, 1)
	before := f.getDrone(d.ID).LastKnownLocation

	f.store.setFail(true)
	f.ticks(m.ID, 1)
	f.store.setFail(false)
	if got := f.getDrone(d.ID).LastKnownLocation; got != before {
		t.Fatalf("failed tick should not move drone: %+v vs %+v", got, before)
	}
	st, _ := f.engine.Simulation(m.ID)
	if st.Ticks != 2 || math.Abs(st.Progress-0.10) > 1e-9 {
		t.Fatalf("progress should continue: %+v", st)
	}
	f.ticks(m.ID, 1)
	k := 3.0
	want, _ := geo.Interpolate(path[0], path[1], k*DefaultProgressStep)
	if got := f.getDrone(d.ID).LastKnownLocation; got != fleet.LocationOf(want) {
		t.Fatalf("location after recovery = %+v, want %+v", got, want)
	}
}

func TestInvalidWaypointAbortsMission(t *testing.T) {
	f := newFixture(t)
	d := f.drone("d")
	path := []geo.Waypoint{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 0.01}, {Lat: math.NaN(), Lng: 0}}
	m := f.mission(path, d)
	if _, err := f.engine.RequestSimulationStart(f.ctx, m.ID, d.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.ticks(m.ID, 19) // first segment is fine
	if f.getMission(m.ID).Status != fleet.MissionInProgress {
		t.Fatalf("mission should still be running")
	}
	f.ticks(m.ID, 1) // entering the broken segment
	if st := f.getMission(m.ID).Status; st != fleet.MissionFailed {
		t.Fatalf("mission status = %s, want failed", st)
	}
	got := f.getDrone(d.ID)
	if got.Status != fleet.DroneAvailable || got.AssignedMissionID != nil {
		t.Fatalf("drone not released after abort: %+v", got)
	}
	if f.engine.Registry().Active(m.ID) {
		t.Fatalf("aborted simulation still registered")
	}
}

func TestCancelMission(t *testing.T) {
	f := newFixture(t)
	d := f.drone("d")
	m := f.mission(line(2), d)
	if _, err := f.engine.RequestSimulationStart(f.ctx, m.ID, d.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.ticks(m.ID, 3)
	got, err := f.engine.CancelMission(f.ctx, m.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != fleet.MissionCancelled {
		t.Fatalf("status = %s", got.Status)
	}
	if f.getDrone(d.ID).Status != fleet.DroneAvailable {
		t.Fatalf("drone not released")
	}
	f.ticks(m.ID, 1) // in-flight tick after stop is a no-op
	if _, err := f.engine.CancelMission(f.ctx, m.ID); !errors.Is(err, ErrMissionClosed) {
		t.Fatalf("second cancel err = %v, want ErrMissionClosed", err)
	}
	if _, err := f.engine.RequestSimulationStart(f.ctx, m.ID, d.ID); !errors.Is(err, ErrMissionClosed) {
		t.Fatalf("restart err = %v, want ErrMissionClosed", err)
	}
}

func TestSubmitResultCompletesMission(t *testing.T) {
	f := newFixture(t)
	d := f.drone("d")
	m := f.mission(line(2), d)
	if _, err := f.engine.RequestSimulationStart(f.ctx, m.ID, d.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	r, err := f.engine.SubmitResult(f.ctx, m.ID, fleet.MissionResult{Outcome: "success"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if r.ID == "" || r.MissionID != m.ID {
		t.Fatalf("result = %+v", r)
	}
	if f.getMission(m.ID).Status != fleet.MissionCompleted || f.engine.Registry().Active(m.ID) {
		t.Fatalf("mission not completed by result")
	}
}

func TestManualLocationUpdate(t *testing.T) {
	f := newFixture(t)
	d := f.drone("d")
	loc := fleet.Location{Lat: 48.2, Lng: 16.4}
	if _, err := f.engine.RequestManualLocationUpdate(f.ctx, d.ID, loc); err != nil {
		t.Fatalf("update: %v", err)
	}
	if f.getDrone(d.ID).LastKnownLocation != loc {
		t.Fatalf("location not stored")
	}
	events := f.events()
	last := events[len(events)-1]
	if last.Kind != broadcast.KindDroneLocation || last.Source != broadcast.SourceManual {
		t.Fatalf("event = %+v", last)
	}
	if _, err := f.engine.RequestManualLocationUpdate(f.ctx, "nope", loc); !errors.Is(err, fleet.ErrDroneNotFound) {
		t.Fatalf("err = %v, want ErrDroneNotFound", err)
	}
	if _, err := f.engine.RequestManualLocationUpdate(f.ctx, d.ID, fleet.Location{Lat: 200}); !errors.Is(err, geo.ErrInvalidWaypoint) {
		t.Fatalf("err = %v, want ErrInvalidWaypoint", err)
	}
}

func TestDetachLastDroneCancelsMission(t *testing.T) {
	f := newFixture(t)
	d := f.drone("d")
	m := f.mission(line(2), d)
	if _, err := f.engine.RequestSimulationStart(f.ctx, m.ID, d.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.engine.DetachDrone(f.ctx, d.ID)
	if f.engine.Registry().Active(m.ID) {
		t.Fatalf("mission without drones should stop")
	}
	if f.getMission(m.ID).Status != fleet.MissionCancelled {
		t.Fatalf("mission should be cancelled")
	}
}

func TestEnsureRunningIdempotent(t *testing.T) {
	f := newFixture(t)
	a, b := f.drone("a"), f.drone("b")
	m := f.mission(line(2), a, b)
	st, err := f.engine.EnsureRunning(f.ctx, m.ID)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if len(st.DroneIDs) != 2 {
		t.Fatalf("drones = %v", st.DroneIDs)
	}
	f.ticks(m.ID, 4)
	again, err := f.engine.EnsureRunning(f.ctx, m.ID)
	if err != nil || again.Ticks != 4 {
		t.Fatalf("second ensure restarted simulation: %+v, %v", again, err)
	}

	empty, err := f.store.CreateMission(f.ctx, fleet.Mission{Name: "empty", Waypoints: line(2)})
	if err != nil {
		t.Fatalf("create mission: %v", err)
	}
	if _, err := f.engine.EnsureRunning(f.ctx, empty.ID); !errors.Is(err, ErrNoDrones) {
		t.Fatalf("err = %v, want ErrNoDrones", err)
	}
}

func TestPathStats(t *testing.T) {
	f := newFixture(t)
	d := f.drone("d")
	m := f.mission(line(3), d)
	stats, err := f.engine.PathStats(f.ctx, m.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Segments != 2 || stats.TotalDistanceM < 2000 || stats.TotalDistanceM > 2300 {
		t.Fatalf("stats = %+v", stats)
	}
}

// relaunchStore tries to relaunch the mission while its completion is
// being written.
type relaunchStore struct {
	store.Store
	engine *Engine
	once   sync.Once
	result chan error
}

func (s *relaunchStore) UpdateMission(ctx context.Context, id string, p store.MissionPatch) (fleet.Mission, error) {
	if p.Status != nil && *p.Status == fleet.MissionCompleted {
		s.once.Do(func() {
			go func() {
				_, err := s.engine.EnsureRunning(ctx, id)
				s.result <- err
			}()
			time.Sleep(20 * time.Millisecond)
		})
	}
	return s.Store.UpdateMission(ctx, id, p)
}

func TestNoRelaunchWhileCompleting(t *testing.T) {
	ctx := context.Background()
	st := &relaunchStore{Store: store.NewMemoryStore(), result: make(chan error, 1)}
	hub := broadcast.NewHub(broadcast.WithBuffer(1024))
	engine := NewEngine(st, hub, Options{Scheduler: NewManualScheduler()})
	st.engine = engine

	d, _ := st.CreateDrone(ctx, fleet.Drone{Name: "d"})
	m, _ := st.CreateMission(ctx, fleet.Mission{Name: "m"})
	if _, err := st.CreateAssignment(ctx, fleet.DroneAssignment{MissionID: m.ID, DroneID: d.ID, Waypoints: line(2)}); err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	if _, err := engine.RequestSimulationStart(ctx, m.ID, d.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 20; i++ {
		engine.Tick(ctx, m.ID)
	}

	select {
	case err := <-st.result:
		if !errors.Is(err, ErrMissionClosed) {
			t.Fatalf("relaunch during completion: err = %v, want ErrMissionClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("relaunch attempt never returned")
	}
	if engine.Registry().Active(m.ID) {
		t.Fatalf("completed mission has a running simulation")
	}
	got, _ := st.GetDrone(ctx, d.ID)
	if got.Status != fleet.DroneAvailable || got.AssignedMissionID != nil {
		t.Fatalf("drone left busy: %+v", got)
	}
	if mm, _ := st.GetMission(ctx, m.ID); mm.Status != fleet.MissionCompleted {
		t.Fatalf("mission status = %s", mm.Status)
	}
	if n := engine.locks.len(); n != 0 {
		t.Fatalf("mission locks leaked: %d", n)
	}
}
