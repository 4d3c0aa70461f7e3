package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetops/internal/fleet"
)

// MemoryStore keeps every record in process memory behind one mutex.
// Records are copied on the way in and out.
type MemoryStore struct {
	mu            sync.Mutex
	organizations map[string]fleet.Organization
	drones        map[string]fleet.Drone
	missions      map[string]fleet.Mission
	assignments   map[string][]fleet.DroneAssignment // by mission, creation order
	results       map[string][]fleet.MissionResult
	now           func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		organizations: make(map[string]fleet.Organization),
		drones:        make(map[string]fleet.Drone),
		missions:      make(map[string]fleet.Mission),
		assignments:   make(map[string][]fleet.DroneAssignment),
		results:       make(map[string][]fleet.MissionResult),
		now:           time.Now,
	}
}

func newID() string { return uuid.New().String() }

func (s *MemoryStore) CreateOrganization(ctx context.Context, o fleet.Organization) (fleet.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == "" {
		o.ID = newID()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now().UTC()
	}
	s.organizations[o.ID] = o
	return o, nil
}

func (s *MemoryStore) GetOrganization(ctx context.Context, id string) (fleet.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.organizations[id]
	if !ok {
		return fleet.Organization{}, fmt.Errorf("%w: %s", fleet.ErrOrganizationNotFound, id)
	}
	return o, nil
}

func (s *MemoryStore) ListOrganizations(ctx context.Context) ([]fleet.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]fleet.Organization, 0, len(s.organizations))
	for _, o := range s.organizations {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) CreateDrone(ctx context.Context, d fleet.Drone) (fleet.Drone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.OrganizationID != "" {
		if _, ok := s.organizations[d.OrganizationID]; !ok {
			return fleet.Drone{}, fmt.Errorf("%w: %s", fleet.ErrOrganizationNotFound, d.OrganizationID)
		}
	}
	if d.ID == "" {
		d.ID = newID()
	}
	if d.Status == "" {
		d.Status = fleet.DroneAvailable
	}
	d.BatteryLevel = clampBattery(d.BatteryLevel)
	d.UpdatedAt = s.now().UTC()
	d = cloneDrone(d)
	s.drones[d.ID] = d
	return cloneDrone(d), nil
}

func (s *MemoryStore) GetDrone(ctx context.Context, id string) (fleet.Drone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drones[id]
	if !ok {
		return fleet.Drone{}, fmt.Errorf("%w: %s", fleet.ErrDroneNotFound, id)
	}
	return cloneDrone(d), nil
}

func (s *MemoryStore) ListDrones(ctx context.Context, organizationID string) ([]fleet.Drone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []fleet.Drone
	for _, d := range s.drones {
		if organizationID != "" && d.OrganizationID != organizationID {
			continue
		}
		out = append(out, cloneDrone(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) UpdateDrone(ctx context.Context, id string, p DronePatch) (fleet.Drone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drones[id]
	if !ok {
		return fleet.Drone{}, fmt.Errorf("%w: %s", fleet.ErrDroneNotFound, id)
	}
	applyDronePatch(&d, p, s.now().UTC())
	s.drones[id] = d
	return cloneDrone(d), nil
}

func (s *MemoryStore) DeleteDrone(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.drones[id]; !ok {
		return fmt.Errorf("%w: %s", fleet.ErrDroneNotFound, id)
	}
	delete(s.drones, id)
	return nil
}

func (s *MemoryStore) CreateMission(ctx context.Context, m fleet.Mission) (fleet.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.OrganizationID != "" {
		if _, ok := s.organizations[m.OrganizationID]; !ok {
			return fleet.Mission{}, fmt.Errorf("%w: %s", fleet.ErrOrganizationNotFound, m.OrganizationID)
		}
	}
	if m.ID == "" {
		m.ID = newID()
	}
	if m.Status == "" {
		m.Status = fleet.MissionPlanned
	}
	m = cloneMission(m)
	s.missions[m.ID] = m
	return cloneMission(m), nil
}

func (s *MemoryStore) GetMission(ctx context.Context, id string) (fleet.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return fleet.Mission{}, fmt.Errorf("%w: %s", fleet.ErrMissionNotFound, id)
	}
	return cloneMission(m), nil
}

func (s *MemoryStore) ListMissions(ctx context.Context, f MissionFilter) ([]fleet.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []fleet.Mission
	for _, m := range s.missions {
		if f.match(m) {
			out = append(out, cloneMission(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) UpdateMission(ctx context.Context, id string, p MissionPatch) (fleet.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return fleet.Mission{}, fmt.Errorf("%w: %s", fleet.ErrMissionNotFound, id)
	}
	applyMissionPatch(&m, p)
	s.missions[id] = m
	return cloneMission(m), nil
}

func (s *MemoryStore) DeleteMission(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.missions[id]; !ok {
		return fmt.Errorf("%w: %s", fleet.ErrMissionNotFound, id)
	}
	delete(s.missions, id)
	delete(s.assignments, id)
	delete(s.results, id)
	return nil
}

func (s *MemoryStore) CreateAssignment(ctx context.Context, a fleet.DroneAssignment) (fleet.DroneAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.missions[a.MissionID]; !ok {
		return fleet.DroneAssignment{}, fmt.Errorf("%w: %s", fleet.ErrMissionNotFound, a.MissionID)
	}
	if _, ok := s.drones[a.DroneID]; !ok {
		return fleet.DroneAssignment{}, fmt.Errorf("%w: %s", fleet.ErrDroneNotFound, a.DroneID)
	}
	if a.ID == "" {
		a.ID = newID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	a = cloneAssignment(a)
	s.assignments[a.MissionID] = append(s.assignments[a.MissionID], a)
	return cloneAssignment(a), nil
}

func (s *MemoryStore) GetDroneAssignmentsByMission(ctx context.Context, missionID string) ([]fleet.DroneAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.assignments[missionID]
	out := make([]fleet.DroneAssignment, len(list))
	for i, a := range list {
		out[i] = cloneAssignment(a)
	}
	return out, nil
}

func (s *MemoryStore) UpdateAssignment(ctx context.Context, id string, p AssignmentPatch) (fleet.DroneAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for mid, list := range s.assignments {
		for i := range list {
			if list[i].ID != id {
				continue
			}
			if p.IsActive != nil {
				list[i].IsActive = *p.IsActive
			}
			if p.Completed != nil {
				list[i].Completed = *p.Completed
			}
			s.assignments[mid] = list
			return cloneAssignment(list[i]), nil
		}
	}
	return fleet.DroneAssignment{}, fmt.Errorf("%w: %s", fleet.ErrAssignmentNotFound, id)
}

func (s *MemoryStore) CreateResult(ctx context.Context, r fleet.MissionResult) (fleet.MissionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.missions[r.MissionID]; !ok {
		return fleet.MissionResult{}, fmt.Errorf("%w: %s", fleet.ErrMissionNotFound, r.MissionID)
	}
	if r.ID == "" {
		r.ID = newID()
	}
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = s.now().UTC()
	}
	s.results[r.MissionID] = append(s.results[r.MissionID], r)
	return r, nil
}

func (s *MemoryStore) ListResults(ctx context.Context, missionID string) ([]fleet.MissionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fleet.MissionResult(nil), s.results[missionID]...), nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
