package scenario

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fleetops/internal/fleet"
	"fleetops/internal/geo"
	"fleetops/internal/logging"
	"fleetops/internal/store"
)

// BuiltInPrefix selects a built-in scenario instead of a file, e.g. "builtin:vienna-survey".
const BuiltInPrefix = "builtin:"

// Scenario seeds organizations with their drones and missions.
type Scenario struct {
	Name          string         `yaml:"name,omitempty"`
	Description   string         `yaml:"description,omitempty"`
	Organizations []Organization `yaml:"organizations"`
}

// Organization groups the drones and missions it owns.
type Organization struct {
	Name     string    `yaml:"name"`
	Drones   []Drone   `yaml:"drones,omitempty"`
	Missions []Mission `yaml:"missions,omitempty"`
}

// Drone is a drone to register.
type Drone struct {
	Name     string            `yaml:"name"`
	Model    string            `yaml:"model,omitempty"`
	Battery  *int              `yaml:"battery,omitempty"`
	Status   fleet.DroneStatus `yaml:"status,omitempty"`
	Location *fleet.Location   `yaml:"location,omitempty"`
}

// Mission is a planned flight. StartIn is relative to the time the
// scenario is applied.
type Mission struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	StartIn     string         `yaml:"start_in,omitempty"`
	Waypoints   []geo.Waypoint `yaml:"waypoints,omitempty"`
	Assignments []Assignment   `yaml:"assignments,omitempty"`
}

// Assignment references a drone of the same organization by name.
type Assignment struct {
	Drone     string         `yaml:"drone"`
	Waypoints []geo.Waypoint `yaml:"waypoints,omitempty"`
}

// Result counts the records created by Apply.
type Result struct {
	Organizations int
	Drones        int
	Missions      int
	Assignments   int
}

// Load reads a YAML scenario definition from disk, or a built-in one when
// path carries BuiltInPrefix.
func Load(path string) (*Scenario, error) {
	if name, ok := strings.CutPrefix(path, BuiltInPrefix); ok {
		s, ok := BuiltIn()[name]
		if !ok {
			return nil, fmt.Errorf("unknown built-in scenario %q", name)
		}
		return &s, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks names, references, durations and coordinates.
func (s *Scenario) Validate() error {
	orgs := make(map[string]bool)
	for _, o := range s.Organizations {
		if o.Name == "" {
			return fmt.Errorf("organization without name")
		}
		if orgs[o.Name] {
			return fmt.Errorf("duplicate organization %q", o.Name)
		}
		orgs[o.Name] = true
		drones := make(map[string]bool)
		for _, d := range o.Drones {
			if d.Name == "" {
				return fmt.Errorf("organization %q: drone without name", o.Name)
			}
			if drones[d.Name] {
				return fmt.Errorf("organization %q: duplicate drone %q", o.Name, d.Name)
			}
			if d.Status != "" && !d.Status.Valid() {
				return fmt.Errorf("drone %q: unknown status %q", d.Name, d.Status)
			}
			if d.Location != nil {
				if err := d.Location.Waypoint().Validate(); err != nil {
					return fmt.Errorf("drone %q: location: %w", d.Name, err)
				}
			}
			drones[d.Name] = true
		}
		for _, m := range o.Missions {
			if m.Name == "" {
				return fmt.Errorf("organization %q: mission without name", o.Name)
			}
			if m.StartIn != "" {
				if _, err := time.ParseDuration(m.StartIn); err != nil {
					return fmt.Errorf("mission %q: start_in: %w", m.Name, err)
				}
			}
			if err := geo.ValidatePath(m.Waypoints); err != nil {
				return fmt.Errorf("mission %q: %w", m.Name, err)
			}
			for _, a := range m.Assignments {
				if !drones[a.Drone] {
					return fmt.Errorf("mission %q: unknown drone %q", m.Name, a.Drone)
				}
				if err := geo.ValidatePath(a.Waypoints); err != nil {
					return fmt.Errorf("mission %q: drone %q: %w", m.Name, a.Drone, err)
				}
			}
		}
	}
	return nil
}

// Apply creates the scenario's records. Records that already exist by name
// are reused, so applying the same scenario twice is harmless.
func (s *Scenario) Apply(ctx context.Context, st store.Store, now time.Time) (Result, error) {
	log := logging.FromContext(ctx)
	var res Result

	existingOrgs, err := st.ListOrganizations(ctx)
	if err != nil {
		return res, err
	}
	for _, o := range s.Organizations {
		org, found := findOrganization(existingOrgs, o.Name)
		if !found {
			org, err = st.CreateOrganization(ctx, fleet.Organization{Name: o.Name})
			if err != nil {
				return res, fmt.Errorf("organization %q: %w", o.Name, err)
			}
			res.Organizations++
		}

		droneIDs, created, err := applyDrones(ctx, st, org.ID, o.Drones)
		res.Drones += created
		if err != nil {
			return res, err
		}

		missions, err := st.ListMissions(ctx, store.MissionFilter{OrganizationID: org.ID})
		if err != nil {
			return res, err
		}
		for _, m := range o.Missions {
			if hasMission(missions, m.Name) {
				continue
			}
			mission := fleet.Mission{
				OrganizationID: org.ID,
				Name:           m.Name,
				Description:    m.Description,
				Status:         fleet.MissionPlanned,
				Waypoints:      m.Waypoints,
			}
			if m.StartIn != "" {
				d, _ := time.ParseDuration(m.StartIn)
				start := now.Add(d).UTC()
				mission.StartTime = &start
			}
			created, err := st.CreateMission(ctx, mission)
			if err != nil {
				return res, fmt.Errorf("mission %q: %w", m.Name, err)
			}
			res.Missions++
			for _, a := range m.Assignments {
				if _, err := st.CreateAssignment(ctx, fleet.DroneAssignment{
					MissionID: created.ID,
					DroneID:   droneIDs[a.Drone],
					Waypoints: a.Waypoints,
				}); err != nil {
					return res, fmt.Errorf("mission %q: assign %q: %w", m.Name, a.Drone, err)
				}
				res.Assignments++
			}
		}
	}
	log.Info("scenario applied", "scenario", s.Name,
		"organizations", res.Organizations, "drones", res.Drones,
		"missions", res.Missions, "assignments", res.Assignments)
	return res, nil
}

func applyDrones(ctx context.Context, st store.Store, orgID string, drones []Drone) (map[string]string, int, error) {
	existing, err := st.ListDrones(ctx, orgID)
	if err != nil {
		return nil, 0, err
	}
	ids := make(map[string]string, len(drones))
	for _, d := range existing {
		ids[d.Name] = d.ID
	}
	created := 0
	for _, d := range drones {
		if _, ok := ids[d.Name]; ok {
			continue
		}
		rec := fleet.Drone{OrganizationID: orgID, Name: d.Name, Model: d.Model, Status: d.Status, BatteryLevel: 100}
		if d.Battery != nil {
			rec.BatteryLevel = *d.Battery
		}
		if d.Location != nil {
			rec.LastKnownLocation = *d.Location
		}
		saved, err := st.CreateDrone(ctx, rec)
		if err != nil {
			return ids, created, fmt.Errorf("drone %q: %w", d.Name, err)
		}
		ids[d.Name] = saved.ID
		created++
	}
	return ids, created, nil
}

func findOrganization(orgs []fleet.Organization, name string) (fleet.Organization, bool) {
	for _, o := range orgs {
		if o.Name == name {
			return o, true
		}
	}
	return fleet.Organization{}, false
}

func hasMission(missions []fleet.Mission, name string) bool {
	for _, m := range missions {
		if m.Name == name {
			return true
		}
	}
	return false
}
