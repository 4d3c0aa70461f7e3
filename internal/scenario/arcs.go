package scenario

import (
	"fleetops/internal/fleet"
	"fleetops/internal/geo"
)

func alt(v float64) *float64 { return &v }

func battery(v int) *int { return &v }

// BuiltIn returns predefined demo fleets.
func BuiltIn() map[string]Scenario {
	return map[string]Scenario{
		"vienna-survey": {
			Name:        "Vienna Survey",
			Description: "Two quadcopters map the Danube canal while a third stands by.",
			Organizations: []Organization{{
				Name: "Danube Mapping",
				Drones: []Drone{
					{Name: "Kestrel-1", Model: "quad-x4", Location: &fleet.Location{Lat: 48.2082, Lng: 16.3738}},
					{Name: "Kestrel-2", Model: "quad-x4", Location: &fleet.Location{Lat: 48.2085, Lng: 16.3742}},
					{Name: "Osprey", Model: "fixed-wing", Battery: battery(64), Location: &fleet.Location{Lat: 48.2090, Lng: 16.3700}},
				},
				Missions: []Mission{{
					Name:        "canal-north",
					Description: "Photogrammetry sweep along the northern canal bank.",
					StartIn:     "5s",
					Waypoints: []geo.Waypoint{
						{Lat: 48.2082, Lng: 16.3738, Altitude: alt(0)},
						{Lat: 48.2120, Lng: 16.3790, Altitude: alt(80)},
						{Lat: 48.2165, Lng: 16.3850, Altitude: alt(80)},
						{Lat: 48.2190, Lng: 16.3920, Altitude: alt(0)},
					},
					Assignments: []Assignment{{Drone: "Kestrel-1"}, {Drone: "Kestrel-2"}},
				}},
			}},
		},
		"search-and-rescue": {
			Name:        "Search and Rescue",
			Description: "A lawnmower search pattern over a mountain valley.",
			Organizations: []Organization{{
				Name: "Alpine Rescue",
				Drones: []Drone{
					{Name: "Heli-Scout", Model: "hexa-h6", Location: &fleet.Location{Lat: 47.2692, Lng: 11.4041}},
				},
				Missions: []Mission{{
					Name:    "valley-sweep",
					StartIn: "10s",
					Assignments: []Assignment{{
						Drone: "Heli-Scout",
						Waypoints: []geo.Waypoint{
							{Lat: 47.2692, Lng: 11.4041, Altitude: alt(0)},
							{Lat: 47.2750, Lng: 11.4041, Altitude: alt(120)},
							{Lat: 47.2750, Lng: 11.4100, Altitude: alt(120)},
							{Lat: 47.2692, Lng: 11.4100, Altitude: alt(120)},
							{Lat: 47.2692, Lng: 11.4160, Altitude: alt(0)},
						},
					}},
				}},
			}},
		},
		"idle-fleet": {
			Name:        "Idle Fleet",
			Description: "A registered fleet with one unscheduled mission, for manual control.",
			Organizations: []Organization{{
				Name: "Depot",
				Drones: []Drone{
					{Name: "Spare-1", Model: "quad-x4"},
					{Name: "Spare-2", Model: "quad-x4", Status: fleet.DroneMaintenance},
				},
				Missions: []Mission{{
					Name: "hangar-hop",
					Waypoints: []geo.Waypoint{
						{Lat: 0, Lng: 0},
						{Lat: 0, Lng: 0.01},
					},
					Assignments: []Assignment{{Drone: "Spare-1"}},
				}},
			}},
		},
	}
}
