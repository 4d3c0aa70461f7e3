// Waypoint geometry: haversine distance, segment interpolation and path statistics.
package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"gopkg.in/yaml.v3"
)

// EarthRadiusM is the sphere radius used for every distance calculation.
const EarthRadiusM = 6371000.0

// ErrInvalidWaypoint reports a coordinate that is missing or not a finite lat/lng.
var ErrInvalidWaypoint = errors.New("invalid waypoint")

// Waypoint is a single point of a flight path. Altitude is optional.
type Waypoint struct {
	Lat      float64  `json:"lat" yaml:"lat"`
	Lng      float64  `json:"lng" yaml:"lng"`
	Altitude *float64 `json:"altitude,omitempty" yaml:"altitude,omitempty"`
}

// rawWaypoint keeps track of which coordinates were present.
type rawWaypoint struct {
	Lat      *float64 `json:"lat" yaml:"lat"`
	Lng      *float64 `json:"lng" yaml:"lng"`
	Altitude *float64 `json:"altitude" yaml:"altitude"`
}

func (r rawWaypoint) waypoint() Waypoint {
	w := Waypoint{Lat: math.NaN(), Lng: math.NaN(), Altitude: r.Altitude}
	if r.Lat != nil {
		w.Lat = *r.Lat
	}
	if r.Lng != nil {
		w.Lng = *r.Lng
	}
	return w
}

// UnmarshalJSON marks an absent lat or lng as NaN so Validate rejects it
// instead of silently flying to (0,0).
func (w *Waypoint) UnmarshalJSON(data []byte) error {
	var raw rawWaypoint
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*w = raw.waypoint()
	return nil
}

// UnmarshalYAML applies the same rule as UnmarshalJSON.
func (w *Waypoint) UnmarshalYAML(value *yaml.Node) error {
	var raw rawWaypoint
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*w = raw.waypoint()
	return nil
}

// Validate returns ErrInvalidWaypoint when the point cannot be placed on the globe.
func (w Waypoint) Validate() error {
	if !finite(w.Lat) || !finite(w.Lng) {
		return fmt.Errorf("%w: lat=%v lng=%v", ErrInvalidWaypoint, w.Lat, w.Lng)
	}
	if w.Lat < -90 || w.Lat > 90 || w.Lng < -180 || w.Lng > 180 {
		return fmt.Errorf("%w: lat=%v lng=%v out of range", ErrInvalidWaypoint, w.Lat, w.Lng)
	}
	if w.Altitude != nil && !finite(*w.Altitude) {
		return fmt.Errorf("%w: altitude=%v", ErrInvalidWaypoint, *w.Altitude)
	}
	return nil
}

// ValidatePath validates every waypoint of path.
func ValidatePath(path []Waypoint) error {
	for i, w := range path {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("waypoint %d: %w", i, err)
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Distance calculates the haversine distance between two waypoints in meters.
func Distance(a, b Waypoint) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusM * c, nil
}

// Interpolate returns the point at fraction along the straight lat/lng line from a to b.
// The fraction is clamped to [0,1]; 0 yields a and 1 yields b exactly.
func Interpolate(a, b Waypoint, fraction float64) (Waypoint, error) {
	if err := a.Validate(); err != nil {
		return Waypoint{}, err
	}
	if err := b.Validate(); err != nil {
		return Waypoint{}, err
	}
	if math.IsNaN(fraction) {
		return Waypoint{}, fmt.Errorf("%w: fraction is NaN", ErrInvalidWaypoint)
	}
	t := math.Max(0, math.Min(1, fraction))
	p := Waypoint{
		Lat: (1-t)*a.Lat + t*b.Lat,
		Lng: (1-t)*a.Lng + t*b.Lng,
	}
	switch {
	case a.Altitude != nil && b.Altitude != nil:
		from, to := *a.Altitude, *b.Altitude
		alt := (1-t)*from + t*to
		p.Altitude = &alt
	case t == 1 && b.Altitude != nil:
		alt := *b.Altitude
		p.Altitude = &alt
	case t < 1 && a.Altitude != nil:
		alt := *a.Altitude
		p.Altitude = &alt
	}
	return p, nil
}

// Speeds holds the assumed cruise speeds used for path timing.
type Speeds struct {
	HorizontalMPS float64
	VerticalMPS   float64
}

// DefaultSpeeds are 10 m/s horizontal and 5 m/s vertical.
var DefaultSpeeds = Speeds{HorizontalMPS: 10, VerticalMPS: 5}

// Stats summarises a path.
type Stats struct {
	TotalDistanceM float64       `json:"totalDistanceMeters"`
	TotalTime      time.Duration `json:"totalTime"`
	Segments       int           `json:"segments"`
}

// PathStats sums segment distances and times. A segment takes the longer of
// its horizontal and vertical travel times.
func PathStats(path []Waypoint, speeds Speeds) (Stats, error) {
	if speeds.HorizontalMPS <= 0 {
		speeds.HorizontalMPS = DefaultSpeeds.HorizontalMPS
	}
	if speeds.VerticalMPS <= 0 {
		speeds.VerticalMPS = DefaultSpeeds.VerticalMPS
	}
	var st Stats
	var seconds float64
	for i := 0; i+1 < len(path); i++ {
		d, err := Distance(path[i], path[i+1])
		if err != nil {
			return Stats{}, fmt.Errorf("segment %d: %w", i, err)
		}
		horizontal := d / speeds.HorizontalMPS
		vertical := math.Abs(altitude(path[i+1])-altitude(path[i])) / speeds.VerticalMPS
		seconds += math.Max(horizontal, vertical)
		st.TotalDistanceM += d
		st.Segments++
	}
	st.TotalTime = time.Duration(seconds * float64(time.Second))
	return st, nil
}

func altitude(w Waypoint) float64 {
	if w.Altitude == nil {
		return 0
	}
	return *w.Altitude
}
