package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"fleetops/internal/fleet"
	"fleetops/internal/geo"
	"fleetops/internal/logging"
	"fleetops/internal/sim"
	"fleetops/internal/store"
)

func (s *Server) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := s.store.ListOrganizations(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orgs)
}

func (s *Server) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeError(w, r, badRequest("name is required"))
		return
	}
	o, err := s.store.CreateOrganization(r.Context(), fleet.Organization{Name: req.Name})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	o, err := s.store.GetOrganization(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type droneRequest struct {
	OrganizationID    string             `json:"organizationId"`
	Name              *string            `json:"name"`
	Model             *string            `json:"model"`
	Status            *fleet.DroneStatus `json:"status"`
	BatteryLevel      *int               `json:"batteryLevel"`
	LastKnownLocation *fleet.Location    `json:"lastKnownLocation"`
}

func (req droneRequest) validate() error {
	if req.Status != nil && !req.Status.Valid() {
		return badRequest("unknown drone status %q", *req.Status)
	}
	if req.Status != nil && *req.Status == fleet.DroneInMission {
		return badRequest("status %s is set by launching a mission", fleet.DroneInMission)
	}
	if req.BatteryLevel != nil && (*req.BatteryLevel < 0 || *req.BatteryLevel > 100) {
		return badRequest("batteryLevel must be between 0 and 100")
	}
	if req.LastKnownLocation != nil {
		if err := req.LastKnownLocation.Waypoint().Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleListDrones(w http.ResponseWriter, r *http.Request) {
	drones, err := s.store.ListDrones(r.Context(), r.URL.Query().Get("organization"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if drones == nil {
		drones = []fleet.Drone{}
	}
	writeJSON(w, http.StatusOK, drones)
}

func (s *Server) handleCreateDrone(w http.ResponseWriter, r *http.Request) {
	var req droneRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		s.writeError(w, r, badRequest("name is required"))
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	d := fleet.Drone{OrganizationID: req.OrganizationID, Name: *req.Name, BatteryLevel: 100}
	if req.Model != nil {
		d.Model = *req.Model
	}
	if req.Status != nil {
		d.Status = *req.Status
	}
	if req.BatteryLevel != nil {
		d.BatteryLevel = *req.BatteryLevel
	}
	if req.LastKnownLocation != nil {
		d.LastKnownLocation = *req.LastKnownLocation
	}
	created, err := s.store.CreateDrone(r.Context(), d)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetDrone(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.GetDrone(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleUpdateDrone patches descriptive fields. Location changes go
// through the location endpoint so they are broadcast.
func (s *Server) handleUpdateDrone(w http.ResponseWriter, r *http.Request) {
	var req droneRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.LastKnownLocation != nil {
		s.writeError(w, r, badRequest("use POST /api/drones/{id}/location to move a drone"))
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	patch := store.DronePatch{
		Name:         req.Name,
		Model:        req.Model,
		Status:       req.Status,
		BatteryLevel: req.BatteryLevel,
	}
	if req.Status != nil {
		release, err := s.checkStatusChange(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		patch.ClearMission = release
	}
	d, err := s.store.UpdateDrone(r.Context(), id, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteDrone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetDrone(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sim.DetachDrone(r.Context(), id)
	if err := s.store.DeleteDrone(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Info("drone deleted", "drone_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDroneLocation(w http.ResponseWriter, r *http.Request) {
	var wp geo.Waypoint
	if err := decode(r, &wp); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.sim.RequestManualLocationUpdate(r.Context(), chi.URLParam(r, "id"), fleet.LocationOf(wp))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// checkStatusChange refuses operator status edits on drones that fly or are
// assigned to an open mission. release reports a stale assignment to drop.
func (s *Server) checkStatusChange(ctx context.Context, droneID string) (release bool, err error) {
	if missionID, ok := s.sim.DroneMission(droneID); ok {
		return false, fmt.Errorf("%w: %s is flying %s", sim.ErrDroneBusy, droneID, missionID)
	}
	d, err := s.store.GetDrone(ctx, droneID)
	if err != nil {
		return false, err
	}
	if d.AssignedMissionID == nil {
		return false, nil
	}
	m, err := s.store.GetMission(ctx, *d.AssignedMissionID)
	if errors.Is(err, fleet.ErrMissionNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if !m.Status.Terminal() {
		return false, fmt.Errorf("%w: %s is assigned to %s mission %s", sim.ErrDroneBusy, droneID, m.Status, m.ID)
	}
	return true, nil
}
