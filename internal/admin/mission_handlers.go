package admin

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"fleetops/internal/fleet"
	"fleetops/internal/geo"
	"fleetops/internal/logging"
	"fleetops/internal/sim"
	"fleetops/internal/store"
)

type missionRequest struct {
	OrganizationID string         `json:"organizationId"`
	Name           *string        `json:"name"`
	Description    string         `json:"description"`
	StartTime      *time.Time     `json:"startTime"`
	Waypoints      []geo.Waypoint `json:"waypoints"`
}

func (s *Server) handleListMissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.MissionFilter{
		OrganizationID: q.Get("organization"),
		Status:         fleet.MissionStatus(q.Get("status")),
	}
	missions, err := s.store.ListMissions(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if missions == nil {
		missions = []fleet.Mission{}
	}
	writeJSON(w, http.StatusOK, missions)
}

func (s *Server) handleCreateMission(w http.ResponseWriter, r *http.Request) {
	var req missionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		s.writeError(w, r, badRequest("name is required"))
		return
	}
	if err := geo.ValidatePath(req.Waypoints); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.store.CreateMission(r.Context(), fleet.Mission{
		OrganizationID: req.OrganizationID,
		Name:           *req.Name,
		Description:    req.Description,
		Status:         fleet.MissionPlanned,
		StartTime:      req.StartTime,
		Waypoints:      req.Waypoints,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleGetMission(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleUpdateMission renames or reschedules a mission. Status moves only
// through the simulation and results endpoints.
func (s *Server) handleUpdateMission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      *string    `json:"name"`
		StartTime *time.Time `json:"startTime"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if req.StartTime != nil {
		m, err := s.store.GetMission(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if m.Status != fleet.MissionPlanned {
			s.writeError(w, r, sim.ErrMissionClosed)
			return
		}
	}
	m, err := s.store.UpdateMission(r.Context(), id, store.MissionPatch{Name: req.Name, StartTime: req.StartTime})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := s.store.GetMission(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !m.Status.Terminal() {
		if _, err := s.sim.CancelMission(r.Context(), id); err != nil && !errors.Is(err, sim.ErrMissionClosed) {
			s.writeError(w, r, err)
			return
		}
	}
	s.sim.StopSimulation(id)
	if err := s.store.DeleteMission(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Info("mission deleted", "mission_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetMission(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.store.GetDroneAssignmentsByMission(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleCreateAssignment assigns a drone. If the mission is already flying
// the drone joins the running simulation.
func (s *Server) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DroneID   string         `json:"droneId"`
		Waypoints []geo.Waypoint `json:"waypoints"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.DroneID == "" {
		s.writeError(w, r, badRequest("droneId is required"))
		return
	}
	if err := geo.ValidatePath(req.Waypoints); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	missionID := chi.URLParam(r, "id")
	m, err := s.store.GetMission(ctx, missionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if m.Status.Terminal() {
		s.writeError(w, r, sim.ErrMissionClosed)
		return
	}
	d, err := s.store.GetDrone(ctx, req.DroneID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if m.OrganizationID != "" && d.OrganizationID != "" && m.OrganizationID != d.OrganizationID {
		s.writeError(w, r, badRequest("drone %s belongs to another organization", d.ID))
		return
	}
	a, err := s.store.CreateAssignment(ctx, fleet.DroneAssignment{
		MissionID: missionID,
		DroneID:   req.DroneID,
		Waypoints: req.Waypoints,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, running := s.sim.Simulation(missionID); running {
		if _, err := s.sim.RequestSimulationStart(ctx, missionID, req.DroneID); err != nil {
			logging.FromContext(ctx).Warn("assigned drone could not join", "mission_id", missionID, "drone_id", req.DroneID, "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleGetSimulation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := s.sim.Simulation(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active simulation for mission " + id})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleStartSimulation starts one drone when droneId is given, otherwise
// every assigned drone.
func (s *Server) handleStartSimulation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DroneID string `json:"droneId"`
	}
	if err := decodeOptional(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	var (
		st  sim.State
		err error
	)
	if req.DroneID != "" {
		st, err = s.sim.RequestSimulationStart(r.Context(), id, req.DroneID)
	} else {
		st, err = s.sim.EnsureRunning(r.Context(), id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

func (s *Server) handleCancelSimulation(w http.ResponseWriter, r *http.Request) {
	m, err := s.sim.CancelMission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetMission(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	results, err := s.store.ListResults(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if results == nil {
		results = []fleet.MissionResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Outcome string `json:"outcome"`
		Notes   string `json:"notes"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Outcome) == "" {
		s.writeError(w, r, badRequest("outcome is required"))
		return
	}
	res, err := s.sim.SubmitResult(r.Context(), chi.URLParam(r, "id"), fleet.MissionResult{Outcome: req.Outcome, Notes: req.Notes})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type statsResponse struct {
	TotalDistanceM   float64 `json:"totalDistanceMeters"`
	EstimatedSeconds float64 `json:"estimatedSeconds"`
	Segments         int     `json:"segments"`
}

func (s *Server) handleMissionStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.sim.PathStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		TotalDistanceM:   st.TotalDistanceM,
		EstimatedSeconds: st.TotalTime.Seconds(),
		Segments:         st.Segments,
	})
}

func (s *Server) handleListSimulations(w http.ResponseWriter, r *http.Request) {
	list := s.sim.Simulations()
	if list == nil {
		list = []sim.State{}
	}
	writeJSON(w, http.StatusOK, list)
}

// decodeOptional accepts an empty body.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := decode(r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
