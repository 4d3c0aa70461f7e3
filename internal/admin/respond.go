package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"fleetops/internal/fleet"
	"fleetops/internal/geo"
	"fleetops/internal/logging"
	"fleetops/internal/sim"
)

// errBadRequest marks client input errors.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, fleet.ErrMissionNotFound),
		errors.Is(err, fleet.ErrDroneNotFound),
		errors.Is(err, fleet.ErrOrganizationNotFound),
		errors.Is(err, fleet.ErrAssignmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, geo.ErrInvalidWaypoint),
		errors.Is(err, sim.ErrInsufficientWaypoints),
		errors.Is(err, sim.ErrNoDrones):
		return http.StatusUnprocessableEntity
	case errors.Is(err, sim.ErrMissionClosed),
		errors.Is(err, sim.ErrDroneBusy):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %w", errBadRequest, err)
	}
	return nil
}
