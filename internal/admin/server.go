// Package admin serves the fleet REST API, the live websocket feed and the
// operational endpoints.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fleetops/internal/broadcast"
	"fleetops/internal/fleet"
	"fleetops/internal/geo"
	"fleetops/internal/logging"
	"fleetops/internal/sim"
	"fleetops/internal/store"
)

// Simulator is the part of the simulation engine the API drives.
type Simulator interface {
	RequestSimulationStart(ctx context.Context, missionID, droneID string) (sim.State, error)
	EnsureRunning(ctx context.Context, missionID string) (sim.State, error)
	RequestManualLocationUpdate(ctx context.Context, droneID string, loc fleet.Location) (fleet.Drone, error)
	CancelMission(ctx context.Context, missionID string) (fleet.Mission, error)
	SubmitResult(ctx context.Context, missionID string, r fleet.MissionResult) (fleet.MissionResult, error)
	StopSimulation(missionID string) bool
	DetachDrone(ctx context.Context, droneID string)
	DroneMission(droneID string) (string, bool)
	Simulation(missionID string) (sim.State, bool)
	Simulations() []sim.State
	PathStats(ctx context.Context, missionID string) (geo.Stats, error)
}

// Instrumentation exposes request metrics and a scrape endpoint.
type Instrumentation interface {
	Handler() http.Handler
	Middleware(next http.Handler) http.Handler
}

// Options tune the server.
type Options struct {
	// ScopeByOrganization makes /ws require ?organization=.
	ScopeByOrganization bool
	Metrics             Instrumentation
	Logger              *slog.Logger
}

// Server wires HTTP handlers to the store, the engine and the hub.
type Server struct {
	store   store.Store
	sim     Simulator
	hub     *broadcast.Hub
	opts    Options
	log     *slog.Logger
	handler http.Handler
}

// NewServer builds the router.
func NewServer(st store.Store, s Simulator, hub *broadcast.Hub, opts Options) *Server {
	srv := &Server{store: st, sim: s, hub: hub, opts: opts, log: opts.Logger}
	if srv.log == nil {
		srv.log = slog.Default()
	}
	srv.handler = srv.routes()
	return srv
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.withLogger)
	if s.opts.Metrics != nil {
		r.Use(s.opts.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/organizations", s.handleListOrganizations)
		r.Post("/organizations", s.handleCreateOrganization)
		r.Get("/organizations/{id}", s.handleGetOrganization)

		r.Get("/drones", s.handleListDrones)
		r.Post("/drones", s.handleCreateDrone)
		r.Get("/drones/{id}", s.handleGetDrone)
		r.Patch("/drones/{id}", s.handleUpdateDrone)
		r.Delete("/drones/{id}", s.handleDeleteDrone)
		r.Post("/drones/{id}/location", s.handleDroneLocation)

		r.Get("/missions", s.handleListMissions)
		r.Post("/missions", s.handleCreateMission)
		r.Get("/missions/{id}", s.handleGetMission)
		r.Patch("/missions/{id}", s.handleUpdateMission)
		r.Delete("/missions/{id}", s.handleDeleteMission)
		r.Get("/missions/{id}/assignments", s.handleListAssignments)
		r.Post("/missions/{id}/assignments", s.handleCreateAssignment)
		r.Get("/missions/{id}/simulation", s.handleGetSimulation)
		r.Post("/missions/{id}/simulation", s.handleStartSimulation)
		r.Delete("/missions/{id}/simulation", s.handleCancelSimulation)
		r.Get("/missions/{id}/results", s.handleListResults)
		r.Post("/missions/{id}/results", s.handleSubmitResult)
		r.Get("/missions/{id}/stats", s.handleMissionStats)

		r.Get("/simulations", s.handleListSimulations)
	})
	return r
}

func (s *Server) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := s.log.With("request_id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(logging.NewContext(r.Context(), l)))
	})
}

// Start listens on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return logging.NewContext(context.Background(), s.log) },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Info("http server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"simulations": len(s.sim.Simulations()),
		"subscribers": s.hub.Len(),
	})
}
