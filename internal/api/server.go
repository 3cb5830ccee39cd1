package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/blindroute-core/internal/common/logger"
	"github.com/blindroute-core/internal/gateway"
	"github.com/blindroute-core/internal/trip"
)

// Request status vocabulary. Business-empty outcomes and upstream failures
// are reported distinctly so a thin client can phrase them differently.
const (
	StatusSuccess         = "success"
	StatusEmpty           = "empty"
	StatusUpstreamFailure = "upstream-failure"
)

// Server is the HTTP presentation boundary over the trip engine.
type Server struct {
	manager *trip.Manager
	logger  logger.Logger
	router  *httprouter.Router
}

func NewServer(manager *trip.Manager, log logger.Logger) *Server {
	s := &Server{
		manager: manager,
		logger:  log,
		router:  httprouter.New(),
	}

	s.router.POST("/api/sessions/:rider", s.openSession)
	s.router.DELETE("/api/sessions/:rider", s.endSession)
	s.router.GET("/api/sessions/:rider", s.getState)
	s.router.POST("/api/sessions/:rider/search", s.search)
	s.router.POST("/api/sessions/:rider/select", s.selectChoice)
	s.router.POST("/api/sessions/:rider/forward", s.forward)
	s.router.POST("/api/sessions/:rider/back", s.back)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen starts the HTTP server on addr and returns it for shutdown.
func (s *Server) Listen(addr string) *http.Server {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", "error", err)
		}
	}()
	s.logger.Info("API server listening", "addr", addr)
	return srv
}

type stateResponse struct {
	Status         string            `json:"status"`
	Step           trip.Step         `json:"step"`
	Stations       []gateway.Station `json:"stations,omitempty"`
	Routes         []gateway.Route   `json:"routes,omitempty"`
	Destinations   []gateway.Station `json:"destinations,omitempty"`
	Boarding       *trip.Boarding    `json:"boarding,omitempty"`
	Destination    *gateway.Station  `json:"destination,omitempty"`
	StopsRemaining int               `json:"stopsRemaining,omitempty"`
	ETA            string            `json:"eta,omitempty"`
}

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (s *Server) openSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	m := s.manager.Open(ps.ByName("rider"))
	s.sendState(w, StatusSuccess, m.Snapshot())
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.manager.End(r.Context(), ps.ByName("rider"))
	s.sendJSON(w, http.StatusOK, map[string]string{"status": StatusSuccess})
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	m, err := s.manager.Get(ps.ByName("rider"))
	if err != nil {
		s.sendError(w, http.StatusNotFound, err)
		return
	}
	s.sendState(w, StatusSuccess, m.Snapshot())
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	m, err := s.manager.Get(ps.ByName("rider"))
	if err != nil {
		s.sendError(w, http.StatusNotFound, err)
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		s.sendError(w, http.StatusBadRequest, errors.New("body must carry a non-empty name"))
		return
	}

	before := m.Snapshot().Step
	if err := m.Search(r.Context(), req.Name); err != nil {
		s.sendOperationError(w, err)
		return
	}
	s.sendOutcome(w, before, m.Snapshot())
}

func (s *Server) selectChoice(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	m, err := s.manager.Get(ps.ByName("rider"))
	if err != nil {
		s.sendError(w, http.StatusNotFound, err)
		return
	}

	var req struct {
		Index *int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Index == nil {
		s.sendError(w, http.StatusBadRequest, errors.New("body must carry an index"))
		return
	}

	before := m.Snapshot().Step
	if err := m.Select(r.Context(), *req.Index); err != nil {
		s.sendOperationError(w, err)
		return
	}
	s.sendOutcome(w, before, m.Snapshot())
}

func (s *Server) forward(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	m, err := s.manager.Get(ps.ByName("rider"))
	if err != nil {
		s.sendError(w, http.StatusNotFound, err)
		return
	}
	if err := m.Forward(r.Context()); err != nil {
		s.sendOperationError(w, err)
		return
	}
	s.sendState(w, StatusSuccess, m.Snapshot())
}

func (s *Server) back(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	m, err := s.manager.Get(ps.ByName("rider"))
	if err != nil {
		s.sendError(w, http.StatusNotFound, err)
		return
	}
	if err := m.Back(r.Context()); err != nil {
		s.sendOperationError(w, err)
		return
	}
	s.sendState(w, StatusSuccess, m.Snapshot())
}

// sendOutcome reports a confirm-style operation: no transition with a nil
// error means the business result was empty and the rider stayed put.
func (s *Server) sendOutcome(w http.ResponseWriter, before trip.Step, snap trip.Snapshot) {
	status := StatusSuccess
	if snap.Step == before {
		status = StatusEmpty
	}
	s.sendState(w, status, snap)
}

func (s *Server) sendOperationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrUpstream):
		s.sendJSON(w, http.StatusBadGateway, errorResponse{Status: StatusUpstreamFailure, Error: err.Error()})
	case errors.Is(err, trip.ErrInvalidStep):
		s.sendError(w, http.StatusConflict, err)
	case errors.Is(err, trip.ErrBadSelection):
		s.sendError(w, http.StatusBadRequest, err)
	default:
		s.logger.Error("Unhandled operation error", "error", err)
		s.sendError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) sendState(w http.ResponseWriter, status string, snap trip.Snapshot) {
	s.sendJSON(w, http.StatusOK, stateResponse{
		Status:         status,
		Step:           snap.Step,
		Stations:       snap.Stations,
		Routes:         snap.Routes,
		Destinations:   snap.Destinations,
		Boarding:       snap.Boarding,
		Destination:    snap.Destination,
		StopsRemaining: snap.StopsRemaining,
		ETA:            snap.ETA,
	})
}

func (s *Server) sendError(w http.ResponseWriter, code int, err error) {
	s.sendJSON(w, code, errorResponse{Status: "error", Error: err.Error()})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}
