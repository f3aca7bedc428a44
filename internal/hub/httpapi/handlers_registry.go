package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	hberrors "github.com/dungeonforge/messagehub/internal/hub/errors"
	"github.com/dungeonforge/messagehub/internal/hub/jsoncodec"
	"github.com/dungeonforge/messagehub/internal/hub/registry"
)

// registerRequest is the wire shape of POST /registry. The health check
// interval is carried in seconds.
type registerRequest struct {
	Service     string                        `json:"service"`
	Version     string                        `json:"version,omitempty"`
	Address     string                        `json:"address"`
	Endpoints   []registry.EndpointDescriptor `json:"endpoints"`
	HealthCheck registerHealthCheck           `json:"health_check"`
}

type registerHealthCheck struct {
	Endpoint        string `json:"endpoint"`
	IntervalSeconds int    `json:"interval"`
}

type registerResponse struct {
	Service   string          `json:"service"`
	Status    registry.Status `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := jsoncodec.Decode(r.Body, &req); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", hberrors.ErrInvalidRegistration, err))
		return
	}

	rec := registry.Record{
		Service:   req.Service,
		Version:   req.Version,
		Address:   req.Address,
		Endpoints: req.Endpoints,
		HealthCheck: registry.HealthCheck{
			Endpoint: req.HealthCheck.Endpoint,
			Interval: time.Duration(req.HealthCheck.IntervalSeconds) * time.Second,
		},
	}
	if err := s.reg.Register(rec); err != nil {
		writeError(w, r, err)
		return
	}

	registered, err := s.reg.Lookup(req.Service)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{
		Service:   registered.Service,
		Status:    registered.Status,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Services []registry.Record `json:"services"`
	}{Services: s.reg.List()})
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	rec, err := s.reg.Lookup(chi.URLParam(r, "service"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.Deregister(chi.URLParam(r, "service")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
