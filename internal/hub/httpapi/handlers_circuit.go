package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dungeonforge/messagehub/internal/hub/breaker"
	hberrors "github.com/dungeonforge/messagehub/internal/hub/errors"
	"github.com/dungeonforge/messagehub/internal/hub/jsoncodec"
)

func (s *Server) handleListCircuits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Circuits []breaker.Info `json:"circuits"`
	}{Circuits: s.bank.Snapshot()})
}

func (s *Server) handleGetCircuit(w http.ResponseWriter, r *http.Request) {
	dest := chi.URLParam(r, "destination")
	writeJSON(w, http.StatusOK, struct {
		Destination string        `json:"destination"`
		State       breaker.State `json:"state"`
	}{Destination: dest, State: s.bank.State(dest)})
}

type setCircuitRequest struct {
	State  breaker.State `json:"state"`
	Reason string        `json:"reason,omitempty"`
}

// handleSetCircuit forces a circuit into the requested state. Operator use
// only; every transition lands in the audit event stream.
func (s *Server) handleSetCircuit(w http.ResponseWriter, r *http.Request) {
	var req setCircuitRequest
	if err := jsoncodec.Decode(r.Body, &req); err != nil {
		writeError(w, r, fmt.Errorf("%w: malformed circuit request: %v", hberrors.ErrInvalidMessage, err))
		return
	}
	if !breaker.ValidState(req.State) {
		writeError(w, r, fmt.Errorf("%w: unknown circuit state %q", hberrors.ErrInvalidMessage, req.State))
		return
	}

	dest := chi.URLParam(r, "destination")
	reason := req.Reason
	if reason == "" {
		reason = "forced by " + callerService(r.Context())
	}
	s.bank.SetState(dest, req.State, reason, time.Now())

	writeJSON(w, http.StatusOK, struct {
		Destination string        `json:"destination"`
		State       breaker.State `json:"state"`
	}{Destination: dest, State: s.bank.State(dest)})
}
