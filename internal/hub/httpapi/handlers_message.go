package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dungeonforge/messagehub/internal/hub/delivery"
	hberrors "github.com/dungeonforge/messagehub/internal/hub/errors"
	"github.com/dungeonforge/messagehub/internal/hub/ids"
	"github.com/dungeonforge/messagehub/internal/hub/jsoncodec"
)

// sendRequest is the wire shape of POST /message. TTL is carried in seconds.
type sendRequest struct {
	ID            string          `json:"id,omitempty"`
	Source        string          `json:"source"`
	Destination   string          `json:"destination"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	TTLSeconds    int             `json:"ttl"`
	Priority      int             `json:"priority"`
	Timestamp     time.Time       `json:"timestamp,omitempty"`
}

type sendResponse struct {
	ID        string                 `json:"id"`
	Status    delivery.Status        `json:"status"`
	Reason    delivery.FailureReason `json:"reason,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := jsoncodec.Decode(r.Body, &req); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", hberrors.ErrInvalidMessage, err))
		return
	}

	if req.ID != "" && !ids.Valid(req.ID) {
		writeError(w, r, fmt.Errorf("%w: id %q is not a valid ulid", hberrors.ErrInvalidMessage, req.ID))
		return
	}

	source := req.Source
	if source == "" {
		source = callerService(r.Context())
	}

	msg := &delivery.Message{
		ID:            req.ID,
		Source:        source,
		Destination:   req.Destination,
		CorrelationID: req.CorrelationID,
		Payload:       req.Payload,
		TTL:           time.Duration(req.TTLSeconds) * time.Second,
		Priority:      req.Priority,
		CreatedAt:     req.Timestamp,
	}

	info, err := s.engine.Send(r.Context(), msg)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusAccepted
	if info.Status == delivery.StatusFailed {
		// Terminal at admission: unknown destination or open circuit. The
		// message was still assigned an id and a queryable status record.
		status = http.StatusOK
	}
	writeJSON(w, status, sendResponse{
		ID:        info.ID,
		Status:    info.Status,
		Reason:    info.Reason,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) handleMessageStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.engine.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
