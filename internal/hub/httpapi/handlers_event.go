package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	hberrors "github.com/dungeonforge/messagehub/internal/hub/errors"
	"github.com/dungeonforge/messagehub/internal/hub/eventbus"
	"github.com/dungeonforge/messagehub/internal/hub/ids"
	"github.com/dungeonforge/messagehub/internal/hub/jsoncodec"
)

type publishRequest struct {
	ID        string          `json:"id,omitempty"`
	Source    string          `json:"source"`
	EventType eventbus.Type   `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type publishResponse struct {
	ID        string        `json:"id"`
	EventType eventbus.Type `json:"event_type"`
	Timestamp time.Time     `json:"timestamp"`
}

func (s *Server) handlePublishEvent(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := jsoncodec.Decode(r.Body, &req); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", hberrors.ErrInvalidEvent, err))
		return
	}

	if req.ID != "" && !ids.Valid(req.ID) {
		writeError(w, r, fmt.Errorf("%w: id %q is not a valid ulid", hberrors.ErrInvalidEvent, req.ID))
		return
	}

	source := req.Source
	if source == "" {
		source = callerService(r.Context())
	}

	evt, err := s.bus.Publish(r.Context(), eventbus.Event{
		ID:      req.ID,
		Source:  source,
		Type:    req.EventType,
		Payload: req.Payload,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, publishResponse{
		ID:        evt.ID,
		EventType: evt.Type,
		Timestamp: evt.CreatedAt.UTC(),
	})
}

type subscribeRequest struct {
	Service     string          `json:"service,omitempty"`
	EventTypes  []eventbus.Type `json:"event_types"`
	CallbackURL string          `json:"callback_url"`
}

type subscribeResponse struct {
	SubscriptionID string `json:"subscription_id"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := jsoncodec.Decode(r.Body, &req); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", hberrors.ErrInvalidSubscription, err))
		return
	}

	service := req.Service
	if service == "" {
		service = callerService(r.Context())
	}

	id, err := s.bus.Subscribe(service, req.EventTypes, req.CallbackURL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, subscribeResponse{SubscriptionID: id})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := s.bus.Unsubscribe(chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
