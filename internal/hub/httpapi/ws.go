package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	hberrors "github.com/dungeonforge/messagehub/internal/hub/errors"
	"github.com/dungeonforge/messagehub/internal/hub/eventbus"
	"github.com/dungeonforge/messagehub/internal/hub/jsoncodec"
	"github.com/dungeonforge/messagehub/internal/hub/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Callers already passed the service-key check; the hub is not a browser
	// origin boundary.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsSendBuffer   = 64
)

// wsSubscribeFrame is the first frame a client sends after connecting. The
// subscribing service may name itself here; the X-Service-Name header is the
// fallback.
type wsSubscribeFrame struct {
	Type       string          `json:"type,omitempty"`
	Service    string          `json:"service,omitempty"`
	EventTypes []eventbus.Type `json:"event_types"`
}

// wsEvent is the wire shape of one streamed event.
type wsEvent struct {
	ID        string          `json:"id"`
	Type      eventbus.Type   `json:"type"`
	Source    string          `json:"source"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

type wsEventFrame struct {
	Type  string  `json:"type"`
	Event wsEvent `json:"event"`
}

// handleEventStream upgrades to a websocket and streams matching events
// until the client disconnects. The connection's subscription is removed on
// any write failure or read error, so a dead socket never leaks.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		s.logger.Debug("websocket upgrade failed", logging.LogFields{"error": err.Error()})
		return
	}

	var frame wsSubscribeFrame
	if err := conn.ReadJSON(&frame); err != nil {
		_ = conn.Close()
		return
	}

	send := make(chan eventbus.Event, wsSendBuffer)
	done := make(chan struct{})

	service := frame.Service
	if service == "" {
		service = callerService(r.Context())
	}
	subID, err := s.bus.SubscribeStream(service, frame.EventTypes, func(evt eventbus.Event) error {
		select {
		case send <- evt:
			return nil
		case <-done:
			return errors.New("stream closed")
		default:
			// A client that cannot keep up gets cut rather than stalling
			// fan-out for everyone else.
			return errors.New("stream backlog full")
		}
	})
	if err != nil {
		payload, _ := jsoncodec.Marshal(hberrors.NewAPIError(err, requestID(r.Context()), time.Now()))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(payload)), time.Now().Add(wsWriteTimeout))
		_ = conn.Close()
		return
	}

	s.logger.Info("event stream opened", logging.LogFields{
		"subscription_id": subID, "service": service, "request_id": requestID(r.Context()),
	})

	// Writer goroutine: sole owner of conn writes.
	go func() {
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case evt := <-send:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				frame := wsEventFrame{Type: "event", Event: wsEvent{
					ID:        evt.ID,
					Type:      evt.Type,
					Source:    evt.Source,
					Data:      evt.Payload,
					Timestamp: evt.CreatedAt,
				}}
				if err := conn.WriteJSON(frame); err != nil {
					_ = conn.Close()
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					_ = conn.Close()
					return
				}
			case <-done:
				return
			}
		}
	}()

	// Read loop: drains control frames and notices disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	close(done)
	_ = s.bus.Unsubscribe(subID)
	_ = conn.Close()
	s.logger.Info("event stream closed", logging.LogFields{"subscription_id": subID, "service": service})
}
