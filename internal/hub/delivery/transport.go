package delivery

import (
	"context"
	net_http "net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/dungeonforge/messagehub/internal/hub/jsoncodec"
	"github.com/dungeonforge/messagehub/internal/hub/registry"
)

// Transport performs one delivery attempt to a destination service. The
// engine treats any returned error as a failed attempt; classification and
// retries stay in the engine.
type Transport interface {
	Deliver(ctx context.Context, target registry.Record, msg *Message) error
}

// HTTPPublisherFactory is swappable so tests can inject fakes.
var HTTPPublisherFactory = func(cfg http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(cfg, logger)
}

// HTTPTransport posts the message envelope to the destination's message
// endpoint using the Watermill HTTP publisher (topic = target URL).
type HTTPTransport struct {
	publisher message.Publisher
}

// NewHTTPTransport builds the production transport.
func NewHTTPTransport(logger watermill.LoggerAdapter) (*HTTPTransport, error) {
	publisher, err := HTTPPublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*net_http.Request, error) {
				return http.DefaultMarshalMessageFunc(topic, msg)
			},
		},
		logger,
	)
	if err != nil {
		return nil, err
	}
	return &HTTPTransport{publisher: publisher}, nil
}

func (t *HTTPTransport) Deliver(ctx context.Context, target registry.Record, msg *Message) error {
	payload, err := jsoncodec.Marshal(msg)
	if err != nil {
		return err
	}

	wm := message.NewMessage(msg.ID, payload)
	wm.Metadata.Set("source", msg.Source)
	wm.Metadata.Set("destination", msg.Destination)
	if msg.CorrelationID != "" {
		wm.Metadata.Set("correlation_id", msg.CorrelationID)
	}
	wm.SetContext(ctx)

	return t.publisher.Publish(messageURL(target), wm)
}

// messageURL resolves where the destination receives messages: its declared
// /message endpoint when present, otherwise the first declared endpoint.
func messageURL(target registry.Record) string {
	path := "/message"
	found := false
	for _, ep := range target.Endpoints {
		if ep.Path == "/message" {
			found = true
			break
		}
	}
	if !found && len(target.Endpoints) > 0 {
		path = target.Endpoints[0].Path
	}
	return strings.TrimSuffix(target.Address, "/") + path
}
