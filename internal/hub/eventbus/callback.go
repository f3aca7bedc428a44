package eventbus

import (
	"context"
	net_http "net/http"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/dungeonforge/messagehub/internal/hub/jsoncodec"
)

// Deliverer posts one event to one callback target. Failures are logged and
// dropped; the bus never retries events.
type Deliverer interface {
	DeliverCallback(ctx context.Context, url string, evt Event) error
}

// CallbackPublisherFactory is swappable so tests can inject fakes.
var CallbackPublisherFactory = func(cfg http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(cfg, logger)
}

// HTTPDeliverer posts events to subscriber callback URLs through the
// Watermill HTTP publisher (topic = callback URL).
type HTTPDeliverer struct {
	publisher message.Publisher
}

// NewHTTPDeliverer builds the production callback deliverer.
func NewHTTPDeliverer(logger watermill.LoggerAdapter) (*HTTPDeliverer, error) {
	publisher, err := CallbackPublisherFactory(
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
	return &HTTPDeliverer{publisher: publisher}, nil
}

func (d *HTTPDeliverer) DeliverCallback(ctx context.Context, url string, evt Event) error {
	payload, err := jsoncodec.Marshal(evt)
	if err != nil {
		return err
	}

	wm := message.NewMessage(evt.ID, payload)
	wm.Metadata.Set("event_type", string(evt.Type))
	wm.Metadata.Set("source", evt.Source)
	wm.SetContext(ctx)

	return d.publisher.Publish(url, wm)
}
