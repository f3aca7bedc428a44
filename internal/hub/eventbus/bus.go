// Package eventbus implements the publish/subscribe side of the hub. Events
// ride a Watermill publisher/subscriber pair (in-process channels by default,
// a broker when configured); the fan-out dispatcher consumes the tag topics
// and delivers to each matching subscription independently. Events are
// best-effort: no retries, no persistence past the fan-out window.
package eventbus

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/dungeonforge/messagehub/internal/hub/ids"
	"github.com/dungeonforge/messagehub/internal/hub/jsoncodec"
	"github.com/dungeonforge/messagehub/internal/hub/logging"
	"github.com/dungeonforge/messagehub/internal/hub/metrics"
	"github.com/dungeonforge/messagehub/internal/hub/transport"
)

// Bus accepts published events and fans them out to subscribers.
type Bus struct {
	publisher message.Publisher
	router    *message.Router
	subs      *SubscriptionStore
	deliverer Deliverer
	metrics   *metrics.Metrics
	logger    logging.ServiceLogger

	callbackTimeout time.Duration
}

// NewBus wires the bus on top of an already-built transport. The router
// subscribes to every tag topic; Start runs it.
func NewBus(tr transport.Transport, subs *SubscriptionStore, deliverer Deliverer, m *metrics.Metrics, logger logging.ServiceLogger) (*Bus, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	wmLogger := logging.NewWatermillAdapter(logger)
	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, err
	}

	b := &Bus{
		publisher:       tr.Publisher,
		router:          router,
		subs:            subs,
		deliverer:       deliverer,
		metrics:         m,
		logger:          logger,
		callbackTimeout: 10 * time.Second,
	}

	for _, t := range Types() {
		tag := t
		router.AddNoPublisherHandler(
			"fanout_"+string(tag),
			topicFor(tag),
			tr.Subscriber,
			func(msg *message.Message) error {
				b.fanOut(msg)
				// Events are never retried; a fan-out problem must not nack
				// the broker message.
				return nil
			},
		)
	}

	return b, nil
}

// Run starts the fan-out router and blocks until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running unblocks when the router consumes from every tag topic.
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

// Close shuts the router down.
func (b *Bus) Close() error {
	return b.router.Close()
}

// Publish validates and hands the event to the transport, returning as soon
// as it is accepted. It never blocks on subscriber delivery.
func (b *Bus) Publish(ctx context.Context, evt Event) (Event, error) {
	if err := evt.validate(); err != nil {
		return Event{}, err
	}
	if evt.ID == "" {
		evt.ID = ids.New()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now()
	}

	payload, err := jsoncodec.Marshal(evt)
	if err != nil {
		return Event{}, err
	}

	wm := message.NewMessage(evt.ID, payload)
	wm.SetContext(ctx)
	if err := b.publisher.Publish(topicFor(evt.Type), wm); err != nil {
		return Event{}, err
	}

	if b.metrics != nil {
		b.metrics.EventsTotal.WithLabelValues(string(evt.Type)).Inc()
	}
	return evt, nil
}

// Subscribe registers a callback subscription.
func (b *Bus) Subscribe(service string, types []Type, callbackURL string) (string, error) {
	id, err := b.subs.Add(service, types, callbackURL)
	if err != nil {
		return "", err
	}
	b.syncSubscriptionGauge()
	b.logger.Info("subscription created", logging.LogFields{
		"subscription_id": id, "service": service, "callback_url": callbackURL,
	})
	return id, nil
}

// SubscribeStream registers a streaming subscription; the push function is
// called inline during fan-out and its error drops the subscription.
func (b *Bus) SubscribeStream(service string, types []Type, push PushFunc) (string, error) {
	id, err := b.subs.AddStream(service, types, push)
	if err != nil {
		return "", err
	}
	b.syncSubscriptionGauge()
	b.logger.Info("stream subscription created", logging.LogFields{
		"subscription_id": id, "service": service,
	})
	return id, nil
}

// Unsubscribe removes a subscription by id.
func (b *Bus) Unsubscribe(id string) error {
	err := b.subs.Remove(id)
	if err == nil {
		b.syncSubscriptionGauge()
	}
	return err
}

// CancelOwned removes every subscription a service owns. Wired to registry
// deregistration.
func (b *Bus) CancelOwned(service string) {
	if n := b.subs.RemoveOwned(service); n > 0 {
		b.syncSubscriptionGauge()
		b.logger.Info("subscriptions cancelled", logging.LogFields{"service": service, "count": n})
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	return b.subs.Len()
}

func (b *Bus) fanOut(msg *message.Message) {
	var evt Event
	if err := jsoncodec.Unmarshal(msg.Payload, &evt); err != nil {
		b.logger.Error("dropping undecodable event", err, logging.LogFields{"message_id": msg.UUID})
		return
	}

	targets := b.subs.Matching(evt.Type)
	if len(targets) == 0 {
		return
	}

	// Independent goroutine per subscriber: one target's latency or failure
	// never delays another's delivery.
	for _, sub := range targets {
		sub := sub
		go b.deliverOne(sub, evt)
	}
}

func (b *Bus) deliverOne(sub *Subscription, evt Event) {
	if sub.Push != nil {
		if err := sub.Push(evt); err != nil {
			b.logger.Info("stream push failed, dropping subscription", logging.LogFields{
				"subscription_id": sub.ID, "service": sub.Service,
			})
			_ = b.subs.Remove(sub.ID)
			b.syncSubscriptionGauge()
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.callbackTimeout)
	defer cancel()
	if err := b.deliverer.DeliverCallback(ctx, sub.CallbackURL, evt); err != nil {
		b.logger.Info("callback delivery failed", logging.LogFields{
			"subscription_id": sub.ID, "service": sub.Service, "error": err.Error(),
		})
	}
}

func (b *Bus) syncSubscriptionGauge() {
	if b.metrics != nil {
		b.metrics.Subscriptions.Set(float64(b.subs.Len()))
	}
}
