package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	hberrors "github.com/dungeonforge/messagehub/internal/hub/errors"
	"github.com/dungeonforge/messagehub/internal/hub/transport"
)

// recordingDeliverer captures callback deliveries.
type recordingDeliverer struct {
	mu    sync.Mutex
	calls []string // "url|event_type"
}

func (d *recordingDeliverer) DeliverCallback(ctx context.Context, url string, evt Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, url+"|"+string(evt.Type))
	return nil
}

func (d *recordingDeliverer) snapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func newTestBus(t *testing.T) (*Bus, *recordingDeliverer) {
	t.Helper()

	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	deliverer := &recordingDeliverer{}
	bus, err := NewBus(transport.Transport{Publisher: pubsub, Subscriber: pubsub},
		NewSubscriptionStore(), deliverer, nil, nil)
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = bus.Run(ctx) }()
	select {
	case <-bus.Running():
	case <-time.After(5 * time.Second):
		t.Fatalf("bus router never became ready")
	}
	t.Cleanup(func() {
		cancel()
		_ = bus.Close()
	})
	return bus, deliverer
}

func testEvent(tag Type) Event {
	return Event{
		Source:  "billing",
		Type:    tag,
		Payload: json.RawMessage(`{"k":"v"}`),
	}
}

func TestPublishValidation(t *testing.T) {
	bus, _ := newTestBus(t)

	if _, err := bus.Publish(context.Background(), Event{Type: TypeBusiness}); !errors.Is(err, hberrors.ErrInvalidEvent) {
		t.Fatalf("missing source err = %v, want ErrInvalidEvent", err)
	}
	if _, err := bus.Publish(context.Background(), Event{Source: "a", Type: "gossip"}); !errors.Is(err, hberrors.ErrInvalidEvent) {
		t.Fatalf("unknown tag err = %v, want ErrInvalidEvent", err)
	}
}

func TestPublishWithZeroSubscribersSucceeds(t *testing.T) {
	bus, _ := newTestBus(t)

	evt, err := bus.Publish(context.Background(), testEvent(TypeBusiness))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if evt.ID == "" || evt.CreatedAt.IsZero() {
		t.Fatalf("publish did not stamp id/timestamp: %+v", evt)
	}
}

func TestStreamSubscriptionReceivesMatchingEvents(t *testing.T) {
	bus, _ := newTestBus(t)

	got := make(chan Event, 8)
	id, err := bus.SubscribeStream("dashboard", []Type{TypeStateChange}, func(evt Event) error {
		got <- evt
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if id == "" {
		t.Fatalf("empty subscription id")
	}

	// A tag outside the subscription's set must not reach the stream.
	if _, err := bus.Publish(context.Background(), testEvent(TypeBusiness)); err != nil {
		t.Fatalf("publish business: %v", err)
	}
	published, err := bus.Publish(context.Background(), testEvent(TypeStateChange))
	if err != nil {
		t.Fatalf("publish state_change: %v", err)
	}

	select {
	case evt := <-got:
		if evt.ID != published.ID {
			t.Fatalf("received %s, want %s", evt.ID, published.ID)
		}
		if evt.Type != TypeStateChange {
			t.Fatalf("received tag %s", evt.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("event never reached the stream")
	}

	select {
	case evt := <-got:
		t.Fatalf("unexpected extra event: %+v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCallbackSubscriptionDelivery(t *testing.T) {
	bus, deliverer := newTestBus(t)

	if _, err := bus.Subscribe("dashboard", []Type{TypeAudit}, "http://dashboard.internal/hooks"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := bus.Publish(context.Background(), testEvent(TypeAudit)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if calls := deliverer.snapshot(); len(calls) == 1 {
			if calls[0] != "http://dashboard.internal/hooks|audit" {
				t.Fatalf("unexpected delivery %q", calls[0])
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("callback never delivered")
}

func TestStreamPushFailureDropsSubscription(t *testing.T) {
	bus, _ := newTestBus(t)

	if _, err := bus.SubscribeStream("flaky", []Type{TypeBusiness}, func(Event) error {
		return errors.New("socket gone")
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if bus.SubscriberCount() != 1 {
		t.Fatalf("count = %d", bus.SubscriberCount())
	}

	if _, err := bus.Publish(context.Background(), testEvent(TypeBusiness)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if bus.SubscriberCount() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("dead stream subscription never dropped")
}

func TestUnsubscribeAndCancelOwned(t *testing.T) {
	bus, _ := newTestBus(t)

	id, err := bus.Subscribe("dashboard", []Type{TypeError}, "http://dashboard.internal/hooks")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := bus.Subscribe("dashboard", []Type{TypeAudit}, "http://dashboard.internal/audit"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := bus.Subscribe("billing", []Type{TypeAudit}, "http://billing.internal/audit"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Unsubscribe(id); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := bus.Unsubscribe(id); !errors.Is(err, hberrors.ErrSubscriptionGone) {
		t.Fatalf("double unsubscribe err = %v", err)
	}

	bus.CancelOwned("dashboard")
	if got := bus.SubscriberCount(); got != 1 {
		t.Fatalf("count after cancel = %d, want 1", got)
	}
}
