package health

import (
	"context"
	"testing"
	"time"

	"github.com/dungeonforge/messagehub/internal/hub/breaker"
	"github.com/dungeonforge/messagehub/internal/hub/delivery"
	"github.com/dungeonforge/messagehub/internal/hub/registry"
)

type staticSubscriberCount int

func (s staticSubscriberCount) SubscriberCount() int { return int(s) }

// sinkTransport delivers everything instantly.
type sinkTransport struct{}

func (sinkTransport) Deliver(ctx context.Context, target registry.Record, msg *delivery.Message) error {
	return nil
}

func newAggregatorFixture(t *testing.T, bounds Bounds) (*Aggregator, *registry.Store, *breaker.Bank, *delivery.Engine) {
	t.Helper()
	reg := registry.NewStore(nil)
	bank := breaker.NewBank(5, time.Minute, nil)
	engine := delivery.NewEngine(delivery.Config{}, reg, bank, sinkTransport{}, nil, nil)
	agg := NewAggregator(bounds, reg, bank, engine, staticSubscriberCount(3), nil)
	return agg, reg, bank, engine
}

func TestSummaryHealthyWhenIdle(t *testing.T) {
	agg, _, _, _ := newAggregatorFixture(t, Bounds{})

	sum := agg.Summary()
	if sum.Status != "healthy" {
		t.Fatalf("idle status = %s, want healthy", sum.Status)
	}
	if sum.Timestamp.IsZero() {
		t.Fatalf("timestamp not stamped")
	}
}

func TestDetailsCollectsComponentViews(t *testing.T) {
	agg, reg, bank, _ := newAggregatorFixture(t, Bounds{})

	err := reg.Register(registry.Record{
		Service:     "orders",
		Address:     "http://orders.internal",
		Endpoints:   []registry.EndpointDescriptor{{Path: "/message"}},
		HealthCheck: registry.HealthCheck{Endpoint: "/health"},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	bank.SetState("payments", breaker.StateOpen, "test", time.Now())

	d := agg.Details()
	if d.Registry.Services != 1 || d.Registry.Healthy != 1 {
		t.Fatalf("registry view = %+v", d.Registry)
	}
	if d.EventBus.Subscribers != 3 {
		t.Fatalf("subscribers = %d", d.EventBus.Subscribers)
	}
	if len(d.Circuits) != 1 || d.Circuits[0].State != breaker.StateOpen {
		t.Fatalf("circuits = %+v", d.Circuits)
	}
	if d.Delivery.FailureRate != 0 {
		t.Fatalf("idle failure rate = %f", d.Delivery.FailureRate)
	}
}

func TestStatusDegradedOnFailureRate(t *testing.T) {
	agg, _, _, engine := newAggregatorFixture(t, Bounds{FailureRateBound: 0.5})

	// Two terminal failures against an unknown destination, zero deliveries:
	// failure rate 1.0.
	for i := 0; i < 2; i++ {
		info, err := engine.Send(context.Background(), &delivery.Message{
			Source:      "checkout",
			Destination: "ghost",
			TTL:         time.Minute,
		})
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if info.Status != delivery.StatusFailed {
			t.Fatalf("send info = %+v", info)
		}
	}

	if got := agg.Summary().Status; got != "degraded" {
		t.Fatalf("status with failure rate 1.0 = %s, want degraded", got)
	}
}

func TestFailureRate(t *testing.T) {
	if got := failureRate(delivery.Stats{}); got != 0 {
		t.Fatalf("empty stats rate = %f", got)
	}
	if got := failureRate(delivery.Stats{Delivered: 3, Failed: 1}); got != 0.25 {
		t.Fatalf("rate = %f, want 0.25", got)
	}
}
