package transport

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConfig struct {
	system       string
	natsURL      string
	kafkaBrokers []string
	group        string
	rabbitURL    string
}

func (c *mockConfig) GetEventBusSystem() string     { return c.system }
func (c *mockConfig) GetNATSURL() string            { return c.natsURL }
func (c *mockConfig) GetKafkaBrokers() []string     { return c.kafkaBrokers }
func (c *mockConfig) GetKafkaConsumerGroup() string { return c.group }
func (c *mockConfig) GetRabbitMQURL() string        { return c.rabbitURL }
func (c *mockConfig) GetAWSRegion() string          { return "" }
func (c *mockConfig) GetAWSAccountID() string       { return "" }
func (c *mockConfig) GetAWSAccessKeyID() string     { return "" }
func (c *mockConfig) GetAWSSecretAccessKey() string { return "" }
func (c *mockConfig) GetAWSEndpoint() string        { return "" }

type mockPublisher struct{ message.Publisher }
type mockSubscriber struct{ message.Subscriber }

func TestDefaultRegistryHasBuiltinTransports(t *testing.T) {
	for _, name := range []string{"channel", "nats", "kafka", "rabbitmq", "aws"} {
		assert.True(t, DefaultRegistry.Has(name), "missing builtin transport %q", name)
	}
	assert.False(t, DefaultRegistry.Has("carrier-pigeon"))
}

func TestBuildChannelTransport(t *testing.T) {
	tr, err := Build(context.Background(), &mockConfig{system: "channel"}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
}

func TestBuildDefaultsToChannel(t *testing.T) {
	tr, err := Build(context.Background(), &mockConfig{}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
}

func TestBuildUnknownTransport(t *testing.T) {
	_, err := Build(context.Background(), &mockConfig{system: "carrier-pigeon"}, watermill.NopLogger{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

func TestBuildNilConfig(t *testing.T) {
	_, err := Build(context.Background(), nil, watermill.NopLogger{})
	require.Error(t, err)
}

func TestRegistryCustomBuilder(t *testing.T) {
	reg := NewRegistry()
	reg.Register("custom", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
		return Transport{Publisher: &mockPublisher{}, Subscriber: &mockSubscriber{}}, nil
	})

	assert.True(t, reg.Has("custom"))
	assert.Equal(t, []string{"custom"}, reg.Names())

	tr, err := reg.Build(context.Background(), &mockConfig{system: "custom"}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
}

func TestNATSTransportUsesConfiguredURL(t *testing.T) {
	origPub, origSub := NATSPublisherFactory, NATSSubscriberFactory
	defer func() {
		NATSPublisherFactory, NATSSubscriberFactory = origPub, origSub
	}()

	var pubURL, subURL string
	NATSPublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		pubURL = cfg.URL
		return &mockPublisher{}, nil
	}
	NATSSubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		subURL = cfg.URL
		return &mockSubscriber{}, nil
	}

	cfg := &mockConfig{system: "nats", natsURL: "nats://broker:4222"}
	tr, err := Build(context.Background(), cfg, watermill.NopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.Equal(t, "nats://broker:4222", pubURL)
	assert.Equal(t, "nats://broker:4222", subURL)
}

func TestNATSTransportRoundTrip(t *testing.T) {
	natsURL := "nats://localhost:4222"
	nc, err := natsgo.Connect(natsURL)
	if err != nil {
		t.Skip("NATS not available, skipping test")
	}
	nc.Close()

	cfg := &mockConfig{system: "nats", natsURL: natsURL}
	tr, err := Build(context.Background(), cfg, watermill.NopLogger{})
	require.NoError(t, err)

	topic := "hub.events.business"
	messages, err := tr.Subscriber.Subscribe(context.Background(), topic)
	require.NoError(t, err)

	msg := message.NewMessage(watermill.NewUUID(), []byte(`{"ok":true}`))
	require.NoError(t, tr.Publisher.Publish(topic, msg))

	select {
	case received := <-messages:
		assert.Equal(t, string(msg.Payload), string(received.Payload))
		received.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}
