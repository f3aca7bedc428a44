package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hberrors "github.com/dungeonforge/messagehub/internal/hub/errors"
)

func TestWithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "channel", cfg.EventBusSystem)
	assert.Equal(t, 5, cfg.DeliveryMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.DeliveryBaseBackoff)
	assert.Equal(t, 30*time.Second, cfg.DeliveryMaxBackoff)
	assert.Equal(t, 1024, cfg.DeliveryMaxPending)
	assert.Equal(t, 5, cfg.BreakerFailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.BreakerResetTimeout)
	assert.Equal(t, 15*time.Second, cfg.HealthDefaultInterval)
	assert.Equal(t, 2*time.Minute, cfg.HealthSilenceWindow)
	assert.Equal(t, 0.5, cfg.HealthFailureRateBound)
}

func TestWithDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		HTTPAddr:            ":9999",
		DeliveryMaxAttempts: 2,
		EventBusSystem:      "nats",
	}.WithDefaults()

	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, 2, cfg.DeliveryMaxAttempts)
	assert.Equal(t, "nats", cfg.EventBusSystem)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Config{}.WithDefaults().Validate())

	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"nats without url", Config{EventBusSystem: "nats"}, "NATSURL"},
		{"kafka without brokers", Config{EventBusSystem: "kafka"}, "KafkaBrokers"},
		{"rabbitmq without url", Config{EventBusSystem: "rabbitmq"}, "RabbitMQURL"},
		{"aws without region", Config{EventBusSystem: "aws"}, "AWSRegion"},
		{"unknown system", Config{EventBusSystem: "carrier-pigeon"}, "unknown EventBusSystem"},
		{"inverted backoff", Config{
			DeliveryBaseBackoff: time.Minute,
			DeliveryMaxBackoff:  time.Second,
		}, "DeliveryBaseBackoff"},
		{"failure rate above one", Config{HealthFailureRateBound: 1.5}, "HealthFailureRateBound"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			require.Error(t, err)

			var verr *hberrors.ConfigValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, strings.Join(verr.Fields, "; "), tc.want)
		})
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	err := Config{
		EventBusSystem:         "nats",
		HealthFailureRateBound: 2,
	}.Validate()
	require.Error(t, err)

	var verr *hberrors.ConfigValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Fields, 2)
}

func TestStringRedactsSecrets(t *testing.T) {
	cfg := Config{
		AWSSecretAccessKey: "super-secret",
		ServiceKeys:        map[string]string{"orders": "key-123"},
	}

	out := cfg.String()
	assert.NotContains(t, out, "super-secret")
	assert.NotContains(t, out, "key-123")
	assert.Contains(t, out, "REDACTED")

	// The original is untouched.
	assert.Equal(t, "super-secret", cfg.AWSSecretAccessKey)
	assert.Equal(t, "key-123", cfg.ServiceKeys["orders"])
}

func TestTransportConfigGetters(t *testing.T) {
	cfg := Config{
		EventBusSystem:     "kafka",
		NATSURL:            "nats://broker:4222",
		KafkaBrokers:       []string{"k1:9092", "k2:9092"},
		KafkaConsumerGroup: "hub",
		RabbitMQURL:        "amqp://guest@broker/",
		AWSRegion:          "eu-central-1",
		AWSAccountID:       "123456789012",
	}

	assert.Equal(t, "kafka", cfg.GetEventBusSystem())
	assert.Equal(t, "nats://broker:4222", cfg.GetNATSURL())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.GetKafkaBrokers())
	assert.Equal(t, "hub", cfg.GetKafkaConsumerGroup())
	assert.Equal(t, "amqp://guest@broker/", cfg.GetRabbitMQURL())
	assert.Equal(t, "eu-central-1", cfg.GetAWSRegion())
	assert.Equal(t, "123456789012", cfg.GetAWSAccountID())
}
