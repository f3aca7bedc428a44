// Package config holds the hub's runtime configuration. The struct carries
// env tags so cmd/messagehub can populate it straight from the environment;
// tests fill it in code.
package config

import (
	"fmt"
	"time"

	"github.com/dungeonforge/messagehub/internal/hub/errors"
)

// Config groups every tunable of the hub. Zero values fall back to the
// defaults applied by WithDefaults.
type Config struct {
	// HTTPAddr is the listen address of the API server.
	HTTPAddr string `env:"MESSAGEHUB_HTTP_ADDR" envDefault:":8080"`

	// ServiceKeys maps service name to its shared key. Requests whose
	// X-Service-Key does not match the entry for X-Service-Name are rejected.
	// An empty map disables authentication (local development only).
	ServiceKeys map[string]string `env:"MESSAGEHUB_SERVICE_KEYS"`

	// EventBusSystem selects the broker carrying the event fabric. Supported
	// values: "channel" (in-process, default), "nats", "kafka", "rabbitmq",
	// "aws".
	EventBusSystem string `env:"MESSAGEHUB_EVENT_BUS" envDefault:"channel"`

	// NATS configuration.
	NATSURL string `env:"MESSAGEHUB_NATS_URL"`

	// Kafka configuration.
	KafkaBrokers       []string `env:"MESSAGEHUB_KAFKA_BROKERS"`
	KafkaConsumerGroup string   `env:"MESSAGEHUB_KAFKA_CONSUMER_GROUP" envDefault:"messagehub"`

	// RabbitMQ configuration.
	RabbitMQURL string `env:"MESSAGEHUB_RABBITMQ_URL"`

	// AWS (SNS/SQS) configuration. AWSEndpoint optionally points at a custom
	// endpoint such as LocalStack.
	AWSRegion          string `env:"MESSAGEHUB_AWS_REGION"`
	AWSAccountID       string `env:"MESSAGEHUB_AWS_ACCOUNT_ID"`
	AWSAccessKeyID     string `env:"MESSAGEHUB_AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"MESSAGEHUB_AWS_SECRET_ACCESS_KEY"`
	AWSEndpoint        string `env:"MESSAGEHUB_AWS_ENDPOINT"`

	// Delivery engine tuning.
	DeliveryMaxAttempts int           `env:"MESSAGEHUB_DELIVERY_MAX_ATTEMPTS" envDefault:"5"`
	DeliveryBaseBackoff time.Duration `env:"MESSAGEHUB_DELIVERY_BASE_BACKOFF" envDefault:"500ms"`
	DeliveryMaxBackoff  time.Duration `env:"MESSAGEHUB_DELIVERY_MAX_BACKOFF" envDefault:"30s"`
	DeliveryConcurrency int           `env:"MESSAGEHUB_DELIVERY_CONCURRENCY" envDefault:"16"`
	// DeliveryMaxPending bounds the outstanding-work queue; past it, send
	// returns RATE_LIMITED instead of queuing unbounded.
	DeliveryMaxPending  int           `env:"MESSAGEHUB_DELIVERY_MAX_PENDING" envDefault:"1024"`
	DeliveryStatusGrace time.Duration `env:"MESSAGEHUB_DELIVERY_STATUS_GRACE" envDefault:"5m"`

	// Circuit breaker tuning.
	BreakerFailureThreshold int           `env:"MESSAGEHUB_BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	BreakerResetTimeout     time.Duration `env:"MESSAGEHUB_BREAKER_RESET_TIMEOUT" envDefault:"60s"`

	// Health poller tuning.
	HealthDefaultInterval time.Duration `env:"MESSAGEHUB_HEALTH_DEFAULT_INTERVAL" envDefault:"15s"`
	HealthPollTimeout     time.Duration `env:"MESSAGEHUB_HEALTH_POLL_TIMEOUT" envDefault:"5s"`
	HealthMaxConcurrent   int           `env:"MESSAGEHUB_HEALTH_MAX_CONCURRENT" envDefault:"8"`
	// HealthSilenceWindow marks a record unhealthy after this long without a
	// successful poll; after twice the window the record is dropped.
	HealthSilenceWindow time.Duration `env:"MESSAGEHUB_HEALTH_SILENCE_WINDOW" envDefault:"2m"`

	// Aggregate health bounds: the hub reports healthy only while the
	// delivery backlog and the failure rate stay under these.
	HealthBacklogBound     int     `env:"MESSAGEHUB_HEALTH_BACKLOG_BOUND" envDefault:"512"`
	HealthFailureRateBound float64 `env:"MESSAGEHUB_HEALTH_FAILURE_RATE_BOUND" envDefault:"0.5"`
}

// WithDefaults returns a copy with zero values replaced by defaults. Config
// built in code (tests, embedding callers) goes through here; env parsing
// already applies the same defaults via envDefault tags.
func (c Config) WithDefaults() Config {
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.EventBusSystem == "" {
		c.EventBusSystem = "channel"
	}
	if c.KafkaConsumerGroup == "" {
		c.KafkaConsumerGroup = "messagehub"
	}
	if c.DeliveryMaxAttempts <= 0 {
		c.DeliveryMaxAttempts = 5
	}
	if c.DeliveryBaseBackoff <= 0 {
		c.DeliveryBaseBackoff = 500 * time.Millisecond
	}
	if c.DeliveryMaxBackoff <= 0 {
		c.DeliveryMaxBackoff = 30 * time.Second
	}
	if c.DeliveryConcurrency <= 0 {
		c.DeliveryConcurrency = 16
	}
	if c.DeliveryMaxPending <= 0 {
		c.DeliveryMaxPending = 1024
	}
	if c.DeliveryStatusGrace <= 0 {
		c.DeliveryStatusGrace = 5 * time.Minute
	}
	if c.BreakerFailureThreshold <= 0 {
		c.BreakerFailureThreshold = 5
	}
	if c.BreakerResetTimeout <= 0 {
		c.BreakerResetTimeout = 60 * time.Second
	}
	if c.HealthDefaultInterval <= 0 {
		c.HealthDefaultInterval = 15 * time.Second
	}
	if c.HealthPollTimeout <= 0 {
		c.HealthPollTimeout = 5 * time.Second
	}
	if c.HealthMaxConcurrent <= 0 {
		c.HealthMaxConcurrent = 8
	}
	if c.HealthSilenceWindow <= 0 {
		c.HealthSilenceWindow = 2 * time.Minute
	}
	if c.HealthBacklogBound <= 0 {
		c.HealthBacklogBound = 512
	}
	if c.HealthFailureRateBound <= 0 {
		c.HealthFailureRateBound = 0.5
	}
	return c
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var fields []string

	switch c.EventBusSystem {
	case "", "channel":
	case "nats":
		if c.NATSURL == "" {
			fields = append(fields, "NATSURL required for nats event bus")
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			fields = append(fields, "KafkaBrokers required for kafka event bus")
		}
	case "rabbitmq":
		if c.RabbitMQURL == "" {
			fields = append(fields, "RabbitMQURL required for rabbitmq event bus")
		}
	case "aws":
		if c.AWSRegion == "" {
			fields = append(fields, "AWSRegion required for aws event bus")
		}
	default:
		fields = append(fields, fmt.Sprintf("unknown EventBusSystem %q", c.EventBusSystem))
	}

	if c.DeliveryBaseBackoff > c.DeliveryMaxBackoff && c.DeliveryMaxBackoff > 0 {
		fields = append(fields, "DeliveryBaseBackoff exceeds DeliveryMaxBackoff")
	}
	if c.HealthFailureRateBound > 1 {
		fields = append(fields, "HealthFailureRateBound must be <= 1")
	}

	if len(fields) > 0 {
		return &errors.ConfigValidationError{Fields: fields}
	}
	return nil
}

// Getter methods implementing the transport.Config interface.
func (c *Config) GetEventBusSystem() string     { return c.EventBusSystem }
func (c *Config) GetNATSURL() string            { return c.NATSURL }
func (c *Config) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c *Config) GetKafkaConsumerGroup() string { return c.KafkaConsumerGroup }
func (c *Config) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c *Config) GetAWSRegion() string          { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string       { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string        { return c.AWSEndpoint }

func (c Config) String() string {
	redacted := c
	if redacted.AWSSecretAccessKey != "" {
		redacted.AWSSecretAccessKey = "***REDACTED***"
	}
	if len(redacted.ServiceKeys) > 0 {
		keys := make(map[string]string, len(redacted.ServiceKeys))
		for name := range redacted.ServiceKeys {
			keys[name] = "***REDACTED***"
		}
		redacted.ServiceKeys = keys
	}
	type plain Config
	return fmt.Sprintf("%+v", plain(redacted))
}
