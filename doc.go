// Package messagehub is an in-memory message hub for service fleets: reliable
// point-to-point delivery with retries and circuit breakers, a tag-classified
// publish/subscribe event fabric, and a service registry whose health is kept
// current by active polling.
//
// The hub accepts messages over HTTP, queues them per destination in priority
// order, and drives delivery with full-jitter exponential backoff bounded by
// an attempt cap and the message TTL. A circuit breaker per destination trips
// after consecutive failures, rejects sends while open, and probes recovery
// with a single trial request. Registered services are polled on their
// declared health endpoints; consecutive poll failures walk a service from
// healthy through degraded to unhealthy, and a single success restores it.
//
// Events ride Watermill topics, one per classification tag, so the fabric can
// move from the in-process channel transport onto NATS, Kafka, RabbitMQ, or
// AWS SNS/SQS by configuration alone. Subscribers receive events on webhook
// callbacks or over the websocket stream at /events.
//
// A minimal embedding fills Config, calls New, and calls Run:
//
//	cfg := messagehub.Config{HTTPAddr: ":8080"}
//	svc, err := messagehub.New(ctx, cfg, logger, messagehub.Dependencies{})
//	if err != nil {
//		return err
//	}
//	return svc.Run(ctx)
//
// cmd/messagehub wraps exactly this with environment-driven configuration.
package messagehub
