package registry

// Status is the health-derived state of a registered service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// nextStatus derives the status from the consecutive-failure counter. The
// ladder is deliberately asymmetric: one failure is tolerated, the second
// degrades, the third drops to unhealthy, and any success resets the counter
// so recovery is immediate. Fast recovery, slow degradation.
func nextStatus(consecutiveFailures int) Status {
	switch {
	case consecutiveFailures >= 3:
		return StatusUnhealthy
	case consecutiveFailures >= 2:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}
