package cpumon

import (
	"fmt"
	"time"
)

// HealthStatus represents the overall health state of a component.
type HealthStatus string

const (
	// HealthOK indicates the component is functioning normally.
	HealthOK HealthStatus = "ok"
	// HealthDegraded indicates partial functionality or non-critical issues.
	HealthDegraded HealthStatus = "degraded"
	// HealthUnhealthy indicates the component is not functioning.
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck contains the health status of an instance and its components.
type HealthCheck struct {
	// Status is the overall health status.
	Status HealthStatus

	// Timestamp is when the health check was performed.
	Timestamp time.Time

	// Uptime is the duration since the instance started (zero if not running).
	Uptime time.Duration

	// Components contains health status for individual components.
	Components map[string]ComponentHealth

	// Message provides additional context about the health status.
	Message string
}

// ComponentHealth represents the health status of an individual component.
type ComponentHealth struct {
	// Status is the health status of this component.
	Status HealthStatus

	// Message provides details about the component's state.
	Message string

	// LastUpdated is when this component was last successfully updated.
	LastUpdated time.Time
}

// IsHealthy returns true if the overall status is HealthOK.
func (h HealthCheck) IsHealthy() bool {
	return h.Status == HealthOK
}

// IsDegraded returns true if the overall status is HealthDegraded.
func (h HealthCheck) IsDegraded() bool {
	return h.Status == HealthDegraded
}

// IsUnhealthy returns true if the overall status is HealthUnhealthy.
func (h HealthCheck) IsUnhealthy() bool {
	return h.Status == HealthUnhealthy
}

// staleAfter is how many intervals may pass without a fresh reading
// before the sampler is reported degraded.
const staleAfter = 3

// Health returns a health check result for the instance.
func (c *instance) Health() HealthCheck {
	now := time.Now()
	hc := HealthCheck{
		Status:     HealthOK,
		Timestamp:  now,
		Components: make(map[string]ComponentHealth),
	}

	if !c.running.Load() {
		hc.Status = HealthUnhealthy
		hc.Message = "instance is not running"
		hc.Components["instance"] = ComponentHealth{Status: HealthUnhealthy, Message: "stopped"}
		return hc
	}

	c.mu.RLock()
	startTime := c.startTime
	breaker := c.breaker
	c.mu.RUnlock()
	hc.Uptime = now.Sub(startTime)
	hc.Components["instance"] = ComponentHealth{Status: HealthOK, Message: "running", LastUpdated: startTime}

	hc.Components["sampler"] = c.samplerHealth(now)
	if breaker != nil {
		hc.Components["source"] = breakerHealth(breaker)
	}
	if err := c.getError(); err != nil {
		hc.Components["errors"] = ComponentHealth{Status: HealthDegraded, Message: err.Error()}
	}

	for _, comp := range hc.Components {
		switch {
		case comp.Status == HealthUnhealthy:
			hc.Status = HealthUnhealthy
		case comp.Status == HealthDegraded && hc.Status == HealthOK:
			hc.Status = HealthDegraded
		}
	}
	switch hc.Status {
	case HealthOK:
		hc.Message = "all components healthy"
	case HealthDegraded:
		hc.Message = "some components degraded"
	default:
		hc.Message = "some components unhealthy"
	}
	return hc
}

func (c *instance) samplerHealth(now time.Time) ComponentHealth {
	mon := c.mon.Load()
	if mon == nil {
		return ComponentHealth{Status: HealthUnhealthy, Message: "no sampler"}
	}
	r := mon.Latest()
	if r.Stale {
		msg := "serving last known value"
		if r.Err != nil {
			msg = fmt.Sprintf("%s: %v", msg, r.Err)
		}
		return ComponentHealth{Status: HealthDegraded, Message: msg, LastUpdated: r.Timestamp}
	}
	if age := now.Sub(r.Timestamp); age > staleAfter*mon.Interval() {
		return ComponentHealth{Status: HealthDegraded, Message: fmt.Sprintf("last reading %v ago", age.Round(time.Millisecond)), LastUpdated: r.Timestamp}
	}
	return ComponentHealth{Status: HealthOK, Message: r.Total.String(), LastUpdated: r.Timestamp}
}

func breakerHealth(cb *CircuitBreaker) ComponentHealth {
	stats := cb.Stats()
	switch stats.State {
	case CircuitOpen:
		return ComponentHealth{Status: HealthUnhealthy, Message: fmt.Sprintf("circuit open after %d failures", stats.ConsecutiveFailures), LastUpdated: stats.LastFailure}
	case CircuitHalfOpen:
		return ComponentHealth{Status: HealthDegraded, Message: "circuit half-open", LastUpdated: stats.LastFailure}
	default:
		return ComponentHealth{Status: HealthOK, Message: "circuit closed"}
	}
}
