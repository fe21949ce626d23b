package assetos

import "time"

// Health status strings reported by modules and the aggregate check.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusTimeout = "timeout"
)

// HealthReport is the result of a single module's health check.
type HealthReport struct {
	// Healthy indicates whether the module considers itself operational.
	Healthy bool `json:"healthy"`

	// Status is a short human-readable state, e.g. "running", "stopped",
	// or "timeout" when the check missed the aggregate deadline.
	Status string `json:"status"`

	// Details carries module-specific diagnostic fields.
	Details map[string]any `json:"details,omitempty"`
}

// SystemReport aggregates the health of every running module.
type SystemReport struct {
	// OverallHealthy is the logical AND of all per-module Healthy flags.
	OverallHealthy bool `json:"overall_healthy"`

	// Modules maps module name to its health report.
	Modules map[string]HealthReport `json:"modules"`

	// Elapsed is how long the aggregate check took.
	Elapsed time.Duration `json:"elapsed"`

	// RequestID echoes the correlation id of the triggering request.
	RequestID string `json:"request_id,omitempty"`
}
