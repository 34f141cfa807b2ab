// Package health tracks how each E.ON resource has been answering.
// Every fetch outcome is recorded in Redis so the state survives restarts
// and can be read by any process sharing the instance.
package health

import (
	"time"
)

// RedisKeyPrefix is the prefix of the per-resource hashes.
const RedisKeyPrefix = "eon:health:"

// Thresholds for health decisions.
const (
	// FailureThresholdDegraded marks a resource degraded after this many
	// consecutive failures. Its snapshot is still being served.
	FailureThresholdDegraded = 1

	// FailureThresholdDown marks a resource down after this many
	// consecutive failures.
	FailureThresholdDown = 3
)

// Status is the coarse health of a resource.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// State is the recorded health of one resource of one account contract.
type State struct {
	// AccountContract is empty for account-scope resources.
	AccountContract string `json:"account_contract,omitempty"`

	// Resource is the resource name (e.g. "meter_index").
	Resource string `json:"resource"`

	// ConsecutiveFailures counts failed fetches since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// LastStatus is the HTTP status of the last fetch, 0 on transport failure.
	LastStatus int `json:"last_status"`

	// LastSuccess is the time of the last successful fetch.
	LastSuccess time.Time `json:"last_success,omitempty"`

	// LastFailure is the time of the last failed fetch.
	LastFailure time.Time `json:"last_failure,omitempty"`
}

// Status returns the coarse health derived from ConsecutiveFailures.
func (s *State) Status() Status {
	switch {
	case s.ConsecutiveFailures >= FailureThresholdDown:
		return StatusDown
	case s.ConsecutiveFailures >= FailureThresholdDegraded:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// IsStale returns true if the last success is older than maxAge, or if the
// resource never succeeded.
func (s *State) IsStale(maxAge time.Duration) bool {
	if s.LastSuccess.IsZero() {
		return true
	}
	return time.Since(s.LastSuccess) > maxAge
}

// Worst returns the most severe status among states. An empty set is healthy.
func Worst(states []*State) Status {
	worst := StatusHealthy
	for _, s := range states {
		switch s.Status() {
		case StatusDown:
			return StatusDown
		case StatusDegraded:
			worst = StatusDegraded
		}
	}
	return worst
}
