package health

import (
	"testing"
	"time"
)

func TestState_Status(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		want     Status
	}{
		{name: "no failures", failures: 0, want: StatusHealthy},
		{name: "one failure", failures: 1, want: StatusDegraded},
		{name: "below down threshold", failures: FailureThresholdDown - 1, want: StatusDegraded},
		{name: "at down threshold", failures: FailureThresholdDown, want: StatusDown},
		{name: "well past threshold", failures: 40, want: StatusDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &State{ConsecutiveFailures: tt.failures}
			if got := s.Status(); got != tt.want {
				t.Errorf("Status() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestState_IsStale(t *testing.T) {
	tests := []struct {
		name        string
		lastSuccess time.Time
		maxAge      time.Duration
		want        bool
	}{
		{name: "never succeeded", maxAge: time.Hour, want: true},
		{name: "recent success", lastSuccess: time.Now().Add(-time.Minute), maxAge: time.Hour, want: false},
		{name: "old success", lastSuccess: time.Now().Add(-2 * time.Hour), maxAge: time.Hour, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &State{LastSuccess: tt.lastSuccess}
			if got := s.IsStale(tt.maxAge); got != tt.want {
				t.Errorf("IsStale(%v) = %v, want %v", tt.maxAge, got, tt.want)
			}
		})
	}
}

func TestWorst(t *testing.T) {
	tests := []struct {
		name   string
		states []*State
		want   Status
	}{
		{name: "empty", want: StatusHealthy},
		{name: "all healthy", states: []*State{{}, {}}, want: StatusHealthy},
		{name: "one degraded", states: []*State{{}, {ConsecutiveFailures: 1}}, want: StatusDegraded},
		{name: "down wins", states: []*State{{ConsecutiveFailures: 1}, {ConsecutiveFailures: 5}, {}}, want: StatusDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Worst(tt.states); got != tt.want {
				t.Errorf("Worst() = %q, want %q", got, tt.want)
			}
		})
	}
}
