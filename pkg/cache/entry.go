package cache

import (
	"encoding/json"
	"time"
)

// Entry is the last good payload of one resource.
type Entry struct {
	// Resource is the resource name (e.g. "meter_index").
	Resource string `json:"resource"`

	// Data holds the payload when it was valid JSON.
	Data json.RawMessage `json:"data,omitempty"`

	// Text holds the raw payload when it was not JSON.
	Text string `json:"text,omitempty"`

	// FetchedAt is when the payload was received from the API.
	FetchedAt time.Time `json:"fetched_at"`

	// Expires is when the snapshot is dropped.
	Expires time.Time `json:"expires"`
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Age returns how long ago the payload was fetched.
func (e *Entry) Age() time.Duration {
	return time.Since(e.FetchedAt)
}

// IsJSON reports whether the snapshot holds a JSON payload.
func (e *Entry) IsJSON() bool {
	return len(e.Data) > 0
}
