package models

import "time"

// ContextStatus represents the lifecycle state of an execution context.
type ContextStatus string

const (
	ContextStatusPending   ContextStatus = "pending"
	ContextStatusRunning   ContextStatus = "running"
	ContextStatusCompleted ContextStatus = "completed"
	ContextStatusFailed    ContextStatus = "failed"
)

// HistoryEntry records one executed command.
type HistoryEntry struct {
	Command    StructuredCommand `json:"command"`
	ExecutedAt time.Time         `json:"executed_at"`
}

// ExecutionContext ties a sequence of commands to one target surface and one
// owner. Variables hold session-scoped state; the process-wide global tier
// lives in the context manager.
type ExecutionContext struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	SurfaceRef    string         `json:"surface_ref,omitempty"`
	CurrentURL    string         `json:"current_url,omitempty"`
	Status        ContextStatus  `json:"status"`
	Variables     map[string]any `json:"variables,omitempty"`
	History       []HistoryEntry `json:"history,omitempty"`
	KnownElements []string       `json:"known_elements,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
}

// Expired reports whether the context's TTL has elapsed at the given instant.
func (c *ExecutionContext) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// KnowsElement reports whether the locator appears in the context's
// known-elements set.
func (c *ExecutionContext) KnowsElement(locator string) bool {
	for _, el := range c.KnownElements {
		if el == locator {
			return true
		}
	}

	return false
}
