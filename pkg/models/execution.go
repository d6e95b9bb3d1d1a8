package models

import "time"

// Priority orders requests in the execution queue.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank returns the numeric weight of the priority; higher runs first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// RequestStatus represents the lifecycle state of an execution request.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusRunning   RequestStatus = "running"
	RequestStatusCompleted RequestStatus = "completed"
	RequestStatusFailed    RequestStatus = "failed"
	RequestStatusCancelled RequestStatus = "cancelled"
)

// CommandStatus represents the lifecycle state of a single command.
type CommandStatus string

const (
	CommandStatusPending   CommandStatus = "pending"
	CommandStatusRunning   CommandStatus = "running"
	CommandStatusCompleted CommandStatus = "completed"
	CommandStatusFailed    CommandStatus = "failed"
	CommandStatusSkipped   CommandStatus = "skipped"
	CommandStatusCancelled CommandStatus = "cancelled"
)

// ExecutionRequest is a batch of commands queued for one context. Commands
// preserve submission order when executed sequentially.
type ExecutionRequest struct {
	ID         string               `json:"id"`
	ContextID  string               `json:"context_id"`
	Commands   []*StructuredCommand `json:"commands"`
	Priority   Priority             `json:"priority"`
	Timeout    time.Duration        `json:"timeout,omitempty"`
	MaxRetries *int                 `json:"max_retries,omitempty"`
	EnqueuedAt time.Time            `json:"enqueued_at"`
}

// CommandResult is the per-command outcome. RetryCount never exceeds the
// configured maximum attempts.
type CommandResult struct {
	CommandID  string         `json:"command_id"`
	Type       CommandType    `json:"type"`
	Status     CommandStatus  `json:"status"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	RetryCount int            `json:"retry_count"`
}

// ExecutionResult is the per-request outcome. Status is failed iff any
// command result is failed, else completed, unless explicitly cancelled.
type ExecutionResult struct {
	RequestID  string           `json:"request_id"`
	ContextID  string           `json:"context_id"`
	Status     RequestStatus    `json:"status"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Results    []*CommandResult `json:"results"`
	Errors     []string         `json:"errors,omitempty"`
}

// Terminal reports whether the result reached a final state.
func (r *ExecutionResult) Terminal() bool {
	switch r.Status {
	case RequestStatusCompleted, RequestStatusFailed, RequestStatusCancelled:
		return true
	default:
		return false
	}
}
