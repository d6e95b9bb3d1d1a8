// Package events defines event types and structures for pipeline and
// execution lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/voyagent/voyagent/pkg/models"
)

type EventType string

// Topic carries every voyagent lifecycle event.
const Topic = "voyagent.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Pipeline lifecycle events.
	RequestReceivedEvent    EventType = "request.received"
	ParsingFinishedEvent    EventType = "request.parsing.finished"
	ValidationFinishedEvent EventType = "request.validation.finished"
	RequestCompletedEvent   EventType = "request.completed"
	RequestFailedEvent      EventType = "request.failed"
	RequestCancelledEvent   EventType = "request.cancelled"

	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	CommandFinishedEvent    EventType = "execution.command.finished"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"request_id"`
	ContextID string         `json:"context_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, requestID, contextID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
		ContextID: contextID,
		Metadata:  make(map[string]any),
	}
}

type RequestReceived struct {
	BaseEvent

	UserID string `json:"user_id"`
	Text   string `json:"text,omitempty"`
}

func (e RequestReceived) GetType() EventType {
	return RequestReceivedEvent
}

type ParsingFinished struct {
	BaseEvent

	CommandCount          int  `json:"command_count"`
	RequiresClarification bool `json:"requires_clarification"`
}

func (e ParsingFinished) GetType() EventType {
	return ParsingFinishedEvent
}

type ValidationFinished struct {
	BaseEvent

	Valid                bool             `json:"valid"`
	Risk                 models.RiskLevel `json:"risk"`
	RequiresConfirmation bool             `json:"requires_confirmation"`
}

func (e ValidationFinished) GetType() EventType {
	return ValidationFinishedEvent
}

type RequestCompleted struct {
	BaseEvent

	State    models.PipelineState `json:"state"`
	Duration time.Duration        `json:"duration"`
}

func (e RequestCompleted) GetType() EventType {
	return RequestCompletedEvent
}

type RequestFailed struct {
	BaseEvent

	Error    string        `json:"error"`
	Duration time.Duration `json:"duration"`
}

func (e RequestFailed) GetType() EventType {
	return RequestFailedEvent
}

type RequestCancelled struct {
	BaseEvent
}

func (e RequestCancelled) GetType() EventType {
	return RequestCancelledEvent
}

type ExecutionStarted struct {
	BaseEvent

	CommandCount int             `json:"command_count"`
	Priority     models.Priority `json:"priority"`
	Sequential   bool            `json:"sequential"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type CommandFinished struct {
	BaseEvent

	CommandID  string               `json:"command_id"`
	Command    models.CommandType   `json:"command"`
	Status     models.CommandStatus `json:"status"`
	RetryCount int                  `json:"retry_count"`
	DurationMs int64                `json:"duration_ms"`
}

func (e CommandFinished) GetType() EventType {
	return CommandFinishedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	Duration time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	Errors   []string      `json:"errors"`
	Duration time.Duration `json:"duration"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}
