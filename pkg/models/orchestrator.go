package models

import "time"

// PipelineState tracks a request through the orchestration pipeline.
type PipelineState string

const (
	PipelinePending    PipelineState = "pending"
	PipelineParsing    PipelineState = "parsing"
	PipelineValidating PipelineState = "validating"
	PipelineExecuting  PipelineState = "executing"
	PipelineCompleted  PipelineState = "completed"
	PipelineFailed     PipelineState = "failed"
	PipelineCancelled  PipelineState = "cancelled"
)

// ParsingResult is the outcome of the external natural-language parser.
type ParsingResult struct {
	Commands              []*StructuredCommand `json:"commands"`
	Warnings              []string             `json:"warnings,omitempty"`
	RequiresClarification bool                 `json:"requires_clarification"`
}

// OrchestratorResult is the externally visible outcome of one request. It is
// created at request start and mutated in place as the pipeline advances.
type OrchestratorResult struct {
	RequestID  string            `json:"request_id"`
	ContextID  string            `json:"context_id,omitempty"`
	State      PipelineState     `json:"state"`
	Parsing    *ParsingResult    `json:"parsing,omitempty"`
	Validation *ValidationResult `json:"validation,omitempty"`
	Execution  *ExecutionResult  `json:"execution,omitempty"`
	Errors     []string          `json:"errors,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Terminal reports whether the pipeline reached a final state.
func (r *OrchestratorResult) Terminal() bool {
	switch r.State {
	case PipelineCompleted, PipelineFailed, PipelineCancelled:
		return true
	default:
		return false
	}
}
