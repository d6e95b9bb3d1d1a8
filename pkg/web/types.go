// Package web provides HTTP request and response types for the command API.
package web

import (
	"time"

	"github.com/voyagent/voyagent/pkg/models"
	"github.com/voyagent/voyagent/pkg/orchestrator"
)

// ErrorResponse represents a standardized API error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ProcessCommandRequest represents the request body for submitting a
// natural-language instruction.
type ProcessCommandRequest struct {
	Text       string `json:"text"                  validate:"required,min=1"`
	UserID     string `json:"user_id"               validate:"required"`
	ContextID  string `json:"context_id,omitempty"`
	SurfaceRef string `json:"surface_ref,omitempty"`
	CurrentURL string `json:"current_url,omitempty" validate:"omitempty,url"`
	Priority   string `json:"priority,omitempty"    validate:"omitempty,oneof=low normal high critical"`
	TimeoutMs  int64  `json:"timeout_ms,omitempty"  validate:"gte=0"`
	MaxRetries *int   `json:"max_retries,omitempty" validate:"omitempty,gte=0"`
}

// ProcessParsedRequest represents the request body for submitting pre-parsed
// structured commands, skipping the natural-language parser.
type ProcessParsedRequest struct {
	Commands   []*models.StructuredCommand `json:"commands"              validate:"required,min=1,dive,required"`
	UserID     string                      `json:"user_id"               validate:"required"`
	ContextID  string                      `json:"context_id,omitempty"`
	SurfaceRef string                      `json:"surface_ref,omitempty"`
	Priority   string                      `json:"priority,omitempty"    validate:"omitempty,oneof=low normal high critical"`
	TimeoutMs  int64                       `json:"timeout_ms,omitempty"  validate:"gte=0"`
	MaxRetries *int                        `json:"max_retries,omitempty" validate:"omitempty,gte=0"`
}

// CreateContextRequest represents the request body for creating an execution
// context ahead of any command submission.
type CreateContextRequest struct {
	UserID     string `json:"user_id"               validate:"required"`
	SurfaceRef string `json:"surface_ref,omitempty"`
	CurrentURL string `json:"current_url,omitempty" validate:"omitempty,url"`
}

func (r *ProcessCommandRequest) processOptions() orchestrator.ProcessOptions {
	return orchestrator.ProcessOptions{
		ContextID:  r.ContextID,
		SurfaceRef: r.SurfaceRef,
		CurrentURL: r.CurrentURL,
		Priority:   models.Priority(r.Priority),
		Timeout:    time.Duration(r.TimeoutMs) * time.Millisecond,
		MaxRetries: r.MaxRetries,
	}
}

func (r *ProcessParsedRequest) processOptions() orchestrator.ProcessOptions {
	return orchestrator.ProcessOptions{
		ContextID:  r.ContextID,
		SurfaceRef: r.SurfaceRef,
		Priority:   models.Priority(r.Priority),
		Timeout:    time.Duration(r.TimeoutMs) * time.Millisecond,
		MaxRetries: r.MaxRetries,
	}
}
