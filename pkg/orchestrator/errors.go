package orchestrator

import "fmt"

// Code classifies pipeline failures surfaced in OrchestratorResult.Errors.
type Code string

const (
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeSecurity        Code = "SECURITY_ERROR"
	CodeContextNotFound Code = "CONTEXT_NOT_FOUND"
	CodeExecution       Code = "COMMAND_EXECUTION_ERROR"
	CodeOrchestration   Code = "ORCHESTRATION_ERROR"
)

// PipelineError ties a failure code to a human-readable message. It is
// rendered into the result's error list, never propagated as a panic.
type PipelineError struct {
	Code    Code
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}
