package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCommandType_Mutating(t *testing.T) {
	mutating := []CommandType{CommandNavigate, CommandClick, CommandFill, CommandSubmit}
	for _, ct := range mutating {
		assert.True(t, ct.Mutating(), "%s should be mutating", ct)
	}

	readOnly := []CommandType{CommandExtract, CommandWait, CommandScreenshot}
	for _, ct := range readOnly {
		assert.False(t, ct.Mutating(), "%s should be read-only", ct)
	}
}

func TestStructuredCommand_HasParams(t *testing.T) {
	command := &StructuredCommand{Type: CommandNavigate}
	assert.False(t, command.HasParams())

	command.Navigate = &NavigateParams{URL: "https://example.com"}
	assert.True(t, command.HasParams())

	// Variant not matching the type does not count
	command = &StructuredCommand{
		Type: CommandClick,
		Fill: &FillParams{Selector: "#q", Value: "x"},
	}
	assert.False(t, command.HasParams())
}

func TestStructuredCommand_Locator(t *testing.T) {
	navigate := &StructuredCommand{
		Type:     CommandNavigate,
		Navigate: &NavigateParams{URL: "https://example.com"},
	}
	assert.Equal(t, "https://example.com", navigate.Locator())

	click := &StructuredCommand{
		Type:  CommandClick,
		Click: &ClickParams{Selector: "#submit"},
	}
	assert.Equal(t, "#submit", click.Locator())

	screenshot := &StructuredCommand{
		Type:       CommandScreenshot,
		Screenshot: &ScreenshotParams{},
	}
	assert.Empty(t, screenshot.Locator())
}

func TestStructuredCommand_FreeText(t *testing.T) {
	fill := &StructuredCommand{
		Type: CommandFill,
		Fill: &FillParams{Selector: "#q", Value: "hello"},
	}
	assert.Equal(t, "hello", fill.FreeText())

	click := &StructuredCommand{
		Type:  CommandClick,
		Click: &ClickParams{Selector: "#q"},
	}
	assert.Empty(t, click.FreeText())
}

func TestStructuredCommand_Clone(t *testing.T) {
	original := &StructuredCommand{
		ID:      "cmd-1",
		Type:    CommandFill,
		Fill:    &FillParams{Selector: "#q", Value: "hello"},
		Timeout: 5 * time.Second,
		Meta:    map[string]any{"source": "test"},
	}

	clone := original.Clone()

	assert.Equal(t, original, clone)

	// Mutating the clone must not touch the original
	clone.Fill.Value = "changed"
	clone.Meta["source"] = "clone"

	assert.Equal(t, "hello", original.Fill.Value)
	assert.Equal(t, "test", original.Meta["source"])
}

func TestPriority_Rank(t *testing.T) {
	assert.Greater(t, PriorityCritical.Rank(), PriorityHigh.Rank())
	assert.Greater(t, PriorityHigh.Rank(), PriorityNormal.Rank())
	assert.Greater(t, PriorityNormal.Rank(), PriorityLow.Rank())
}

func TestExecutionResult_Terminal(t *testing.T) {
	result := &ExecutionResult{Status: RequestStatusRunning}
	assert.False(t, result.Terminal())

	for _, status := range []RequestStatus{RequestStatusCompleted, RequestStatusFailed, RequestStatusCancelled} {
		result.Status = status
		assert.True(t, result.Terminal())
	}
}

func TestOrchestratorResult_Terminal(t *testing.T) {
	result := &OrchestratorResult{State: PipelineExecuting}
	assert.False(t, result.Terminal())

	result.State = PipelineFailed
	assert.True(t, result.Terminal())
}

func TestExecutionContext_Expired(t *testing.T) {
	now := time.Now().UTC()

	ectx := &ExecutionContext{ExpiresAt: now.Add(time.Minute)}
	assert.False(t, ectx.Expired(now))
	assert.True(t, ectx.Expired(now.Add(2*time.Minute)))
}

func TestExecutionContext_KnowsElement(t *testing.T) {
	ectx := &ExecutionContext{KnownElements: []string{"#search", "#submit"}}

	assert.True(t, ectx.KnowsElement("#search"))
	assert.False(t, ectx.KnowsElement("#missing"))
}
