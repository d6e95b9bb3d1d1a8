// Package orchestrator is the top of the pipeline: it turns a natural-language
// instruction (or a pre-parsed batch) into validated, executed commands and a
// terminal OrchestratorResult.
//
// Per request the state machine is
// pending -> parsing -> validating -> executing -> {completed | failed | cancelled},
// terminating early at completed when the parser asks for clarification or
// validation demands confirmation.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voyagent/voyagent/pkg/contextmanager"
	"github.com/voyagent/voyagent/pkg/engine"
	"github.com/voyagent/voyagent/pkg/eventbus"
	"github.com/voyagent/voyagent/pkg/events"
	"github.com/voyagent/voyagent/pkg/models"
	"github.com/voyagent/voyagent/pkg/protocol"
	"github.com/voyagent/voyagent/pkg/validator"
)

// Config tunes pipeline behavior.
type Config struct {
	// AutoConfirm executes batches whose validation demands confirmation
	// instead of stopping for an explicit resubmission.
	AutoConfirm bool

	// DefaultPriority is applied when a request carries none.
	DefaultPriority models.Priority
}

func (c *Config) applyDefaults() {
	if c.DefaultPriority == "" {
		c.DefaultPriority = models.PriorityNormal
	}
}

// ProcessOptions carries per-request knobs. A zero ContextID means a fresh
// context is created for the request.
type ProcessOptions struct {
	ContextID  string
	SurfaceRef string
	CurrentURL string
	Priority   models.Priority
	Timeout    time.Duration
	MaxRetries *int
}

// Orchestrator drives requests through parse, validate, gate and execute.
type Orchestrator struct {
	cfg       Config
	parser    protocol.Parser
	validator *validator.Validator
	engine    *engine.Engine
	contexts  *contextmanager.Manager
	bus       eventbus.EventPublisher // optional
	logger    *slog.Logger

	listeners *listenerRegistry

	mu      sync.Mutex
	results map[string]*models.OrchestratorResult
}

// Option configures optional orchestrator collaborators.
type Option func(*Orchestrator)

// WithEventBus publishes pipeline lifecycle events to the bus.
func WithEventBus(bus eventbus.EventPublisher) Option {
	return func(o *Orchestrator) {
		o.bus = bus
	}
}

// NewOrchestrator wires the pipeline. The engine's execution events are
// forwarded to this orchestrator's listeners so one registration observes the
// whole request lifecycle.
func NewOrchestrator(cfg Config, parser protocol.Parser, v *validator.Validator, eng *engine.Engine, contexts *contextmanager.Manager, logger *slog.Logger, opts ...Option) *Orchestrator {
	cfg.applyDefaults()

	o := &Orchestrator{
		cfg:       cfg,
		parser:    parser,
		validator: v,
		engine:    eng,
		contexts:  contexts,
		logger:    logger.With("module", "orchestrator"),
		listeners: &listenerRegistry{},
		results:   make(map[string]*models.OrchestratorResult),
	}

	for _, opt := range opts {
		opt(o)
	}

	eng.SetObserver(o.listeners.fire)

	return o
}

// ProcessCommand parses text into structured commands and runs them through
// validation and execution. It blocks until the request is terminal and never
// panics; unexpected failures become an ORCHESTRATION_ERROR terminal result.
func (o *Orchestrator) ProcessCommand(ctx context.Context, userID, text string, opts ProcessOptions) (res *models.OrchestratorResult) {
	result, ectx := o.begin(ctx, userID, opts)
	res = result

	if ectx == nil {
		return o.fail(ctx, result, &PipelineError{Code: CodeContextNotFound,
			Message: fmt.Sprintf("context %q missing or expired", opts.ContextID)})
	}

	defer o.recoverPanic(ctx, result)

	o.emit(ctx, result.RequestID, events.RequestReceived{
		BaseEvent: events.NewBaseEvent(events.RequestReceivedEvent, result.RequestID, result.ContextID),
		UserID:    userID,
		Text:      text,
	})

	if !o.transition(result, models.PipelineParsing) {
		return result
	}

	parsing, err := o.parser.Parse(ctx, text, ectx)
	if err != nil {
		return o.fail(ctx, result, &PipelineError{Code: CodeOrchestration, Message: "parse request", Err: err})
	}

	o.mu.Lock()
	result.Parsing = parsing
	result.Warnings = append(result.Warnings, parsing.Warnings...)
	result.UpdatedAt = time.Now().UTC()
	o.mu.Unlock()

	o.emit(ctx, result.RequestID, events.ParsingFinished{
		BaseEvent:             events.NewBaseEvent(events.ParsingFinishedEvent, result.RequestID, result.ContextID),
		CommandCount:          len(parsing.Commands),
		RequiresClarification: parsing.RequiresClarification,
	})

	if parsing.RequiresClarification {
		o.appendWarning(result, "clarification required: resubmit with a more specific instruction")

		return o.complete(ctx, result)
	}

	if len(parsing.Commands) == 0 {
		o.appendWarning(result, "parser produced no commands")

		return o.complete(ctx, result)
	}

	return o.runPipeline(ctx, result, ectx, parsing.Commands, opts)
}

// ProcessParsedCommands skips parsing and starts the pipeline at validation.
func (o *Orchestrator) ProcessParsedCommands(ctx context.Context, userID string, commands []*models.StructuredCommand, opts ProcessOptions) (res *models.OrchestratorResult) {
	result, ectx := o.begin(ctx, userID, opts)
	res = result

	if ectx == nil {
		return o.fail(ctx, result, &PipelineError{Code: CodeContextNotFound,
			Message: fmt.Sprintf("context %q missing or expired", opts.ContextID)})
	}

	defer o.recoverPanic(ctx, result)

	o.emit(ctx, result.RequestID, events.RequestReceived{
		BaseEvent: events.NewBaseEvent(events.RequestReceivedEvent, result.RequestID, result.ContextID),
		UserID:    userID,
	})

	return o.runPipeline(ctx, result, ectx, commands, opts)
}

// Status returns a point-in-time copy of the request's result.
func (o *Orchestrator) Status(requestID string) (*models.OrchestratorResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	result, ok := o.results[requestID]
	if !ok {
		return nil, false
	}

	return snapshot(result), true
}

// Cancel cancels a request. Before execution started the pipeline observes the
// cancelled state at its next transition; during execution cancellation is
// delegated to the engine and is cooperative. Returns false when the request
// is unknown or already terminal.
func (o *Orchestrator) Cancel(ctx context.Context, requestID string) bool {
	o.mu.Lock()

	result, ok := o.results[requestID]
	if !ok || result.Terminal() {
		o.mu.Unlock()

		return false
	}

	if result.State == models.PipelineExecuting {
		o.mu.Unlock()

		if o.engine.Cancel(requestID) {
			return true
		}

		// Between the executing transition and the enqueue inside Execute the
		// engine has not seen the id yet; a known request it refuses to
		// cancel already finished. Mark the result cancelled in that window
		// so the pipeline stops at its next transition.
		o.mu.Lock()

		if result.Terminal() {
			o.mu.Unlock()

			return result.State == models.PipelineCancelled
		}

		if _, known := o.engine.Status(requestID); known {
			o.mu.Unlock()

			return o.engine.Cancel(requestID)
		}
	}

	result.State = models.PipelineCancelled
	result.UpdatedAt = time.Now().UTC()
	o.mu.Unlock()

	o.emit(ctx, requestID, events.RequestCancelled{
		BaseEvent: events.NewBaseEvent(events.RequestCancelledEvent, requestID, result.ContextID),
	})

	return true
}

// Forget drops a terminal result from the in-memory table. Results are
// retained until the caller discards them.
func (o *Orchestrator) Forget(requestID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	result, ok := o.results[requestID]
	if !ok || !result.Terminal() {
		return false
	}

	delete(o.results, requestID)

	return true
}

// AddListener registers a transition callback and returns its handle.
func (o *Orchestrator) AddListener(fn Listener) string {
	return o.listeners.add(fn)
}

// RemoveListener deregisters a callback by the handle AddListener returned.
func (o *Orchestrator) RemoveListener(id string) bool {
	return o.listeners.remove(id)
}

func (o *Orchestrator) runPipeline(ctx context.Context, result *models.OrchestratorResult, ectx *models.ExecutionContext, commands []*models.StructuredCommand, opts ProcessOptions) *models.OrchestratorResult {
	if !o.transition(result, models.PipelineValidating) {
		return result
	}

	vr := o.validator.Validate(commands, ectx)

	o.mu.Lock()
	result.Validation = vr
	result.Warnings = append(result.Warnings, vr.Warnings...)
	result.UpdatedAt = time.Now().UTC()
	o.mu.Unlock()

	o.emit(ctx, result.RequestID, events.ValidationFinished{
		BaseEvent:            events.NewBaseEvent(events.ValidationFinishedEvent, result.RequestID, result.ContextID),
		Valid:                vr.Valid,
		Risk:                 vr.Risk,
		RequiresConfirmation: vr.RequiresConfirmation,
	})

	if !vr.Valid {
		code := CodeValidation

		for _, issue := range vr.SecurityIssues {
			if issue.Severity == models.SeverityError {
				code = CodeSecurity

				break
			}
		}

		return o.fail(ctx, result, &PipelineError{Code: code, Message: strings.Join(vr.Errors, "; ")})
	}

	if vr.RequiresConfirmation && !o.cfg.AutoConfirm {
		o.appendWarning(result, fmt.Sprintf(
			"confirmation required: batch risk is %s; resubmit with explicit confirmation", vr.Risk))

		return o.complete(ctx, result)
	}

	if !o.transition(result, models.PipelineExecuting) {
		return result
	}

	sanitized := vr.Sanitized
	if len(sanitized) == 0 {
		sanitized = commands
	}

	priority := opts.Priority
	if priority == "" {
		priority = o.cfg.DefaultPriority
	}

	exec, err := o.engine.Execute(ctx, ectx.ID, sanitized, engine.RequestOptions{
		RequestID:  result.RequestID,
		Priority:   priority,
		Timeout:    opts.Timeout,
		MaxRetries: opts.MaxRetries,
	})
	if err != nil {
		return o.fail(ctx, result, &PipelineError{Code: CodeOrchestration, Message: "execute batch", Err: err})
	}

	o.mu.Lock()
	result.Execution = exec
	result.Errors = append(result.Errors, exec.Errors...)
	result.UpdatedAt = time.Now().UTC()
	o.mu.Unlock()

	switch exec.Status {
	case models.RequestStatusCancelled:
		return o.cancelled(ctx, result)
	case models.RequestStatusFailed:
		failed := 0

		for _, cr := range exec.Results {
			if cr.Status == models.CommandStatusFailed {
				failed++
			}
		}

		return o.fail(ctx, result, &PipelineError{Code: CodeExecution,
			Message: fmt.Sprintf("%d of %d commands failed", failed, len(exec.Results))})
	default:
		return o.complete(ctx, result)
	}
}

func (o *Orchestrator) begin(ctx context.Context, userID string, opts ProcessOptions) (*models.OrchestratorResult, *models.ExecutionContext) {
	var ectx *models.ExecutionContext

	if opts.ContextID != "" {
		ectx, _ = o.contexts.GetContext(ctx, opts.ContextID)
	} else {
		ectx = o.contexts.CreateContext(ctx, userID, contextmanager.CreateOptions{
			SurfaceRef: opts.SurfaceRef,
			CurrentURL: opts.CurrentURL,
		})
	}

	now := time.Now().UTC()

	result := &models.OrchestratorResult{
		RequestID: "orc-" + uuid.New().String(),
		State:     models.PipelinePending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if ectx != nil {
		result.ContextID = ectx.ID
	} else {
		result.ContextID = opts.ContextID
	}

	o.mu.Lock()
	o.results[result.RequestID] = result
	o.mu.Unlock()

	return result, ectx
}

// transition advances the pipeline state unless the request already went
// terminal (a concurrent Cancel). Returns whether the pipeline may proceed.
func (o *Orchestrator) transition(result *models.OrchestratorResult, state models.PipelineState) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if result.Terminal() {
		return false
	}

	result.State = state
	result.UpdatedAt = time.Now().UTC()

	return true
}

func (o *Orchestrator) appendWarning(result *models.OrchestratorResult, warning string) {
	o.mu.Lock()
	result.Warnings = append(result.Warnings, warning)
	result.UpdatedAt = time.Now().UTC()
	o.mu.Unlock()
}

func (o *Orchestrator) complete(ctx context.Context, result *models.OrchestratorResult) *models.OrchestratorResult {
	if !o.transition(result, models.PipelineCompleted) {
		return result
	}

	o.emit(ctx, result.RequestID, events.RequestCompleted{
		BaseEvent: events.NewBaseEvent(events.RequestCompletedEvent, result.RequestID, result.ContextID),
		State:     models.PipelineCompleted,
		Duration:  time.Since(result.CreatedAt),
	})

	return result
}

func (o *Orchestrator) cancelled(ctx context.Context, result *models.OrchestratorResult) *models.OrchestratorResult {
	if !o.transition(result, models.PipelineCancelled) {
		return result
	}

	o.emit(ctx, result.RequestID, events.RequestCancelled{
		BaseEvent: events.NewBaseEvent(events.RequestCancelledEvent, result.RequestID, result.ContextID),
	})

	return result
}

func (o *Orchestrator) fail(ctx context.Context, result *models.OrchestratorResult, perr *PipelineError) *models.OrchestratorResult {
	o.mu.Lock()

	if result.Terminal() {
		o.mu.Unlock()

		return result
	}

	result.State = models.PipelineFailed
	result.Errors = append(result.Errors, perr.Error())
	result.UpdatedAt = time.Now().UTC()
	o.mu.Unlock()

	o.logger.Error("Pipeline failed", "request_id", result.RequestID, "error", perr)

	o.emit(ctx, result.RequestID, events.RequestFailed{
		BaseEvent: events.NewBaseEvent(events.RequestFailedEvent, result.RequestID, result.ContextID),
		Error:     perr.Error(),
		Duration:  time.Since(result.CreatedAt),
	})

	return result
}

// recoverPanic converts a panic anywhere in the pipeline into an
// ORCHESTRATION_ERROR terminal failure.
func (o *Orchestrator) recoverPanic(ctx context.Context, result *models.OrchestratorResult) {
	if r := recover(); r != nil {
		o.fail(ctx, result, &PipelineError{Code: CodeOrchestration, Message: fmt.Sprintf("panic: %v", r)})
	}
}

func (o *Orchestrator) emit(ctx context.Context, requestID string, event eventbus.Event) {
	o.listeners.fire(event)

	if o.bus == nil {
		return
	}

	if err := o.bus.Publish(ctx, requestID, event); err != nil {
		o.logger.Warn("Failed to publish pipeline event",
			"event", event.GetType(), "error", err)
	}
}

func snapshot(result *models.OrchestratorResult) *models.OrchestratorResult {
	out := *result
	out.Errors = append([]string(nil), result.Errors...)
	out.Warnings = append([]string(nil), result.Warnings...)

	return &out
}
