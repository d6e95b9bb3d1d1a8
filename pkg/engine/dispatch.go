package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/voyagent/voyagent/pkg/contextmanager"
	"github.com/voyagent/voyagent/pkg/eventbus"
	"github.com/voyagent/voyagent/pkg/events"
	"github.com/voyagent/voyagent/pkg/models"
	"github.com/voyagent/voyagent/pkg/tracer"
)

// run executes one request to its terminal state.
func (e *Engine) run(r *request) {
	defer e.wg.Done()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.mu.Lock()
	r.cancel = cancel
	r.result.Status = models.RequestStatusRunning

	now := time.Now().UTC()
	r.result.StartedAt = &now
	r.mu.Unlock()

	logger := e.logger.With("request_id", r.req.ID, "context_id", r.req.ContextID)

	ectx, ok := e.contexts.GetContext(runCtx, r.req.ContextID)
	if !ok {
		logger.Error("Execution context not found or expired")

		r.mu.Lock()
		for _, res := range r.result.Results {
			res.Status = models.CommandStatusSkipped
		}

		r.result.Errors = append(r.result.Errors,
			fmt.Sprintf("execution context %s not found or expired", r.req.ContextID))
		r.mu.Unlock()

		e.finalize(runCtx, r, models.RequestStatusFailed)

		return
	}

	running := models.ContextStatusRunning
	e.contexts.UpdateContext(runCtx, r.req.ContextID, contextmanager.Update{Status: &running})

	sequential := anyMutating(r.req.Commands)

	logger.Info("Starting request execution",
		"sequential", sequential, "commands", len(r.req.Commands))

	e.publish(runCtx, r.req.ID, events.ExecutionStarted{
		BaseEvent:    events.NewBaseEvent(events.ExecutionStartedEvent, r.req.ID, r.req.ContextID),
		CommandCount: len(r.req.Commands),
		Priority:     r.req.Priority,
		Sequential:   sequential,
	})

	if sequential {
		e.runSequential(runCtx, r, ectx.SurfaceRef)
	} else {
		e.runParallel(runCtx, r, ectx.SurfaceRef)
	}

	status := e.aggregateStatus(r)
	e.finalize(runCtx, r, status)
}

// runSequential executes commands strictly in submission order. A failed
// command does not block its successors; a cancellation marks every
// remaining command cancelled.
func (e *Engine) runSequential(ctx context.Context, r *request, surfaceRef string) {
	for i, command := range r.req.Commands {
		if r.cancelled.Load() {
			r.mu.Lock()
			for _, res := range r.result.Results[i:] {
				if res.Status == models.CommandStatusPending {
					res.Status = models.CommandStatusCancelled
				}
			}
			r.mu.Unlock()

			return
		}

		e.runCommand(ctx, r, i, command, surfaceRef)
	}
}

// runParallel executes read-only commands concurrently; completion order may
// differ from submission order.
func (e *Engine) runParallel(ctx context.Context, r *request, surfaceRef string) {
	var wg sync.WaitGroup

	for i, command := range r.req.Commands {
		wg.Add(1)

		go func(i int, command *models.StructuredCommand) {
			defer wg.Done()
			e.runCommand(ctx, r, i, command, surfaceRef)
		}(i, command)
	}

	wg.Wait()
}

// runCommand dispatches a single command with a bounded retry loop and
// linearly increasing backoff between attempts.
func (e *Engine) runCommand(ctx context.Context, r *request, index int, command *models.StructuredCommand, surfaceRef string) {
	res := r.result.Results[index]

	r.mu.Lock()
	res.Status = models.CommandStatusRunning

	started := time.Now().UTC()
	res.StartedAt = &started
	r.mu.Unlock()

	timeout := e.commandTimeout(r.req, command)
	maxRetries := *e.cfg.MaxRetries

	if r.req.MaxRetries != nil {
		maxRetries = *r.req.MaxRetries
	}

	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			r.mu.Lock()
			res.RetryCount = attempt
			r.mu.Unlock()

			select {
			case <-ctx.Done():
			case <-time.After(e.cfg.RetryBaseDelay * time.Duration(attempt)):
			}
		}

		if r.cancelled.Load() {
			e.finishCommand(ctx, r, res, command, models.CommandStatusCancelled, nil, nil)

			return
		}

		output, err := e.dispatch(ctx, surfaceRef, command, timeout)

		// A cancelled request's in-flight dispatch is allowed to finish,
		// but its result is discarded.
		if r.cancelled.Load() {
			e.finishCommand(ctx, r, res, command, models.CommandStatusCancelled, nil, nil)

			return
		}

		if err == nil {
			e.finishCommand(ctx, r, res, command, models.CommandStatusCompleted, output, nil)

			return
		}

		lastErr = err

		e.logger.Warn("Command dispatch failed",
			"request_id", r.req.ID,
			"command_id", command.ID,
			"command", command.Type,
			"attempt", attempt,
			"error", err)
	}

	e.finishCommand(ctx, r, res, command, models.CommandStatusFailed, nil, lastErr)
}

// dispatch sends the command to the target surface, wrapped in a trace span
// when a tracer is configured.
func (e *Engine) dispatch(ctx context.Context, surfaceRef string, command *models.StructuredCommand, timeout time.Duration) (map[string]any, error) {
	if e.tracer == nil {
		return e.surface.Dispatch(ctx, surfaceRef, command, timeout)
	}

	ctx, span := tracer.StartSpan(ctx, e.tracer, "surface.dispatch",
		attribute.String(tracer.CommandIDKey, command.ID),
		attribute.String(tracer.CommandTypeKey, string(command.Type)),
		attribute.String(tracer.SurfaceRefKey, surfaceRef),
	)
	defer span.End()

	output, err := e.surface.Dispatch(ctx, surfaceRef, command, timeout)
	if err != nil {
		tracer.SetError(span, err,
			attribute.String(tracer.CommandIDKey, command.ID))
	}

	return output, err
}

func (e *Engine) finishCommand(ctx context.Context, r *request, res *models.CommandResult, command *models.StructuredCommand, status models.CommandStatus, output map[string]any, err error) {
	r.mu.Lock()
	res.Status = status

	finished := time.Now().UTC()
	res.FinishedAt = &finished
	res.Output = output

	if err != nil {
		res.Error = err.Error()
		r.result.Errors = append(r.result.Errors,
			fmt.Sprintf("command %s (%s): %v", command.ID, command.Type, err))
	}

	retries := res.RetryCount

	var durationMs int64
	if res.StartedAt != nil {
		durationMs = finished.Sub(*res.StartedAt).Milliseconds()
	}
	r.mu.Unlock()

	e.publish(ctx, r.req.ID, events.CommandFinished{
		BaseEvent:  events.NewBaseEvent(events.CommandFinishedEvent, r.req.ID, r.req.ContextID),
		CommandID:  command.ID,
		Command:    command.Type,
		Status:     status,
		RetryCount: retries,
		DurationMs: durationMs,
	})
}

// aggregateStatus derives the request's terminal status from its command
// results: cancelled wins, otherwise failed iff any command failed.
func (e *Engine) aggregateStatus(r *request) models.RequestStatus {
	if r.cancelled.Load() {
		return models.RequestStatusCancelled
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, res := range r.result.Results {
		if res.Status == models.CommandStatusFailed {
			return models.RequestStatusFailed
		}
	}

	return models.RequestStatusCompleted
}

// finalize moves the request out of the active table, records the terminal
// result, updates the owning context, and signals waiting callers.
func (e *Engine) finalize(ctx context.Context, r *request, status models.RequestStatus) {
	r.mu.Lock()
	r.result.Status = status

	finished := time.Now().UTC()
	r.result.FinishedAt = &finished

	var started time.Time
	if r.result.StartedAt != nil {
		started = *r.result.StartedAt
	}

	completed := make([]*models.StructuredCommand, 0, len(r.req.Commands))

	for i, res := range r.result.Results {
		if res.Status == models.CommandStatusCompleted {
			completed = append(completed, r.req.Commands[i])
		}
	}

	errs := append([]string(nil), r.result.Errors...)
	r.mu.Unlock()

	ctxStatus := models.ContextStatusCompleted
	if status == models.RequestStatusFailed {
		ctxStatus = models.ContextStatusFailed
	}

	e.contexts.UpdateContext(ctx, r.req.ContextID, contextmanager.Update{Status: &ctxStatus})

	for _, command := range completed {
		e.contexts.AddCommandToHistory(ctx, r.req.ContextID, *command)
	}

	e.mu.Lock()
	delete(e.active, r.req.ID)
	e.results[r.req.ID] = r
	e.mu.Unlock()

	duration := finished.Sub(started)

	// The terminal event goes out before waiters are released so callers
	// returning from Execute observe a fully published lifecycle.
	switch status {
	case models.RequestStatusFailed:
		e.publish(ctx, r.req.ID, events.ExecutionFailed{
			BaseEvent: events.NewBaseEvent(events.ExecutionFailedEvent, r.req.ID, r.req.ContextID),
			Errors:    errs,
			Duration:  duration,
		})
	case models.RequestStatusCancelled:
		e.publish(ctx, r.req.ID, events.ExecutionCancelled{
			BaseEvent: events.NewBaseEvent(events.ExecutionCancelledEvent, r.req.ID, r.req.ContextID),
		})
	default:
		e.publish(ctx, r.req.ID, events.ExecutionCompleted{
			BaseEvent: events.NewBaseEvent(events.ExecutionCompletedEvent, r.req.ID, r.req.ContextID),
			Duration:  duration,
		})
	}

	close(r.done)
	e.signal()

	e.logger.Info("Request execution finished",
		"request_id", r.req.ID, "status", status, "duration", duration)
}

// commandTimeout resolves the dispatch timeout: command override, else
// request override, else engine default.
func (e *Engine) commandTimeout(req *models.ExecutionRequest, command *models.StructuredCommand) time.Duration {
	if command.Timeout > 0 {
		return command.Timeout
	}

	if req.Timeout > 0 {
		return req.Timeout
	}

	return e.cfg.DefaultTimeout
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.observer != nil {
		e.observer(event)
	}

	if e.bus == nil {
		return
	}

	if err := e.bus.Publish(ctx, key, event); err != nil {
		e.logger.Warn("Failed to publish execution event",
			"event", event.GetType(), "error", err)
	}
}

func anyMutating(commands []*models.StructuredCommand) bool {
	for _, command := range commands {
		if command.Type.Mutating() {
			return true
		}
	}

	return false
}
