// Package engine implements the priority-ordered, concurrency-bounded
// execution queue that drives command batches against a target surface.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/voyagent/voyagent/pkg/contextmanager"
	"github.com/voyagent/voyagent/pkg/eventbus"
	"github.com/voyagent/voyagent/pkg/events"
	"github.com/voyagent/voyagent/pkg/models"
	"github.com/voyagent/voyagent/pkg/protocol"
)

const (
	DefaultMaxConcurrent  = 4
	DefaultTimeout        = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = 500 * time.Millisecond
	DefaultTickInterval   = time.Second
)

// ErrNoCommands indicates an empty batch was submitted.
var ErrNoCommands = errors.New("no commands to execute")

// Config bounds the engine's concurrency and retry behavior. MaxRetries is a
// pointer so an explicit zero (never retry) is distinguishable from unset.
type Config struct {
	MaxConcurrent  int
	DefaultTimeout time.Duration
	MaxRetries     *int
	RetryBaseDelay time.Duration
	TickInterval   time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}

	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}

	if c.MaxRetries == nil || *c.MaxRetries < 0 {
		retries := DefaultMaxRetries
		c.MaxRetries = &retries
	}

	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}

	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
}

// request is the engine's internal view of one queued batch.
type request struct {
	req    *models.ExecutionRequest
	result *models.ExecutionResult

	mu        sync.Mutex // guards result mutation
	done      chan struct{}
	cancelled atomic.Bool
	cancel    context.CancelFunc
}

// Engine is the execution engine. Incoming requests queue by priority
// (critical > high > normal > low, FIFO within a band); a dispatcher
// goroutine starts them while the count of running requests stays under the
// concurrency ceiling.
type Engine struct {
	cfg      Config
	surface  protocol.Surface
	contexts *contextmanager.Manager
	bus      eventbus.EventPublisher // optional
	observer func(event eventbus.Event)
	tracer   trace.Tracer // optional
	logger   *slog.Logger

	mu      sync.Mutex
	queue   []*request
	active  map[string]*request
	results map[string]*request

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithEventBus publishes execution lifecycle events to the bus.
func WithEventBus(bus eventbus.EventPublisher) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

// WithTracer traces per-command dispatches.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// SetObserver registers a synchronous callback invoked for every execution
// event, in addition to the event bus. Register before the first Execute; the
// callback runs on dispatcher goroutines and must not block.
func (e *Engine) SetObserver(fn func(event eventbus.Event)) {
	e.observer = fn
}

// NewEngine creates and starts an engine. Close releases the dispatcher.
func NewEngine(cfg Config, surface protocol.Surface, contexts *contextmanager.Manager, logger *slog.Logger, opts ...Option) *Engine {
	cfg.applyDefaults()

	e := &Engine{
		cfg:      cfg,
		surface:  surface,
		contexts: contexts,
		logger:   logger.With("module", "engine"),
		active:   make(map[string]*request),
		results:  make(map[string]*request),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.wg.Add(1)
	go e.loop()

	return e
}

// Close stops the dispatcher. In-flight requests finish; queued requests
// stay queued and are never started.
func (e *Engine) Close() {
	close(e.stop)
	e.wg.Wait()
}

// RequestOptions carries per-request overrides.
type RequestOptions struct {
	// RequestID, when set, is used instead of a generated id so callers can
	// correlate and cancel the request under their own identifier.
	RequestID  string
	Priority   models.Priority
	Timeout    time.Duration
	MaxRetries *int
}

// Execute enqueues the batch and blocks until its result reaches a terminal
// status or ctx is done. The engine applies no deadline of its own to this
// wait; callers bound it through ctx.
func (e *Engine) Execute(ctx context.Context, contextID string, commands []*models.StructuredCommand, opts RequestOptions) (*models.ExecutionResult, error) {
	if len(commands) == 0 {
		return nil, ErrNoCommands
	}

	if opts.Priority == "" {
		opts.Priority = models.PriorityNormal
	}

	r := e.newRequest(contextID, commands, opts)

	e.mu.Lock()
	e.enqueueLocked(r)
	e.mu.Unlock()

	e.signal()

	e.logger.InfoContext(ctx, "Enqueued execution request",
		"request_id", r.req.ID,
		"context_id", contextID,
		"priority", opts.Priority,
		"commands", len(commands))

	select {
	case <-r.done:
		return r.snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel marks the request and any still-running commands as cancelled.
// Idempotent for already-cancelled requests; returns false for unknown
// requests and for requests that already completed normally.
func (e *Engine) Cancel(requestID string) bool {
	e.mu.Lock()

	for i, r := range e.queue {
		if r.req.ID != requestID {
			continue
		}

		e.queue = append(e.queue[:i], e.queue[i+1:]...)
		e.results[requestID] = r
		e.mu.Unlock()

		r.cancelled.Store(true)
		r.mu.Lock()
		r.result.Status = models.RequestStatusCancelled

		now := time.Now().UTC()
		r.result.FinishedAt = &now

		for _, res := range r.result.Results {
			res.Status = models.CommandStatusCancelled
		}
		r.mu.Unlock()

		e.publish(context.Background(), r.req.ID, events.ExecutionCancelled{
			BaseEvent: events.NewBaseEvent(events.ExecutionCancelledEvent, r.req.ID, r.req.ContextID),
		})
		close(r.done)

		return true
	}

	if r, ok := e.active[requestID]; ok {
		e.mu.Unlock()

		r.cancelled.Store(true)

		r.mu.Lock()
		if r.cancel != nil {
			r.cancel()
		}
		r.mu.Unlock()

		return true
	}

	r, ok := e.results[requestID]
	e.mu.Unlock()

	if !ok {
		return false
	}

	return r.snapshot().Status == models.RequestStatusCancelled
}

// Status returns a copy of the request's current result.
func (e *Engine) Status(requestID string) (*models.ExecutionResult, bool) {
	e.mu.Lock()

	r, ok := e.active[requestID]
	if !ok {
		r, ok = e.results[requestID]
	}

	if !ok {
		for _, queued := range e.queue {
			if queued.req.ID == requestID {
				r, ok = queued, true

				break
			}
		}
	}

	e.mu.Unlock()

	if !ok {
		return nil, false
	}

	return r.snapshot(), true
}

// ActiveRequests returns the ids of currently running requests.
func (e *Engine) ActiveRequests() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}

	return ids
}

// Queue returns a snapshot of queued, not-yet-started requests in dispatch
// order.
func (e *Engine) Queue() []*models.ExecutionRequest {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := make([]*models.ExecutionRequest, 0, len(e.queue))
	for _, r := range e.queue {
		req := *r.req
		snapshot = append(snapshot, &req)
	}

	return snapshot
}

func (e *Engine) newRequest(contextID string, commands []*models.StructuredCommand, opts RequestOptions) *request {
	requestID := opts.RequestID
	if requestID == "" {
		requestID = "req-" + uuid.New().String()
	}

	req := &models.ExecutionRequest{
		ID:         requestID,
		ContextID:  contextID,
		Commands:   commands,
		Priority:   opts.Priority,
		Timeout:    opts.Timeout,
		MaxRetries: opts.MaxRetries,
		EnqueuedAt: time.Now().UTC(),
	}

	results := make([]*models.CommandResult, 0, len(commands))

	for _, command := range commands {
		if command.ID == "" {
			command.ID = "cmd-" + uuid.New().String()
		}

		results = append(results, &models.CommandResult{
			CommandID: command.ID,
			Type:      command.Type,
			Status:    models.CommandStatusPending,
		})
	}

	return &request{
		req: req,
		result: &models.ExecutionResult{
			RequestID: req.ID,
			ContextID: contextID,
			Status:    models.RequestStatusPending,
			Results:   results,
		},
		done: make(chan struct{}),
	}
}

// enqueueLocked inserts the request after all entries of equal or higher
// priority, keeping the queue priority-sorted and FIFO within a band.
func (e *Engine) enqueueLocked(r *request) {
	rank := r.req.Priority.Rank()
	insert := len(e.queue)

	for i, queued := range e.queue {
		if queued.req.Priority.Rank() < rank {
			insert = i

			break
		}
	}

	e.queue = append(e.queue, nil)
	copy(e.queue[insert+1:], e.queue[insert:])
	e.queue[insert] = r
}

// signal wakes the dispatcher without blocking.
func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// loop drains the queue on wake-ups from enqueue plus a safety-net tick.
func (e *Engine) loop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-e.wake:
		case <-ticker.C:
		}

		e.dispatchReady()
	}
}

// dispatchReady starts queued requests while under the concurrency ceiling.
func (e *Engine) dispatchReady() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for len(e.active) < e.cfg.MaxConcurrent && len(e.queue) > 0 {
		r := e.queue[0]
		e.queue = e.queue[1:]
		e.active[r.req.ID] = r

		e.wg.Add(1)
		go e.run(r)
	}
}

// snapshot returns a deep copy of the request's result for external readers.
func (r *request) snapshot() *models.ExecutionResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := *r.result
	result.Results = make([]*models.CommandResult, 0, len(r.result.Results))

	for _, res := range r.result.Results {
		c := *res
		result.Results = append(result.Results, &c)
	}

	result.Errors = append([]string(nil), r.result.Errors...)

	return &result
}
