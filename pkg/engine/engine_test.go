package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagent/voyagent/pkg/contextmanager"
	"github.com/voyagent/voyagent/pkg/eventbus"
	"github.com/voyagent/voyagent/pkg/events"
	"github.com/voyagent/voyagent/pkg/log"
	"github.com/voyagent/voyagent/pkg/models"
	"github.com/voyagent/voyagent/pkg/persistence"
	"github.com/voyagent/voyagent/pkg/protocol"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.data[key]
	if !ok {
		return nil, persistence.ErrKeyNotFound
	}

	return value, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value

	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)

	return nil
}

func (s *memoryStore) HealthCheck(_ context.Context) error { return nil }

func (s *memoryStore) Close(_ context.Context) error { return nil }

// recorder is a fake surface that records dispatches and answers from a
// per-command script.
type recorder struct {
	mu       sync.Mutex
	order    []string
	timeouts map[string]time.Duration
	calls    map[string]int
	fail     map[string]error
}

func newRecorder() *recorder {
	return &recorder{
		timeouts: make(map[string]time.Duration),
		calls:    make(map[string]int),
		fail:     make(map[string]error),
	}
}

func (f *recorder) Dispatch(_ context.Context, _ string, command *models.StructuredCommand, timeout time.Duration) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.order = append(f.order, command.ID)
	f.timeouts[command.ID] = timeout
	f.calls[command.ID]++

	if err, ok := f.fail[command.ID]; ok {
		return nil, err
	}

	return map[string]any{"ok": true}, nil
}

func (f *recorder) dispatched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.order...)
}

func testEngine(t *testing.T, cfg Config, surface protocol.Surface, opts ...Option) (*Engine, *contextmanager.Manager, string) {
	t.Helper()

	if cfg.TickInterval == 0 {
		cfg.TickInterval = 10 * time.Millisecond
	}

	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = time.Millisecond
	}

	contexts := contextmanager.NewManager(t.Context(), newMemoryStore(), log.WithModule("test"), contextmanager.Config{})
	ectx := contexts.CreateContext(t.Context(), "user-1", contextmanager.CreateOptions{SurfaceRef: "tab-1"})

	eng := NewEngine(cfg, surface, contexts, log.WithModule("test"), opts...)
	t.Cleanup(eng.Close)

	return eng, contexts, ectx.ID
}

func extractCmd(id string) *models.StructuredCommand {
	return &models.StructuredCommand{
		ID:      id,
		Type:    models.CommandExtract,
		Extract: &models.ExtractParams{Selector: "#" + id},
	}
}

func clickCmd(id string) *models.StructuredCommand {
	return &models.StructuredCommand{
		ID:    id,
		Type:  models.CommandClick,
		Click: &models.ClickParams{Selector: "#" + id},
	}
}

func TestExecute_ReadOnlyBatchCompletes(t *testing.T) {
	surface := newRecorder()
	eng, _, contextID := testEngine(t, Config{}, surface)

	result, err := eng.Execute(t.Context(), contextID,
		[]*models.StructuredCommand{extractCmd("a"), extractCmd("b"), extractCmd("c")},
		RequestOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.RequestStatusCompleted, result.Status)
	require.Len(t, result.Results, 3)

	for _, res := range result.Results {
		assert.Equal(t, models.CommandStatusCompleted, res.Status)
		assert.Equal(t, map[string]any{"ok": true}, res.Output)
		assert.Zero(t, res.RetryCount)
	}

	assert.ElementsMatch(t, []string{"a", "b", "c"}, surface.dispatched())
}

func TestExecute_ReadOnlyCommandsOverlap(t *testing.T) {
	started := make(chan string, 2)
	release := make(chan struct{})

	surface := protocol.SurfaceFunc(func(ctx context.Context, _ string, command *models.StructuredCommand, _ time.Duration) (map[string]any, error) {
		started <- command.ID

		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		return map[string]any{"ok": true}, nil
	})

	eng, _, contextID := testEngine(t, Config{}, surface)

	done := make(chan *models.ExecutionResult, 1)

	go func() {
		result, err := eng.Execute(context.Background(), contextID,
			[]*models.StructuredCommand{extractCmd("left"), extractCmd("right")},
			RequestOptions{})
		assert.NoError(t, err)
		done <- result
	}()

	// Neither dispatch is released until both are in flight; a sequential
	// run never produces the second dispatch while the first is blocked.
	for range 2 {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("second extract never dispatched while the first was blocked")
		}
	}

	close(release)

	result := <-done
	assert.Equal(t, models.RequestStatusCompleted, result.Status)
}

func TestExecute_MutatingBatchRunsInSubmissionOrder(t *testing.T) {
	surface := newRecorder()
	eng, _, contextID := testEngine(t, Config{}, surface)

	result, err := eng.Execute(t.Context(), contextID,
		[]*models.StructuredCommand{clickCmd("first"), clickCmd("second"), clickCmd("third")},
		RequestOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.RequestStatusCompleted, result.Status)
	assert.Equal(t, []string{"first", "second", "third"}, surface.dispatched())
}

func TestExecute_FailedIffAnyCommandFailed(t *testing.T) {
	surface := newRecorder()
	surface.fail["bad"] = errors.New("element not found")

	eng, _, contextID := testEngine(t, Config{}, surface)

	zero := 0
	result, err := eng.Execute(t.Context(), contextID,
		[]*models.StructuredCommand{extractCmd("good"), extractCmd("bad")},
		RequestOptions{MaxRetries: &zero})
	require.NoError(t, err)

	assert.Equal(t, models.RequestStatusFailed, result.Status)

	byID := make(map[string]*models.CommandResult)
	for _, res := range result.Results {
		byID[res.CommandID] = res
	}

	assert.Equal(t, models.CommandStatusCompleted, byID["good"].Status)
	assert.Equal(t, models.CommandStatusFailed, byID["bad"].Status)
	assert.Contains(t, byID["bad"].Error, "element not found")
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "bad")
}

func TestExecute_RetriesWithBoundedAttempts(t *testing.T) {
	surface := newRecorder()
	surface.fail["flaky"] = errors.New("timeout")

	retries := 2
	eng, _, contextID := testEngine(t, Config{MaxRetries: &retries}, surface)

	result, err := eng.Execute(t.Context(), contextID,
		[]*models.StructuredCommand{extractCmd("flaky")}, RequestOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.RequestStatusFailed, result.Status)
	assert.Equal(t, 2, result.Results[0].RetryCount)

	surface.mu.Lock()
	calls := surface.calls["flaky"]
	surface.mu.Unlock()

	assert.Equal(t, 3, calls, "one initial attempt plus two retries")
}

func TestExecute_ZeroValueConfigRetriesByDefault(t *testing.T) {
	surface := newRecorder()
	surface.fail["flaky"] = errors.New("timeout")

	eng, _, contextID := testEngine(t, Config{}, surface)

	result, err := eng.Execute(t.Context(), contextID,
		[]*models.StructuredCommand{extractCmd("flaky")}, RequestOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.RequestStatusFailed, result.Status)
	assert.Equal(t, DefaultMaxRetries, result.Results[0].RetryCount)

	surface.mu.Lock()
	calls := surface.calls["flaky"]
	surface.mu.Unlock()

	assert.Equal(t, DefaultMaxRetries+1, calls, "one initial attempt plus the default retries")
}

func TestExecute_EmptyBatch(t *testing.T) {
	eng, _, contextID := testEngine(t, Config{}, newRecorder())

	_, err := eng.Execute(t.Context(), contextID, nil, RequestOptions{})
	assert.ErrorIs(t, err, ErrNoCommands)
}

func TestExecute_MissingContext(t *testing.T) {
	surface := newRecorder()
	eng, _, _ := testEngine(t, Config{}, surface)

	result, err := eng.Execute(t.Context(), "ctx-missing",
		[]*models.StructuredCommand{extractCmd("a")}, RequestOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.RequestStatusFailed, result.Status)
	assert.Equal(t, models.CommandStatusSkipped, result.Results[0].Status)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "ctx-missing")
	assert.Empty(t, surface.dispatched(), "nothing must reach the surface")
}

func TestExecute_TimeoutResolution(t *testing.T) {
	surface := newRecorder()
	eng, _, contextID := testEngine(t, Config{DefaultTimeout: 30 * time.Second}, surface)

	override := extractCmd("override")
	override.Timeout = 5 * time.Second

	_, err := eng.Execute(t.Context(), contextID,
		[]*models.StructuredCommand{override, extractCmd("inherit")},
		RequestOptions{Timeout: 2 * time.Second})
	require.NoError(t, err)

	surface.mu.Lock()
	defer surface.mu.Unlock()

	assert.Equal(t, 5*time.Second, surface.timeouts["override"])
	assert.Equal(t, 2*time.Second, surface.timeouts["inherit"])
}

func TestExecute_OnlyCompletedCommandsEnterHistory(t *testing.T) {
	surface := newRecorder()
	surface.fail["broken"] = errors.New("nope")

	eng, contexts, contextID := testEngine(t, Config{}, surface)

	zero := 0
	_, err := eng.Execute(t.Context(), contextID,
		[]*models.StructuredCommand{clickCmd("kept"), clickCmd("broken")},
		RequestOptions{MaxRetries: &zero})
	require.NoError(t, err)

	ectx, ok := contexts.GetContext(t.Context(), contextID)
	require.True(t, ok)
	require.Len(t, ectx.History, 1)
	assert.Equal(t, "kept", ectx.History[0].Command.ID)
	assert.Equal(t, models.ContextStatusFailed, ectx.Status)
}

func TestExecute_PriorityOrdering(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	var mu sync.Mutex
	var order []string

	surface := protocol.SurfaceFunc(func(_ context.Context, _ string, command *models.StructuredCommand, _ time.Duration) (map[string]any, error) {
		if command.ID == "blocker" {
			close(started)
			<-release

			return map[string]any{}, nil
		}

		mu.Lock()
		order = append(order, command.ID)
		mu.Unlock()

		return map[string]any{}, nil
	})

	eng, _, contextID := testEngine(t, Config{MaxConcurrent: 1}, surface)

	var wg sync.WaitGroup
	run := func(id string, priority models.Priority) {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := eng.Execute(t.Context(), contextID,
				[]*models.StructuredCommand{extractCmd(id)},
				RequestOptions{Priority: priority})
			assert.NoError(t, err)
		}()
	}

	run("blocker", models.PriorityLow)
	<-started

	run("normal", models.PriorityNormal)
	run("critical", models.PriorityCritical)

	require.Eventually(t, func() bool {
		return len(eng.Queue()) == 2
	}, time.Second, time.Millisecond)

	queued := eng.Queue()
	assert.Equal(t, models.PriorityCritical, queued[0].Priority)
	assert.Equal(t, models.PriorityNormal, queued[1].Priority)

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []string{"critical", "normal"}, order)
}

func TestCancel_QueuedRequest(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	surface := protocol.SurfaceFunc(func(_ context.Context, _ string, command *models.StructuredCommand, _ time.Duration) (map[string]any, error) {
		if command.ID == "blocker" {
			close(started)
			<-release
		}

		return map[string]any{}, nil
	})

	eng, _, contextID := testEngine(t, Config{MaxConcurrent: 1}, surface)

	go func() {
		_, _ = eng.Execute(context.Background(), contextID,
			[]*models.StructuredCommand{extractCmd("blocker")}, RequestOptions{})
	}()
	<-started

	done := make(chan *models.ExecutionResult, 1)

	go func() {
		result, err := eng.Execute(context.Background(), contextID,
			[]*models.StructuredCommand{extractCmd("victim")},
			RequestOptions{RequestID: "req-victim"})
		assert.NoError(t, err)
		done <- result
	}()

	require.Eventually(t, func() bool {
		return len(eng.Queue()) == 1
	}, time.Second, time.Millisecond)

	require.True(t, eng.Cancel("req-victim"))

	result := <-done
	assert.Equal(t, models.RequestStatusCancelled, result.Status)
	assert.Equal(t, models.CommandStatusCancelled, result.Results[0].Status)

	// Cancelling again stays true; unknown ids report false.
	assert.True(t, eng.Cancel("req-victim"))
	assert.False(t, eng.Cancel("req-unknown"))

	close(release)
}

func TestCancel_ActiveRequestDiscardsInFlightResult(t *testing.T) {
	inFlight := make(chan struct{})

	surface := protocol.SurfaceFunc(func(ctx context.Context, _ string, _ *models.StructuredCommand, _ time.Duration) (map[string]any, error) {
		close(inFlight)
		<-ctx.Done()

		return map[string]any{"late": true}, nil
	})

	eng, _, contextID := testEngine(t, Config{}, surface)

	done := make(chan *models.ExecutionResult, 1)

	go func() {
		result, err := eng.Execute(context.Background(), contextID,
			[]*models.StructuredCommand{extractCmd("slow")},
			RequestOptions{RequestID: "req-slow"})
		assert.NoError(t, err)
		done <- result
	}()
	<-inFlight

	require.True(t, eng.Cancel("req-slow"))

	result := <-done
	assert.Equal(t, models.RequestStatusCancelled, result.Status)
	assert.Equal(t, models.CommandStatusCancelled, result.Results[0].Status)
	assert.Nil(t, result.Results[0].Output, "in-flight output must be discarded")
}

func TestCancel_CompletedRequestReportsFalse(t *testing.T) {
	eng, _, contextID := testEngine(t, Config{}, newRecorder())

	_, err := eng.Execute(t.Context(), contextID,
		[]*models.StructuredCommand{extractCmd("a")},
		RequestOptions{RequestID: "req-done"})
	require.NoError(t, err)

	assert.False(t, eng.Cancel("req-done"))
}

func TestStatus_TracksLifecycle(t *testing.T) {
	inFlight := make(chan struct{})
	release := make(chan struct{})

	surface := protocol.SurfaceFunc(func(_ context.Context, _ string, _ *models.StructuredCommand, _ time.Duration) (map[string]any, error) {
		close(inFlight)
		<-release

		return map[string]any{}, nil
	})

	eng, _, contextID := testEngine(t, Config{}, surface)

	go func() {
		_, _ = eng.Execute(context.Background(), contextID,
			[]*models.StructuredCommand{extractCmd("a")},
			RequestOptions{RequestID: "req-1"})
	}()
	<-inFlight

	result, ok := eng.Status("req-1")
	require.True(t, ok)
	assert.Equal(t, models.RequestStatusRunning, result.Status)
	assert.Contains(t, eng.ActiveRequests(), "req-1")

	close(release)

	require.Eventually(t, func() bool {
		result, ok := eng.Status("req-1")

		return ok && result.Status == models.RequestStatusCompleted
	}, time.Second, time.Millisecond)

	assert.Empty(t, eng.ActiveRequests())

	_, ok = eng.Status("req-unknown")
	assert.False(t, ok)
}

func TestObserver_SeesLifecycleEvents(t *testing.T) {
	eng, _, contextID := testEngine(t, Config{}, newRecorder())

	var mu sync.Mutex
	var seen []events.EventType

	eng.SetObserver(func(event eventbus.Event) {
		mu.Lock()
		seen = append(seen, event.GetType())
		mu.Unlock()
	})

	_, err := eng.Execute(t.Context(), contextID,
		[]*models.StructuredCommand{extractCmd("a")}, RequestOptions{})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []events.EventType{
		events.ExecutionStartedEvent,
		events.CommandFinishedEvent,
		events.ExecutionCompletedEvent,
	}, seen)
}
