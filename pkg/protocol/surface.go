package protocol

import (
	"context"
	"time"

	"github.com/voyagent/voyagent/pkg/models"
)

// Surface dispatches a single command to the target surface and waits for
// the correlated response. It is the sole channel the execution engine uses
// to effect real-world action.
//
// Dispatch must honor both the timeout and ctx cancellation, returning the
// success payload or an error. Responses are correlated by the command id
// echoed back by the surface.
type Surface interface {
	Dispatch(ctx context.Context, surfaceRef string, command *models.StructuredCommand, timeout time.Duration) (map[string]any, error)
}

// SurfaceFunc adapts a function to the Surface interface.
type SurfaceFunc func(ctx context.Context, surfaceRef string, command *models.StructuredCommand, timeout time.Duration) (map[string]any, error)

func (f SurfaceFunc) Dispatch(ctx context.Context, surfaceRef string, command *models.StructuredCommand, timeout time.Duration) (map[string]any, error) {
	return f(ctx, surfaceRef, command, timeout)
}
