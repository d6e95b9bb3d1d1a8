// Package protocol defines the interfaces and contracts for the engine's
// external collaborators.
package protocol

import (
	"context"

	"github.com/voyagent/voyagent/pkg/models"
)

// Parser turns a natural-language instruction into structured commands.
// Implementations typically wrap an LLM client.
type Parser interface {
	Parse(ctx context.Context, text string, ectx *models.ExecutionContext) (*models.ParsingResult, error)
}
