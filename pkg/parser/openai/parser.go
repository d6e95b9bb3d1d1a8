// Package openai implements the natural-language parser on the OpenAI
// Responses API. The model receives the instruction plus a summary of the
// execution context and must answer with a JSON document matching
// models.ParsingResult.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/voyagent/voyagent/pkg/models"
	"github.com/voyagent/voyagent/pkg/protocol"
)

var (
	DefaultModel     = openai.ChatModelGPT4o
	DefaultMaxTokens = 2048
)

const systemPrompt = `You translate a user's natural-language instruction for a web page into a JSON command batch.

Answer with a single JSON object and nothing else:
{
  "commands": [ { "type": "<navigate|click|fill|submit|extract|wait|screenshot>", ... } ],
  "warnings": [ "<string>" ],
  "requires_clarification": <bool>
}

Each command carries exactly one parameter object named after its type:
- navigate:   {"url": "<absolute url>"}
- click:      {"selector": "<css selector>", "button": "<left|right|middle, optional>"}
- fill:       {"selector": "<css selector>", "value": "<text>"}
- submit:     {"selector": "<css selector>"}
- extract:    {"selector": "<css selector>", "attribute": "<optional>", "multiple": <bool>}
- wait:       {"duration_ms": <int>}
- screenshot: {"full_page": <bool>}

Example: {"commands":[{"type":"navigate","navigate":{"url":"https://example.com"}}],"warnings":[],"requires_clarification":false}

Set requires_clarification to true and emit no commands when the instruction is ambiguous or incomplete. Use warnings for anything the user should know about your interpretation.`

var _ protocol.Parser = &Parser{}

// Parser turns free text into structured commands via an OpenAI model.
type Parser struct {
	client    openai.Client
	model     openai.ChatModel
	maxTokens int
	logger    *slog.Logger
	options   []option.RequestOption
}

// Option is a function that configures the Parser.
type Option func(*Parser)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(apiKey string) Option {
	return func(p *Parser) {
		p.options = append(p.options, option.WithAPIKey(apiKey))
	}
}

// WithEndpoint sets the API endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Parser) {
		p.options = append(p.options, option.WithBaseURL(endpoint))
	}
}

// WithModel sets the model used for parsing.
func WithModel(model openai.ChatModel) Option {
	return func(p *Parser) {
		p.model = model
	}
}

// WithMaxTokens caps the model's output size.
func WithMaxTokens(maxTokens int) Option {
	return func(p *Parser) {
		p.maxTokens = maxTokens
	}
}

// WithLogger sets the logger for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) {
		p.logger = logger.With("module", "parser")
	}
}

func New(opts ...Option) *Parser {
	p := &Parser{
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.client = openai.NewClient(p.options...)

	return p
}

// Parse sends the instruction to the model and decodes its JSON answer.
func (p *Parser) Parse(ctx context.Context, text string, ectx *models.ExecutionContext) (*models.ParsingResult, error) {
	params := responses.ResponseNewParams{
		Model:           p.model,
		Instructions:    openai.String(systemPrompt),
		MaxOutputTokens: openai.Int(int64(p.maxTokens)),
		Temperature:     openai.Float(0),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(buildInput(text, ectx)),
		},
	}

	response, err := p.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("error making request: %w", err)
	}

	raw := outputText(response)
	if raw == "" {
		return nil, fmt.Errorf("model returned no text output")
	}

	var result models.ParsingResult
	if err := json.Unmarshal([]byte(stripFences(raw)), &result); err != nil {
		p.logger.Warn("Unparseable model output", "output", raw)

		return nil, fmt.Errorf("error decoding model output: %w", err)
	}

	return &result, nil
}

// buildInput prepends what the model needs to know about the session so
// relative instructions ("click the second link") can resolve.
func buildInput(text string, ectx *models.ExecutionContext) string {
	var b strings.Builder

	if ectx != nil {
		if ectx.CurrentURL != "" {
			fmt.Fprintf(&b, "Current page: %s\n", ectx.CurrentURL)
		}

		if len(ectx.KnownElements) > 0 {
			b.WriteString("Known elements: ")
			b.WriteString(strings.Join(ectx.KnownElements, ", "))
			b.WriteString("\n")
		}

		if n := len(ectx.History); n > 0 {
			last := ectx.History[n-1].Command
			fmt.Fprintf(&b, "Last command: %s %s\n", last.Type, last.Locator())
		}
	}

	b.WriteString("Instruction: ")
	b.WriteString(text)

	return b.String()
}

func outputText(response *responses.Response) string {
	var b strings.Builder

	for _, item := range response.Output {
		if item.Type != "message" {
			continue
		}

		for _, content := range item.Content {
			if content.Type == "output_text" {
				b.WriteString(content.Text)
			}
		}
	}

	return strings.TrimSpace(b.String())
}

// stripFences removes a markdown code fence the model may wrap around the
// JSON despite the instructions.
func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")

	return strings.TrimSpace(trimmed)
}
