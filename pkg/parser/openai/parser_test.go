package openai

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagent/voyagent/pkg/models"
)

// fakeModel serves the Responses API shape with a canned output text and
// records the last request body.
type fakeModel struct {
	output   string
	lastBody []byte
}

func newFakeModel(output string) *fakeModel {
	return &fakeModel{output: output}
}

func (f *fakeModel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.lastBody, _ = io.ReadAll(r.Body)

	text, _ := json.Marshal(f.output)

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{
		"id": "resp_1",
		"object": "response",
		"status": "completed",
		"output": [{
			"type": "message",
			"id": "msg_1",
			"role": "assistant",
			"status": "completed",
			"content": [{"type": "output_text", "text": %s, "annotations": []}]
		}]
	}`, text)
}

func testParser(t *testing.T, model *fakeModel) *Parser {
	t.Helper()

	server := httptest.NewServer(model)
	t.Cleanup(server.Close)

	return New(
		WithAPIKey("test-key"),
		WithEndpoint(server.URL+"/"),
		WithMaxTokens(512),
	)
}

func TestParse(t *testing.T) {
	model := newFakeModel(`{"commands":[{"type":"navigate","navigate":{"url":"https://example.com"}},{"type":"extract","extract":{"selector":"#title"}}],"warnings":["interpreted loosely"],"requires_clarification":false}`)
	parser := testParser(t, model)

	result, err := parser.Parse(t.Context(), "open example.com and read the title", nil)
	require.NoError(t, err)

	require.Len(t, result.Commands, 2)
	assert.Equal(t, models.CommandNavigate, result.Commands[0].Type)
	require.NotNil(t, result.Commands[0].Navigate)
	assert.Equal(t, "https://example.com", result.Commands[0].Navigate.URL)
	assert.Equal(t, models.CommandExtract, result.Commands[1].Type)
	assert.Equal(t, []string{"interpreted loosely"}, result.Warnings)
	assert.False(t, result.RequiresClarification)

	assert.Contains(t, string(model.lastBody), "Instruction: open example.com and read the title")
}

func TestParse_FencedOutput(t *testing.T) {
	model := newFakeModel("```json\n{\"commands\":[{\"type\":\"screenshot\",\"screenshot\":{\"full_page\":true}}],\"requires_clarification\":false}\n```")
	parser := testParser(t, model)

	result, err := parser.Parse(t.Context(), "take a screenshot", nil)
	require.NoError(t, err)

	require.Len(t, result.Commands, 1)
	assert.Equal(t, models.CommandScreenshot, result.Commands[0].Type)
}

func TestParse_ContextInPrompt(t *testing.T) {
	model := newFakeModel(`{"commands":[],"requires_clarification":true}`)
	parser := testParser(t, model)

	ectx := &models.ExecutionContext{
		CurrentURL:    "https://example.com/cart",
		KnownElements: []string{"#checkout", "#coupon"},
		History: []models.HistoryEntry{{
			Command: models.StructuredCommand{
				Type:  models.CommandClick,
				Click: &models.ClickParams{Selector: "#add-to-cart"},
			},
			ExecutedAt: time.Now().UTC(),
		}},
	}

	result, err := parser.Parse(t.Context(), "check out", ectx)
	require.NoError(t, err)
	assert.True(t, result.RequiresClarification)

	body := string(model.lastBody)
	assert.Contains(t, body, "Current page: https://example.com/cart")
	assert.Contains(t, body, "Known elements: #checkout, #coupon")
	assert.Contains(t, body, "Last command: click #add-to-cart")
}

func TestParse_UndecodableOutput(t *testing.T) {
	model := newFakeModel("I cannot help with that.")
	parser := testParser(t, model)

	_, err := parser.Parse(t.Context(), "do something", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding model output")
}

func TestParse_EmptyOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"resp_1","object":"response","status":"completed","output":[]}`)
	}))
	t.Cleanup(server.Close)

	parser := New(WithAPIKey("test-key"), WithEndpoint(server.URL+"/"))

	_, err := parser.Parse(t.Context(), "do something", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no text output")
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences(`{"a":1}`))
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}\n```"))
}
