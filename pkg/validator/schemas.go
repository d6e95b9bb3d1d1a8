package validator

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/voyagent/voyagent/pkg/models"
)

// commandSchemas holds the compiled JSON Schema for each command type's
// parameter variant. Compiled once at package load; the schema definitions
// are part of the validator's fixed rule tables.
var commandSchemas = mustCompileSchemas(map[models.CommandType]map[string]any{
	models.CommandNavigate: {
		"type":                 "object",
		"required":             []any{"url"},
		"additionalProperties": false,
		"properties": map[string]any{
			"url": map[string]any{"type": "string", "minLength": 1},
		},
	},
	models.CommandClick: {
		"type":                 "object",
		"required":             []any{"selector"},
		"additionalProperties": false,
		"properties": map[string]any{
			"selector": map[string]any{"type": "string", "minLength": 1},
			"button":   map[string]any{"type": "string", "enum": []any{"left", "middle", "right"}},
		},
	},
	models.CommandFill: {
		"type":                 "object",
		"required":             []any{"selector", "value"},
		"additionalProperties": false,
		"properties": map[string]any{
			"selector": map[string]any{"type": "string", "minLength": 1},
			"value":    map[string]any{"type": "string", "minLength": 1},
		},
	},
	models.CommandSubmit: {
		"type":                 "object",
		"required":             []any{"selector"},
		"additionalProperties": false,
		"properties": map[string]any{
			"selector": map[string]any{"type": "string", "minLength": 1},
		},
	},
	models.CommandExtract: {
		"type":                 "object",
		"required":             []any{"selector"},
		"additionalProperties": false,
		"properties": map[string]any{
			"selector":  map[string]any{"type": "string", "minLength": 1},
			"attribute": map[string]any{"type": "string"},
			"multiple":  map[string]any{"type": "boolean"},
		},
	},
	models.CommandWait: {
		"type":                 "object",
		"required":             []any{"duration_ms"},
		"additionalProperties": false,
		"properties": map[string]any{
			"duration_ms": map[string]any{"type": "integer"},
		},
	},
	models.CommandScreenshot: {
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"full_page": map[string]any{"type": "boolean"},
		},
	},
})

func mustCompileSchemas(definitions map[models.CommandType]map[string]any) map[models.CommandType]*gojsonschema.Schema {
	compiled := make(map[models.CommandType]*gojsonschema.Schema, len(definitions))

	for commandType, definition := range definitions {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(definition))
		if err != nil {
			panic(fmt.Sprintf("invalid schema for command type %s: %v", commandType, err))
		}

		compiled[commandType] = schema
	}

	return compiled
}

// validateSchema checks the command's parameter variant against its type's
// schema and returns the list of violations.
func validateSchema(command *models.StructuredCommand) []string {
	schema, ok := commandSchemas[command.Type]
	if !ok {
		return []string{fmt.Sprintf("unknown command type %q", command.Type)}
	}

	params := commandParams(command)
	if params == nil {
		return nil
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return []string{fmt.Sprintf("parameters are not serializable: %v", err)}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return []string{fmt.Sprintf("schema validation failed: %v", err)}
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		issues = append(issues, desc.String())
	}

	return issues
}

func commandParams(command *models.StructuredCommand) any {
	switch command.Type {
	case models.CommandNavigate:
		return command.Navigate
	case models.CommandClick:
		return command.Click
	case models.CommandFill:
		return command.Fill
	case models.CommandSubmit:
		return command.Submit
	case models.CommandExtract:
		return command.Extract
	case models.CommandWait:
		return command.Wait
	case models.CommandScreenshot:
		return command.Screenshot
	default:
		return nil
	}
}
