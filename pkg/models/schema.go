package models

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// workItemPayloadSchema constrains the open-map payload enqueued for a work
// item. The payload stays an open map for agent-specific data, but the fields
// the runtime itself reads must be well-typed.
var workItemPayloadSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"task_type": map[string]any{"type": "string"},
		"task_data": map[string]any{"type": "object"},
		"context": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"run_id":      map[string]any{"type": "string"},
				"node_id":     map[string]any{"type": "string"},
				"workflow_id": map[string]any{"type": "string"},
			},
		},
		"max_retries": map[string]any{"type": "integer", "minimum": 0},
	},
}

// ValidateWorkItemPayload checks a payload against the runtime's payload schema.
func ValidateWorkItemPayload(payload map[string]any) error {
	return validateAgainst(workItemPayloadSchema, payload)
}

func validateAgainst(schema, data map[string]any) error {
	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		descs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descs = append(descs, desc.String())
		}

		return fmt.Errorf("invalid payload: %s", strings.Join(descs, "; "))
	}

	return nil
}
