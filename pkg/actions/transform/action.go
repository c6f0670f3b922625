// Package transform provides the built-in transform action, which projects
// fields out of the execution context into a new object.
package transform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kazihq/zapflow/pkg/models"
	"github.com/kazihq/zapflow/pkg/registry"
)

// ActionFactory builds TransformAction instances.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "transform"
}

func (*ActionFactory) Create(config map[string]any) (registry.Action, error) {
	rawMapping, _ := config["mapping"].(map[string]any)

	mapping := make(map[string]string, len(rawMapping))

	for key, value := range rawMapping {
		path, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("mapping value for %q must be a string path, got %T", key, value)
		}

		mapping[key] = path
	}

	strict, _ := config["strict"].(bool)

	return &TransformAction{Mapping: mapping, Strict: strict}, nil
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"mapping": map[string]any{
				"type":        "object",
				"description": "Output keys mapped to dot-notation paths into the execution context.",
				"additionalProperties": map[string]any{
					"type": "string",
				},
				"examples": []any{
					map[string]any{
						"email":    "input.user.email",
						"total":    "step_results.fetch_order.total",
						"campaign": "variables.campaign",
					},
				},
			},
			"strict": map[string]any{
				"type":        "boolean",
				"description": "Fail when a mapped path is missing instead of omitting the key.",
				"default":     false,
			},
		},
		"required": []string{"mapping"},
	}
}

// TransformAction resolves each mapped path against the execution context and
// returns the projected object.
type TransformAction struct {
	Mapping map[string]string
	Strict  bool
}

func (a *TransformAction) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("action_type", "transform", "task_id", executionCtx.TaskID)
	logger.DebugContext(ctx, "Executing transform action", "fields", len(a.Mapping))

	source := map[string]any{
		"input":        executionCtx.Input,
		"variables":    executionCtx.Variables,
		"step_results": executionCtx.StepResults,
	}

	result := make(map[string]any, len(a.Mapping))

	for key, path := range a.Mapping {
		value, found := models.Lookup(source, path)
		if !found {
			if a.Strict {
				return nil, fmt.Errorf("path %q not found in execution context", path)
			}

			continue
		}

		result[key] = value
	}

	return result, nil
}
