// Package registry maps action types to their factories. Step kinds are a
// closed set dispatched in the executor; only the "action" kind is extensible
// through this registry.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kazihq/zapflow/pkg/models"
)

var (
	ErrActionNotRegistered = errors.New("action type not registered")
	ErrActionConfigInvalid = errors.New("action configuration is invalid")
)

func IsActionNotRegistered(err error) bool { return errors.Is(err, ErrActionNotRegistered) }

func IsActionConfigInvalid(err error) bool { return errors.Is(err, ErrActionConfigInvalid) }

// Action executes one action step.
type Action interface {
	Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error)
}

// ActionFactory builds actions of one type and describes their configuration.
type ActionFactory interface {
	ID() string
	Create(config map[string]any) (Action, error)
	// Schema returns the JSON schema the action configuration must satisfy.
	Schema() map[string]any
}

// Registry holds the registered action factories with their compiled
// configuration schemas.
type Registry struct {
	logger    *slog.Logger
	factories map[string]ActionFactory
	schemas   map[string]*gojsonschema.Schema
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		factories: make(map[string]ActionFactory),
		schemas:   make(map[string]*gojsonschema.Schema),
	}
}

// Register compiles the factory's configuration schema and adds the factory.
func (r *Registry) Register(factory ActionFactory) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(factory.Schema()))
	if err != nil {
		return fmt.Errorf("invalid schema for action type %q: %w", factory.ID(), err)
	}

	r.factories[factory.ID()] = factory
	r.schemas[factory.ID()] = schema

	r.logger.Debug("Registered action", "action_type", factory.ID())

	return nil
}

// Create validates the configuration against the registered schema and builds
// the action.
func (r *Registry) Create(actionType string, config map[string]any) (Action, error) {
	factory, ok := r.factories[actionType]
	if !ok {
		return nil, fmt.Errorf("action type %q: %w", actionType, ErrActionNotRegistered)
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := r.schemas[actionType].Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return nil, fmt.Errorf("failed to validate configuration for %q: %w", actionType, err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, resultError := range result.Errors() {
			details = append(details, resultError.String())
		}

		return nil, fmt.Errorf("action type %q: %s: %w", actionType, strings.Join(details, "; "), ErrActionConfigInvalid)
	}

	return factory.Create(config)
}

// Available returns the registered action type IDs.
func (r *Registry) Available() []string {
	types := make([]string, 0, len(r.factories))
	for actionType := range r.factories {
		types = append(types, actionType)
	}

	return types
}
