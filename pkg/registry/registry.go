// Package registry maps step type discriminators to their factories, so
// adding a step kind is a compile-time-checked extension point instead of
// an open-ended string switch.
package registry

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/curatorhq/curator/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

type Registry struct {
	logger        *slog.Logger
	stepFactories map[string]protocol.StepFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:        logger.With("module", "registry"),
		stepFactories: make(map[string]protocol.StepFactory),
	}
}

func (r *Registry) RegisterStep(factory protocol.StepFactory) {
	r.stepFactories[factory.ID()] = factory
}

// StepTypes returns the registered type discriminators.
func (r *Registry) StepTypes() []string {
	types := make([]string, 0, len(r.stepFactories))
	for stepType := range r.stepFactories {
		types = append(types, stepType)
	}

	return types
}

// CreateStep instantiates a step executor after validating its config
// against the factory's schema. Unknown discriminators fail fast.
func (r *Registry) CreateStep(stepType string, config map[string]any) (protocol.Step, error) {
	factory, ok := r.stepFactories[stepType]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not registered", protocol.ErrUnknownStepType, stepType)
	}

	if err := r.validateConfig(factory, config); err != nil {
		return nil, err
	}

	return factory.Create(config)
}

func (r *Registry) validateConfig(factory protocol.StepFactory, config map[string]any) error {
	schema := factory.Schema()
	if schema == nil {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("failed to validate %s config: %w", factory.ID(), err)
	}

	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, resultError := range result.Errors() {
			reasons = append(reasons, resultError.String())
		}

		return fmt.Errorf("%w for %s: %s", protocol.ErrInvalidStepConfig, factory.ID(), strings.Join(reasons, "; "))
	}

	return nil
}
