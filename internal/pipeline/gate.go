package pipeline

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/aristath/arena-agent/internal/domain"
)

// Validator is the arena's remote decision validator
type Validator interface {
	ValidateDecision(ctx context.Context, agentID string, decision *domain.Decision) (*domain.ValidationResult, error)
}

// Gate treats the remote validator as authoritative. Warnings never block;
// any error does.
type Gate struct {
	validator Validator
	log       zerolog.Logger
}

// NewGate creates a validation gate
func NewGate(validator Validator, log zerolog.Logger) *Gate {
	return &Gate{
		validator: validator,
		log:       log.With().Str("component", "gate").Logger(),
	}
}

// Validate returns the validator result, and a *domain.ValidationFailure
// alongside it when the decision must not be submitted.
func (g *Gate) Validate(ctx context.Context, agentID string, decision *domain.Decision) (*domain.ValidationResult, error) {
	result, err := g.validator.ValidateDecision(ctx, agentID, decision)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errors.New("validator returned no result")
	}

	for _, w := range result.Warnings {
		g.log.Warn().Str("warning", w).Msg("Validation warning")
	}

	if result.Blocking() {
		for _, e := range result.Errors {
			g.log.Error().Str("error", e).Msg("Validation error")
		}
		return result, &domain.ValidationFailure{Errors: result.Errors}
	}

	g.log.Info().Int("warnings", len(result.Warnings)).Msg("Validation passed")
	return result, nil
}
