// Package strategy maps a market snapshot to a trade decision.
//
// The Engine wraps one selectable Policy. Policies range from a single
// structured-generation call to bounded, tool-augmented reasoning loops; all of
// them only propose trades. Route legality is left to the arena validator.
package strategy

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/arena-agent/internal/domain"
	"github.com/aristath/arena-agent/internal/tools"
)

// Policy produces a trade proposal for a snapshot
type Policy interface {
	Name() string
	Propose(ctx context.Context, snap *domain.Snapshot) (*Proposal, error)
}

// Proposal is a policy's answer before provenance is attached
type Proposal struct {
	Trades    []domain.Trade
	Reasoning string
	Trace     Trace
}

// Step records one model turn of a bounded loop
type Step struct {
	Number int      `json:"number"`
	Text   string   `json:"text"`
	Calls  []string `json:"calls"`
}

// Trace is the observable record of how a proposal was produced
type Trace struct {
	Policy            string         `json:"policy"`
	Steps             []Step         `json:"steps"`
	ToolCalls         []tools.Record `json:"tool_calls"`
	Research          string         `json:"research,omitempty"`
	ResearchFallback  bool           `json:"research_fallback,omitempty"`
	ResearchTruncated bool           `json:"research_truncated,omitempty"`
}

// Outcome is the engine result. Decision is nil when the policy produced nothing.
type Outcome struct {
	Decision *domain.Decision
	Trace    Trace
}

// Engine turns policy proposals into decisions stamped with run provenance
type Engine struct {
	policy   Policy
	metadata domain.Metadata
	log      zerolog.Logger
}

// NewEngine creates an engine around a policy
func NewEngine(policy Policy, metadata domain.Metadata, log zerolog.Logger) *Engine {
	return &Engine{
		policy:   policy,
		metadata: metadata,
		log:      log.With().Str("component", "strategy").Str("policy", policy.Name()).Logger(),
	}
}

// Name returns the policy name
func (e *Engine) Name() string {
	return e.policy.Name()
}

// Decide runs the policy. The returned outcome carries the trace even on error.
func (e *Engine) Decide(ctx context.Context, snap *domain.Snapshot) (*Outcome, error) {
	proposal, err := e.policy.Propose(ctx, snap)

	outcome := &Outcome{Trace: Trace{Policy: e.policy.Name()}}
	if proposal != nil {
		outcome.Trace = proposal.Trace
		outcome.Trace.Policy = e.policy.Name()
	}
	if err != nil {
		return outcome, err
	}

	outcome.Decision = domain.NewDecision(proposal.Trades, proposal.Reasoning, e.metadata)
	e.log.Debug().
		Int("trades", len(proposal.Trades)).
		Int("steps", len(outcome.Trace.Steps)).
		Int("tool_calls", len(outcome.Trace.ToolCalls)).
		Msg("Decision produced")

	return outcome, nil
}
