package strategy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/arena-agent/internal/clients/llm"
	"github.com/aristath/arena-agent/internal/domain"
)

// SingleShotPolicy asks the model once for a schema-conforming decision.
type SingleShotPolicy struct {
	model llm.Model
	rules Rules
	log   zerolog.Logger
}

// NewSingleShotPolicy creates the single-call policy
func NewSingleShotPolicy(model llm.Model, rules Rules, log zerolog.Logger) *SingleShotPolicy {
	return &SingleShotPolicy{
		model: model,
		rules: rules,
		log:   log.With().Str("policy", NameSingleShot).Logger(),
	}
}

// Name implements Policy
func (p *SingleShotPolicy) Name() string {
	return NameSingleShot
}

// Propose implements Policy
func (p *SingleShotPolicy) Propose(ctx context.Context, snap *domain.Snapshot) (*Proposal, error) {
	proposal := &Proposal{Trace: Trace{Policy: NameSingleShot}}

	resp, err := p.model.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: decisionSystemPrompt(p.rules)},
			{Role: llm.RoleUser, Content: singleShotPrompt(snap)},
		},
		Schema: tradeResponseSchema(),
	})
	if err != nil {
		return proposal, fmt.Errorf("decision call: %w", err)
	}
	proposal.Trace.Steps = []Step{{Number: 1, Text: resp.Message.Content, Calls: []string{}}}

	trades, reasoning, err := parseTradeOutput(resp.Message.Content)
	if err != nil {
		return proposal, err
	}
	proposal.Trades = trades
	proposal.Reasoning = reasoning
	return proposal, nil
}
