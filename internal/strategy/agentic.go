package strategy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/arena-agent/internal/clients/llm"
	"github.com/aristath/arena-agent/internal/domain"
	"github.com/aristath/arena-agent/internal/tools"
)

const (
	// AgenticSteps is the step budget of the agentic loop
	AgenticSteps = 10

	toolGetPortfolio   = "get_portfolio"
	toolSubmitDecision = "submit_decision"
)

// PortfolioReader reads the agent's live portfolio
type PortfolioReader interface {
	GetPortfolio(ctx context.Context, agentID string) (*domain.Portfolio, error)
}

// AgenticPolicy runs a single tool loop that ends when the model calls
// submit_decision with schema-valid arguments.
type AgenticPolicy struct {
	model     llm.Model
	tools     tools.Provider
	portfolio PortfolioReader
	agentID   string
	rules     Rules
	log       zerolog.Logger
}

// NewAgenticPolicy creates the tool-driven policy
func NewAgenticPolicy(model llm.Model, provider tools.Provider, portfolio PortfolioReader, agentID string, rules Rules, log zerolog.Logger) *AgenticPolicy {
	return &AgenticPolicy{
		model:     model,
		tools:     provider,
		portfolio: portfolio,
		agentID:   agentID,
		rules:     rules,
		log:       log.With().Str("policy", NameAgentic).Logger(),
	}
}

// Name implements Policy
func (p *AgenticPolicy) Name() string {
	return NameAgentic
}

// Propose implements Policy
func (p *AgenticPolicy) Propose(ctx context.Context, snap *domain.Snapshot) (*Proposal, error) {
	proposal := &Proposal{Trace: Trace{Policy: NameAgentic}}

	session, err := p.tools.Open(ctx)
	if err != nil {
		return proposal, fmt.Errorf("failed to open tool session: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			p.log.Warn().Err(cerr).Msg("Failed to close tool session")
		}
	}()

	research, err := session.Tools(ctx)
	if err != nil {
		return proposal, fmt.Errorf("failed to list research tools: %w", err)
	}

	limits := make(map[string]int, len(research))
	researchNames := make([]string, 0, len(research))
	for _, t := range research {
		limits[t.Name()] = 1
		researchNames = append(researchNames, t.Name())
	}

	var submitted *Proposal
	all := make([]tools.Tool, 0, len(research)+2)
	all = append(all, research...)
	all = append(all, p.portfolioTool(), submitTool(&submitted))
	set, err := tools.NewSet(all...)
	if err != nil {
		return proposal, err
	}

	loop := &Loop{
		Model:      p.model,
		Tools:      set,
		MaxSteps:   AgenticSteps,
		Terminal:   toolSubmitDecision,
		CallLimits: limits,
		Log:        p.log,
	}
	result, err := loop.Run(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: agenticSystemPrompt(p.rules, researchNames)},
		{Role: llm.RoleUser, Content: agenticPrompt(snap)},
	})
	proposal.Trace.Steps = result.Steps
	proposal.Trace.ToolCalls = result.Records
	if err != nil {
		return proposal, fmt.Errorf("agentic loop: %w", err)
	}

	if !result.Terminated || submitted == nil {
		return proposal, &domain.EngineIncompleteError{Policy: NameAgentic, Steps: len(result.Steps)}
	}

	proposal.Trades = submitted.Trades
	proposal.Reasoning = submitted.Reasoning
	return proposal, nil
}

func (p *AgenticPolicy) portfolioTool() tools.Tool {
	return &tools.Func{
		ToolName:        toolGetPortfolio,
		ToolDescription: "Get your current portfolio balances and NAV (net asset value in USD).",
		Fn: func(ctx context.Context, _ json.RawMessage) (string, error) {
			portfolio, err := p.portfolio.GetPortfolio(ctx, p.agentID)
			if err != nil {
				return "", err
			}
			out, err := json.Marshal(portfolio)
			if err != nil {
				return "", fmt.Errorf("failed to encode portfolio: %w", err)
			}
			return string(out), nil
		},
	}
}

// submitTool captures the first schema-valid decision into dst. Invalid
// arguments return an error so the model can correct them.
func submitTool(dst **Proposal) tools.Tool {
	return &tools.Func{
		ToolName:        toolSubmitDecision,
		ToolDescription: "Submit your final trading decision for this interval. Call exactly once, as the last action.",
		Schema:          tradeSchema,
		Fn: func(_ context.Context, args json.RawMessage) (string, error) {
			trades, reasoning, err := parseTradeOutput(string(args))
			if err != nil {
				return "", err
			}
			*dst = &Proposal{Trades: trades, Reasoning: reasoning}
			return fmt.Sprintf("Decision recorded with %d trade(s).", len(trades)), nil
		},
	}
}
