package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/arena-agent/internal/clients/llm"
	"github.com/aristath/arena-agent/internal/domain"
	"github.com/aristath/arena-agent/internal/tools"
)

const (
	// ResearchSteps is the step budget of the research phase
	ResearchSteps = 5
	// MaxResearchChars bounds the research artifact handed to the decision phase
	MaxResearchChars = 12000
	// TruncationMarker is appended to a truncated research artifact
	TruncationMarker = "\n...[truncated]"

	fallbackSeparator = "\n\n---\n\n"
)

// TruncateResearch caps text at MaxResearchChars runes. The boolean reports
// whether anything was cut.
func TruncateResearch(text string) (string, bool) {
	runes := []rune(text)
	if len(runes) <= MaxResearchChars {
		return text, false
	}
	return string(runes[:MaxResearchChars]) + TruncationMarker, true
}

// FallbackResearch concatenates raw tool results in call order.
func FallbackResearch(records []tools.Record) string {
	blocks := make([]string, 0, len(records))
	for _, r := range records {
		body := r.Result
		if r.Err != "" {
			body = "error: " + r.Err
		}
		blocks = append(blocks, fmt.Sprintf("[%s]\n%s", r.Tool, body))
	}
	return strings.Join(blocks, fallbackSeparator)
}

// ResearchPolicy runs a bounded research loop over external tools and then a
// separate structured decision call that sees only the research artifact.
type ResearchPolicy struct {
	model llm.Model
	tools tools.Provider
	rules Rules
	log   zerolog.Logger
}

// NewResearchPolicy creates the two-phase policy
func NewResearchPolicy(model llm.Model, provider tools.Provider, rules Rules, log zerolog.Logger) *ResearchPolicy {
	return &ResearchPolicy{
		model: model,
		tools: provider,
		rules: rules,
		log:   log.With().Str("policy", NameResearch).Logger(),
	}
}

// Name implements Policy
func (p *ResearchPolicy) Name() string {
	return NameResearch
}

// Propose implements Policy
func (p *ResearchPolicy) Propose(ctx context.Context, snap *domain.Snapshot) (*Proposal, error) {
	proposal := &Proposal{Trace: Trace{Policy: NameResearch}}

	research, err := p.research(ctx, snap, &proposal.Trace)
	if err != nil {
		return proposal, err
	}
	proposal.Trace.Research = research

	p.log.Info().Int("research_chars", len([]rune(research))).Msg("Research phase complete, deciding trades")

	resp, err := p.model.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: decisionSystemPrompt(p.rules)},
			{Role: llm.RoleUser, Content: decisionPrompt(snap, research)},
		},
		Schema: tradeResponseSchema(),
	})
	if err != nil {
		return proposal, fmt.Errorf("decision phase: %w", err)
	}
	proposal.Trace.Steps = append(proposal.Trace.Steps, Step{
		Number: len(proposal.Trace.Steps) + 1,
		Text:   resp.Message.Content,
		Calls:  []string{},
	})

	trades, reasoning, err := parseTradeOutput(resp.Message.Content)
	if err != nil {
		return proposal, err
	}
	proposal.Trades = trades
	proposal.Reasoning = reasoning
	return proposal, nil
}

// research runs phase one and returns the bounded artifact. The tool session
// is closed before returning.
func (p *ResearchPolicy) research(ctx context.Context, snap *domain.Snapshot, trace *Trace) (string, error) {
	session, err := p.tools.Open(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open tool session: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			p.log.Warn().Err(cerr).Msg("Failed to close tool session")
		}
	}()

	list, err := session.Tools(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list research tools: %w", err)
	}
	set, err := tools.NewSet(list...)
	if err != nil {
		return "", err
	}
	p.log.Info().Strs("tools", set.Names()).Msg("Starting research phase")

	loop := &Loop{
		Model:    p.model,
		Tools:    set,
		MaxSteps: ResearchSteps,
		Log:      p.log,
	}
	result, err := loop.Run(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: researchSystemPrompt},
		{Role: llm.RoleUser, Content: researchPrompt(snap)},
	})
	trace.Steps = append(trace.Steps, result.Steps...)
	trace.ToolCalls = append(trace.ToolCalls, result.Records...)
	if err != nil {
		return "", fmt.Errorf("research phase: %w", err)
	}

	text := strings.TrimSpace(result.FinalText)
	if text == "" {
		text = FallbackResearch(result.Records)
		trace.ResearchFallback = true
		p.log.Warn().Int("tool_calls", len(result.Records)).Msg("Research produced no summary, using raw tool results")
	}

	text, truncated := TruncateResearch(text)
	trace.ResearchTruncated = truncated
	return text, nil
}
