package strategy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arena-agent/internal/clients/llm"
	"github.com/aristath/arena-agent/internal/domain"
	"github.com/aristath/arena-agent/internal/tools"
)

func TestTruncateResearch(t *testing.T) {
	short, cut := TruncateResearch("brief")
	assert.Equal(t, "brief", short)
	assert.False(t, cut)

	exact := strings.Repeat("a", MaxResearchChars)
	out, cut := TruncateResearch(exact)
	assert.Equal(t, exact, out)
	assert.False(t, cut)

	long := strings.Repeat("τ", MaxResearchChars+500)
	out, cut = TruncateResearch(long)
	assert.True(t, cut)
	assert.True(t, strings.HasSuffix(out, TruncationMarker))
	assert.Equal(t, MaxResearchChars+utf8.RuneCountInString(TruncationMarker), utf8.RuneCountInString(out))
	assert.True(t, utf8.ValidString(out))
}

func TestFallbackResearch(t *testing.T) {
	out := FallbackResearch([]tools.Record{
		{Tool: "price", Result: "TAO=400"},
		{Tool: "pools", Err: "timeout"},
	})
	assert.Equal(t, "[price]\nTAO=400\n\n---\n\n[pools]\nerror: timeout", out)
	assert.Empty(t, FallbackResearch(nil))
}

func TestResearchPolicy_TwoPhases(t *testing.T) {
	provider := &trackingProvider{tools: []tools.Tool{staticTool("price", "TAO=400")}}
	model := &scriptedModel{replies: []llm.Message{
		call("c1", "price", `{}`),
		text("TAO trades at 400 USD."),
		text(buyReply),
	}}
	policy := NewResearchPolicy(model, provider, StandardRules, zerolog.Nop())

	proposal, err := policy.Propose(context.Background(), testSnapshot())
	require.NoError(t, err)

	assert.Equal(t, []domain.Trade{{From: "USD", To: "TAO", Amount: 100}}, proposal.Trades)
	assert.Equal(t, "TAO trades at 400 USD.", proposal.Trace.Research)
	assert.False(t, proposal.Trace.ResearchFallback)
	assert.Len(t, proposal.Trace.ToolCalls, 1)
	assert.Len(t, proposal.Trace.Steps, 3)
	assert.Equal(t, 1, provider.closed)

	// phase two has no tools, is schema-constrained and embeds the research
	require.Len(t, model.requests, 3)
	decide := model.requests[2]
	assert.Empty(t, decide.Tools)
	require.NotNil(t, decide.Schema)
	assert.Equal(t, "trade_decision", decide.Schema.Name)
	assert.Contains(t, decide.Messages[1].Content, "TAO trades at 400 USD.")
	assert.Contains(t, decide.Messages[1].Content, "NAV (USD): $11000.46")

	// phase one advertises the research tools
	require.Len(t, model.requests[0].Tools, 1)
	assert.Equal(t, "price", model.requests[0].Tools[0].Name)
}

func TestResearchPolicy_BlankSummaryFallsBackToToolResults(t *testing.T) {
	provider := &trackingProvider{tools: []tools.Tool{staticTool("price", "TAO=400"), staticTool("pools", "SN1 deep")}}
	model := &scriptedModel{replies: []llm.Message{
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "price", Arguments: []byte(`{}`)},
			{ID: "c2", Name: "pools", Arguments: []byte(`{}`)},
		}},
		text("   "),
		text(holdReply),
	}}
	policy := NewResearchPolicy(model, provider, StandardRules, zerolog.Nop())

	proposal, err := policy.Propose(context.Background(), testSnapshot())
	require.NoError(t, err)

	assert.True(t, proposal.Trace.ResearchFallback)
	assert.Equal(t, "[price]\nTAO=400\n\n---\n\n[pools]\nSN1 deep", proposal.Trace.Research)
	assert.Contains(t, model.requests[2].Messages[1].Content, "[pools]\nSN1 deep")
}

func TestResearchPolicy_ExhaustedBudgetStillDecides(t *testing.T) {
	replies := make([]llm.Message, 0, ResearchSteps+1)
	for i := 0; i < ResearchSteps; i++ {
		replies = append(replies, call("c", "price", `{}`))
	}
	replies = append(replies, text(holdReply))
	provider := &trackingProvider{tools: []tools.Tool{staticTool("price", strings.Repeat("p", 3000))}}
	model := &scriptedModel{replies: replies}

	proposal, err := NewResearchPolicy(model, provider, StandardRules, zerolog.Nop()).Propose(context.Background(), testSnapshot())
	require.NoError(t, err)

	assert.Len(t, proposal.Trace.ToolCalls, ResearchSteps)
	assert.True(t, proposal.Trace.ResearchFallback)
	assert.True(t, proposal.Trace.ResearchTruncated)
	assert.True(t, strings.HasSuffix(proposal.Trace.Research, TruncationMarker))
	assert.Empty(t, proposal.Trades)
}

func TestResearchPolicy_NoResearchData(t *testing.T) {
	model := &scriptedModel{replies: []llm.Message{text(""), text(holdReply)}}

	_, err := NewResearchPolicy(model, tools.NewStaticProvider(), StandardRules, zerolog.Nop()).Propose(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Contains(t, model.requests[1].Messages[1].Content, "No research data available.")
}

func TestResearchPolicy_ClosesSessionOnError(t *testing.T) {
	provider := &trackingProvider{tools: []tools.Tool{staticTool("price", "TAO=400")}}
	model := &scriptedModel{err: errors.New("model unavailable")}

	_, err := NewResearchPolicy(model, provider, StandardRules, zerolog.Nop()).Propose(context.Background(), testSnapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
	assert.Equal(t, 1, provider.opened)
	assert.Equal(t, 1, provider.closed)
}

func TestResearchPolicy_OpenFailure(t *testing.T) {
	provider := &trackingProvider{openErr: errors.New("connection refused")}
	model := &scriptedModel{}

	_, err := NewResearchPolicy(model, provider, StandardRules, zerolog.Nop()).Propose(context.Background(), testSnapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open tool session")
	assert.Empty(t, model.requests)
}

func TestResearchPolicy_SchemaViolation(t *testing.T) {
	model := &scriptedModel{replies: []llm.Message{text("summary"), text("buy everything")}}

	proposal, err := NewResearchPolicy(model, tools.NewStaticProvider(), StandardRules, zerolog.Nop()).Propose(context.Background(), testSnapshot())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSchemaViolation)
	assert.Equal(t, "summary", proposal.Trace.Research)
}
