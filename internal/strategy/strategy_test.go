package strategy

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arena-agent/internal/clients/llm"
	"github.com/aristath/arena-agent/internal/domain"
)

var testMetadata = domain.Metadata{
	RepoURL:   "https://github.com/example/agent",
	CommitSHA: "abc123",
}

func TestEngine_StampsSchemaVersionAndMetadata(t *testing.T) {
	model := &scriptedModel{replies: []llm.Message{text(holdReply)}}
	engine := NewEngine(NewSingleShotPolicy(model, StandardRules, zerolog.Nop()), testMetadata, zerolog.Nop())

	outcome, err := engine.Decide(context.Background(), testSnapshot())
	require.NoError(t, err)
	require.NotNil(t, outcome.Decision)

	assert.Equal(t, NameSingleShot, engine.Name())
	assert.Equal(t, domain.SchemaVersion, outcome.Decision.SchemaVersion)
	assert.Equal(t, testMetadata, outcome.Decision.Metadata)
	assert.Equal(t, NameSingleShot, outcome.Trace.Policy)

	body, err := json.Marshal(outcome.Decision)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"schema_version": 1,
		"decision": {"trades": []},
		"reasoning": "Holding.",
		"metadata": {"repo_url": "https://github.com/example/agent", "commit_sha": "abc123"}
	}`, string(body))
}

func TestEngine_ErrorKeepsTrace(t *testing.T) {
	model := &scriptedModel{replies: []llm.Message{text("not json")}}
	engine := NewEngine(NewSingleShotPolicy(model, StandardRules, zerolog.Nop()), testMetadata, zerolog.Nop())

	outcome, err := engine.Decide(context.Background(), testSnapshot())
	require.Error(t, err)
	assert.Nil(t, outcome.Decision)
	assert.Len(t, outcome.Trace.Steps, 1)
	assert.Equal(t, "not json", outcome.Trace.Steps[0].Text)
}

func TestNewPolicy(t *testing.T) {
	deps := Dependencies{Model: &scriptedModel{}, Portfolio: &fakePortfolio{}, AgentID: "agent-1", Log: zerolog.Nop()}

	for _, name := range []string{NameSingleShot, NameResearch, NameAgentic} {
		policy, err := NewPolicy(name, false, deps)
		require.NoError(t, err)
		assert.Equal(t, name, policy.Name())
	}

	_, err := NewPolicy("momentum", false, deps)
	assert.Error(t, err)

	_, err = NewPolicy(NameAgentic, false, Dependencies{Model: &scriptedModel{}})
	assert.Error(t, err)

	_, err = NewPolicy(NameSingleShot, false, Dependencies{})
	assert.Error(t, err)
}

func TestNewPolicy_Relaxed(t *testing.T) {
	model := &scriptedModel{replies: []llm.Message{text(holdReply)}}
	policy, err := NewPolicy(NameSingleShot, true, Dependencies{Model: model})
	require.NoError(t, err)

	_, err = policy.Propose(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Contains(t, model.requests[0].Messages[0].Content, "USD <-> ALPHA_{subnet_id}")
}

