package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arena-agent/internal/arenastub"
	"github.com/aristath/arena-agent/internal/clients/arena"
	"github.com/aristath/arena-agent/internal/clients/llm"
	"github.com/aristath/arena-agent/internal/config"
	"github.com/aristath/arena-agent/internal/domain"
	"github.com/aristath/arena-agent/internal/strategy"
	"github.com/aristath/arena-agent/internal/tools"
)

const stubToken = "sandbox-token"

// replayModel answers every request with the next scripted message, repeating the last one.
type replayModel struct {
	mu      sync.Mutex
	replies []llm.Message
	calls   int
}

func (m *replayModel) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) == 0 {
		return nil, errors.New("no scripted replies")
	}
	i := m.calls
	if i >= len(m.replies) {
		i = len(m.replies) - 1
	}
	m.calls++
	return &llm.Response{Message: m.replies[i]}, nil
}

type sandbox struct {
	stub   *arenastub.Server
	client *arena.Client
}

func newSandbox(t *testing.T, cfg arenastub.Config) *sandbox {
	t.Helper()
	cfg.Token = stubToken
	cfg.Log = zerolog.Nop()
	cfg.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC) }
	stub := arenastub.New(cfg)

	srv := httptest.NewServer(stub.Handler())
	t.Cleanup(srv.Close)

	client := arena.NewClient(config.ArenaConfig{
		BaseURL: srv.URL,
		AgentID: agentID,
		Token:   stubToken,
		Timeout: 5 * time.Second,
	}, zerolog.Nop())

	return &sandbox{stub: stub, client: client}
}

func singleShotEngine(reply string) (*strategy.Engine, *replayModel) {
	model := &replayModel{replies: []llm.Message{{Role: llm.RoleAssistant, Content: reply}}}
	policy := strategy.NewSingleShotPolicy(model, strategy.StandardRules, zerolog.Nop())
	return strategy.NewEngine(policy, domain.Metadata{CommitSHA: "local"}, zerolog.Nop()), model
}

func TestEndToEnd_EmptyTradesAreValidatedAndSubmitted(t *testing.T) {
	sb := newSandbox(t, arenastub.Config{StartBalances: []domain.Balance{{Asset: "USD", Amount: 1000}}})
	engine, _ := singleShotEngine(`{"trades":[],"reasoning":"Nothing compelling this interval."}`)

	report, err := NewOrchestrator(sb.client, engine, agentID, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, report.State)
	assert.Equal(t, 0, ExitCode(err))

	assert.Contains(t, sb.stub.Calls(), "POST /v1/agents/agent-1/validate")
	subs := sb.stub.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, "agent-1:2026-03-01T12:00:00Z", subs[0].Key)
	assert.Empty(t, subs[0].Decision.Trades())
	assert.Equal(t, "Nothing compelling this interval.", subs[0].Decision.Reasoning)
}

func TestEndToEnd_WarningsDoNotBlockSubmission(t *testing.T) {
	sb := newSandbox(t, arenastub.Config{})
	sb.stub.SetValidateHook(func(string, *domain.Decision) *domain.ValidationResult {
		return &domain.ValidationResult{Valid: true, Warnings: []string{"low liquidity"}, Errors: []string{}}
	})
	engine, _ := singleShotEngine(`{"trades":[{"from":"USD","to":"TAO","amount":100}],"reasoning":"Small TAO position."}`)

	report, err := NewOrchestrator(sb.client, engine, agentID, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, report.State)
	assert.Equal(t, []string{"low liquidity"}, report.Validation.Warnings)
	assert.Len(t, sb.stub.Submissions(), 1)
}

func TestEndToEnd_SchemaMismatchAbortsBeforeReads(t *testing.T) {
	sb := newSandbox(t, arenastub.Config{SchemaVersion: 2})
	engine, model := singleShotEngine(`{"trades":[],"reasoning":"r"}`)

	report, err := NewOrchestrator(sb.client, engine, agentID, zerolog.Nop()).Run(context.Background())
	var compat *domain.CompatibilityError
	require.ErrorAs(t, err, &compat)
	assert.Equal(t, 2, compat.Got)

	assert.Equal(t, StateAborted, report.State)
	assert.Equal(t, []string{"GET /v1/version"}, sb.stub.Calls())
	assert.Equal(t, 0, model.calls)
	assert.Equal(t, 1, ExitCode(err))
}

func TestEndToEnd_AgenticBudgetExhaustionSubmitsNothing(t *testing.T) {
	sb := newSandbox(t, arenastub.Config{})
	model := &replayModel{replies: []llm.Message{{
		Role:      llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{{ID: "c", Name: "get_portfolio", Arguments: json.RawMessage(`{}`)}},
	}}}
	policy := strategy.NewAgenticPolicy(model, tools.NewStaticProvider(), sb.client, agentID, strategy.StandardRules, zerolog.Nop())
	engine := strategy.NewEngine(policy, domain.Metadata{CommitSHA: "local"}, zerolog.Nop())

	report, err := NewOrchestrator(sb.client, engine, agentID, zerolog.Nop()).Run(context.Background())
	var incomplete *domain.EngineIncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, strategy.AgenticSteps, incomplete.Steps)
	assert.Equal(t, strategy.AgenticSteps, model.calls)

	assert.Equal(t, 1, ExitCode(err))
	assert.Nil(t, report.Submission)
	assert.Empty(t, sb.stub.Submissions())
	assert.NotContains(t, sb.stub.Calls(), "POST /v1/agents/agent-1/validate")
}

func TestEndToEnd_RerunOfSameIntervalIsAbsorbed(t *testing.T) {
	sb := newSandbox(t, arenastub.Config{})
	engine, _ := singleShotEngine(`{"trades":[],"reasoning":"Hold."}`)
	orch := NewOrchestrator(sb.client, engine, agentID, zerolog.Nop())

	first, err := orch.Run(context.Background())
	require.NoError(t, err)
	second, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Submission.SubmissionID, second.Submission.SubmissionID)
	assert.Len(t, sb.stub.Submissions(), 1)
}

func TestEndToEnd_ValidatorRejectionSubmitsNothing(t *testing.T) {
	sb := newSandbox(t, arenastub.Config{})
	engine, _ := singleShotEngine(`{"trades":[{"from":"USD","to":"ALPHA_1","amount":10}],"reasoning":"Direct buy."}`)

	report, err := NewOrchestrator(sb.client, engine, agentID, zerolog.Nop()).Run(context.Background())
	var failure *domain.ValidationFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, StateValidationFailed, report.State)
	assert.Empty(t, sb.stub.Submissions())
	assert.NotContains(t, sb.stub.Calls(), "POST /v1/agents/agent-1/submissions")
}
