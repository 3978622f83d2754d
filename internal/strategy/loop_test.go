package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arena-agent/internal/clients/llm"
	"github.com/aristath/arena-agent/internal/tools"
)

func newSet(t *testing.T, list ...tools.Tool) *tools.Set {
	t.Helper()
	set, err := tools.NewSet(list...)
	require.NoError(t, err)
	return set
}

func TestLoop_StopsWhenModelAnswersWithoutTools(t *testing.T) {
	model := &scriptedModel{replies: []llm.Message{
		call("c1", "price", `{}`),
		text("TAO is at 400."),
	}}
	loop := &Loop{Model: model, Tools: newSet(t, staticTool("price", "400")), MaxSteps: 5, Log: zerolog.Nop()}

	result, err := loop.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "go"}})
	require.NoError(t, err)

	assert.Equal(t, "TAO is at 400.", result.FinalText)
	assert.False(t, result.Exhausted)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, []string{"price"}, result.Steps[0].Calls)
	assert.Empty(t, result.Steps[1].Calls)

	require.Len(t, result.Records, 1)
	assert.Equal(t, tools.Record{Step: 1, CallID: "c1", Tool: "price", Args: json.RawMessage(`{}`), Result: "400"}, result.Records[0])

	// the second request carries the assistant call and the tool answer
	require.Len(t, model.requests, 2)
	msgs := model.requests[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.RoleTool, msgs[2].Role)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
	assert.Equal(t, "400", msgs[2].Content)
}

func TestLoop_ExhaustsBudget(t *testing.T) {
	model := &scriptedModel{replies: []llm.Message{
		call("c1", "price", `{}`),
		call("c2", "price", `{}`),
		call("c3", "price", `{}`),
	}}
	loop := &Loop{Model: model, Tools: newSet(t, staticTool("price", "400")), MaxSteps: 3, Log: zerolog.Nop()}

	result, err := loop.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, result.Exhausted)
	assert.Empty(t, result.FinalText)
	assert.Len(t, result.Steps, 3)
	assert.Len(t, model.requests, 3)
	assert.Len(t, result.Records, 3)
}

func TestLoop_CallLimitAnswersWithoutRunning(t *testing.T) {
	runs := 0
	counted := &tools.Func{
		ToolName: "pools",
		Fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			runs++
			return "pool data", nil
		},
	}
	model := &scriptedModel{replies: []llm.Message{
		call("c1", "pools", `{}`),
		call("c2", "pools", `{}`),
		text("done"),
	}}
	loop := &Loop{
		Model:      model,
		Tools:      newSet(t, counted),
		MaxSteps:   5,
		CallLimits: map[string]int{"pools": 1},
		Log:        zerolog.Nop(),
	}

	result, err := loop.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, runs)
	require.Len(t, result.Records, 2)
	assert.Equal(t, CallLimitMessage, result.Records[1].Err)
	assert.Equal(t, "error: "+CallLimitMessage, model.requests[2].Messages[len(model.requests[2].Messages)-1].Content)
}

func TestLoop_ToolErrorsAreReportedToModel(t *testing.T) {
	model := &scriptedModel{replies: []llm.Message{
		call("c1", "broken", `{}`),
		call("c2", "missing", `{}`),
		text("gave up"),
	}}
	loop := &Loop{
		Model:    model,
		Tools:    newSet(t, failingTool("broken", errors.New("upstream 503"))),
		MaxSteps: 5,
		Log:      zerolog.Nop(),
	}

	result, err := loop.Run(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, result.Records, 2)
	assert.Equal(t, "upstream 503", result.Records[0].Err)
	assert.Contains(t, result.Records[1].Err, "unknown tool")
	assert.Equal(t, "gave up", result.FinalText)
}

func TestLoop_TerminalToolEndsLoop(t *testing.T) {
	model := &scriptedModel{replies: []llm.Message{
		call("c1", "finish", `{}`),
		text("should not be requested"),
	}}
	loop := &Loop{
		Model:    model,
		Tools:    newSet(t, staticTool("finish", "ok")),
		MaxSteps: 5,
		Terminal: "finish",
		Log:      zerolog.Nop(),
	}

	result, err := loop.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, result.Terminated)
	assert.Len(t, model.requests, 1)
}

func TestLoop_ModelErrorReturnsPartialResult(t *testing.T) {
	model := &scriptedModel{replies: []llm.Message{call("c1", "price", `{}`)}}
	loop := &Loop{Model: model, Tools: newSet(t, staticTool("price", "400")), MaxSteps: 5, Log: zerolog.Nop()}

	result, err := loop.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 2")
	assert.Len(t, result.Steps, 1)
	assert.Len(t, result.Records, 1)
}
