package strategy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/arena-agent/internal/clients/llm"
	"github.com/aristath/arena-agent/internal/tools"
)

// CallLimitMessage is returned to the model instead of running a capped tool again.
const CallLimitMessage = "call limit reached for this tool; use the result you already have"

// Loop is a bounded model/tool reasoning loop.
//
// Each step is one model turn followed by execution of the tools it requested.
// The loop ends when the model answers without tool calls, when the Terminal
// tool returns without error, or when MaxSteps turns have been used.
type Loop struct {
	Model      llm.Model
	Tools      *tools.Set
	MaxSteps   int
	Terminal   string
	CallLimits map[string]int
	Log        zerolog.Logger
}

// LoopResult is what a loop run observed
type LoopResult struct {
	Steps      []Step
	Records    []tools.Record
	FinalText  string
	Terminated bool
	Exhausted  bool
}

// Run drives the loop starting from messages. On a model error the partial
// result is returned together with the error.
func (l *Loop) Run(ctx context.Context, messages []llm.Message) (*LoopResult, error) {
	result := &LoopResult{}
	specs := l.toolSpecs()
	calls := make(map[string]int)

	for step := 1; step <= l.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		resp, err := l.Model.Complete(ctx, llm.Request{Messages: messages, Tools: specs})
		if err != nil {
			return result, fmt.Errorf("step %d: %w", step, err)
		}

		reply := resp.Message
		reply.Role = llm.RoleAssistant
		messages = append(messages, reply)

		record := Step{Number: step, Text: reply.Content, Calls: []string{}}
		for _, tc := range reply.ToolCalls {
			record.Calls = append(record.Calls, tc.Name)
		}
		result.Steps = append(result.Steps, record)

		l.Log.Debug().
			Int("step", step).
			Strs("calls", record.Calls).
			Msg("Loop step")

		if len(reply.ToolCalls) == 0 {
			result.FinalText = reply.Content
			return result, nil
		}

		for _, tc := range reply.ToolCalls {
			rec := l.execute(ctx, step, tc, calls)
			result.Records = append(result.Records, rec)

			content := rec.Result
			if rec.Err != "" {
				content = "error: " + rec.Err
			}
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    content,
				ToolCallID: tc.ID,
				Name:       tc.Name,
			})

			if l.Terminal != "" && tc.Name == l.Terminal && rec.Err == "" {
				result.Terminated = true
				return result, nil
			}
		}
	}

	result.Exhausted = true
	l.Log.Warn().Int("max_steps", l.MaxSteps).Msg("Step budget exhausted")
	return result, nil
}

func (l *Loop) execute(ctx context.Context, step int, tc llm.ToolCall, calls map[string]int) tools.Record {
	rec := tools.Record{
		Step:   step,
		CallID: tc.ID,
		Tool:   tc.Name,
		Args:   tc.Arguments,
	}

	if limit, capped := l.CallLimits[tc.Name]; capped && calls[tc.Name] >= limit {
		rec.Err = CallLimitMessage
		return rec
	}

	tool, ok := l.lookup(tc.Name)
	if !ok {
		rec.Err = fmt.Sprintf("unknown tool %q", tc.Name)
		return rec
	}
	calls[tc.Name]++

	out, err := tool.Call(ctx, tc.Arguments)
	if err != nil {
		rec.Err = err.Error()
		l.Log.Warn().Err(err).Str("tool", tc.Name).Msg("Tool call failed")
		return rec
	}
	rec.Result = out
	return rec
}

func (l *Loop) lookup(name string) (tools.Tool, bool) {
	if l.Tools == nil {
		return nil, false
	}
	return l.Tools.Lookup(name)
}

func (l *Loop) toolSpecs() []llm.ToolSpec {
	if l.Tools == nil {
		return nil
	}
	specs := make([]llm.ToolSpec, 0, l.Tools.Len())
	for _, t := range l.Tools.List() {
		specs = append(specs, llm.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.InputSchema(),
		})
	}
	return specs
}
