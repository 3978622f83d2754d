package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/aristath/arena-agent/internal/clients/llm"
	"github.com/aristath/arena-agent/internal/domain"
	"github.com/aristath/arena-agent/internal/tools"
)

// scriptedModel replays canned replies and records every request.
type scriptedModel struct {
	mu       sync.Mutex
	replies  []llm.Message
	err      error
	requests []llm.Request
}

func (m *scriptedModel) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.replies) == 0 {
		return nil, errors.New("script exhausted")
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return &llm.Response{Message: reply, FinishReason: "stop"}, nil
}

func text(content string) llm.Message {
	return llm.Message{Role: llm.RoleAssistant, Content: content}
}

func call(id, name, args string) llm.Message {
	return llm.Message{
		Role:      llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{{ID: id, Name: name, Arguments: json.RawMessage(args)}},
	}
}

// trackingProvider hands out static tools and counts session closes.
type trackingProvider struct {
	tools   []tools.Tool
	openErr error
	opened  int
	closed  int
}

func (p *trackingProvider) Open(ctx context.Context) (tools.Session, error) {
	if p.openErr != nil {
		return nil, p.openErr
	}
	p.opened++
	return &trackingSession{p: p}, nil
}

type trackingSession struct {
	p *trackingProvider
}

func (s *trackingSession) Tools(ctx context.Context) ([]tools.Tool, error) { return s.p.tools, nil }
func (s *trackingSession) Close() error {
	s.p.closed++
	return nil
}

func staticTool(name, result string) *tools.Func {
	return &tools.Func{
		ToolName:        name,
		ToolDescription: "returns " + name + " data",
		Fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			return result, nil
		},
	}
}

func failingTool(name string, err error) *tools.Func {
	return &tools.Func{
		ToolName: name,
		Fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "", err
		},
	}
}

type fakePortfolio struct {
	portfolio *domain.Portfolio
	calls     int
}

func (f *fakePortfolio) GetPortfolio(ctx context.Context, agentID string) (*domain.Portfolio, error) {
	f.calls++
	return f.portfolio, nil
}

func testSnapshot() *domain.Snapshot {
	subnet := 1
	return &domain.Snapshot{
		Version: domain.VersionResponse{SchemaVersion: domain.SchemaVersion, IntervalSeconds: 900},
		Clock: domain.Clock{
			CurrentInterval:  domain.Interval{ID: "iv-42", StartTime: "2026-01-01T00:00:00Z"},
			SecondsRemaining: 600,
		},
		Portfolio: domain.Portfolio{
			AgentID:  "agent-1",
			Balances: []domain.Balance{{Asset: "USD", Amount: 10000}, {Asset: "TAO", Amount: 2.5}},
			NAVUSD:   11000.456,
		},
		Assets: []domain.AssetInfo{
			{AssetID: "USD"},
			{AssetID: "TAO"},
			{AssetID: "ALPHA_1", SubnetID: &subnet},
		},
	}
}

const holdReply = `{"trades":[],"reasoning":"Holding."}`
const buyReply = `{"trades":[{"from":"USD","to":"TAO","amount":100}],"reasoning":"Buy some TAO."}`
