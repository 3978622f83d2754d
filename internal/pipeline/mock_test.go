package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/aristath/arena-agent/internal/domain"
	"github.com/aristath/arena-agent/internal/strategy"
)

type mockArena struct {
	mock.Mock
}

func (m *mockArena) CheckVersion(ctx context.Context) (*domain.VersionResponse, error) {
	args := m.Called(ctx)
	v, _ := args.Get(0).(*domain.VersionResponse)
	return v, args.Error(1)
}

func (m *mockArena) GetClock(ctx context.Context) (*domain.Clock, error) {
	args := m.Called(ctx)
	c, _ := args.Get(0).(*domain.Clock)
	return c, args.Error(1)
}

func (m *mockArena) GetPortfolio(ctx context.Context, agentID string) (*domain.Portfolio, error) {
	args := m.Called(ctx, agentID)
	p, _ := args.Get(0).(*domain.Portfolio)
	return p, args.Error(1)
}

func (m *mockArena) GetAssets(ctx context.Context) ([]domain.AssetInfo, error) {
	args := m.Called(ctx)
	a, _ := args.Get(0).([]domain.AssetInfo)
	return a, args.Error(1)
}

func (m *mockArena) ValidateDecision(ctx context.Context, agentID string, decision *domain.Decision) (*domain.ValidationResult, error) {
	args := m.Called(ctx, agentID, decision)
	v, _ := args.Get(0).(*domain.ValidationResult)
	return v, args.Error(1)
}

func (m *mockArena) SubmitDecision(ctx context.Context, agentID string, decision *domain.Decision, intervalStart string) (*domain.SubmissionResult, error) {
	args := m.Called(ctx, agentID, decision, intervalStart)
	s, _ := args.Get(0).(*domain.SubmissionResult)
	return s, args.Error(1)
}

type stubEngine struct {
	outcome *strategy.Outcome
	err     error
	calls   int
}

func (e *stubEngine) Name() string { return "stub" }

func (e *stubEngine) Decide(ctx context.Context, snap *domain.Snapshot) (*strategy.Outcome, error) {
	e.calls++
	return e.outcome, e.err
}

type recordingSink struct {
	reports []*Report
	err     error
}

func (s *recordingSink) Record(ctx context.Context, report *Report) error {
	s.reports = append(s.reports, report)
	return s.err
}
