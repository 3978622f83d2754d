// Package pipeline sequences one decision cycle: version check, market
// snapshot, strategy decision, remote validation and idempotent submission.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/arena-agent/internal/domain"
	"github.com/aristath/arena-agent/internal/strategy"
)

// State is a pipeline stage
type State string

// Pipeline states. Submitted, ValidationFailed and Aborted are terminal.
const (
	StateInit             State = "init"
	StateVersionChecked   State = "version_checked"
	StateSnapshotRead     State = "snapshot_read"
	StateDecided          State = "decided"
	StateValidated        State = "validated"
	StateSubmitted        State = "submitted"
	StateValidationFailed State = "validation_failed"
	StateAborted          State = "aborted"
)

// Terminal reports whether no further stage follows s
func (s State) Terminal() bool {
	return s == StateSubmitted || s == StateValidationFailed || s == StateAborted
}

// ArenaAPI is every arena call a cycle makes
type ArenaAPI interface {
	MarketAPI
	Validator
	SubmitDecision(ctx context.Context, agentID string, decision *domain.Decision, intervalStart string) (*domain.SubmissionResult, error)
}

// Decider produces a decision outcome for a snapshot
type Decider interface {
	Name() string
	Decide(ctx context.Context, snap *domain.Snapshot) (*strategy.Outcome, error)
}

// Sink receives the report of every finished cycle
type Sink interface {
	Record(ctx context.Context, report *Report) error
}

// Report is the observable record of one cycle
type Report struct {
	RunID      string                   `json:"run_id"`
	AgentID    string                   `json:"agent_id"`
	Strategy   string                   `json:"strategy"`
	State      State                    `json:"state"`
	Snapshot   *domain.Snapshot         `json:"snapshot,omitempty"`
	Decision   *domain.Decision         `json:"decision,omitempty"`
	Validation *domain.ValidationResult `json:"validation,omitempty"`
	Submission *domain.SubmissionResult `json:"submission,omitempty"`
	Trace      strategy.Trace           `json:"trace"`
	Err        string                   `json:"error,omitempty"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
}

// IntervalStart returns the start of the interval the cycle observed, if any.
func (r *Report) IntervalStart() string {
	if r.Snapshot == nil {
		return ""
	}
	return r.Snapshot.Clock.CurrentInterval.StartTime
}

// IntervalID returns the id of the interval the cycle observed, if any.
func (r *Report) IntervalID() string {
	if r.Snapshot == nil {
		return ""
	}
	return r.Snapshot.Clock.CurrentInterval.ID
}

// Orchestrator runs decision cycles. It never retries; re-running a whole
// cycle is safe because submissions carry a deterministic idempotency key.
type Orchestrator struct {
	api     ArenaAPI
	reader  *SnapshotReader
	gate    *Gate
	engine  Decider
	agentID string
	sinks   []Sink
	now     func() time.Time
	log     zerolog.Logger
}

// NewOrchestrator creates an orchestrator for one agent
func NewOrchestrator(api ArenaAPI, engine Decider, agentID string, log zerolog.Logger, sinks ...Sink) *Orchestrator {
	return &Orchestrator{
		api:     api,
		reader:  NewSnapshotReader(api, agentID, log),
		gate:    NewGate(api, log),
		engine:  engine,
		agentID: agentID,
		sinks:   sinks,
		now:     time.Now,
		log:     log.With().Str("component", "pipeline").Str("agent_id", agentID).Logger(),
	}
}

// Run executes one cycle. The report is always returned, with its terminal
// state, and handed to every sink before Run returns.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:     uuid.New().String(),
		AgentID:   o.agentID,
		Strategy:  o.engine.Name(),
		State:     StateInit,
		StartedAt: o.now().UTC(),
	}
	log := o.log.With().Str("run_id", report.RunID).Logger()
	log.Info().Str("strategy", report.Strategy).Msg("Starting decision cycle")

	err := o.run(ctx, report, log)

	report.FinishedAt = o.now().UTC()
	if err != nil {
		report.Err = err.Error()
		if !report.State.Terminal() {
			log.Error().Err(err).Str("stage", string(report.State)).Msg("Cycle aborted")
			report.State = StateAborted
		}
	}
	switch report.State {
	case StateSubmitted:
		log.Info().Str("submission_id", report.Submission.SubmissionID).Msg("Decision submitted")
	case StateValidationFailed:
		log.Error().Err(err).Msg("Decision failed validation, not submitting")
	}

	o.record(ctx, report, log)
	return report, err
}

func (o *Orchestrator) run(ctx context.Context, report *Report, log zerolog.Logger) error {
	version, err := o.reader.CheckVersion(ctx)
	if err != nil {
		return err
	}
	report.State = StateVersionChecked

	snap, err := o.reader.ReadMarket(ctx, version)
	if err != nil {
		return err
	}
	report.Snapshot = snap
	report.State = StateSnapshotRead

	log.Info().Msg("Running strategy")
	outcome, err := o.engine.Decide(ctx, snap)
	if outcome != nil {
		report.Trace = outcome.Trace
	}
	if err != nil {
		return fmt.Errorf("strategy %s: %w", o.engine.Name(), err)
	}
	if outcome == nil || outcome.Decision == nil {
		return &domain.EngineIncompleteError{Policy: o.engine.Name(), Steps: len(report.Trace.Steps)}
	}
	report.Decision = outcome.Decision
	report.State = StateDecided
	log.Info().
		Str("reasoning", outcome.Decision.Reasoning).
		Int("trades", len(outcome.Decision.Trades())).
		Msg("Decision ready")

	validation, err := o.gate.Validate(ctx, o.agentID, outcome.Decision)
	report.Validation = validation
	if err != nil {
		var failure *domain.ValidationFailure
		if errors.As(err, &failure) {
			report.State = StateValidationFailed
		}
		return err
	}
	report.State = StateValidated

	submission, err := o.api.SubmitDecision(ctx, o.agentID, outcome.Decision, snap.Clock.CurrentInterval.StartTime)
	if err != nil {
		return fmt.Errorf("failed to submit decision: %w", err)
	}
	report.Submission = submission
	if !submission.Accepted {
		return fmt.Errorf("submission %s was not accepted", submission.SubmissionID)
	}
	report.State = StateSubmitted
	return nil
}

// record hands the report to the sinks. Sink failures never change the outcome.
func (o *Orchestrator) record(ctx context.Context, report *Report, log zerolog.Logger) {
	ctx = context.WithoutCancel(ctx)
	for _, sink := range o.sinks {
		if err := sink.Record(ctx, report); err != nil {
			log.Warn().Err(err).Msg("Failed to record cycle report")
		}
	}
}

// ExitCode maps a cycle error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
