// Package journal persists a local record of every decision cycle.
//
// The journal is observability only. It is never read back to decide whether
// to submit; submission dedup is the arena's job via the idempotency key.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/arena-agent/internal/clients/arena"
	"github.com/aristath/arena-agent/internal/database"
	"github.com/aristath/arena-agent/internal/pipeline"
	"github.com/aristath/arena-agent/internal/tools"
)

// Run is one journaled cycle
type Run struct {
	RunID          string
	AgentID        string
	IntervalID     string
	IntervalStart  string
	IdempotencyKey string
	Strategy       string
	State          string
	Error          string
	TradeCount     int
	DecisionJSON   string
	SubmissionID   string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Journal stores cycle reports in SQLite
type Journal struct {
	db  *sql.DB
	log zerolog.Logger
}

// New creates a journal over a migrated database
func New(db *database.DB, log zerolog.Logger) *Journal {
	return &Journal{
		db:  db.Conn(),
		log: log.With().Str("component", "journal").Logger(),
	}
}

// Record implements pipeline.Sink
func (j *Journal) Record(ctx context.Context, report *pipeline.Report) error {
	run := Run{
		RunID:         report.RunID,
		AgentID:       report.AgentID,
		IntervalID:    report.IntervalID(),
		IntervalStart: report.IntervalStart(),
		Strategy:      report.Strategy,
		State:         string(report.State),
		Error:         report.Err,
		StartedAt:     report.StartedAt,
		FinishedAt:    report.FinishedAt,
	}
	if run.IntervalStart != "" {
		run.IdempotencyKey = arena.IdempotencyKey(report.AgentID, run.IntervalStart)
	}
	if report.Decision != nil {
		payload, err := json.Marshal(report.Decision)
		if err != nil {
			return fmt.Errorf("failed to marshal decision: %w", err)
		}
		run.DecisionJSON = string(payload)
		run.TradeCount = len(report.Decision.Trades())
	}
	if report.Submission != nil {
		run.SubmissionID = report.Submission.SubmissionID
	}

	err := database.WithTransaction(ctx, j.db, func(tx *sql.Tx) error {
		if err := insertRun(ctx, tx, run); err != nil {
			return err
		}
		for i, call := range report.Trace.ToolCalls {
			if err := insertToolCall(ctx, tx, run.RunID, i, call); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to journal run %s: %w", run.RunID, err)
	}

	j.log.Debug().
		Str("run_id", run.RunID).
		Str("state", run.State).
		Int("tool_calls", len(report.Trace.ToolCalls)).
		Msg("Run journaled")
	return nil
}

func insertRun(ctx context.Context, tx *sql.Tx, run Run) error {
	var decision interface{}
	if run.DecisionJSON != "" {
		decision = run.DecisionJSON
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, agent_id, interval_id, interval_start, idempotency_key, strategy,
			state, error, trade_count, decision_json, submission_id, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.AgentID, run.IntervalID, run.IntervalStart, run.IdempotencyKey, run.Strategy,
		run.State, run.Error, run.TradeCount, decision, run.SubmissionID,
		run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func insertToolCall(ctx context.Context, tx *sql.Tx, runID string, seq int, call tools.Record) error {
	payload, err := msgpack.Marshal(&call)
	if err != nil {
		return fmt.Errorf("failed to encode tool call %d: %w", seq, err)
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO tool_calls (run_id, seq, step, tool, payload) VALUES (?, ?, ?, ?, ?)",
		runID, seq, call.Step, call.Tool, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tool call %d: %w", seq, err)
	}
	return nil
}

// RecentRuns returns up to limit runs of an agent, newest first
func (j *Journal) RecentRuns(ctx context.Context, agentID string, limit int) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, agent_id, interval_id, interval_start, idempotency_key, strategy,
		       state, error, trade_count, COALESCE(decision_json, ''), submission_id, started_at, finished_at
		FROM runs
		WHERE agent_id = ?
		ORDER BY started_at DESC
		LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(
			&r.RunID, &r.AgentID, &r.IntervalID, &r.IntervalStart, &r.IdempotencyKey, &r.Strategy,
			&r.State, &r.Error, &r.TradeCount, &r.DecisionJSON, &r.SubmissionID, &started, &finished,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		r.FinishedAt = time.UnixMilli(finished).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ToolCalls returns the tool calls of a run in call order
func (j *Journal) ToolCalls(ctx context.Context, runID string) ([]tools.Record, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT payload FROM tool_calls WHERE run_id = ? ORDER BY seq", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool calls: %w", err)
	}
	defer rows.Close()

	var calls []tools.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan tool call: %w", err)
		}
		var rec tools.Record
		if err := msgpack.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode tool call: %w", err)
		}
		calls = append(calls, rec)
	}
	return calls, rows.Err()
}

// DeleteBefore removes runs that finished before cutoff, with their tool calls
func (j *Journal) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := database.WithTransaction(ctx, j.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM tool_calls WHERE run_id IN (SELECT run_id FROM runs WHERE finished_at < ?)",
			cutoff.UnixMilli()); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE finished_at < ?", cutoff.UnixMilli())
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal: %w", err)
	}
	return deleted, nil
}
