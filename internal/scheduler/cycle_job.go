package scheduler

import (
	"context"

	"github.com/aristath/arena-agent/internal/pipeline"
)

// Cycle runs one decision cycle
type Cycle interface {
	Run(ctx context.Context) (*pipeline.Report, error)
}

// CycleJob re-runs the whole pipeline on each tick. Repeated runs inside one
// interval are absorbed by the arena through the submission idempotency key.
type CycleJob struct {
	ctx   context.Context
	cycle Cycle
}

// NewCycleJob creates a job bound to ctx
func NewCycleJob(ctx context.Context, cycle Cycle) *CycleJob {
	return &CycleJob{ctx: ctx, cycle: cycle}
}

// Run executes one cycle
func (j *CycleJob) Run() error {
	_, err := j.cycle.Run(j.ctx)
	return err
}

// Name returns the job name for scheduling and logging
func (j *CycleJob) Name() string {
	return "decision_cycle"
}
