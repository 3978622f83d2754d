package journal

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// PruneJob removes journal entries older than the retention window.
type PruneJob struct {
	journal   *Journal
	retention time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewPruneJob creates a prune job
func NewPruneJob(journal *Journal, retention time.Duration, log zerolog.Logger) *PruneJob {
	return &PruneJob{
		journal:   journal,
		retention: retention,
		now:       time.Now,
		log:       log.With().Str("job", "journal_prune").Logger(),
	}
}

// Run executes the prune
func (j *PruneJob) Run() error {
	deleted, err := j.journal.DeleteBefore(context.Background(), j.now().Add(-j.retention))
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to prune journal")
		return err
	}
	if deleted > 0 {
		j.log.Info().Int64("deleted", deleted).Msg("Pruned old journal runs")
	}
	return nil
}

// Name returns the job name for scheduling and logging
func (j *PruneJob) Name() string {
	return "journal_prune"
}
