package ingest

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Reindexer runs a full reindex of the documents directory on a cron
// schedule. Disabled unless a schedule expression is configured.
type Reindexer struct {
	cron   *cron.Cron
	logger zerolog.Logger
}

// NewReindexer schedules reindex on the given cron expression (standard
// five-field syntax).
func NewReindexer(expr string, logger zerolog.Logger, reindex func()) (*Reindexer, error) {
	c := cron.New()

	if _, err := c.AddFunc(expr, func() {
		logger.Info().Str("schedule", expr).Msg("Scheduled reindex starting")
		reindex()
	}); err != nil {
		return nil, fmt.Errorf("invalid reindex schedule %q: %w", expr, err)
	}

	return &Reindexer{cron: c, logger: logger}, nil
}

// Start begins running the schedule.
func (r *Reindexer) Start() {
	r.cron.Start()
}

// Stop stops the scheduler, waiting for a running job to finish.
func (r *Reindexer) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info().Msg("Reindex scheduler stopped")
}
