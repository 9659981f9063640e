package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/notevault/server/internal/logger"
	"github.com/notevault/server/internal/repo"
)

// Janitor periodically purges expired challenges. Verification never deletes
// an expired challenge, so without it they accumulate.
type Janitor struct {
	challenges repo.ChallengeRepo
	interval   time.Duration
	now        func() time.Time
	log        *slog.Logger
}

// NewJanitor creates a Janitor that sweeps every interval.
func NewJanitor(challenges repo.ChallengeRepo, interval time.Duration, log *slog.Logger) *Janitor {
	if log == nil {
		log = logger.Discard()
	}
	return &Janitor{
		challenges: challenges,
		interval:   interval,
		now:        time.Now,
		log:        log,
	}
}

// Run sweeps until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	if j.interval <= 0 {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
				j.log.ErrorContext(ctx, "challenge sweep failed", logger.Error(err), logger.Component("janitor"))
			}
		}
	}
}

// Sweep deletes every challenge expired at the time of the call.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	n, err := j.challenges.DeleteExpired(ctx, j.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		j.log.InfoContext(ctx, "expired challenges purged", slog.Int64("count", n), logger.Component("janitor"))
	}
	return n, nil
}
