package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mediaqueue/internal/domain"
)

// DefaultAnalyticsTimeout bounds a single generation insert.
const DefaultAnalyticsTimeout = 10 * time.Second

// recorder writes analytics rows in the background so a slow database never
// holds up a gate scan or a poll round.
type recorder struct {
	repo    domain.GenerationRepository
	timeout time.Duration
	wg      sync.WaitGroup
}

func newRecorder(repo domain.GenerationRepository, timeout time.Duration) *recorder {
	if timeout <= 0 {
		timeout = DefaultAnalyticsTimeout
	}
	return &recorder{repo: repo, timeout: timeout}
}

// record inserts the generation row for a succeeded job. Failures are logged
// and otherwise ignored.
func (r *recorder) record(ctx context.Context, job domain.Job, log zerolog.Logger) {
	if r == nil || r.repo == nil {
		return
	}
	g := domain.NewGeneration(job)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		if err := r.repo.Insert(ctx, g); err != nil {
			log.Warn().Err(err).Msg("queue: analytics insert failed")
		}
	}()
}

// wait blocks until every pending insert has returned.
func (r *recorder) wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}
