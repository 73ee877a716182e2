package queue

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mediaqueue/internal/domain"
	"mediaqueue/internal/infra"
	"mediaqueue/internal/providers/vendor"
)

const (
	DefaultPollConcurrency = 4

	msgNoResultURL  = "completed without a result url"
	msgPollTimedOut = "polling timed out"
)

// StatusFetcher queries the remote API for the state of a task.
type StatusFetcher interface {
	Status(ctx context.Context, family domain.Family, remoteID string) (vendor.Payload, error)
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	Concurrency int
	// MaxDuration fails jobs that have been running longer than this.
	// Zero disables the limit.
	MaxDuration time.Duration
	Analytics   domain.GenerationRepository
	// AnalyticsTimeout bounds each analytics insert. Zero means
	// DefaultAnalyticsTimeout.
	AnalyticsTimeout time.Duration
	Logger           *infra.Logger
	Now              func() time.Time
}

// Poller drives running jobs to a terminal state.
type Poller struct {
	engine      *Engine
	client      StatusFetcher
	analytics   *recorder
	logger      infra.Logger
	concurrency int
	maxDuration time.Duration
	now         func() time.Time
}

func NewPoller(engine *Engine, client StatusFetcher, opts PollerOptions) *Poller {
	p := &Poller{
		engine:      engine,
		client:      client,
		analytics:   newRecorder(opts.Analytics, opts.AnalyticsTimeout),
		concurrency: opts.Concurrency,
		maxDuration: opts.MaxDuration,
		now:         opts.Now,
		logger:      zerolog.New(io.Discard),
	}
	if opts.Logger != nil {
		p.logger = *opts.Logger
	}
	if p.concurrency <= 0 {
		p.concurrency = DefaultPollConcurrency
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Poll queries every running job once. A failed status request leaves the job
// running for the next round.
func (p *Poller) Poll(ctx context.Context) error {
	jobs := p.engine.Running()
	if len(jobs) == 0 {
		return nil
	}
	now := p.now()
	var eg errgroup.Group
	eg.SetLimit(p.concurrency)
	for _, job := range jobs {
		job := job
		if p.maxDuration > 0 && !job.StartedAt.IsZero() && now.Sub(job.StartedAt) > p.maxDuration {
			if _, err := p.engine.MarkFailed(job.ID, domain.JobStatusRunning, msgPollTimedOut); err != nil {
				logTransition(p.logger, err)
			}
			continue
		}
		eg.Go(func() error {
			p.pollOne(ctx, job)
			return nil
		})
	}
	return eg.Wait()
}

// Wait blocks until background analytics inserts have finished.
func (p *Poller) Wait() { p.analytics.wait() }

func (p *Poller) pollOne(ctx context.Context, job domain.Job) {
	log := p.logger.With().
		Str("job_id", job.ID).
		Str("remote_id", job.RemoteID).
		Str("family", string(job.Family)).
		Logger()

	adapter, err := vendor.For(job.Family)
	if err != nil {
		log.Error().Err(err).Msg("queue: no adapter for running job")
		return
	}
	if adapter.Synchronous() {
		return
	}

	p.engine.metrics.statusPolled(job.Family)
	resp, err := p.client.Status(ctx, job.Family, job.RemoteID)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("queue: status request failed")
		}
		return
	}

	outcome := vendor.Normalize(adapter, resp)
	log.Debug().Str("status", outcome.RawStatus).Str("normalized", string(outcome.Status)).Msg("queue: status polled")

	switch outcome.Status {
	case domain.JobStatusSucceeded:
		url := outcome.URL()
		if url == "" {
			if _, err := p.engine.MarkFailed(job.ID, domain.JobStatusRunning, msgNoResultURL); err != nil {
				logTransition(log, err)
			}
			return
		}
		done, err := p.engine.MarkSucceeded(job.ID, domain.JobStatusRunning, domain.Result{
			URL:  url,
			Kind: job.Family.Media(),
			URLs: outcome.URLs,
			Raw:  resp.Raw(),
		})
		if err != nil {
			logTransition(log, err)
			return
		}
		p.analytics.record(ctx, done, log)
	case domain.JobStatusFailed:
		if _, err := p.engine.MarkFailed(job.ID, domain.JobStatusRunning, outcome.Error); err != nil {
			logTransition(log, err)
		}
	}
}
