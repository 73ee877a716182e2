package queue

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mediaqueue/internal/domain"
	"mediaqueue/internal/infra"
	"mediaqueue/internal/providers/remote"
	"mediaqueue/internal/providers/vendor"
)

const (
	msgMissingTaskID = "missing task id"
	msgEmptyResult   = "empty result"
)

// Submitter posts a job payload to the remote API.
type Submitter interface {
	Submit(ctx context.Context, family domain.Family, payload any) (vendor.Payload, error)
}

// Gate moves queued jobs to the remote API without exceeding the engine's
// parallelism cap. Submissions are never retried.
type Gate struct {
	engine    *Engine
	client    Submitter
	analytics *recorder
	logger    infra.Logger
}

func NewGate(engine *Engine, client Submitter, analytics domain.GenerationRepository, logger *infra.Logger) *Gate {
	l := zerolog.New(io.Discard)
	if logger != nil {
		l = *logger
	}
	return &Gate{engine: engine, client: client, analytics: newRecorder(analytics, 0), logger: l}
}

// Scan claims as many queued jobs as capacity allows and submits them
// concurrently, returning once every submission has settled. Analytics
// inserts may still be pending; see Wait.
func (g *Gate) Scan(ctx context.Context) error {
	claimed := g.engine.Claim(0)
	if len(claimed) == 0 {
		return nil
	}
	var eg errgroup.Group
	for _, job := range claimed {
		job := job
		eg.Go(func() error {
			g.submit(ctx, job)
			return nil
		})
	}
	return eg.Wait()
}

// Wait blocks until background analytics inserts have finished.
func (g *Gate) Wait() { g.analytics.wait() }

func (g *Gate) submit(ctx context.Context, job domain.Job) {
	log := g.logger.With().Str("job_id", job.ID).Str("family", string(job.Family)).Logger()

	adapter, err := vendor.For(job.Family)
	if err != nil {
		g.fail(log, job, err.Error())
		return
	}

	resp, err := g.client.Submit(ctx, job.Family, adapter.SubmitPayload(job.Variant, job.Input))
	if err != nil {
		if ctx.Err() != nil {
			// Left in submitting; hydration fails it on the next start.
			log.Warn().Err(err).Msg("queue: submit interrupted by shutdown")
			return
		}
		log.Warn().Err(err).Msg("queue: submit failed")
		g.fail(log, job, remote.Message(err))
		return
	}

	if adapter.Synchronous() {
		urls := adapter.ResultURLs(resp)
		if len(urls) == 0 {
			g.fail(log, job, msgEmptyResult)
			return
		}
		done, err := g.engine.MarkSucceeded(job.ID, domain.JobStatusSubmitting, domain.Result{
			URL:  urls[0],
			Kind: job.Family.Media(),
			URLs: urls,
			Raw:  resp.Raw(),
		})
		if err != nil {
			logTransition(log, err)
			return
		}
		g.analytics.record(ctx, done, log)
		return
	}

	remoteID := adapter.RemoteID(resp)
	if remoteID == "" {
		g.fail(log, job, msgMissingTaskID)
		return
	}
	if _, err := g.engine.MarkRunning(job.ID, remoteID); err != nil {
		logTransition(log, err)
	}
}

func (g *Gate) fail(log zerolog.Logger, job domain.Job, message string) {
	if _, err := g.engine.MarkFailed(job.ID, domain.JobStatusSubmitting, message); err != nil {
		logTransition(log, err)
	}
}

func logTransition(log zerolog.Logger, err error) {
	if errors.Is(err, domain.ErrStaleTransition) {
		log.Debug().Err(err).Msg("queue: dropped stale update")
		return
	}
	log.Error().Err(err).Msg("queue: transition rejected")
}
