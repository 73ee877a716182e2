package queue

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mediaqueue/internal/infra"
)

const (
	DefaultGateInterval = time.Second
	DefaultPollInterval = 3 * time.Second
)

// Scheduler runs the gate and the poller on their own tickers until the
// context ends. The gate also runs whenever the engine reports a change.
type Scheduler struct {
	engine       *Engine
	gate         *Gate
	poller       *Poller
	gateInterval time.Duration
	pollInterval time.Duration
	logger       infra.Logger
}

func NewScheduler(engine *Engine, gate *Gate, poller *Poller, gateInterval, pollInterval time.Duration, logger *infra.Logger) *Scheduler {
	if gateInterval <= 0 {
		gateInterval = DefaultGateInterval
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	l := zerolog.New(io.Discard)
	if logger != nil {
		l = *logger
	}
	return &Scheduler{
		engine:       engine,
		gate:         gate,
		poller:       poller,
		gateInterval: gateInterval,
		pollInterval: pollInterval,
		logger:       l,
	}
}

// Run blocks until ctx is cancelled and pending analytics inserts have
// returned.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().
		Dur("gate_interval", s.gateInterval).
		Dur("poll_interval", s.pollInterval).
		Int("max_parallel", s.engine.MaxParallel()).
		Msg("queue: scheduler started")

	var eg errgroup.Group
	eg.Go(func() error { return s.gateLoop(ctx) })
	eg.Go(func() error { return s.pollLoop(ctx) })
	err := eg.Wait()
	s.gate.Wait()
	s.poller.Wait()
	s.logger.Info().Msg("queue: scheduler stopped")
	return err
}

func (s *Scheduler) gateLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.gateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-s.engine.Changed():
		}
		if err := s.gate.Scan(ctx); err != nil {
			s.logger.Error().Err(err).Msg("queue: gate scan failed")
		}
	}
}

func (s *Scheduler) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := s.poller.Poll(ctx); err != nil {
			s.logger.Error().Err(err).Msg("queue: poll failed")
		}
	}
}
