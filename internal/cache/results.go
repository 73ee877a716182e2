package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"mediaqueue/internal/domain"
	"mediaqueue/internal/infra"
)

const (
	KeyLastResult = "last-result"
	KeyJobs       = "jobs"
)

// LastResult is the most recently completed generation.
type LastResult struct {
	URL         string           `json:"url"`
	Kind        domain.MediaKind `json:"type"`
	JobID       string           `json:"job_id,omitempty"`
	Family      domain.Family    `json:"family,omitempty"`
	Prompt      string           `json:"prompt,omitempty"`
	CompletedAt time.Time        `json:"completed_at"`
}

// ResultCache reads and writes the two cached documents. Reads never fail:
// a missing or unreadable value is treated as empty and logged.
type ResultCache struct {
	kv     KV
	logger infra.Logger
}

func NewResultCache(kv KV, logger *infra.Logger) *ResultCache {
	l := zerolog.New(io.Discard)
	if logger != nil {
		l = *logger
	}
	return &ResultCache{kv: kv, logger: l}
}

func (c *ResultCache) LoadJobs(ctx context.Context) []domain.Job {
	var jobs []domain.Job
	if !c.load(ctx, KeyJobs, &jobs) {
		return nil
	}
	return jobs
}

func (c *ResultCache) SaveJobs(ctx context.Context, jobs []domain.Job) error {
	if jobs == nil {
		jobs = []domain.Job{}
	}
	return c.save(ctx, KeyJobs, jobs)
}

func (c *ResultCache) LoadLastResult(ctx context.Context) (LastResult, bool) {
	var res LastResult
	if !c.load(ctx, KeyLastResult, &res) || res.URL == "" {
		return LastResult{}, false
	}
	return res, true
}

func (c *ResultCache) SaveLastResult(ctx context.Context, res LastResult) error {
	return c.save(ctx, KeyLastResult, res)
}

// EvictLastResult deletes the cached last result if it points at url.
func (c *ResultCache) EvictLastResult(ctx context.Context, url string) (bool, error) {
	if url == "" {
		return false, nil
	}
	current, ok := c.LoadLastResult(ctx)
	if !ok || current.URL != url {
		return false, nil
	}
	if err := c.kv.Delete(ctx, KeyLastResult); err != nil {
		return false, err
	}
	return true, nil
}

func (c *ResultCache) load(ctx context.Context, key string, dst any) bool {
	raw, err := c.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache: read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache: discarding corrupt value")
		return false
	}
	return true
}

func (c *ResultCache) save(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	return c.kv.Set(ctx, key, raw)
}
