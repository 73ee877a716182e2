// Package queue runs media-generation jobs: the engine owns job state, the
// gate submits queued jobs within the parallelism limit, and the poller
// drives running jobs to completion.
package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mediaqueue/internal/cache"
	"mediaqueue/internal/domain"
	"mediaqueue/internal/infra"
)

const (
	DefaultMaxParallel     = 3
	DefaultDuplicateWindow = 5 * time.Second
	DefaultPersistDebounce = 250 * time.Millisecond

	msgUserCancelled = "user cancelled"
	msgInterrupted   = "interrupted before submission completed"
)

// EnqueueRequest describes a generate action.
type EnqueueRequest struct {
	Family  domain.Family `json:"family"`
	Variant string        `json:"variant"`
	Input   domain.Input  `json:"input"`
}

// Options configures an Engine. Zero values fall back to the defaults above.
type Options struct {
	MaxParallel     int
	DuplicateWindow time.Duration
	PersistDebounce time.Duration
	Cache           *cache.ResultCache
	Logger          *infra.Logger
	Metrics         *Metrics
	Now             func() time.Time
	NewID           func() string
}

// Engine is the single owner of job state. Every mutation goes through it,
// runs under one lock, and is followed by a subscriber notification and a
// debounced write to the cache.
type Engine struct {
	maxParallel int
	window      time.Duration
	debounce    time.Duration
	cache       *cache.ResultCache
	logger      infra.Logger
	metrics     *Metrics
	now         func() time.Time
	newID       func() string

	mu        sync.Mutex
	jobs      []*domain.Job // newest first
	recent    map[string]time.Time
	last      *cache.LastResult
	lastDirty bool
	evicted   []string
	dirty     bool
	timer     *time.Timer
	subs      map[int]chan []domain.Job
	nextSub   int
	changed   chan struct{}

	// serializes cache writes so a slow write never lands after a newer one
	writeMu sync.Mutex
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		maxParallel: opts.MaxParallel,
		window:      opts.DuplicateWindow,
		debounce:    opts.PersistDebounce,
		cache:       opts.Cache,
		metrics:     opts.Metrics,
		now:         opts.Now,
		newID:       opts.NewID,
		recent:      make(map[string]time.Time),
		subs:        make(map[int]chan []domain.Job),
		changed:     make(chan struct{}, 1),
	}
	if e.maxParallel <= 0 {
		e.maxParallel = DefaultMaxParallel
	}
	if e.window <= 0 {
		e.window = DefaultDuplicateWindow
	}
	if e.debounce < 0 {
		e.debounce = 0
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if opts.Logger != nil {
		e.logger = *opts.Logger
	} else {
		e.logger = zerolog.New(io.Discard)
	}
	return e
}

// MaxParallel is the cap on jobs that are submitting or running at once.
func (e *Engine) MaxParallel() int { return e.maxParallel }

// Enqueue validates the request and appends a queued job. An identical
// request accepted within the duplicate window is rejected with
// domain.ErrDuplicateSuppressed.
func (e *Engine) Enqueue(ctx context.Context, req EnqueueRequest) (domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return domain.Job{}, err
	}
	if err := req.Input.Validate(req.Family); err != nil {
		return domain.Job{}, err
	}
	in := normalizeInput(req.Input)
	variant := strings.TrimSpace(req.Variant)
	key := idempotencyKey(req.Family, variant, in)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.pruneRecentLocked(now)
	if at, ok := e.recent[key]; ok && now.Sub(at) < e.window {
		e.metrics.jobSuppressed(req.Family)
		e.logger.Debug().Str("family", string(req.Family)).Msg("queue: duplicate submission suppressed")
		return domain.Job{}, domain.ErrDuplicateSuppressed
	}
	e.recent[key] = now

	job := &domain.Job{
		ID:        e.newID(),
		Family:    req.Family,
		Variant:   variant,
		Input:     in,
		Status:    domain.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.jobs = append([]*domain.Job{job}, e.jobs...)
	e.changedLocked()
	e.metrics.jobEnqueued(job.Family)
	e.logger.Info().
		Str("job_id", job.ID).
		Str("family", string(job.Family)).
		Str("variant", job.Variant).
		Msg("queue: job enqueued")
	return job.Clone(), nil
}

// Claim marks up to limit queued jobs as submitting, oldest first, without
// exceeding the parallelism cap. limit <= 0 means "as many as fit".
func (e *Engine) Claim(limit int) []domain.Job {
	e.mu.Lock()
	defer e.mu.Unlock()

	capacity := e.maxParallel - e.inflightLocked()
	if limit > 0 && limit < capacity {
		capacity = limit
	}
	if capacity <= 0 {
		return nil
	}
	now := e.now()
	var claimed []domain.Job
	for i := len(e.jobs) - 1; i >= 0 && len(claimed) < capacity; i-- {
		j := e.jobs[i]
		if j.Status != domain.JobStatusQueued {
			continue
		}
		if err := j.Transition(domain.JobStatusSubmitting, now); err != nil {
			continue
		}
		claimed = append(claimed, j.Clone())
	}
	if len(claimed) > 0 {
		e.changedLocked()
	}
	return claimed
}

// MarkRunning records the remote id of a submitted job.
func (e *Engine) MarkRunning(id, remoteID string) (domain.Job, error) {
	job, err := e.mutate(id, domain.JobStatusSubmitting, func(j *domain.Job, now time.Time) error {
		return j.Start(remoteID, now)
	})
	if err != nil {
		return job, err
	}
	e.metrics.jobSubmitted(job.Family)
	e.logger.Info().
		Str("job_id", job.ID).
		Str("remote_id", job.RemoteID).
		Str("family", string(job.Family)).
		Msg("queue: job running")
	return job, nil
}

// MarkSucceeded stores the result of a job that is still in status from.
func (e *Engine) MarkSucceeded(id string, from domain.JobStatus, result domain.Result) (domain.Job, error) {
	job, err := e.mutate(id, from, func(j *domain.Job, now time.Time) error {
		if err := j.Succeed(result, now); err != nil {
			return err
		}
		e.last = &cache.LastResult{
			URL:         j.Result.URL,
			Kind:        j.Result.Kind,
			JobID:       j.ID,
			Family:      j.Family,
			Prompt:      j.Input.Prompt,
			CompletedAt: now,
		}
		e.lastDirty = true
		return nil
	})
	if err != nil {
		return job, err
	}
	e.metrics.jobSucceeded(job.Family)
	e.logger.Info().
		Str("job_id", job.ID).
		Str("remote_id", job.RemoteID).
		Str("url", job.ResultURL()).
		Msg("queue: job succeeded")
	return job, nil
}

// MarkFailed stores the error of a job that is still in status from.
func (e *Engine) MarkFailed(id string, from domain.JobStatus, message string) (domain.Job, error) {
	job, err := e.mutate(id, from, func(j *domain.Job, now time.Time) error {
		return j.Fail(message, now)
	})
	if err != nil {
		return job, err
	}
	e.metrics.jobFailed(job.Family)
	e.logger.Warn().
		Str("job_id", job.ID).
		Str("remote_id", job.RemoteID).
		Str("error", job.Error).
		Msg("queue: job failed")
	return job, nil
}

// mutate applies fn to the job when it still exists and is in status from;
// otherwise the caller's view is stale and nothing changes.
func (e *Engine) mutate(id string, from domain.JobStatus, fn func(*domain.Job, time.Time) error) (domain.Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, j := e.findLocked(id)
	if j == nil {
		return domain.Job{}, fmt.Errorf("%w: job %s no longer exists", domain.ErrStaleTransition, id)
	}
	if j.Status != from {
		return j.Clone(), fmt.Errorf("%w: job %s is %s, expected %s", domain.ErrStaleTransition, id, j.Status, from)
	}
	if err := fn(j, e.now()); err != nil {
		return j.Clone(), err
	}
	e.changedLocked()
	return j.Clone(), nil
}

// Cancel fails a running job locally. The remote task is not stopped; any
// status that arrives for it afterwards is discarded.
func (e *Engine) Cancel(ctx context.Context, id string) (domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return domain.Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	_, j := e.findLocked(id)
	if j == nil {
		return domain.Job{}, domain.ErrNotFound
	}
	if j.Status != domain.JobStatusRunning || j.RemoteID == "" {
		return j.Clone(), fmt.Errorf("%w: only running jobs can be cancelled (job is %s)", domain.ErrInvalidTransition, j.Status)
	}
	if err := j.Fail(msgUserCancelled, e.now()); err != nil {
		return j.Clone(), err
	}
	e.changedLocked()
	e.metrics.jobCancelled(j.Family)
	e.logger.Info().Str("job_id", j.ID).Str("remote_id", j.RemoteID).Msg("queue: job cancelled")
	return j.Clone(), nil
}

// CancelAll cancels every running job and reports how many were cancelled.
func (e *Engine) CancelAll(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	n := 0
	for _, j := range e.jobs {
		if j.Status != domain.JobStatusRunning || j.RemoteID == "" {
			continue
		}
		if err := j.Fail(msgUserCancelled, now); err != nil {
			continue
		}
		e.metrics.jobCancelled(j.Family)
		n++
	}
	if n > 0 {
		e.changedLocked()
		e.logger.Info().Int("count", n).Msg("queue: running jobs cancelled")
	}
	return n
}

// Remove deletes the job and every other job that resolved to the same
// result URL. It returns the ids removed.
func (e *Engine) Remove(ctx context.Context, id string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	_, target := e.findLocked(id)
	if target == nil {
		return nil, domain.ErrNotFound
	}
	url := target.ResultURL()

	kept := make([]*domain.Job, 0, len(e.jobs))
	var removed []string
	for _, j := range e.jobs {
		if j.ID == id || (url != "" && j.ResultURL() == url) {
			removed = append(removed, j.ID)
			continue
		}
		kept = append(kept, j)
	}
	e.jobs = kept

	if url != "" && e.last != nil && e.last.URL == url {
		e.last = nil
		e.lastDirty = true
		e.evicted = append(e.evicted, url)
	}
	e.changedLocked()
	e.logger.Info().Str("job_id", id).Strs("removed", removed).Msg("queue: jobs removed")
	return removed, nil
}

// Jobs returns a snapshot of all jobs, newest first.
func (e *Engine) Jobs() []domain.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) Get(id string) (domain.Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, j := e.findLocked(id)
	if j == nil {
		return domain.Job{}, domain.ErrNotFound
	}
	return j.Clone(), nil
}

// Running returns the jobs the poller should query.
func (e *Engine) Running() []domain.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.Job
	for _, j := range e.jobs {
		if j.Status == domain.JobStatusRunning && j.RemoteID != "" {
			out = append(out, j.Clone())
		}
	}
	return out
}

// Counts returns the number of jobs per status.
func (e *Engine) Counts() map[domain.JobStatus]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	counts := make(map[domain.JobStatus]int, 5)
	for _, j := range e.jobs {
		counts[j.Status]++
	}
	return counts
}

func (e *Engine) LastResult() (cache.LastResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return cache.LastResult{}, false
	}
	return *e.last, true
}

// Changed fires (coalesced) after any mutation.
func (e *Engine) Changed() <-chan struct{} { return e.changed }

// Subscribe returns a channel that receives the current snapshot right away
// and the latest snapshot after each change. Slow readers only ever see the
// newest list. The returned func unsubscribes and closes the channel.
func (e *Engine) Subscribe() (<-chan []domain.Job, func()) {
	ch := make(chan []domain.Job, 1)
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	ch <- e.snapshotLocked()
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			close(ch)
			e.mu.Unlock()
		})
	}
}

// Hydrate replaces in-memory state with what the cache holds. Unreadable
// entries are dropped; jobs whose submit outcome is unknown are failed.
func (e *Engine) Hydrate(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	stored := e.cache.LoadJobs(ctx)
	last, hasLast := e.cache.LoadLastResult(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	seen := make(map[string]struct{}, len(stored))
	loaded := make([]*domain.Job, 0, len(stored))
	dropped, repaired := 0, 0
	for i := range stored {
		j := stored[i]
		if _, dup := seen[j.ID]; dup || !hydratable(j) {
			dropped++
			continue
		}
		seen[j.ID] = struct{}{}
		if j.Status == domain.JobStatusSubmitting || (j.Status == domain.JobStatusRunning && j.RemoteID == "") {
			if err := j.Fail(msgInterrupted, now); err == nil {
				repaired++
			}
		}
		loaded = append(loaded, &j)
	}
	e.jobs = loaded
	e.last = nil
	if hasLast {
		e.last = &last
	}
	if dropped > 0 || repaired > 0 {
		e.dirty = true
		e.schedulePersistLocked()
	}
	e.notifyLocked()
	e.logger.Info().
		Int("jobs", len(loaded)).
		Int("dropped", dropped).
		Int("interrupted", repaired).
		Bool("last_result", hasLast).
		Msg("queue: hydrated from cache")
	return nil
}

// Flush writes pending state to the cache immediately.
func (e *Engine) Flush(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	return e.persist(ctx)
}

func (e *Engine) persist(ctx context.Context) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if !e.dirty {
		e.mu.Unlock()
		return nil
	}
	jobs := e.snapshotLocked()
	var last *cache.LastResult
	if e.last != nil {
		cp := *e.last
		last = &cp
	}
	lastDirty, evicted := e.lastDirty, e.evicted
	e.dirty, e.lastDirty, e.evicted = false, false, nil
	e.mu.Unlock()

	var errs []error
	if err := e.cache.SaveJobs(ctx, jobs); err != nil {
		errs = append(errs, err)
	}
	if lastDirty {
		if last != nil {
			if err := e.cache.SaveLastResult(ctx, *last); err != nil {
				errs = append(errs, err)
			}
		} else {
			for _, url := range evicted {
				if _, err := e.cache.EvictLastResult(ctx, url); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		e.logger.Warn().Err(err).Msg("queue: cache write failed")
		return err
	}
	return nil
}

func (e *Engine) changedLocked() {
	e.dirty = true
	e.schedulePersistLocked()
	e.notifyLocked()
}

func (e *Engine) schedulePersistLocked() {
	if e.cache == nil || e.timer != nil {
		return
	}
	e.timer = time.AfterFunc(e.debounce, func() {
		_ = e.persist(context.Background())
	})
}

func (e *Engine) notifyLocked() {
	for _, ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		ch <- e.snapshotLocked()
	}
	select {
	case e.changed <- struct{}{}:
	default:
	}
}

func (e *Engine) snapshotLocked() []domain.Job {
	out := make([]domain.Job, len(e.jobs))
	for i, j := range e.jobs {
		out[i] = j.Clone()
	}
	return out
}

func (e *Engine) findLocked(id string) (int, *domain.Job) {
	for i, j := range e.jobs {
		if j.ID == id {
			return i, j
		}
	}
	return -1, nil
}

func (e *Engine) inflightLocked() int {
	n := 0
	for _, j := range e.jobs {
		if j.Status == domain.JobStatusSubmitting || j.Status == domain.JobStatusRunning {
			n++
		}
	}
	return n
}

func (e *Engine) pruneRecentLocked(now time.Time) {
	for key, at := range e.recent {
		if now.Sub(at) >= e.window {
			delete(e.recent, key)
		}
	}
}

func hydratable(j domain.Job) bool {
	if j.ID == "" || !j.Family.Valid() || !j.Status.Valid() {
		return false
	}
	switch j.Status {
	case domain.JobStatusSucceeded:
		return j.ResultURL() != ""
	case domain.JobStatusFailed:
		return j.Error != ""
	}
	return true
}

func normalizeInput(in domain.Input) domain.Input {
	out := in
	out.Prompt = strings.TrimSpace(in.Prompt)
	out.AspectRatio = strings.TrimSpace(in.AspectRatio)
	out.ReferenceImages = nil
	for _, ref := range in.ReferenceImages {
		if ref = strings.TrimSpace(ref); ref != "" {
			out.ReferenceImages = append(out.ReferenceImages, ref)
		}
	}
	return out
}

// idempotencyKey hashes the fields that make two generate actions the same
// request.
func idempotencyKey(f domain.Family, variant string, in domain.Input) string {
	raw, _ := json.Marshal(struct {
		Family      domain.Family `json:"family"`
		Variant     string        `json:"variant"`
		Prompt      string        `json:"prompt"`
		AspectRatio string        `json:"aspect_ratio"`
		Images      []string      `json:"images"`
	}{f, variant, in.Prompt, in.AspectRatio, in.ReferenceImages})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
