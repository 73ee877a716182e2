package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"mediaqueue/internal/cache"
	"mediaqueue/internal/domain"
	"mediaqueue/internal/providers/vendor"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("job-%d", n)
	}
}

type fixture struct {
	engine *Engine
	clock  *fakeClock
	cache  *cache.ResultCache
	kv     *cache.MemoryKV
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newFakeClock()
	kv := cache.NewMemoryKV()
	rc := cache.NewResultCache(kv, nil)
	engine := NewEngine(Options{
		MaxParallel:     3,
		DuplicateWindow: 5 * time.Second,
		PersistDebounce: time.Hour,
		Cache:           rc,
		Now:             clock.Now,
		NewID:           sequentialIDs(),
	})
	t.Cleanup(func() { _ = engine.Flush(context.Background()) })
	return &fixture{engine: engine, clock: clock, cache: rc, kv: kv}
}

func (f *fixture) enqueue(t *testing.T, family domain.Family, prompt string) domain.Job {
	t.Helper()
	in := domain.Input{Prompt: prompt, AspectRatio: "16:9"}
	if family == domain.FamilySecondaryVideoImageRef {
		in.ReferenceImages = []string{"https://cdn.example.com/ref.png"}
	}
	job, err := f.engine.Enqueue(context.Background(), EnqueueRequest{Family: family, Variant: "veo3-fast", Input: in})
	if err != nil {
		t.Fatalf("Enqueue(%q): %v", prompt, err)
	}
	return job
}

// runningJob enqueues a job and walks it to running with the given remote id.
// No other job may be queued when it is called.
func (f *fixture) runningJob(t *testing.T, prompt, remoteID string) domain.Job {
	t.Helper()
	job := f.enqueue(t, domain.FamilyPrimaryVideo, prompt)
	claimed := f.engine.Claim(1)
	if len(claimed) != 1 || claimed[0].ID != job.ID {
		t.Fatalf("Claim = %#v, want %s", claimed, job.ID)
	}
	running, err := f.engine.MarkRunning(job.ID, remoteID)
	if err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	return running
}

func (f *fixture) mustGet(t *testing.T, id string) domain.Job {
	t.Helper()
	job, err := f.engine.Get(id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return job
}

// fakeRemote stands in for the remote API client.
type fakeRemote struct {
	mu          sync.Mutex
	submitFn    func(family domain.Family, payload any) (vendor.Payload, error)
	statusFn    func(remoteID string) (vendor.Payload, error)
	release     chan struct{}
	submits     int
	statusCalls int
	inflight    int
	maxInflight int
}

func (r *fakeRemote) Submit(ctx context.Context, family domain.Family, payload any) (vendor.Payload, error) {
	r.mu.Lock()
	r.submits++
	n := r.submits
	r.inflight++
	if r.inflight > r.maxInflight {
		r.maxInflight = r.inflight
	}
	release := r.release
	fn := r.submitFn
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inflight--
		r.mu.Unlock()
	}()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fn != nil {
		return fn(family, payload)
	}
	return vendor.Payload{"task_id": fmt.Sprintf("T%d", n)}, nil
}

func (r *fakeRemote) Status(ctx context.Context, family domain.Family, remoteID string) (vendor.Payload, error) {
	r.mu.Lock()
	r.statusCalls++
	fn := r.statusFn
	r.mu.Unlock()
	if fn == nil {
		return vendor.Payload{"status": "processing"}, nil
	}
	return fn(remoteID)
}

func (r *fakeRemote) counts() (submits, statusCalls, inflight, maxInflight int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.submits, r.statusCalls, r.inflight, r.maxInflight
}

type recordingRepo struct {
	mu   sync.Mutex
	rows []domain.Generation
	err  error
}

func (r *recordingRepo) Insert(_ context.Context, g domain.Generation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, g)
	return r.err
}

func (r *recordingRepo) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// blockingRepo holds every insert until release is closed or the insert's
// context ends.
type blockingRepo struct {
	release chan struct{}
	mu      sync.Mutex
	started int
	errs    []error
}

func newBlockingRepo() *blockingRepo {
	return &blockingRepo{release: make(chan struct{})}
}

func (r *blockingRepo) Insert(ctx context.Context, _ domain.Generation) error {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
	var err error
	select {
	case <-r.release:
	case <-ctx.Done():
		err = ctx.Err()
	}
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	return err
}

func (r *blockingRepo) snapshot() (started int, errs []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started, append([]error(nil), r.errs...)
}

// returnsWithin runs fn and fails the test if it has not returned in d.
func returnsWithin(t *testing.T, d time.Duration, name string, fn func() error) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	case <-time.After(d):
		t.Fatalf("%s still blocked after %s", name, d)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
