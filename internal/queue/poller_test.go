package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"mediaqueue/internal/domain"
	"mediaqueue/internal/providers/vendor"
)

func TestPollerDrivesJobToSuccess(t *testing.T) {
	f := newFixture(t)
	repo := &recordingRepo{}
	status := vendor.Payload{"status": "processing"}
	client := &fakeRemote{statusFn: func(remoteID string) (vendor.Payload, error) {
		if remoteID != "T1" {
			t.Errorf("remote id = %s", remoteID)
		}
		return status, nil
	}}
	gate := NewGate(f.engine, client, repo, nil)
	poller := NewPoller(f.engine, client, PollerOptions{Analytics: repo, Now: f.clock.Now})
	job := f.enqueue(t, domain.FamilyPrimaryVideo, "a cat surfing")
	ctx := context.Background()

	if err := gate.Scan(ctx); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if err := poller.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got := f.mustGet(t, job.ID); got.Status != domain.JobStatusRunning {
		t.Fatalf("status after processing = %s", got.Status)
	}

	status = vendor.Payload{"status": "SUCCESS", "data": map[string]any{"output": "https://cdn/v.mp4"}}
	if err := poller.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	got := f.mustGet(t, job.ID)
	if got.Status != domain.JobStatusSucceeded || got.ResultURL() != "https://cdn/v.mp4" || got.Result.Kind != domain.MediaVideo {
		t.Fatalf("job = %#v", got)
	}
	if last, ok := f.engine.LastResult(); !ok || last.URL != "https://cdn/v.mp4" {
		t.Fatalf("last result = %#v, %v", last, ok)
	}

	// A second round must not touch the finished job.
	if err := poller.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	poller.Wait()
	if repo.len() != 1 || repo.rows[0].VideoURL != "https://cdn/v.mp4" || repo.rows[0].RemoteID != "T1" {
		t.Fatalf("analytics rows = %#v", repo.rows)
	}
	if _, calls, _, _ := client.counts(); calls != 2 {
		t.Fatalf("status calls = %d, want 2", calls)
	}
}

func TestPollerOutcomes(t *testing.T) {
	cases := []struct {
		name       string
		resp       vendor.Payload
		err        error
		wantStatus domain.JobStatus
		wantError  string
	}{
		{"failed status", vendor.Payload{"status": "FAILED", "error": map[string]any{"message": "content policy"}}, nil, domain.JobStatusFailed, "content policy"},
		{"error field with running status", vendor.Payload{"status": "running", "error": "gpu lost"}, nil, domain.JobStatusFailed, "gpu lost"},
		{"error status without message", vendor.Payload{"status": "error"}, nil, domain.JobStatusFailed, "unknown error"},
		{"completed without url", vendor.Payload{"status": "completed"}, nil, domain.JobStatusFailed, "completed without a result url"},
		{"transport failure", nil, errors.New("timeout"), domain.JobStatusRunning, ""},
		{"unknown status word", vendor.Payload{"status": "IN_QUEUE"}, nil, domain.JobStatusRunning, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			client := &fakeRemote{statusFn: func(string) (vendor.Payload, error) { return tc.resp, tc.err }}
			job := f.runningJob(t, "poll me", "T1")

			if err := NewPoller(f.engine, client, PollerOptions{}).Poll(context.Background()); err != nil {
				t.Fatalf("Poll: %v", err)
			}
			got := f.mustGet(t, job.ID)
			if got.Status != tc.wantStatus || got.Error != tc.wantError {
				t.Fatalf("job = {%s %q}, want {%s %q}", got.Status, got.Error, tc.wantStatus, tc.wantError)
			}
		})
	}
}

func TestPollerDropsResultForCancelledJob(t *testing.T) {
	f := newFixture(t)
	var job domain.Job
	client := &fakeRemote{statusFn: func(string) (vendor.Payload, error) {
		// The user cancels while the status request is in flight.
		if _, err := f.engine.Cancel(context.Background(), job.ID); err != nil {
			t.Errorf("Cancel: %v", err)
		}
		return vendor.Payload{"status": "succeeded", "video_url": "https://cdn/late.mp4"}, nil
	}}
	repo := &recordingRepo{}
	job = f.runningJob(t, "cancel mid-poll", "T1")

	poller := NewPoller(f.engine, client, PollerOptions{Analytics: repo})
	if err := poller.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	poller.Wait()
	got := f.mustGet(t, job.ID)
	if got.Status != domain.JobStatusFailed || got.Error != "user cancelled" || got.Result != nil {
		t.Fatalf("job = %#v", got)
	}
	if repo.len() != 0 {
		t.Fatalf("analytics recorded for cancelled job")
	}
	if _, ok := f.engine.LastResult(); ok {
		t.Fatalf("last result set from a stale poll")
	}
}

func TestPollerSkipsRemovedJob(t *testing.T) {
	f := newFixture(t)
	var job domain.Job
	client := &fakeRemote{statusFn: func(string) (vendor.Payload, error) {
		if _, err := f.engine.Remove(context.Background(), job.ID); err != nil {
			t.Errorf("Remove: %v", err)
		}
		return vendor.Payload{"status": "succeeded", "video_url": "https://cdn/gone.mp4"}, nil
	}}
	job = f.runningJob(t, "remove mid-poll", "T1")

	if err := NewPoller(f.engine, client, PollerOptions{}).Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if _, err := f.engine.Get(job.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("removed job came back: %v", err)
	}
}

func TestPollerTimesOutLongRunningJobs(t *testing.T) {
	f := newFixture(t)
	client := &fakeRemote{}
	job := f.runningJob(t, "slow", "T1")
	poller := NewPoller(f.engine, client, PollerOptions{MaxDuration: time.Minute, Now: f.clock.Now})

	f.clock.Advance(2 * time.Minute)
	if err := poller.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	got := f.mustGet(t, job.ID)
	if got.Status != domain.JobStatusFailed || got.Error != "polling timed out" {
		t.Fatalf("job = %#v", got)
	}
	if _, calls, _, _ := client.counts(); calls != 0 {
		t.Fatalf("status calls = %d, want 0", calls)
	}
}

func TestPollerDoesNotWaitForAnalytics(t *testing.T) {
	f := newFixture(t)
	repo := newBlockingRepo()
	defer close(repo.release)
	client := &fakeRemote{statusFn: func(remoteID string) (vendor.Payload, error) {
		if remoteID == "TA" {
			return vendor.Payload{"status": "succeeded", "video_url": "https://cdn/a.mp4"}, nil
		}
		return vendor.Payload{"status": "processing"}, nil
	}}
	a := f.runningJob(t, "job a", "TA")
	b := f.runningJob(t, "job b", "TB")
	poller := NewPoller(f.engine, client, PollerOptions{Analytics: repo})
	ctx := context.Background()

	returnsWithin(t, 2*time.Second, "first Poll", func() error { return poller.Poll(ctx) })
	if got := f.mustGet(t, a.ID); got.Status != domain.JobStatusSucceeded {
		t.Fatalf("job a = %s", got.Status)
	}
	waitFor(t, 2*time.Second, func() bool {
		started, _ := repo.snapshot()
		return started == 1
	})

	// The insert for a is still hung; b keeps being polled.
	returnsWithin(t, 2*time.Second, "second Poll", func() error { return poller.Poll(ctx) })
	if got := f.mustGet(t, b.ID); got.Status != domain.JobStatusRunning {
		t.Fatalf("job b = %s", got.Status)
	}
	if _, calls, _, _ := client.counts(); calls != 3 {
		t.Fatalf("status calls = %d, want 3", calls)
	}
}

func TestPollerBoundsAnalyticsInsert(t *testing.T) {
	f := newFixture(t)
	repo := newBlockingRepo()
	client := &fakeRemote{statusFn: func(string) (vendor.Payload, error) {
		return vendor.Payload{"status": "completed", "video_url": "https://cdn/v.mp4"}, nil
	}}
	f.runningJob(t, "slow insert", "T1")
	poller := NewPoller(f.engine, client, PollerOptions{Analytics: repo, AnalyticsTimeout: 20 * time.Millisecond})

	if err := poller.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	returnsWithin(t, 2*time.Second, "Wait", func() error {
		poller.Wait()
		return nil
	})
	started, errs := repo.snapshot()
	if started != 1 || len(errs) != 1 || !errors.Is(errs[0], context.DeadlineExceeded) {
		t.Fatalf("insert started=%d errs=%v, want one deadline error", started, errs)
	}
}
