package repo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"mediaqueue/internal/domain"
)

type stubExecutor struct {
	err  error
	exec struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return pgconn.CommandTag{}, s.err
}

func TestGenerationInsertArgs(t *testing.T) {
	exec := &stubExecutor{}
	repo := NewGenerationRepository(exec)
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	done := created.Add(90 * time.Second)

	err := repo.Insert(context.Background(), domain.Generation{
		JobID:       "job-1",
		RemoteID:    "task-9",
		Family:      domain.FamilyPrimaryVideo,
		Model:       "veo3-fast",
		Prompt:      "a cat surfing",
		Images:      []string{"https://cdn/ref.png"},
		AspectRatio: "16:9",
		VideoURL:    "https://cdn/out.mp4",
		CreatedAt:   created,
		CompletedAt: done,
	})
	if err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if !strings.HasPrefix(exec.exec.query, "--sql ") {
		t.Fatalf("query missing sql marker: %q", exec.exec.query)
	}
	if len(exec.exec.args) != 9 {
		t.Fatalf("args len = %d, want 9", len(exec.exec.args))
	}
	if exec.exec.args[0] != "task-9" {
		t.Fatalf("task id = %v", exec.exec.args[0])
	}
	images, ok := exec.exec.args[3].(*pq.StringArray)
	if !ok {
		t.Fatalf("images arg type = %T", exec.exec.args[3])
	}
	if len(*images) != 1 || (*images)[0] != "https://cdn/ref.png" {
		t.Fatalf("images = %v", *images)
	}
	if exec.exec.args[5] != "https://cdn/out.mp4" || exec.exec.args[6] != "" {
		t.Fatalf("urls = %v / %v", exec.exec.args[5], exec.exec.args[6])
	}
	if exec.exec.args[8] != done {
		t.Fatalf("completed_at = %v", exec.exec.args[8])
	}
}

func TestGenerationInsertFallsBackToJobID(t *testing.T) {
	exec := &stubExecutor{}
	if err := NewGenerationRepository(exec).Insert(context.Background(), domain.Generation{JobID: "job-2", Family: domain.FamilyImageGen}); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if exec.exec.args[0] != "job-2" {
		t.Fatalf("task id = %v, want job-2", exec.exec.args[0])
	}
	images := exec.exec.args[3].(*pq.StringArray)
	if *images == nil {
		t.Fatalf("images should be an empty array, not NULL")
	}
}

func TestGenerationInsertWrapsError(t *testing.T) {
	boom := errors.New("connection reset")
	err := NewGenerationRepository(&stubExecutor{err: boom}).Insert(context.Background(), domain.Generation{JobID: "job-3"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}
