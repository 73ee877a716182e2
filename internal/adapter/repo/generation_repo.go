package repo

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"mediaqueue/internal/domain"
	"mediaqueue/internal/infra"
	"mediaqueue/internal/sqlinline"
)

// GenerationRepositoryPG writes succeeded jobs to the generations table.
type GenerationRepositoryPG struct {
	db infra.SQLExecutor
}

// NewGenerationRepository constructs the repository.
func NewGenerationRepository(db infra.SQLExecutor) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{db: db}
}

// Insert stores one generation record. The task id column holds the remote
// id; synchronous families have none and fall back to the local job id.
func (r *GenerationRepositoryPG) Insert(ctx context.Context, g domain.Generation) error {
	taskID := g.RemoteID
	if taskID == "" {
		taskID = g.JobID
	}
	images := g.Images
	if images == nil {
		images = []string{}
	}
	_, err := r.db.Exec(ctx, sqlinline.QInsertGeneration,
		taskID,
		g.Model,
		g.Prompt,
		pq.Array(images),
		g.AspectRatio,
		g.VideoURL,
		g.ImageURL,
		g.CreatedAt,
		g.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert generation %s: %w", g.JobID, err)
	}
	return nil
}

// NopGenerationRepository discards records; used when no database is configured.
type NopGenerationRepository struct{}

func (NopGenerationRepository) Insert(context.Context, domain.Generation) error { return nil }

var (
	_ domain.GenerationRepository = (*GenerationRepositoryPG)(nil)
	_ domain.GenerationRepository = NopGenerationRepository{}
)
