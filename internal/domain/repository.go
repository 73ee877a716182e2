package domain

import (
	"context"
	"time"
)

// Generation is the denormalized record written for every succeeded job.
type Generation struct {
	JobID       string
	RemoteID    string
	Family      Family
	Model       string
	Prompt      string
	Images      []string
	AspectRatio string
	VideoURL    string
	ImageURL    string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// GenerationRepository persists generation records for analytics.
type GenerationRepository interface {
	Insert(ctx context.Context, g Generation) error
}

// NewGeneration denormalizes a succeeded job into an analytics record.
func NewGeneration(j Job) Generation {
	g := Generation{
		JobID:       j.ID,
		RemoteID:    j.RemoteID,
		Family:      j.Family,
		Model:       j.Variant,
		Prompt:      j.Input.Prompt,
		Images:      append([]string{}, j.Input.ReferenceImages...),
		AspectRatio: j.Input.AspectRatio,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.UpdatedAt,
	}
	if j.Result != nil {
		switch j.Result.Kind {
		case MediaImage:
			g.ImageURL = j.Result.URL
		default:
			g.VideoURL = j.Result.URL
		}
	}
	return g
}
