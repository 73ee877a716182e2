package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Family enumerates the generation backends a job can target.
type Family string

const (
	FamilyPrimaryVideo           Family = "primary-video"
	FamilySecondaryVideoImageRef Family = "secondary-video-image-ref"
	FamilySecondaryVideoTextOnly Family = "secondary-video-text-only"
	FamilyImageGen               Family = "image-gen"
)

// Families lists every supported family in display order.
var Families = []Family{
	FamilyPrimaryVideo,
	FamilySecondaryVideoImageRef,
	FamilySecondaryVideoTextOnly,
	FamilyImageGen,
}

// Valid reports whether f is one of the known families.
func (f Family) Valid() bool {
	for _, known := range Families {
		if f == known {
			return true
		}
	}
	return false
}

// Media returns the kind of asset the family produces.
func (f Family) Media() MediaKind {
	if f == FamilyImageGen {
		return MediaImage
	}
	return MediaVideo
}

// ParseFamily sanitizes free-form input into a known family.
func ParseFamily(raw string) (Family, error) {
	f := Family(strings.ToLower(strings.TrimSpace(raw)))
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownFamily, raw)
	}
	return f, nil
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusSubmitting JobStatus = "submitting"
	JobStatusRunning    JobStatus = "running"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
)

// Valid reports whether s is a known lifecycle state.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusSubmitting, JobStatusRunning, JobStatusSucceeded, JobStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

var transitions = map[JobStatus][]JobStatus{
	JobStatusQueued:     {JobStatusSubmitting},
	JobStatusSubmitting: {JobStatusRunning, JobStatusSucceeded, JobStatusFailed},
	JobStatusRunning:    {JobStatusSucceeded, JobStatusFailed},
}

// CanTransition reports whether from → to is allowed by the lifecycle.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MediaKind describes the asset type of a result.
type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaImage MediaKind = "image"
)

// Input is the request payload captured at enqueue time.
type Input struct {
	Prompt          string   `json:"prompt"`
	AspectRatio     string   `json:"aspect_ratio,omitempty"`
	ReferenceImages []string `json:"reference_images,omitempty"`
	Duration        int      `json:"duration,omitempty"`
	Size            string   `json:"size,omitempty"`
	ImageSize       string   `json:"image_size,omitempty"`
}

// Validate rejects inputs that can never be submitted for the family.
func (in Input) Validate(f Family) error {
	if !f.Valid() {
		return fmt.Errorf("%w: %w", ErrValidation, ErrUnknownFamily)
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrValidation)
	}
	if f == FamilySecondaryVideoImageRef && firstNonEmpty(in.ReferenceImages) == "" {
		return fmt.Errorf("%w: reference image is required", ErrValidation)
	}
	if in.Duration < 0 {
		return fmt.Errorf("%w: duration must not be negative", ErrValidation)
	}
	return nil
}

func (in Input) clone() Input {
	out := in
	if in.ReferenceImages != nil {
		out.ReferenceImages = append([]string(nil), in.ReferenceImages...)
	}
	return out
}

// Result holds the resolved media of a succeeded job.
type Result struct {
	URL  string          `json:"url"`
	Kind MediaKind       `json:"kind"`
	URLs []string        `json:"urls,omitempty"`
	Raw  json.RawMessage `json:"raw,omitempty"`
}

// Job is a single media-generation request tracked by the queue.
type Job struct {
	ID        string    `json:"id"`
	RemoteID  string    `json:"remote_id,omitempty"`
	Family    Family    `json:"family"`
	Variant   string    `json:"variant"`
	Input     Input     `json:"input"`
	Status    JobStatus `json:"status"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	StartedAt time.Time `json:"started_at,omitzero"`
}

// Clone returns a deep copy safe to hand outside the owning store.
func (j Job) Clone() Job {
	out := j
	out.Input = j.Input.clone()
	if j.Result != nil {
		res := *j.Result
		if j.Result.URLs != nil {
			res.URLs = append([]string(nil), j.Result.URLs...)
		}
		if j.Result.Raw != nil {
			res.Raw = append(json.RawMessage(nil), j.Result.Raw...)
		}
		out.Result = &res
	}
	return out
}

// ResultURL returns the resolved media URL, or "" when the job has none.
func (j Job) ResultURL() string {
	if j.Result == nil {
		return ""
	}
	return j.Result.URL
}

// Transition moves the job to the given status when the lifecycle allows it.
func (j *Job) Transition(to JobStatus, at time.Time) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	j.UpdatedAt = at
	return nil
}

// Start records the remote identifier and moves the job to running.
func (j *Job) Start(remoteID string, at time.Time) error {
	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" {
		return fmt.Errorf("%w: remote id is required", ErrInvalidTransition)
	}
	if j.RemoteID != "" {
		return fmt.Errorf("%w: remote id already assigned", ErrInvalidTransition)
	}
	if err := j.Transition(JobStatusRunning, at); err != nil {
		return err
	}
	j.RemoteID = remoteID
	j.StartedAt = at
	return nil
}

// Succeed stores the result and moves the job to succeeded.
func (j *Job) Succeed(result Result, at time.Time) error {
	if strings.TrimSpace(result.URL) == "" {
		return fmt.Errorf("%w: result url is required", ErrInvalidTransition)
	}
	if err := j.Transition(JobStatusSucceeded, at); err != nil {
		return err
	}
	j.Result = &result
	j.Error = ""
	return nil
}

// Fail stores the error message and moves the job to failed.
func (j *Job) Fail(message string, at time.Time) error {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "unknown error"
	}
	if err := j.Transition(JobStatusFailed, at); err != nil {
		return err
	}
	j.Error = message
	j.Result = nil
	return nil
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
