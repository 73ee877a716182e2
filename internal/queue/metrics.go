package queue

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"mediaqueue/internal/domain"
)

const meterName = "mediaqueue/queue"

type counterKind int

const (
	counterEnqueued counterKind = iota
	counterSuppressed
	counterSubmitted
	counterSucceeded
	counterFailed
	counterCancelled
	counterPolls
	numCounters
)

var counterDefs = [numCounters]struct{ name, desc string }{
	counterEnqueued:   {"queue_jobs_enqueued_total", "Jobs accepted by the queue"},
	counterSuppressed: {"queue_jobs_suppressed_total", "Enqueue calls rejected as duplicates"},
	counterSubmitted:  {"queue_jobs_submitted_total", "Jobs handed to the remote API"},
	counterSucceeded:  {"queue_jobs_succeeded_total", "Jobs that finished with a result"},
	counterFailed:     {"queue_jobs_failed_total", "Jobs that finished with an error"},
	counterCancelled:  {"queue_jobs_cancelled_total", "Jobs cancelled by the user"},
	counterPolls:      {"queue_status_polls_total", "Remote status requests"},
}

// Metrics counts job lifecycle events. A nil *Metrics records nothing.
type Metrics struct {
	counters [numCounters]metric.Int64Counter
}

// NewMetrics registers the queue counters on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return newMetrics(otel.Meter(meterName))
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	for kind, def := range counterDefs {
		counter, err := meter.Int64Counter(def.name, metric.WithDescription(def.desc))
		if err != nil {
			return nil, err
		}
		m.counters[kind] = counter
	}
	return m, nil
}

func (m *Metrics) add(kind counterKind, family domain.Family) {
	if m == nil || m.counters[kind] == nil {
		return
	}
	m.counters[kind].Add(context.Background(), 1, metric.WithAttributes(attribute.String("family", string(family))))
}

func (m *Metrics) jobEnqueued(f domain.Family)   { m.add(counterEnqueued, f) }
func (m *Metrics) jobSuppressed(f domain.Family) { m.add(counterSuppressed, f) }
func (m *Metrics) jobSubmitted(f domain.Family)  { m.add(counterSubmitted, f) }
func (m *Metrics) jobSucceeded(f domain.Family)  { m.add(counterSucceeded, f) }
func (m *Metrics) jobFailed(f domain.Family)     { m.add(counterFailed, f) }
func (m *Metrics) jobCancelled(f domain.Family)  { m.add(counterCancelled, f) }
func (m *Metrics) statusPolled(f domain.Family)  { m.add(counterPolls, f) }
