// Package ingest turns unprocessed inbound messages into events.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"smart-event-relay/internal/batch"
	"smart-event-relay/internal/config"
	"smart-event-relay/internal/failure"
	"smart-event-relay/internal/inference"
	"smart-event-relay/internal/metrics"
	"smart-event-relay/internal/model"
	"smart-event-relay/internal/parser"
)

// Name identifies the ingest cycle
const Name = "ingest"

const untitled = "Untitled Event"

// Store is the datastore the ingestor needs
type Store interface {
	ListUnprocessed(ctx context.Context, limit int) ([]model.RawMessage, error)
	ListChildren(ctx context.Context, ownerID string) ([]model.Child, error)
	PersistEvent(ctx context.Context, ev *model.Event, processedAt time.Time) (bool, error)
}

// Options tune one ingest cycle
type Options struct {
	BatchSize   int
	Concurrency int
	MaxAttempts int
	BackoffBase time.Duration
	Threshold   float64
	Location    *time.Location
}

// OptionsFromConfig builds Options from the ingest configuration
func OptionsFromConfig(cfg config.IngestConfig) (Options, error) {
	loc, err := cfg.Location()
	if err != nil {
		return Options{}, fmt.Errorf("failed to load ingest timezone: %w", err)
	}
	return Options{
		BatchSize:   cfg.BatchSize,
		Concurrency: cfg.Concurrency,
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
		Threshold:   cfg.ConfidenceThreshold,
		Location:    loc,
	}, nil
}

// Ingestor parses inbound messages into events
type Ingestor struct {
	store     Store
	inference inference.Client
	metrics   *metrics.Metrics
	opts      Options
	now       func() time.Time
}

// New creates an Ingestor
func New(store Store, infer inference.Client, m *metrics.Metrics, opts Options) *Ingestor {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Threshold <= 0 {
		opts.Threshold = parser.DefaultThreshold
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Ingestor{
		store:     store,
		inference: infer,
		metrics:   m,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RunCycle processes one batch of unprocessed messages
func (i *Ingestor) RunCycle(ctx context.Context) (batch.Summary, error) {
	msgs, err := i.store.ListUnprocessed(ctx, i.opts.BatchSize)
	if err != nil {
		return batch.Summary{Cycle: Name}, fmt.Errorf("failed to load unprocessed messages: %w", err)
	}

	summary := batch.Run(ctx, Name, msgs, i.opts.Concurrency, i.process)
	i.metrics.CycleDuration.WithLabelValues(Name).Observe(summary.Duration.Seconds())

	if summary.Processed > 0 {
		logrus.WithFields(logrus.Fields{
			"cycle":     Name,
			"processed": summary.Processed,
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
			"skipped":   summary.Skipped,
		}).Info("Ingest cycle completed")
	}
	return summary, nil
}

// attemptState carries what earlier attempts learned about a message
type attemptState struct {
	best     *parser.Candidate
	children []model.Child
}

func (i *Ingestor) process(ctx context.Context, msg model.RawMessage) batch.Outcome {
	log := logrus.WithFields(logrus.Fields{"message_id": msg.ID, "owner_id": msg.OwnerID})
	pm := parser.Message{Subject: msg.Subject, Body: msg.Body, ReceivedAt: msg.ReceivedAt}

	var state attemptState
	var lastErr error
	for attempt := 1; attempt <= i.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := i.backoff(ctx, attempt); err != nil {
				lastErr = err
				break
			}
		}

		i.metrics.ParseAttempts.Inc()
		outcome, err := i.attempt(ctx, msg, pm, &state)
		if err == nil {
			return outcome
		}

		lastErr = err
		log.WithError(err).WithField("attempt", attempt).Warn("Parse attempt failed")
		if !failure.IsTransient(err) {
			break
		}
	}

	if ctx.Err() != nil {
		log.WithError(ctx.Err()).Warn("Ingest interrupted, message left for a later cycle")
		i.metrics.Messages.WithLabelValues("interrupted").Inc()
		return batch.Skipped
	}
	return i.needsReview(ctx, msg, pm, state, lastErr, log)
}

// attempt runs one full parse of msg and persists the accepted event
func (i *Ingestor) attempt(ctx context.Context, msg model.RawMessage, pm parser.Message, state *attemptState) (batch.Outcome, error) {
	children, err := i.store.ListChildren(ctx, msg.OwnerID)
	if err != nil {
		return batch.Failed, failure.Transient(err)
	}
	state.children = children

	candidate := parser.Parse(pm, i.opts.Location)
	if state.best == nil || candidate.Confidence > state.best.Confidence {
		c := candidate
		state.best = &c
	}

	if !candidate.Accepted(i.opts.Threshold) {
		inferred, err := i.infer(ctx, pm)
		if err != nil {
			return batch.Failed, err
		}
		candidate = inferred
	}

	ev := newEvent(msg, candidate, model.EventPending)
	ev.ChildID = parser.MatchChild(children, msg.Subject, parser.BodyText(msg.Body))

	created, err := i.store.PersistEvent(ctx, ev, i.now())
	if err != nil {
		return batch.Failed, failure.Transient(err)
	}
	if !created {
		logrus.WithField("message_id", msg.ID).Info("Event already exists for message")
		i.metrics.Messages.WithLabelValues("duplicate").Inc()
		return batch.Skipped, nil
	}

	logrus.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"event_id":   ev.ID,
		"provenance": candidate.Provenance,
		"confidence": candidate.Confidence,
	}).Info("Event created")
	i.metrics.Messages.WithLabelValues("accepted").Inc()
	return batch.Succeeded, nil
}

func (i *Ingestor) infer(ctx context.Context, pm parser.Message) (parser.Candidate, error) {
	if i.inference == nil {
		i.metrics.InferenceRequests.WithLabelValues("disabled").Inc()
		return parser.Candidate{}, failure.Permanent(inference.ErrUnavailable)
	}

	c, err := i.inference.Infer(ctx, pm)
	switch {
	case err == nil:
		i.metrics.InferenceRequests.WithLabelValues("success").Inc()
	case errors.Is(err, inference.ErrMalformed):
		i.metrics.InferenceRequests.WithLabelValues("malformed").Inc()
	default:
		i.metrics.InferenceRequests.WithLabelValues("unavailable").Inc()
	}
	return c, err
}

// needsReview stores the message's best partial parse for an operator to
// look at. If that write fails it retries once with an empty shell; if the
// shell fails too the message stays unprocessed.
func (i *Ingestor) needsReview(ctx context.Context, msg model.RawMessage, pm parser.Message, state attemptState, cause error, log *logrus.Entry) batch.Outcome {
	var candidate parser.Candidate
	if state.best != nil && state.best.Confidence > 0 {
		candidate = *state.best
	}
	childID := parser.MatchChild(state.children, msg.Subject, parser.BodyText(pm.Body))

	ev := reviewEvent(msg, candidate, childID, cause)
	created, err := i.store.PersistEvent(ctx, ev, i.now())
	if err != nil {
		log.WithError(err).Warn("Failed to store partial parse for review, retrying with an empty event")
		ev = reviewEvent(msg, parser.Candidate{}, childID, cause)
		created, err = i.store.PersistEvent(ctx, ev, i.now())
	}
	if err != nil {
		log.WithError(err).Error("Failed to store event for review, message left unprocessed")
		i.metrics.Messages.WithLabelValues("error").Inc()
		return batch.Failed
	}
	if !created {
		i.metrics.Messages.WithLabelValues("duplicate").Inc()
		return batch.Skipped
	}

	log.WithField("event_id", ev.ID).Warn("Could not parse message, marked for review")
	i.metrics.Messages.WithLabelValues("needs_review").Inc()
	return batch.Failed
}

func reviewEvent(msg model.RawMessage, c parser.Candidate, childID *string, cause error) *model.Event {
	ev := newEvent(msg, c, model.EventNeedsReview)
	ev.ChildID = childID
	if cause != nil {
		ev.ErrorMessage = cause.Error()
	}
	ev.FitColumns()
	return ev
}

func (i *Ingestor) backoff(ctx context.Context, attempt int) error {
	delay := i.opts.BackoffBase << (attempt - 2)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newEvent(msg model.RawMessage, c parser.Candidate, status model.EventStatus) *model.Event {
	ev := &model.Event{
		OwnerID:         msg.OwnerID,
		Title:           c.Title,
		StartAt:         c.Start,
		EndAt:           c.End,
		Location:        c.Location,
		PrepItems:       c.PrepItems,
		SourceMessageID: msg.ID,
		Provenance:      c.Provenance,
		Confidence:      c.Confidence,
		Status:          status,
	}
	if ev.Title == "" {
		ev.Title = untitled
		if subject := parser.CleanTitle(msg.Subject); subject != "" && status == model.EventNeedsReview {
			ev.Title = "Review: " + subject
		}
	}
	if !c.HasSchedule() {
		ev.StartAt = msg.ReceivedAt.UTC()
		if msg.ReceivedAt.IsZero() {
			ev.StartAt = time.Now().UTC()
		}
		ev.EndAt = ev.StartAt
	}
	if ev.PrepItems == nil {
		ev.PrepItems = []string{}
	}
	ev.FitColumns()
	return ev
}
