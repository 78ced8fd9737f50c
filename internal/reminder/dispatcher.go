// Package reminder delivers due reminders through the push provider.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"smart-event-relay/internal/batch"
	"smart-event-relay/internal/config"
	"smart-event-relay/internal/failure"
	"smart-event-relay/internal/metrics"
	"smart-event-relay/internal/model"
	"smart-event-relay/internal/push"
)

// Name identifies the reminder dispatch cycle
const Name = "dispatch"

// Store is the datastore the dispatcher needs
type Store interface {
	ListDueReminders(ctx context.Context, now time.Time, limit int) ([]model.Reminder, error)
	ClaimReminder(ctx context.Context, id, owner string, now, until time.Time) (*model.Reminder, error)
	MarkReminderSent(ctx context.Context, id, owner string, sentAt time.Time) error
	RecordReminderFailure(ctx context.Context, id, owner string, retryCount int, status model.ReminderStatus, errMsg string) error
}

// Options tune one dispatch cycle
type Options struct {
	BatchSize   int
	Concurrency int
	MaxRetries  int
	Timeout     time.Duration
	Lease       time.Duration
	Title       string
}

// OptionsFromConfig builds Options from the push configuration
func OptionsFromConfig(cfg config.PushConfig) Options {
	return Options{
		BatchSize:   cfg.BatchSize,
		Concurrency: cfg.Concurrency,
		MaxRetries:  cfg.MaxRetries,
		Timeout:     cfg.Timeout,
		Lease:       cfg.Lease,
		Title:       cfg.Title,
	}
}

// Dispatcher sends due reminders
type Dispatcher struct {
	store   Store
	sender  push.Sender
	metrics *metrics.Metrics
	opts    Options
	id      string
	now     func() time.Time
}

// New creates a Dispatcher
func New(store Store, sender push.Sender, m *metrics.Metrics, opts Options) *Dispatcher {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.Lease <= 0 {
		opts.Lease = time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		store:   store,
		sender:  sender,
		metrics: m,
		opts:    opts,
		id:      "dispatch-" + uuid.NewString(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RunCycle sends one batch of due reminders
func (d *Dispatcher) RunCycle(ctx context.Context) (batch.Summary, error) {
	reminders, err := d.store.ListDueReminders(ctx, d.now(), d.opts.BatchSize)
	if err != nil {
		return batch.Summary{Cycle: Name}, fmt.Errorf("failed to load due reminders: %w", err)
	}

	summary := batch.Run(ctx, Name, reminders, d.opts.Concurrency, d.process)
	d.metrics.CycleDuration.WithLabelValues(Name).Observe(summary.Duration.Seconds())

	if summary.Processed > 0 {
		logrus.WithFields(logrus.Fields{
			"cycle":     Name,
			"processed": summary.Processed,
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
			"skipped":   summary.Skipped,
		}).Info("Reminder dispatch cycle completed")
	}
	return summary, nil
}

// process works from the row returned by the claim, never the listed copy,
// so retry counts written by an earlier holder are not lost.
func (d *Dispatcher) process(ctx context.Context, listed model.Reminder) batch.Outcome {
	log := logrus.WithFields(logrus.Fields{"reminder_id": listed.ID, "event_id": listed.EventID})

	now := d.now()
	claimed, err := d.store.ClaimReminder(ctx, listed.ID, d.id, now, now.Add(d.opts.Lease))
	if err != nil {
		log.WithError(err).Error("Failed to claim reminder")
		return batch.Failed
	}
	if claimed == nil {
		log.Debug("Reminder claimed by another dispatcher")
		return batch.Skipped
	}
	r := *claimed

	sendCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	err = d.sender.Send(sendCtx, push.Notification{
		Token: r.DeliveryToken,
		Title: d.opts.Title,
		Body:  r.Message,
		Data: map[string]string{
			"type":        "event_reminder",
			"event_id":    r.EventID,
			"reminder_id": r.ID,
		},
	})
	cancel()

	if err == nil {
		if err := d.store.MarkReminderSent(ctx, r.ID, d.id, d.now()); err != nil {
			log.WithError(err).Error("Failed to mark reminder sent")
			return batch.Failed
		}
		d.metrics.Pushes.WithLabelValues("success").Inc()
		log.Info("Reminder sent")
		return batch.Succeeded
	}
	return d.fail(ctx, r, err, log)
}

// fail records a failed delivery. Invalid tokens and other permanent errors
// fail the reminder without spending a retry; other errors fail it once the
// retry count reaches MaxRetries.
func (d *Dispatcher) fail(ctx context.Context, r model.Reminder, cause error, log *logrus.Entry) batch.Outcome {
	retries := r.RetryCount
	status := model.ReminderPending
	result := "retry"

	switch {
	case ctx.Err() != nil:
		ctx = context.WithoutCancel(ctx)
		result = "interrupted"
	case errors.Is(cause, push.ErrInvalidToken):
		status = model.ReminderFailed
		result = "invalid_token"
	case failure.IsPermanent(cause):
		status = model.ReminderFailed
		result = "failed"
	default:
		retries++
		if retries >= d.opts.MaxRetries {
			status = model.ReminderFailed
			result = "failed"
		}
	}

	if err := d.store.RecordReminderFailure(ctx, r.ID, d.id, retries, status, cause.Error()); err != nil {
		log.WithError(err).Error("Failed to record push failure")
	}

	d.metrics.Pushes.WithLabelValues(result).Inc()
	log.WithError(cause).WithFields(logrus.Fields{
		"retry_count": retries,
		"status":      status,
	}).Warn("Push notification failed")
	return batch.Failed
}
