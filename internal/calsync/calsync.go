// Package calsync pushes pending events into the owner's external calendar
// and schedules their reminders.
package calsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"smart-event-relay/internal/batch"
	"smart-event-relay/internal/calendar"
	"smart-event-relay/internal/config"
	"smart-event-relay/internal/failure"
	"smart-event-relay/internal/metrics"
	"smart-event-relay/internal/model"
	"smart-event-relay/internal/repository"
)

// Name identifies the calendar sync cycle
const Name = "sync"

// Store is the datastore the sync worker needs
type Store interface {
	ListSyncable(ctx context.Context, now time.Time, limit int) ([]model.Event, error)
	ClaimEvent(ctx context.Context, id, owner string, now, until time.Time) (*model.Event, error)
	GetAccount(ctx context.Context, ownerID string) (*model.Account, error)
	SaveExternalID(ctx context.Context, id, owner, externalID string) error
	CompleteSync(ctx context.Context, id, owner string, reminders []model.Reminder) (int, error)
	RecordSyncFailure(ctx context.Context, id, owner string, attempts int, status model.EventStatus, errMsg string) error
}

// Options tune one sync cycle
type Options struct {
	BatchSize   int
	Concurrency int
	MaxAttempts int
	Timeout     time.Duration
	Lease       time.Duration
	Offsets     []time.Duration
}

// OptionsFromConfig builds Options from the calendar configuration
func OptionsFromConfig(cfg config.CalendarConfig) Options {
	return Options{
		BatchSize:   cfg.BatchSize,
		Concurrency: cfg.Concurrency,
		MaxAttempts: cfg.MaxAttempts,
		Timeout:     cfg.Timeout,
		Lease:       cfg.Lease,
		Offsets:     cfg.ReminderOffsets,
	}
}

// Worker syncs events to external calendars
type Worker struct {
	store     Store
	providers calendar.Providers
	metrics   *metrics.Metrics
	opts      Options
	id        string
	now       func() time.Time
}

// New creates a Worker. Each Worker claims events under its own lease owner id.
func New(store Store, providers calendar.Providers, m *metrics.Metrics, opts Options) *Worker {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Lease <= 0 {
		opts.Lease = 2 * time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Worker{
		store:     store,
		providers: providers,
		metrics:   m,
		opts:      opts,
		id:        "sync-" + uuid.NewString(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RunCycle syncs one batch of pending events
func (w *Worker) RunCycle(ctx context.Context) (batch.Summary, error) {
	events, err := w.store.ListSyncable(ctx, w.now(), w.opts.BatchSize)
	if err != nil {
		return batch.Summary{Cycle: Name}, fmt.Errorf("failed to load syncable events: %w", err)
	}

	summary := batch.Run(ctx, Name, events, w.opts.Concurrency, w.process)
	w.metrics.CycleDuration.WithLabelValues(Name).Observe(summary.Duration.Seconds())

	if summary.Processed > 0 {
		logrus.WithFields(logrus.Fields{
			"cycle":     Name,
			"processed": summary.Processed,
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
			"skipped":   summary.Skipped,
		}).Info("Calendar sync cycle completed")
	}
	return summary, nil
}

// process works from the row returned by the claim, never the listed copy:
// an earlier holder may have stored an external id or spent an attempt since
// the batch was listed.
func (w *Worker) process(ctx context.Context, listed model.Event) batch.Outcome {
	log := logrus.WithFields(logrus.Fields{"event_id": listed.ID, "owner_id": listed.OwnerID})

	now := w.now()
	claimed, err := w.store.ClaimEvent(ctx, listed.ID, w.id, now, now.Add(w.opts.Lease))
	if err != nil {
		log.WithError(err).Error("Failed to claim event")
		return batch.Failed
	}
	if claimed == nil {
		log.Debug("Event claimed by another worker")
		return batch.Skipped
	}
	ev := *claimed

	acct, externalID, err := w.sync(ctx, &ev, log)
	if err != nil {
		return w.fail(ctx, ev, err, log)
	}

	// The external id is durable before the event is marked synced.
	if err := w.store.SaveExternalID(ctx, ev.ID, w.id, externalID); err != nil {
		log.WithError(err).Error("Failed to save external calendar id")
		w.metrics.CalendarSyncs.WithLabelValues("error").Inc()
		return batch.Failed
	}
	ev.ExternalCalendarID = externalID

	reminders := BuildReminders(&ev, acct.PushToken, w.opts.Offsets, w.now())
	created, err := w.store.CompleteSync(ctx, ev.ID, w.id, reminders)
	if err != nil {
		log.WithError(err).Error("Failed to complete calendar sync")
		w.metrics.CalendarSyncs.WithLabelValues("error").Inc()
		return batch.Failed
	}

	w.metrics.CalendarSyncs.WithLabelValues("success").Inc()
	w.metrics.RemindersCreated.Add(float64(created))
	log.WithFields(logrus.Fields{
		"external_id": externalID,
		"reminders":   created,
	}).Info("Event synced to calendar")
	return batch.Succeeded
}

// sync writes ev to the owner's calendar and returns the account and the
// external id. An update whose target is gone falls back to create.
func (w *Worker) sync(ctx context.Context, ev *model.Event, log *logrus.Entry) (*model.Account, string, error) {
	acct, err := w.store.GetAccount(ctx, ev.OwnerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, "", failure.Permanent(fmt.Errorf("no account for owner %s", ev.OwnerID))
	}
	if err != nil {
		return nil, "", failure.Transient(err)
	}

	provider, err := w.providers.For(acct)
	if err != nil {
		return nil, "", err
	}

	ctx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	defer cancel()

	entry := calendar.EntryFromEvent(ev)
	if entry.ExternalID != "" {
		id, err := provider.Update(ctx, acct, entry)
		if err == nil {
			return acct, id, nil
		}
		if !errors.Is(err, calendar.ErrNotFound) {
			return nil, "", err
		}
		log.WithField("external_id", entry.ExternalID).Warn("Calendar entry not found, creating new")
		entry.ExternalID = ""
	}

	id, err := provider.Create(ctx, acct, entry)
	if err != nil {
		return nil, "", err
	}
	return acct, id, nil
}

// fail records a failed attempt and releases the lease. Permanent errors and
// the last allowed attempt mark the event failed.
func (w *Worker) fail(ctx context.Context, ev model.Event, cause error, log *logrus.Entry) batch.Outcome {
	attempts := ev.SyncAttempts + 1
	status := ev.Status
	result := "retry"

	if ctx.Err() != nil {
		// Interrupted cycles do not spend the retry budget.
		attempts = ev.SyncAttempts
		ctx = context.WithoutCancel(ctx)
	} else if failure.IsPermanent(cause) || attempts >= w.opts.MaxAttempts {
		status = model.EventFailed
		result = "failed"
	}

	if err := w.store.RecordSyncFailure(ctx, ev.ID, w.id, attempts, status, cause.Error()); err != nil {
		log.WithError(err).Error("Failed to record sync failure")
	}

	w.metrics.CalendarSyncs.WithLabelValues(result).Inc()
	log.WithError(cause).WithFields(logrus.Fields{
		"attempts": attempts,
		"status":   status,
	}).Warn("Calendar sync failed")
	return batch.Failed
}

// BuildReminders returns the reminders for ev at each offset before its
// start. Offsets that would notify at or before now, or after the start, are
// skipped.
func BuildReminders(ev *model.Event, token string, offsets []time.Duration, now time.Time) []model.Reminder {
	var reminders []model.Reminder
	start := ev.StartAt.UTC()
	for _, offset := range offsets {
		if offset <= 0 {
			continue
		}
		notifyAt := start.Add(-offset)
		if !notifyAt.After(now) {
			continue
		}

		msg := fmt.Sprintf("Reminder: %s starts in %s", ev.Title, describeOffset(offset))
		if ev.Location != "" {
			msg += " at " + ev.Location
		}
		reminders = append(reminders, model.Reminder{
			EventID:       ev.ID,
			OwnerID:       ev.OwnerID,
			NotifyAt:      notifyAt,
			Message:       msg,
			DeliveryToken: token,
			Status:        model.ReminderPending,
		})
	}
	return reminders
}

func describeOffset(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
