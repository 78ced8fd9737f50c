package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"smart-event-relay/internal/batch"
	"smart-event-relay/internal/config"
	"smart-event-relay/internal/failure"
	"smart-event-relay/internal/metrics"
	"smart-event-relay/internal/model"
	"smart-event-relay/internal/push"
	"smart-event-relay/internal/repository"
	"smart-event-relay/internal/testutil"
)

var now = time.Date(2025, 3, 11, 12, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu   sync.Mutex
	sent []push.Notification
	err  error
}

func (f *fakeSender) Send(_ context.Context, n push.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return f.err
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fixture struct {
	db      *gorm.DB
	repo    *repository.Repository
	metrics *metrics.Metrics
	event   model.Event
}

func newFixture(t *testing.T) *fixture {
	gdb := testutil.NewDB(t)
	f := &fixture{
		db:      gdb,
		repo:    repository.New(gdb),
		metrics: metrics.NewMetrics(prometheus.NewRegistry()),
		event: model.Event{
			OwnerID:         uuid.NewString(),
			Title:           "Soccer practice",
			StartAt:         now.Add(3 * time.Hour),
			EndAt:           now.Add(4 * time.Hour),
			SourceMessageID: uuid.NewString(),
			Status:          model.EventSynced,
			PrepItems:       []string{},
		},
	}
	require.NoError(t, gdb.Create(&f.event).Error)
	return f
}

func (f *fixture) dispatcher(sender push.Sender) *Dispatcher {
	d := New(f.repo, sender, f.metrics, Options{
		BatchSize:   10,
		Concurrency: 2,
		MaxRetries:  5,
		Timeout:     time.Second,
		Lease:       time.Minute,
		Title:       "Event Reminder",
	})
	d.now = func() time.Time { return now }
	return d
}

func (f *fixture) seedReminder(t *testing.T, notifyAt time.Time, token string) model.Reminder {
	r := model.Reminder{
		EventID:       f.event.ID,
		OwnerID:       f.event.OwnerID,
		NotifyAt:      notifyAt,
		Message:       "Reminder: Soccer practice starts in 3 hours",
		DeliveryToken: token,
		Status:        model.ReminderPending,
	}
	require.NoError(t, f.db.Create(&r).Error)
	return r
}

func (f *fixture) reload(t *testing.T, id string) *model.Reminder {
	r, err := f.repo.GetReminder(context.Background(), id)
	require.NoError(t, err)
	return r
}

func TestDispatchSendsDueReminder(t *testing.T) {
	f := newFixture(t)
	r := f.seedReminder(t, now.Add(-time.Minute), "ExponentPushToken[abc]")
	sender := &fakeSender{}

	summary, err := f.dispatcher(sender).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	require.Equal(t, 1, sender.calls())
	n := sender.sent[0]
	assert.Equal(t, "ExponentPushToken[abc]", n.Token)
	assert.Equal(t, "Event Reminder", n.Title)
	assert.Equal(t, r.Message, n.Body)
	assert.Equal(t, r.ID, n.Data["reminder_id"])
	assert.Equal(t, f.event.ID, n.Data["event_id"])

	stored := f.reload(t, r.ID)
	assert.Equal(t, model.ReminderSent, stored.Status)
	require.NotNil(t, stored.SentAt)
	assert.True(t, stored.SentAt.Equal(now))
	assert.Empty(t, stored.LeaseOwner)

	// Sent reminders are never picked up again.
	summary, err = f.dispatcher(sender).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 1, sender.calls())
}

func TestDispatchSkipsFutureReminders(t *testing.T) {
	f := newFixture(t)
	r := f.seedReminder(t, now.Add(time.Minute), "ExponentPushToken[abc]")
	sender := &fakeSender{}

	summary, err := f.dispatcher(sender).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, model.ReminderPending, f.reload(t, r.ID).Status)
}

func TestUnregisteredTokenFailsOnFirstAttempt(t *testing.T) {
	f := newFixture(t)
	r := f.seedReminder(t, now.Add(-time.Minute), "ExponentPushToken[gone]")
	sender := &fakeSender{err: failure.Permanent(fmt.Errorf("%w: DeviceNotRegistered", push.ErrInvalidToken))}
	d := f.dispatcher(sender)

	_, err := d.RunCycle(context.Background())
	require.NoError(t, err)

	stored := f.reload(t, r.ID)
	assert.Equal(t, model.ReminderFailed, stored.Status)
	assert.Equal(t, 0, stored.RetryCount)
	assert.Nil(t, stored.SentAt)
	assert.Contains(t, stored.ErrorMessage, "invalid push token")

	_, err = d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sender.calls())
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.Pushes.WithLabelValues("invalid_token")))
}

func TestEmptyTokenFailsWithoutRequest(t *testing.T) {
	f := newFixture(t)
	r := f.seedReminder(t, now.Add(-time.Minute), "")
	sender := push.NewExpoClient(config.PushConfig{Endpoint: "http://127.0.0.1:1/unreachable", Timeout: time.Second})

	_, err := f.dispatcher(sender).RunCycle(context.Background())
	require.NoError(t, err)

	stored := f.reload(t, r.ID)
	assert.Equal(t, model.ReminderFailed, stored.Status)
	assert.Equal(t, 0, stored.RetryCount)
}

func TestTransientFailuresRetryUpToMax(t *testing.T) {
	f := newFixture(t)
	r := f.seedReminder(t, now.Add(-time.Minute), "ExponentPushToken[abc]")
	sender := &fakeSender{err: errors.New("connection refused")}
	d := f.dispatcher(sender)

	for i := 1; i <= 4; i++ {
		_, err := d.RunCycle(context.Background())
		require.NoError(t, err)

		stored := f.reload(t, r.ID)
		assert.Equal(t, model.ReminderPending, stored.Status)
		assert.Equal(t, i, stored.RetryCount)
		assert.Nil(t, stored.LeaseUntil)
	}

	_, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	stored := f.reload(t, r.ID)
	assert.Equal(t, model.ReminderFailed, stored.Status)
	assert.Equal(t, 5, stored.RetryCount)
	assert.Equal(t, "connection refused", stored.ErrorMessage)

	_, err = d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, sender.calls())
}

func TestConcurrentDispatchersSendOnce(t *testing.T) {
	f := newFixture(t)
	f.seedReminder(t, now.Add(-time.Minute), "ExponentPushToken[abc]")
	sender := &fakeSender{}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		d := f.dispatcher(sender)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.RunCycle(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, sender.calls())
}

func TestStaleListedCopyKeepsRetryCount(t *testing.T) {
	f := newFixture(t)
	r := f.seedReminder(t, now.Add(-time.Minute), "ExponentPushToken[abc]")
	sender := &fakeSender{err: errors.New("connection refused")}

	listed, err := f.repo.ListDueReminders(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	_, err = f.dispatcher(sender).RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, f.reload(t, r.ID).RetryCount)

	// A second dispatcher still holding the row it listed earlier.
	assert.Equal(t, batch.Failed, f.dispatcher(sender).process(context.Background(), listed[0]))

	stored := f.reload(t, r.ID)
	assert.Equal(t, 2, sender.calls())
	assert.Equal(t, 2, stored.RetryCount)
	assert.Equal(t, model.ReminderPending, stored.Status)
}
