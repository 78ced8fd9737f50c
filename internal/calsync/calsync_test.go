package calsync

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
	"smart-event-relay/internal/calendar"
	"smart-event-relay/internal/failure"
	"smart-event-relay/internal/metrics"
	"smart-event-relay/internal/model"
	"smart-event-relay/internal/repository"
	"smart-event-relay/internal/testutil"
)

var now = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeProvider struct {
	mu        sync.Mutex
	creates   []calendar.Entry
	updates   []calendar.Entry
	createErr error
	updateErr error
}

func (f *fakeProvider) Create(_ context.Context, _ *model.Account, e calendar.Entry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, e)
	if f.createErr != nil {
		return "", f.createErr
	}
	return fmt.Sprintf("evt-%d", len(f.creates)), nil
}

func (f *fakeProvider) Update(_ context.Context, _ *model.Account, e calendar.Entry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, e)
	if f.updateErr != nil {
		return "", f.updateErr
	}
	return e.ExternalID, nil
}

func (f *fakeProvider) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates), len(f.updates)
}

type fixture struct {
	db       *gorm.DB
	repo     *repository.Repository
	metrics  *metrics.Metrics
	provider *fakeProvider
	account  model.Account
}

func newFixture(t *testing.T) *fixture {
	gdb := testutil.NewDB(t)
	f := &fixture{
		db:       gdb,
		repo:     repository.New(gdb),
		metrics:  metrics.NewMetrics(prometheus.NewRegistry()),
		provider: &fakeProvider{},
		account: model.Account{
			ID:                 uuid.NewString(),
			Email:              "parent@example.com",
			CalendarProvider:   model.CalendarGoogle,
			GoogleRefreshToken: "rt-1",
			PushToken:          "ExponentPushToken[abc]",
		},
	}
	require.NoError(t, gdb.Create(&f.account).Error)
	return f
}

func (f *fixture) worker() *Worker {
	w := New(f.repo, calendar.Providers{model.CalendarGoogle: f.provider}, f.metrics, Options{
		BatchSize:   10,
		Concurrency: 2,
		MaxAttempts: 5,
		Timeout:     time.Second,
		Lease:       time.Minute,
		Offsets:     []time.Duration{24 * time.Hour, 3 * time.Hour, 30 * time.Minute},
	})
	w.now = func() time.Time { return now }
	return w
}

func (f *fixture) seedEvent(t *testing.T, owner string, start time.Time, externalID string) model.Event {
	ev := model.Event{
		OwnerID:            owner,
		Title:              "Soccer practice",
		StartAt:            start,
		EndAt:              start.Add(time.Hour),
		Location:           "Community Sports Center",
		PrepItems:          []string{"cleats", "water bottle"},
		SourceMessageID:    uuid.NewString(),
		Provenance:         model.ProvenancePattern,
		Confidence:         1.0,
		Status:             model.EventPending,
		ExternalCalendarID: externalID,
	}
	require.NoError(t, f.db.Create(&ev).Error)
	return ev
}

func (f *fixture) reload(t *testing.T, id string) *model.Event {
	ev, err := f.repo.GetEvent(context.Background(), id)
	require.NoError(t, err)
	return ev
}

func TestSyncCreatesEntryAndReminders(t *testing.T) {
	f := newFixture(t)
	ev := f.seedEvent(t, f.account.ID, now.Add(30*time.Hour), "")

	summary, err := f.worker().RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	stored := f.reload(t, ev.ID)
	assert.Equal(t, model.EventSynced, stored.Status)
	assert.Equal(t, "evt-1", stored.ExternalCalendarID)
	assert.Empty(t, stored.LeaseOwner)
	assert.Nil(t, stored.LeaseUntil)

	require.Len(t, f.provider.creates, 1)
	assert.Equal(t, "Items to bring:\n• cleats\n• water bottle", f.provider.creates[0].Description)

	reminders, err := f.repo.ListEventReminders(context.Background(), ev.ID)
	require.NoError(t, err)
	require.Len(t, reminders, 3)
	for _, r := range reminders {
		assert.False(t, r.NotifyAt.After(stored.StartAt))
		assert.True(t, r.NotifyAt.After(now))
		assert.Equal(t, model.ReminderPending, r.Status)
		assert.Equal(t, "ExponentPushToken[abc]", r.DeliveryToken)
	}
	assert.Equal(t, 3.0, promtest.ToFloat64(f.metrics.RemindersCreated))
}

func TestSecondSyncUpdatesExistingEntry(t *testing.T) {
	f := newFixture(t)
	ev := f.seedEvent(t, f.account.ID, now.Add(30*time.Hour), "")
	w := f.worker()

	_, err := w.RunCycle(context.Background())
	require.NoError(t, err)
	first := f.reload(t, ev.ID)

	// An operator edit puts the event back into the sync queue.
	require.NoError(t, f.db.Model(&model.Event{}).Where("id = ?", ev.ID).
		Updates(map[string]interface{}{"status": model.EventPending, "title": "Soccer practice (field 2)"}).Error)

	_, err = w.RunCycle(context.Background())
	require.NoError(t, err)

	creates, updates := f.provider.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, updates)
	assert.Equal(t, first.ExternalCalendarID, f.provider.updates[0].ExternalID)

	second := f.reload(t, ev.ID)
	assert.Equal(t, first.ExternalCalendarID, second.ExternalCalendarID)
	assert.Equal(t, model.EventSynced, second.Status)

	reminders, err := f.repo.ListEventReminders(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Len(t, reminders, 3)
}

func TestUpdateNotFoundFallsBackToCreate(t *testing.T) {
	f := newFixture(t)
	f.provider.updateErr = fmt.Errorf("%w: deleted", calendar.ErrNotFound)
	ev := f.seedEvent(t, f.account.ID, now.Add(30*time.Hour), "evt-gone")

	_, err := f.worker().RunCycle(context.Background())
	require.NoError(t, err)

	creates, updates := f.provider.counts()
	assert.Equal(t, 1, updates)
	assert.Equal(t, 1, creates)
	assert.Equal(t, "evt-1", f.reload(t, ev.ID).ExternalCalendarID)
}

func TestRemindersSkipPastOffsets(t *testing.T) {
	f := newFixture(t)
	ev := f.seedEvent(t, f.account.ID, now.Add(5*time.Hour), "")

	_, err := f.worker().RunCycle(context.Background())
	require.NoError(t, err)

	reminders, err := f.repo.ListEventReminders(context.Background(), ev.ID)
	require.NoError(t, err)
	require.Len(t, reminders, 2)
	assert.True(t, reminders[0].NotifyAt.Equal(now.Add(2*time.Hour)))
	assert.Equal(t, "Reminder: Soccer practice starts in 3 hours at Community Sports Center", reminders[0].Message)
	assert.Equal(t, "Reminder: Soccer practice starts in 30 minutes at Community Sports Center", reminders[1].Message)
}

func TestBuildReminders(t *testing.T) {
	ev := &model.Event{ID: "e1", OwnerID: "o1", Title: "Recital", StartAt: now.Add(48 * time.Hour)}

	reminders := BuildReminders(ev, "tok", []time.Duration{time.Hour, 90 * time.Minute, 0, -time.Hour}, now)
	require.Len(t, reminders, 2)
	assert.Equal(t, "Reminder: Recital starts in 1 hour", reminders[0].Message)
	assert.Equal(t, "Reminder: Recital starts in 90 minutes", reminders[1].Message)

	ev.StartAt = now.Add(10 * time.Minute)
	assert.Empty(t, BuildReminders(ev, "tok", []time.Duration{30 * time.Minute}, now))

	ev.StartAt = now.Add(30 * time.Minute)
	assert.Empty(t, BuildReminders(ev, "tok", []time.Duration{30 * time.Minute}, now))
}

func TestMissingAccountFailsImmediately(t *testing.T) {
	f := newFixture(t)
	ev := f.seedEvent(t, uuid.NewString(), now.Add(30*time.Hour), "")

	summary, err := f.worker().RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	stored := f.reload(t, ev.ID)
	assert.Equal(t, model.EventFailed, stored.Status)
	assert.Equal(t, 1, stored.SyncAttempts)
	assert.Contains(t, stored.ErrorMessage, "no account")
	assert.Empty(t, stored.LeaseOwner)
}

func TestRevokedCredentialsFailImmediately(t *testing.T) {
	f := newFixture(t)
	f.provider.createErr = failure.Permanent(errors.New("oauth2: invalid_grant"))
	ev := f.seedEvent(t, f.account.ID, now.Add(30*time.Hour), "")

	_, err := f.worker().RunCycle(context.Background())
	require.NoError(t, err)

	stored := f.reload(t, ev.ID)
	assert.Equal(t, model.EventFailed, stored.Status)
	assert.Equal(t, 1, stored.SyncAttempts)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.CalendarSyncs.WithLabelValues("failed")))
}

func TestTransientFailuresRetryUpToMaxAttempts(t *testing.T) {
	f := newFixture(t)
	f.provider.createErr = errors.New("503 backend unavailable")
	ev := f.seedEvent(t, f.account.ID, now.Add(30*time.Hour), "")
	w := f.worker()

	for i := 1; i <= 4; i++ {
		_, err := w.RunCycle(context.Background())
		require.NoError(t, err)

		stored := f.reload(t, ev.ID)
		assert.Equal(t, model.EventPending, stored.Status)
		assert.Equal(t, i, stored.SyncAttempts)
		assert.Nil(t, stored.LeaseUntil)
	}

	_, err := w.RunCycle(context.Background())
	require.NoError(t, err)
	stored := f.reload(t, ev.ID)
	assert.Equal(t, model.EventFailed, stored.Status)
	assert.Equal(t, 5, stored.SyncAttempts)
	assert.Contains(t, stored.ErrorMessage, "backend unavailable")

	summary, err := w.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	creates, _ := f.provider.counts()
	assert.Equal(t, 5, creates)
}

func TestConcurrentWorkersSyncOnce(t *testing.T) {
	f := newFixture(t)
	ev := f.seedEvent(t, f.account.ID, now.Add(30*time.Hour), "")

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		w := f.worker()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.RunCycle(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	creates, _ := f.provider.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, model.EventSynced, f.reload(t, ev.ID).Status)

	reminders, err := f.repo.ListEventReminders(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Len(t, reminders, 3)
}

func TestHeldLeaseIsSkipped(t *testing.T) {
	f := newFixture(t)
	ev := f.seedEvent(t, f.account.ID, now.Add(30*time.Hour), "")
	claimed, err := f.repo.ClaimEvent(context.Background(), ev.ID, "other-worker", now, now.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, claimed)

	summary, err := f.worker().RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)

	creates, _ := f.provider.counts()
	assert.Equal(t, 0, creates)
}

// staleCopy lists ev, then applies what an earlier worker left behind after
// the listing: a stored external id, a spent attempt and an expired lease.
func (f *fixture) staleCopy(t *testing.T, ev model.Event, externalID string, attempts int) model.Event {
	listed, err := f.repo.ListSyncable(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, ev.ID, listed[0].ID)

	expired := now.Add(-time.Minute)
	require.NoError(t, f.db.Model(&model.Event{}).Where("id = ?", ev.ID).Updates(map[string]interface{}{
		"external_calendar_id": externalID,
		"sync_attempts":        attempts,
		"lease_owner":          "crashed-worker",
		"lease_until":          expired,
	}).Error)
	return listed[0]
}

func TestStaleListedCopyUpdatesStoredEntry(t *testing.T) {
	f := newFixture(t)
	ev := f.seedEvent(t, f.account.ID, now.Add(30*time.Hour), "")
	listed := f.staleCopy(t, ev, "evt-A", 0)

	assert.Equal(t, batch.Succeeded, f.worker().process(context.Background(), listed))

	creates, updates := f.provider.counts()
	assert.Equal(t, 0, creates)
	assert.Equal(t, 1, updates)

	stored := f.reload(t, ev.ID)
	assert.Equal(t, model.EventSynced, stored.Status)
	assert.Equal(t, "evt-A", stored.ExternalCalendarID)
}

func TestStaleListedCopyKeepsAttemptCount(t *testing.T) {
	f := newFixture(t)
	ev := f.seedEvent(t, f.account.ID, now.Add(30*time.Hour), "")
	listed := f.staleCopy(t, ev, "", 4)
	f.provider.createErr = failure.Transient(errors.New("rate limited"))

	assert.Equal(t, batch.Failed, f.worker().process(context.Background(), listed))

	stored := f.reload(t, ev.ID)
	assert.Equal(t, 5, stored.SyncAttempts)
	assert.Equal(t, model.EventFailed, stored.Status)
}
