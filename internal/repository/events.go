package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"smart-event-relay/internal/model"
)

const leaseFree = "(lease_until IS NULL OR lease_until < ?)"

// ListSyncable returns events waiting for calendar sync whose lease is free
func (r *Repository) ListSyncable(ctx context.Context, now time.Time, limit int) ([]model.Event, error) {
	var events []model.Event
	err := r.db.WithContext(ctx).
		Where("status IN ?", model.SyncableStatuses).
		Where(leaseFree, now).
		Order("created_at asc, id asc").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list syncable events: %w", err)
	}
	return events, nil
}

// ClaimEvent takes the sync lease on an event and returns the event as it
// stands under the new lease. It returns nil when another worker holds the
// lease or the event is no longer syncable.
func (r *Repository) ClaimEvent(ctx context.Context, id, owner string, now, until time.Time) (*model.Event, error) {
	var claimed *model.Event
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Event{}).
			Where("id = ? AND status IN ?", id, model.SyncableStatuses).
			Where(leaseFree, now).
			Updates(map[string]interface{}{
				"lease_owner": owner,
				"lease_until": until,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		var ev model.Event
		if err := tx.First(&ev, "id = ? AND lease_owner = ?", id, owner).Error; err != nil {
			return err
		}
		claimed = &ev
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim event: %w", err)
	}
	return claimed, nil
}

// SaveExternalID stores the provider's calendar entry id as soon as it is known
func (r *Repository) SaveExternalID(ctx context.Context, id, owner, externalID string) error {
	res := r.db.WithContext(ctx).Model(&model.Event{}).
		Where("id = ? AND lease_owner = ?", id, owner).
		Update("external_calendar_id", externalID)
	if res.Error != nil {
		return fmt.Errorf("failed to save external calendar id: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// CompleteSync marks a claimed event synced and inserts its reminders in one
// transaction. Reminders that already exist for the same (event, notify_at)
// are skipped; the number actually inserted is returned.
func (r *Repository) CompleteSync(ctx context.Context, id, owner string, reminders []model.Reminder) (int, error) {
	inserted := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Event{}).
			Where("id = ? AND lease_owner = ?", id, owner).
			Updates(map[string]interface{}{
				"status":        model.EventSynced,
				"error_message": "",
				"lease_owner":   "",
				"lease_until":   nil,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to mark event synced: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrLeaseLost
		}

		for i := range reminders {
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "event_id"}, {Name: "notify_at"}},
				DoNothing: true,
			}).Create(&reminders[i])
			if res.Error != nil {
				return fmt.Errorf("failed to insert reminder: %w", res.Error)
			}
			inserted += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// RecordSyncFailure stores the outcome of a failed sync attempt and releases the lease
func (r *Repository) RecordSyncFailure(ctx context.Context, id, owner string, attempts int, status model.EventStatus, errMsg string) error {
	res := r.db.WithContext(ctx).Model(&model.Event{}).
		Where("id = ? AND lease_owner = ?", id, owner).
		Updates(map[string]interface{}{
			"status":        status,
			"sync_attempts": attempts,
			"error_message": errMsg,
			"lease_owner":   "",
			"lease_until":   nil,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to record sync failure: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// ListEvents returns events filtered by status, newest first, with the total count
func (r *Repository) ListEvents(ctx context.Context, status string, page Page) ([]model.Event, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.Event{})
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	var events []model.Event
	err := q.Order("created_at desc, id desc").
		Offset(page.offset()).
		Limit(page.Limit).
		Find(&events).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", err)
	}
	return events, total, nil
}

// GetEvent returns a single event
func (r *Repository) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	var ev model.Event
	if err := r.db.WithContext(ctx).First(&ev, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &ev, nil
}

// GetEventBySource returns the event created from a given message
func (r *Repository) GetEventBySource(ctx context.Context, ownerID, sourceMessageID string) (*model.Event, error) {
	var ev model.Event
	err := r.db.WithContext(ctx).
		First(&ev, "owner_id = ? AND source_message_id = ?", ownerID, sourceMessageID).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &ev, nil
}

// ApproveEvent moves a needs_review event back into the sync queue. It
// reports false when the event is not awaiting review.
func (r *Repository) ApproveEvent(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Event{}).
		Where("id = ? AND status = ?", id, model.EventNeedsReview).
		Updates(map[string]interface{}{
			"status":        model.EventPending,
			"error_message": "",
			"sync_attempts": 0,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to approve event: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}
