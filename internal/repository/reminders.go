package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"smart-event-relay/internal/model"
)

const reminderOpen = "status = ? AND sent_at IS NULL"

// ListDueReminders returns unsent pending reminders due at or before now
func (r *Repository) ListDueReminders(ctx context.Context, now time.Time, limit int) ([]model.Reminder, error) {
	var reminders []model.Reminder
	err := r.db.WithContext(ctx).
		Where(reminderOpen, model.ReminderPending).
		Where("notify_at <= ?", now).
		Where(leaseFree, now).
		Order("notify_at asc, id asc").
		Limit(limit).
		Find(&reminders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due reminders: %w", err)
	}
	return reminders, nil
}

// ClaimReminder takes the delivery lease on a reminder and returns the
// reminder as it stands under the new lease, or nil when it cannot be claimed
func (r *Repository) ClaimReminder(ctx context.Context, id, owner string, now, until time.Time) (*model.Reminder, error) {
	var claimed *model.Reminder
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Reminder{}).
			Where("id = ?", id).
			Where(reminderOpen, model.ReminderPending).
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

		var rem model.Reminder
		if err := tx.First(&rem, "id = ? AND lease_owner = ?", id, owner).Error; err != nil {
			return err
		}
		claimed = &rem
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim reminder: %w", err)
	}
	return claimed, nil
}

// MarkReminderSent records a successful delivery
func (r *Repository) MarkReminderSent(ctx context.Context, id, owner string, sentAt time.Time) error {
	return r.finishReminder(ctx, id, owner, map[string]interface{}{
		"status":        model.ReminderSent,
		"sent_at":       sentAt,
		"error_message": "",
	})
}

// RecordReminderFailure records a failed delivery attempt
func (r *Repository) RecordReminderFailure(ctx context.Context, id, owner string, retryCount int, status model.ReminderStatus, errMsg string) error {
	return r.finishReminder(ctx, id, owner, map[string]interface{}{
		"status":        status,
		"retry_count":   retryCount,
		"error_message": errMsg,
	})
}

func (r *Repository) finishReminder(ctx context.Context, id, owner string, updates map[string]interface{}) error {
	updates["lease_owner"] = ""
	updates["lease_until"] = nil

	res := r.db.WithContext(ctx).Model(&model.Reminder{}).
		Where("id = ? AND lease_owner = ?", id, owner).
		Where(reminderOpen, model.ReminderPending).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update reminder: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// ListReminders returns reminders filtered by status, soonest first
func (r *Repository) ListReminders(ctx context.Context, status string, page Page) ([]model.Reminder, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.Reminder{})
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count reminders: %w", err)
	}

	var reminders []model.Reminder
	err := q.Order("notify_at asc, id asc").
		Offset(page.offset()).
		Limit(page.Limit).
		Find(&reminders).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list reminders: %w", err)
	}
	return reminders, total, nil
}

// ListEventReminders returns all reminders of an event
func (r *Repository) ListEventReminders(ctx context.Context, eventID string) ([]model.Reminder, error) {
	var reminders []model.Reminder
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("notify_at asc").
		Find(&reminders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list event reminders: %w", err)
	}
	return reminders, nil
}

// GetReminder returns a single reminder
func (r *Repository) GetReminder(ctx context.Context, id string) (*model.Reminder, error) {
	var rem model.Reminder
	if err := r.db.WithContext(ctx).First(&rem, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &rem, nil
}
