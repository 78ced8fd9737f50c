package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"smart-event-relay/internal/model"
)

// ListUnprocessed returns up to limit unprocessed messages, oldest first
func (r *Repository) ListUnprocessed(ctx context.Context, limit int) ([]model.RawMessage, error) {
	var msgs []model.RawMessage
	err := r.db.WithContext(ctx).
		Where("processed = ?", false).
		Order("received_at asc, id asc").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed messages: %w", err)
	}
	return msgs, nil
}

// ListChildren returns an owner's children in their stable list order
func (r *Repository) ListChildren(ctx context.Context, ownerID string) ([]model.Child, error) {
	var children []model.Child
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at asc, id asc").
		Find(&children).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	return children, nil
}

// PersistEvent inserts ev and marks its source message processed in one
// transaction. A row that already exists for (owner, source message) is left
// untouched and created is false.
func (r *Repository) PersistEvent(ctx context.Context, ev *model.Event, processedAt time.Time) (created bool, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}, {Name: "source_message_id"}},
			DoNothing: true,
		}).Create(ev)
		if res.Error != nil {
			return fmt.Errorf("failed to insert event: %w", res.Error)
		}
		created = res.RowsAffected > 0

		res = tx.Model(&model.RawMessage{}).
			Where("id = ? AND processed = ?", ev.SourceMessageID, false).
			Updates(map[string]interface{}{
				"processed":    true,
				"processed_at": processedAt,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to mark message processed: %w", res.Error)
		}
		return nil
	})
	return created, err
}

// GetMessage returns a single raw message
func (r *Repository) GetMessage(ctx context.Context, id string) (*model.RawMessage, error) {
	var msg model.RawMessage
	if err := r.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &msg, nil
}
