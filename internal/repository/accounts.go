package repository

import (
	"context"
	"fmt"

	"smart-event-relay/internal/model"
)

// GetAccount returns the account that owns the given rows
func (r *Repository) GetAccount(ctx context.Context, ownerID string) (*model.Account, error) {
	var acct model.Account
	if err := r.db.WithContext(ctx).First(&acct, "id = ?", ownerID).Error; err != nil {
		return nil, notFound(err)
	}
	return &acct, nil
}

// SaveGoogleRefreshToken stores a delegated Google credential on an account
func (r *Repository) SaveGoogleRefreshToken(ctx context.Context, ownerID, refreshToken string) error {
	res := r.db.WithContext(ctx).Model(&model.Account{}).
		Where("id = ?", ownerID).
		Updates(map[string]interface{}{
			"google_refresh_token": refreshToken,
			"calendar_provider":    model.CalendarGoogle,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to save refresh token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
