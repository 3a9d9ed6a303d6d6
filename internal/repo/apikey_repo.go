package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-chat-history/internal/domain"
)

// UpsertAPIKey stores sealed as userID's key for provider, replacing any
// previous key. A replaced key keeps its id and created_at; last_used is
// cleared.
func UpsertAPIKey(ctx context.Context, db *gorm.DB, userID, provider string, sealed []byte, now time.Time) error {
	k := &domain.UserAPIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Provider:  provider,
		Sealed:    sealed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "provider"}},
			DoUpdates: clause.AssignmentColumns([]string{"sealed", "updated_at", "last_used"}),
		}).
		Create(k).Error
}

// GetAPIKey returns userID's key for provider, or ErrNotFound.
func GetAPIKey(ctx context.Context, db *gorm.DB, userID, provider string) (*domain.UserAPIKey, error) {
	var k domain.UserAPIKey
	err := db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		First(&k).Error
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// TouchAPIKey records a use of the key at ts.
func TouchAPIKey(ctx context.Context, db *gorm.DB, id string, ts time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.UserAPIKey{}).
		Where("id = ?", id).
		Update("last_used", ts).Error
}

// DeleteAPIKey removes userID's key for provider. It returns ErrNotFound when
// there was none.
func DeleteAPIKey(ctx context.Context, db *gorm.DB, userID, provider string) error {
	res := db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		Delete(&domain.UserAPIKey{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
