package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/wes-social-realtime/internal/domain"
)

// GormLastSeenRepository implements LastSeenRepository using GORM.
type GormLastSeenRepository struct {
	db *gorm.DB
}

// NewGormLastSeenRepository creates a new GORM-backed last-seen repository.
func NewGormLastSeenRepository(db *gorm.DB) *GormLastSeenRepository {
	return &GormLastSeenRepository{db: db}
}

// SetLastSeen upserts the user's row. An older timestamp never overwrites a
// newer one, so out-of-order writes from several instances are harmless.
func (r *GormLastSeenRepository) SetLastSeen(ctx context.Context, userID string, at time.Time) error {
	model := domain.LastSeenModel{UserID: userID, LastSeen: at.UTC()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "last_seen"}, Value: gorm.Expr("CASE WHEN ? > user_last_seen.last_seen THEN ? ELSE user_last_seen.last_seen END", model.LastSeen, model.LastSeen)},
			{Column: clause.Column{Name: "updated_at"}, Value: time.Now().UTC()},
		},
	}).Create(&model).Error
}

// BatchGetLastSeen returns the stored timestamps. Users without a row are
// absent from the result.
func (r *GormLastSeenRepository) BatchGetLastSeen(ctx context.Context, userIDs []string) (map[string]time.Time, error) {
	result := make(map[string]time.Time, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	var models []domain.LastSeenModel
	err := r.db.WithContext(ctx).
		Where("user_id IN ?", userIDs).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	for _, m := range models {
		result[m.UserID] = m.LastSeen
	}
	return result, nil
}

// Ensure interface is satisfied at compile time.
var _ LastSeenRepository = (*GormLastSeenRepository)(nil)
