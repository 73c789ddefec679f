package journal

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ballotwatch/internal/models"
)

// Store persists journal entries.
type Store interface {
	SaveNotification(ctx context.Context, n *models.Notification) error
	SaveTransaction(ctx context.Context, t *models.Transaction) error
	SaveResult(ctx context.Context, r *models.SessionResult) error
}

// GormStore is a Store on top of a migrated gorm database.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore wraps db. The schema is expected to be migrated already.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// SaveNotification inserts a notification, ignoring replays of the same id.
func (s *GormStore) SaveNotification(ctx context.Context, n *models.Notification) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(n).Error
	if err != nil {
		return fmt.Errorf("save notification: %w", err)
	}
	return nil
}

// SaveTransaction upserts the latest state of a submission attempt.
func (s *GormStore) SaveTransaction(ctx context.Context, t *models.Transaction) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "handle", "error", "updated_at"}),
		}).
		Create(t).Error
	if err != nil {
		return fmt.Errorf("save transaction %s: %w", t.ID, err)
	}
	return nil
}

// SaveResult stores a session result with its tally rows in one transaction.
func (s *GormStore) SaveResult(ctx context.Context, r *models.SessionResult) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(r).Error; err != nil {
			return fmt.Errorf("save session result: %w", err)
		}
		return nil
	})
}

// RecentNotifications returns up to limit notifications for viewer, newest first.
func (s *GormStore) RecentNotifications(ctx context.Context, viewer string, limit int) ([]models.Notification, error) {
	var out []models.Notification
	q := s.db.WithContext(ctx).Order("at DESC").Limit(limit)
	if viewer != "" {
		q = q.Where("viewer = ?", viewer)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load notifications: %w", err)
	}
	return out, nil
}
