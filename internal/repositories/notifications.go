package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/backstage/services/rewards/internal/models"
)

// NotificationRepository is the outbox of downstream deliveries
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	DuePending(ctx context.Context, now time.Time, limit, maxAttempts int) ([]models.Notification, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause error, nextAttemptAt time.Time) error
	CountPending(ctx context.Context) (int64, error)
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

// Create enqueues a notification outside of a claim transaction
func (r *notificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.NextAttemptAt.IsZero() {
		n.NextAttemptAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return errors.Wrap(err, "failed to enqueue notification")
	}
	return nil
}

// DuePending returns undelivered notifications whose next attempt is due
func (r *notificationRepository) DuePending(ctx context.Context, now time.Time, limit, maxAttempts int) ([]models.Notification, error) {
	var pending []models.Notification
	q := r.db.WithContext(ctx).
		Where("delivered_at IS NULL AND next_attempt_at <= ?", now.UTC())
	if maxAttempts > 0 {
		q = q.Where("attempts < ?", maxAttempts)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Order("next_attempt_at, created_at").Find(&pending).Error; err != nil {
		return nil, errors.Wrap(err, "failed to load pending notifications")
	}
	return pending, nil
}

// MarkDelivered records a successful delivery
func (r *notificationRepository) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND delivered_at IS NULL", id).
		Updates(map[string]interface{}{
			"delivered_at": at.UTC(),
			"attempts":     gorm.Expr("attempts + 1"),
			"last_error":   nil,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to mark notification delivered")
	}
	return nil
}

// MarkFailed records a failed delivery attempt and schedules the next one
func (r *notificationRepository) MarkFailed(ctx context.Context, id uuid.UUID, cause error, nextAttemptAt time.Time) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":        gorm.Expr("attempts + 1"),
			"last_error":      msg,
			"next_attempt_at": nextAttemptAt.UTC(),
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to mark notification failed")
	}
	return nil
}

// CountPending returns the number of undelivered notifications
func (r *notificationRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("delivered_at IS NULL").
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count pending notifications")
	}
	return count, nil
}
