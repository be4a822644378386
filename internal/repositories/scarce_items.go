package repositories

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/services/rewards/internal/database"
	"example.com/backstage/services/rewards/internal/models"
)

// ScarceItemRepository is the scarcity ledger
type ScarceItemRepository interface {
	Create(ctx context.Context, item *models.ScarceItem) error
	Get(ctx context.Context, itemID string) (*models.ScarceItem, error)
	GetStatus(ctx context.Context, itemID string, now time.Time) (*models.ItemStatus, error)
	List(ctx context.Context) ([]models.ScarceItem, error)
	Deactivate(ctx context.Context, itemID, reason string) error
	Reset(ctx context.Context, itemID string) error
}

type scarceItemRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewScarceItemRepository creates a new scarce item repository
func NewScarceItemRepository(db, readOnlyDB *gorm.DB) ScarceItemRepository {
	if readOnlyDB == nil {
		readOnlyDB = db
	}
	return &scarceItemRepository{db: db, readOnlyDB: readOnlyDB}
}

// Create inserts a new scarce item. An existing item is never modified.
func (r *scarceItemRepository) Create(ctx context.Context, item *models.ScarceItem) error {
	if item.ItemID == "" || item.TotalSupply <= 0 {
		return errors.Wrap(ErrInvalidInput, "item id and positive total supply are required")
	}
	if item.WindowEnd != nil && !item.WindowEnd.After(item.WindowStart) {
		return errors.Wrap(ErrInvalidInput, "window end must be after window start")
	}

	item.ClaimedCount = 0
	item.IsActive = true
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		if database.IsDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return errors.Wrap(err, "failed to create scarce item")
	}
	return nil
}

// Get returns the scarce item from the read database
func (r *scarceItemRepository) Get(ctx context.Context, itemID string) (*models.ScarceItem, error) {
	var item models.ScarceItem
	err := r.readOnlyDB.WithContext(ctx).Where("item_id = ?", itemID).First(&item).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get scarce item")
	}
	return &item, nil
}

// GetStatus returns the advisory availability view of an item
func (r *scarceItemRepository) GetStatus(ctx context.Context, itemID string, now time.Time) (*models.ItemStatus, error) {
	item, err := r.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return &models.ItemStatus{
		ItemID:       item.ItemID,
		TotalSupply:  item.TotalSupply,
		ClaimedCount: item.ClaimedCount,
		Available:    item.Remaining(),
		WindowOpen:   item.WindowOpen(now),
		IsActive:     item.IsActive,
	}, nil
}

// List returns all scarce items ordered by id
func (r *scarceItemRepository) List(ctx context.Context) ([]models.ScarceItem, error) {
	var items []models.ScarceItem
	if err := r.readOnlyDB.WithContext(ctx).Order("item_id").Find(&items).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list scarce items")
	}
	return items, nil
}

// Deactivate stops further claims on an item
func (r *scarceItemRepository) Deactivate(ctx context.Context, itemID, reason string) error {
	updates := map[string]interface{}{"is_active": false}
	if reason != "" {
		updates["deactivated_reason"] = reason
	}

	result := r.db.WithContext(ctx).
		Model(&models.ScarceItem{}).
		Where("item_id = ?", itemID).
		Updates(updates)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to deactivate scarce item")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Reset clears every claim of an item and its counter. Test environments only.
func (r *scarceItemRepository) Reset(ctx context.Context, itemID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.ScarceItem
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("item_id = ?", itemID).
			First(&item).Error
		if err != nil {
			if database.IsRecordNotFoundError(err) {
				return ErrNotFound
			}
			return errors.Wrap(err, "failed to lock scarce item")
		}

		claimIDs := tx.Model(&models.Claim{}).Select("id").Where("item_id = ?", itemID)
		if err := tx.Where("claim_id IN (?)", claimIDs).Delete(&models.Notification{}).Error; err != nil {
			return errors.Wrap(err, "failed to delete notifications")
		}
		if err := tx.Where("item_id = ?", itemID).Delete(&models.Claim{}).Error; err != nil {
			return errors.Wrap(err, "failed to delete claims")
		}

		err = tx.Model(&models.ScarceItem{}).
			Where("item_id = ?", itemID).
			Updates(map[string]interface{}{
				"claimed_count":      0,
				"is_active":          true,
				"deactivated_reason": nil,
			}).Error
		if err != nil {
			return errors.Wrap(err, "failed to reset counter")
		}
		return nil
	})
}
