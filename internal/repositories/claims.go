package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/services/rewards/internal/database"
	"example.com/backstage/services/rewards/internal/models"
)

// ClaimRequest describes one claim to record
type ClaimRequest struct {
	ItemID        string
	ItemName      string
	IdentityID    string
	SourceContext string
	PointValue    int
	Now           time.Time
}

// Allocation is the committed result of a claim
type Allocation struct {
	Claim         models.Claim
	Notifications []models.Notification
}

// MintStats summarises the mint numbers of one item
type MintStats struct {
	Count int64
	Min   int
	Max   int
}

// ClaimRepository is the claim ledger
type ClaimRepository interface {
	Get(ctx context.Context, itemID, identityID string) (*models.Claim, error)
	ListByItem(ctx context.Context, itemID string) ([]models.Claim, error)
	MintStats(ctx context.Context, itemID string) (*MintStats, error)
	Allocate(ctx context.Context, req ClaimRequest) (*Allocation, error)
	Record(ctx context.Context, req ClaimRequest) (*Allocation, error)
}

type claimRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewClaimRepository creates a new claim repository
func NewClaimRepository(db, readOnlyDB *gorm.DB) ClaimRepository {
	if readOnlyDB == nil {
		readOnlyDB = db
	}
	return &claimRepository{db: db, readOnlyDB: readOnlyDB}
}

// Get returns the claim of identityID on itemID. It reads the write database
// so an identity always sees its own committed claim.
func (r *claimRepository) Get(ctx context.Context, itemID, identityID string) (*models.Claim, error) {
	var claim models.Claim
	err := r.db.WithContext(ctx).
		Where("item_id = ? AND identity_id = ?", itemID, identityID).
		First(&claim).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get claim")
	}
	return &claim, nil
}

// ListByItem returns the claims of an item ordered by mint number
func (r *claimRepository) ListByItem(ctx context.Context, itemID string) ([]models.Claim, error) {
	var claims []models.Claim
	err := r.readOnlyDB.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("mint_number, claimed_at").
		Find(&claims).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list claims")
	}
	return claims, nil
}

// MintStats returns count, min and max of the minted numbers of an item
func (r *claimRepository) MintStats(ctx context.Context, itemID string) (*MintStats, error) {
	var row struct {
		Count int64
		Min   *int
		Max   *int
	}
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.Claim{}).
		Select("COUNT(mint_number) AS count, MIN(mint_number) AS min, MAX(mint_number) AS max").
		Where("item_id = ?", itemID).
		Scan(&row).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute mint stats")
	}

	stats := &MintStats{Count: row.Count}
	if row.Min != nil {
		stats.Min = *row.Min
	}
	if row.Max != nil {
		stats.Max = *row.Max
	}
	return stats, nil
}

// Allocate runs the atomic claim protocol for a scarce item. Inside one
// transaction it locks the item row, re-verifies availability, bumps the
// counter with a compare-and-swap, inserts the claim and its outbox rows.
// Either everything commits or nothing does.
func (r *claimRepository) Allocate(ctx context.Context, req ClaimRequest) (*Allocation, error) {
	var allocation *Allocation

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.ScarceItem
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("item_id = ?", req.ItemID).
			First(&item).Error
		if err != nil {
			if database.IsRecordNotFoundError(err) {
				return ErrNotFound
			}
			return errors.Wrap(err, "failed to lock scarce item")
		}

		if item.ClaimedCount > item.TotalSupply {
			return ErrInvariantViolation
		}
		if !item.IsActive {
			return ErrItemInactive
		}
		if !item.WindowOpen(req.Now) {
			return ErrWindowClosed
		}
		if item.ClaimedCount >= item.TotalSupply {
			return ErrSoldOut
		}

		mint := item.ClaimedCount + 1

		// A claim already holding the next mint number means the counter
		// fell behind the claims table.
		var taken int64
		err = tx.Model(&models.Claim{}).
			Where("item_id = ? AND mint_number = ?", item.ItemID, mint).
			Count(&taken).Error
		if err != nil {
			return errors.Wrap(err, "failed to check mint number")
		}
		if taken > 0 {
			return ErrInvariantViolation
		}

		result := tx.Model(&models.ScarceItem{}).
			Where("item_id = ? AND claimed_count = ?", item.ItemID, item.ClaimedCount).
			Update("claimed_count", gorm.Expr("claimed_count + 1"))
		if result.Error != nil {
			return errors.Wrap(result.Error, "failed to increment claimed count")
		}
		if result.RowsAffected != 1 {
			return ErrConcurrentUpdate
		}

		a, err := insertClaim(tx, req, &mint)
		if err != nil {
			return err
		}
		allocation = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return allocation, nil
}

// Record inserts a claim for an unlimited item. The unique index on
// (item_id, identity_id) is the only guard.
func (r *claimRepository) Record(ctx context.Context, req ClaimRequest) (*Allocation, error) {
	var allocation *Allocation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := insertClaim(tx, req, nil)
		if err != nil {
			return err
		}
		allocation = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return allocation, nil
}

func insertClaim(tx *gorm.DB, req ClaimRequest, mint *int) (*Allocation, error) {
	claim := models.Claim{
		ID:            uuid.New(),
		ItemID:        req.ItemID,
		IdentityID:    req.IdentityID,
		MintNumber:    mint,
		ClaimedAt:     req.Now.UTC(),
		SourceContext: req.SourceContext,
	}
	if err := tx.Create(&claim).Error; err != nil {
		if database.IsDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, errors.Wrap(err, "failed to insert claim")
	}

	award, err := newNotification(models.NotificationPointAward, claim.ID, req.Now, models.PointAward{
		ClaimID:    claim.ID,
		IdentityID: claim.IdentityID,
		ItemID:     claim.ItemID,
		MintNumber: claim.Mint(),
		PointValue: req.PointValue,
		ClaimedAt:  claim.ClaimedAt,
	})
	if err != nil {
		return nil, err
	}
	activity, err := newNotification(models.NotificationActivity, claim.ID, req.Now, models.ActivityRecord{
		ClaimID:       claim.ID,
		IdentityID:    claim.IdentityID,
		ItemID:        claim.ItemID,
		ItemName:      req.ItemName,
		Outcome:       "success",
		MintNumber:    claim.Mint(),
		SourceContext: claim.SourceContext,
		OccurredAt:    claim.ClaimedAt,
	})
	if err != nil {
		return nil, err
	}

	notifications := []models.Notification{*award, *activity}
	if err := tx.Create(&notifications).Error; err != nil {
		return nil, errors.Wrap(err, "failed to enqueue notifications")
	}

	return &Allocation{Claim: claim, Notifications: notifications}, nil
}

func newNotification(kind string, claimID uuid.UUID, now time.Time, body interface{}) (*models.Notification, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal %s notification", kind)
	}
	return &models.Notification{
		ID:            uuid.New(),
		Kind:          kind,
		ClaimID:       claimID,
		Payload:       string(payload),
		NextAttemptAt: now.UTC(),
	}, nil
}
