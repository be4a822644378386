package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// ScarceItem is the ledger row for one limited-edition item
type ScarceItem struct {
	ItemID            string     `gorm:"primaryKey;size:128" json:"item_id"`
	TotalSupply       int        `gorm:"not null" json:"total_supply"`
	ClaimedCount      int        `gorm:"not null;default:0" json:"claimed_count"`
	WindowStart       time.Time  `gorm:"not null" json:"window_start"`
	WindowEnd         *time.Time `json:"window_end,omitempty"`
	IsActive          bool       `gorm:"not null;default:true" json:"is_active"`
	DeactivatedReason *string    `gorm:"size:255" json:"deactivated_reason,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// WindowOpen reports whether at falls inside the availability window.
// The window end is exclusive.
func (s *ScarceItem) WindowOpen(at time.Time) bool {
	if at.Before(s.WindowStart) {
		return false
	}
	if s.WindowEnd != nil && !at.Before(*s.WindowEnd) {
		return false
	}
	return true
}

// Remaining returns the number of units still claimable
func (s *ScarceItem) Remaining() int {
	if s.ClaimedCount >= s.TotalSupply {
		return 0
	}
	return s.TotalSupply - s.ClaimedCount
}

// Claim records that one identity redeemed one unit of one item.
// MintNumber is nil for unlimited items.
type Claim struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ItemID        string    `gorm:"size:128;not null;uniqueIndex:idx_claims_item_identity,priority:1;uniqueIndex:idx_claims_item_mint,priority:1" json:"item_id"`
	IdentityID    string    `gorm:"size:128;not null;uniqueIndex:idx_claims_item_identity,priority:2" json:"identity_id"`
	MintNumber    *int      `gorm:"uniqueIndex:idx_claims_item_mint,priority:2" json:"mint_number,omitempty"`
	ClaimedAt     time.Time `gorm:"not null" json:"claimed_at"`
	SourceContext string    `gorm:"type:text" json:"source_context,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Mint returns the mint number, or 0 for unlimited items
func (c *Claim) Mint() int {
	if c.MintNumber == nil {
		return 0
	}
	return *c.MintNumber
}

// Notification kinds
const (
	NotificationPointAward = "point_award"
	NotificationActivity   = "activity"
)

// Notification is an outbox row for a downstream delivery
type Notification struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Kind          string     `gorm:"size:32;not null;index:idx_notifications_pending,priority:2" json:"kind"`
	ClaimID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"claim_id"`
	Payload       string     `gorm:"type:text;not null" json:"payload"`
	Attempts      int        `gorm:"not null;default:0" json:"attempts"`
	LastError     *string    `gorm:"type:text" json:"last_error,omitempty"`
	NextAttemptAt time.Time  `gorm:"not null;index:idx_notifications_pending,priority:1" json:"next_attempt_at"`
	DeliveredAt   *time.Time `gorm:"index" json:"delivered_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// PointAward is the message handed to the point-award collaborator
type PointAward struct {
	ClaimID    uuid.UUID `json:"claim_id"`
	IdentityID string    `json:"identity_id"`
	ItemID     string    `json:"item_id"`
	MintNumber int       `json:"mint_number"`
	PointValue int       `json:"point_value"`
	ClaimedAt  time.Time `json:"claimed_at"`
}

// ActivityRecord is the audit entry handed to the activity log collaborator
type ActivityRecord struct {
	ClaimID       uuid.UUID `json:"claim_id"`
	IdentityID    string    `json:"identity_id"`
	ItemID        string    `json:"item_id"`
	ItemName      string    `json:"item_name,omitempty"`
	Outcome       string    `json:"outcome"`
	MintNumber    int       `json:"mint_number,omitempty"`
	SourceContext string    `json:"source_context,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// ItemStatus is the advisory availability view of a scarce item
type ItemStatus struct {
	ItemID       string `json:"item_id"`
	TotalSupply  int    `json:"total_supply"`
	ClaimedCount int    `json:"claimed_count"`
	Available    int    `json:"available"`
	WindowOpen   bool   `json:"window_open"`
	IsActive     bool   `json:"is_active"`
}

// SetupModels runs the schema migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&ScarceItem{},
		&Claim{},
		&Notification{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
