package claims

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/rewards/internal/cache"
	"example.com/backstage/services/rewards/internal/catalog"
	"example.com/backstage/services/rewards/internal/models"
	"example.com/backstage/services/rewards/internal/repositories"
)

// Verification compares an item's counter with its minted claims
type Verification struct {
	ItemID       string `json:"item_id"`
	TotalSupply  int    `json:"total_supply"`
	ClaimedCount int    `json:"claimed_count"`
	MintedClaims int64  `json:"minted_claims"`
	MinMint      int    `json:"min_mint"`
	MaxMint      int    `json:"max_mint"`
	IsActive     bool   `json:"is_active"`
	Consistent   bool   `json:"consistent"`
}

// CreateScarceItem provisions a new scarce item. Supply is fixed once created.
func (e *Engine) CreateScarceItem(ctx context.Context, itemID string, totalSupply int, windowStart time.Time, windowEnd *time.Time) (*models.ScarceItem, error) {
	item := &models.ScarceItem{
		ItemID:      itemID,
		TotalSupply: totalSupply,
		WindowStart: windowStart.UTC(),
	}
	if windowEnd != nil {
		end := windowEnd.UTC()
		item.WindowEnd = &end
	}

	if err := e.items.Create(ctx, item); err != nil {
		switch {
		case errors.Is(err, repositories.ErrDuplicateKey):
			return nil, ErrAlreadyExists
		case errors.Is(err, repositories.ErrInvalidInput):
			return nil, errors.Wrap(ErrInvalidItem, err.Error())
		default:
			return nil, err
		}
	}

	log.Info().
		Str("item_id", item.ItemID).
		Int("total_supply", item.TotalSupply).
		Time("window_start", item.WindowStart).
		Msg("Scarce item created")
	return item, nil
}

// DeactivateItem stops all further claims on an item
func (e *Engine) DeactivateItem(ctx context.Context, itemID string) error {
	if err := e.items.Deactivate(ctx, itemID, "deactivated by operator"); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrItemNotFound
		}
		return err
	}
	if err := e.cache.Invalidate(ctx, itemID); err != nil {
		log.Warn().Err(err).Str("item_id", itemID).Msg("Failed to invalidate cache")
	}

	log.Info().Str("item_id", itemID).Msg("Scarce item deactivated")
	return nil
}

// ResetItemForTesting deletes every claim of an item and zeroes its counter.
// It is refused in production.
func (e *Engine) ResetItemForTesting(ctx context.Context, itemID string) error {
	if e.opts.Production {
		return ErrResetForbidden
	}
	if err := e.items.Reset(ctx, itemID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrItemNotFound
		}
		return err
	}
	if err := e.cache.Invalidate(ctx, itemID); err != nil {
		log.Warn().Err(err).Str("item_id", itemID).Msg("Failed to invalidate cache")
	}

	log.Warn().Str("item_id", itemID).Msg("Scarce item reset")
	return nil
}

// GetClaim returns the claim of identityID on itemID
func (e *Engine) GetClaim(ctx context.Context, itemID, identityID string) (*models.Claim, error) {
	claim, err := e.claims.Get(ctx, itemID, identityID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrClaimNotFound
		}
		return nil, err
	}
	return claim, nil
}

// GetStatus returns the advisory availability of a scarce item
func (e *Engine) GetStatus(ctx context.Context, itemID string, now time.Time) (*models.ItemStatus, error) {
	var status models.ItemStatus
	if err := e.cache.Get(ctx, cache.StatusKey(itemID), &status); err == nil {
		return &status, nil
	}

	s, err := e.items.GetStatus(ctx, itemID, now)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}

	if e.opts.StatusTTL > 0 {
		if err := e.cache.Set(ctx, cache.StatusKey(itemID), s, e.opts.StatusTTL); err != nil {
			log.Warn().Err(err).Str("item_id", itemID).Msg("Failed to cache item status")
		}
	}
	return s, nil
}

// ListClaims returns the claims of an item ordered by mint number
func (e *Engine) ListClaims(ctx context.Context, itemID string) ([]models.Claim, error) {
	return e.claims.ListByItem(ctx, itemID)
}

// ListItems returns every provisioned scarce item
func (e *Engine) ListItems(ctx context.Context) ([]models.ScarceItem, error) {
	return e.items.List(ctx)
}

// VerifyItem checks that the minted numbers of an item are exactly
// 1..claimed_count and that the counter is within supply.
func (e *Engine) VerifyItem(ctx context.Context, itemID string) (*Verification, error) {
	item, err := e.items.Get(ctx, itemID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}

	stats, err := e.claims.MintStats(ctx, itemID)
	if err != nil {
		return nil, err
	}

	v := &Verification{
		ItemID:       item.ItemID,
		TotalSupply:  item.TotalSupply,
		ClaimedCount: item.ClaimedCount,
		MintedClaims: stats.Count,
		MinMint:      stats.Min,
		MaxMint:      stats.Max,
		IsActive:     item.IsActive,
	}
	v.Consistent = item.ClaimedCount <= item.TotalSupply &&
		stats.Count == int64(item.ClaimedCount) &&
		(stats.Count == 0 || (stats.Min == 1 && stats.Max == item.ClaimedCount))

	if !v.Consistent {
		log.Error().
			Str("item_id", item.ItemID).
			Int("claimed_count", item.ClaimedCount).
			Int("total_supply", item.TotalSupply).
			Int64("minted_claims", stats.Count).
			Msg("Scarce item ledger is inconsistent")
	}
	return v, nil
}

// AuditItem verifies an item and halts it when its ledger is inconsistent.
// Items already halted are left as they are.
func (e *Engine) AuditItem(ctx context.Context, itemID string) (*Verification, error) {
	v, err := e.VerifyItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !v.Consistent && v.IsActive {
		e.halt(ctx, itemID, v.ClaimedCount, v.TotalSupply)
		v.IsActive = false
	}
	return v, nil
}

// SyncCatalog provisions every scarce catalog entry that has no ledger row
// yet. Existing rows are never modified. It returns the ids it created.
func (e *Engine) SyncCatalog(ctx context.Context, entries []catalog.Entry) ([]string, error) {
	var created []string
	for _, entry := range entries {
		if !entry.IsScarce() {
			continue
		}
		s := entry.Scarcity

		_, err := e.CreateScarceItem(ctx, entry.ItemID, s.TotalSupply, s.WindowStart, s.WindowEnd)
		switch {
		case err == nil:
			created = append(created, entry.ItemID)
		case errors.Is(err, ErrAlreadyExists):
			existing, getErr := e.items.Get(ctx, entry.ItemID)
			if getErr != nil {
				return created, getErr
			}
			if existing.TotalSupply != s.TotalSupply {
				log.Warn().
					Str("item_id", entry.ItemID).
					Int("ledger_supply", existing.TotalSupply).
					Int("catalog_supply", s.TotalSupply).
					Msg("Catalog supply differs from ledger, keeping ledger")
			}
		default:
			return created, errors.Wrapf(err, "failed to provision %s", entry.ItemID)
		}
	}
	return created, nil
}
