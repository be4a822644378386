package claims

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/rewards/internal/cache"
	"example.com/backstage/services/rewards/internal/metrics"
	"example.com/backstage/services/rewards/internal/models"
	"example.com/backstage/services/rewards/internal/payload"
	"example.com/backstage/services/rewards/internal/repositories"
)

// InvariantViolationReason is stored on items halted by the engine
const InvariantViolationReason = "invariant violation"

// MaxIdentityLength matches the width of the claims.identity_id column
const MaxIdentityLength = 128

const defaultAllocationTimeout = 10 * time.Second

// Cache is the advisory cache consulted before allocation
type Cache interface {
	Get(ctx context.Context, key string, value interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	IsSoldOut(ctx context.Context, itemID string) bool
	MarkSoldOut(ctx context.Context, itemID string) error
	Invalidate(ctx context.Context, itemID string) error
}

// Result is the outcome of one redemption attempt
type Result struct {
	Outcome    Outcome   `json:"outcome"`
	ItemID     string    `json:"item_id,omitempty"`
	ClaimID    uuid.UUID `json:"claim_id,omitempty"`
	MintNumber int       `json:"mint_number,omitempty"`
	ClaimedAt  time.Time `json:"claimed_at,omitempty"`

	// Notifications are the outbox rows written for this attempt
	Notifications []models.Notification `json:"-"`
	// Err is the underlying failure of a transient error
	Err error `json:"-"`
}

// Options configures an Engine
type Options struct {
	AllocationTimeout time.Duration
	StatusTTL         time.Duration
	Production        bool
}

// Engine runs redemption attempts against the scarcity and claim ledgers
type Engine struct {
	validator     *payload.Validator
	items         repositories.ScarceItemRepository
	claims        repositories.ClaimRepository
	notifications repositories.NotificationRepository
	cache         Cache
	metrics       *metrics.Metrics
	opts          Options
}

// NewEngine creates a claim engine. A nil cache disables caching.
func NewEngine(
	validator *payload.Validator,
	items repositories.ScarceItemRepository,
	claims repositories.ClaimRepository,
	notifications repositories.NotificationRepository,
	c Cache,
	m *metrics.Metrics,
	opts Options,
) *Engine {
	if c == nil {
		c = &cache.RedisCache{}
	}
	if opts.AllocationTimeout <= 0 {
		opts.AllocationTimeout = defaultAllocationTimeout
	}
	return &Engine{
		validator:     validator,
		items:         items,
		claims:        claims,
		notifications: notifications,
		cache:         c,
		metrics:       m,
		opts:          opts,
	}
}

// AttemptRedemption validates raw and claims the referenced item for
// identityID. Every failure is reported through the result outcome.
func (e *Engine) AttemptRedemption(ctx context.Context, raw []byte, identityID, sourceContext string, now time.Time) *Result {
	now = now.UTC()

	if identityID == "" {
		return &Result{Outcome: OutcomeMalformedPayload, Err: errors.New("identity id is required")}
	}
	if len(identityID) > MaxIdentityLength {
		return &Result{Outcome: OutcomeMalformedPayload, Err: errors.Errorf("identity id exceeds %d characters", MaxIdentityLength)}
	}

	validated, err := e.validator.Validate(raw, now)
	if err != nil {
		return validationResult(err)
	}

	if err := ctx.Err(); err != nil {
		return transient(validated.ItemID, err)
	}

	req := repositories.ClaimRequest{
		ItemID:        validated.ItemID,
		ItemName:      validated.Entry.Name,
		IdentityID:    identityID,
		SourceContext: sourceContext,
		PointValue:    validated.Entry.PointValue,
		Now:           now,
	}

	item, err := e.items.Get(ctx, validated.ItemID)
	switch {
	case err == nil:
		return e.claimScarce(ctx, item, req)
	case errors.Is(err, repositories.ErrNotFound):
		if validated.Entry.IsScarce() {
			log.Warn().Str("item_id", validated.ItemID).Msg("Scarce catalog item is not provisioned")
			return &Result{Outcome: OutcomeNotAvailable, ItemID: validated.ItemID}
		}
		return e.claimUnlimited(ctx, req)
	default:
		return transient(validated.ItemID, err)
	}
}

func (e *Engine) claimScarce(ctx context.Context, item *models.ScarceItem, req repositories.ClaimRequest) *Result {
	existing, err := e.claims.Get(ctx, req.ItemID, req.IdentityID)
	if err == nil {
		return e.alreadyClaimed(ctx, existing, req)
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return transient(req.ItemID, err)
	}

	if e.cache.IsSoldOut(ctx, req.ItemID) {
		return &Result{Outcome: OutcomeSoldOut, ItemID: req.ItemID}
	}

	switch {
	case item.ClaimedCount > item.TotalSupply:
		return e.halt(ctx, item.ItemID, item.ClaimedCount, item.TotalSupply)
	case !item.IsActive, !item.WindowOpen(req.Now):
		return &Result{Outcome: OutcomeNotAvailable, ItemID: req.ItemID}
	case item.ClaimedCount >= item.TotalSupply:
		e.markSoldOut(ctx, req.ItemID)
		return &Result{Outcome: OutcomeSoldOut, ItemID: req.ItemID}
	}

	// Last point where abandoning the attempt has no effect
	if err := ctx.Err(); err != nil {
		return transient(req.ItemID, err)
	}

	allocCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.AllocationTimeout)
	defer cancel()

	start := time.Now()
	allocation, err := e.claims.Allocate(allocCtx, req)
	e.metrics.RecordTimer(metrics.TimerAllocation, time.Since(start))

	switch {
	case err == nil:
		e.metrics.IncrementCounter(metrics.CounterAllocations)
		claim := allocation.Claim
		if claim.Mint() >= item.TotalSupply {
			e.markSoldOut(allocCtx, req.ItemID)
		}
		log.Info().
			Str("item_id", claim.ItemID).
			Str("identity_id", claim.IdentityID).
			Int("mint_number", claim.Mint()).
			Msg("Scarce item claimed")
		return &Result{
			Outcome:       OutcomeSuccess,
			ItemID:        claim.ItemID,
			ClaimID:       claim.ID,
			MintNumber:    claim.Mint(),
			ClaimedAt:     claim.ClaimedAt,
			Notifications: allocation.Notifications,
		}
	case errors.Is(err, repositories.ErrSoldOut):
		e.metrics.IncrementCounter(metrics.CounterAllocationRaces)
		e.markSoldOut(allocCtx, req.ItemID)
		return &Result{Outcome: OutcomeSoldOut, ItemID: req.ItemID}
	case errors.Is(err, repositories.ErrItemInactive),
		errors.Is(err, repositories.ErrWindowClosed),
		errors.Is(err, repositories.ErrNotFound):
		return &Result{Outcome: OutcomeNotAvailable, ItemID: req.ItemID}
	case errors.Is(err, repositories.ErrDuplicateKey):
		e.metrics.IncrementCounter(metrics.CounterAllocationRaces)
		existing, getErr := e.claims.Get(allocCtx, req.ItemID, req.IdentityID)
		switch {
		case getErr == nil:
			return e.alreadyClaimed(allocCtx, existing, req)
		case errors.Is(getErr, repositories.ErrNotFound):
			// Not our identity, so the mint number collided
			return e.halt(allocCtx, req.ItemID, item.ClaimedCount, item.TotalSupply)
		default:
			return transient(req.ItemID, getErr)
		}
	case errors.Is(err, repositories.ErrInvariantViolation):
		current, getErr := e.items.Get(allocCtx, req.ItemID)
		if getErr != nil {
			return e.halt(allocCtx, req.ItemID, item.ClaimedCount, item.TotalSupply)
		}
		return e.halt(allocCtx, req.ItemID, current.ClaimedCount, current.TotalSupply)
	default:
		return transient(req.ItemID, err)
	}
}

func (e *Engine) claimUnlimited(ctx context.Context, req repositories.ClaimRequest) *Result {
	allocation, err := e.claims.Record(ctx, req)
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicateKey) {
			existing, getErr := e.claims.Get(ctx, req.ItemID, req.IdentityID)
			if getErr != nil {
				return transient(req.ItemID, getErr)
			}
			return e.alreadyClaimed(ctx, existing, req)
		}
		return transient(req.ItemID, err)
	}

	claim := allocation.Claim
	return &Result{
		Outcome:       OutcomeSuccess,
		ItemID:        claim.ItemID,
		ClaimID:       claim.ID,
		ClaimedAt:     claim.ClaimedAt,
		Notifications: allocation.Notifications,
	}
}

// alreadyClaimed reports the original claim and enqueues its activity record.
// A failed enqueue never changes the outcome.
func (e *Engine) alreadyClaimed(ctx context.Context, claim *models.Claim, req repositories.ClaimRequest) *Result {
	result := &Result{
		Outcome:    OutcomeAlreadyClaimed,
		ItemID:     claim.ItemID,
		ClaimID:    claim.ID,
		MintNumber: claim.Mint(),
		ClaimedAt:  claim.ClaimedAt,
	}

	body, err := json.Marshal(models.ActivityRecord{
		ClaimID:       claim.ID,
		IdentityID:    claim.IdentityID,
		ItemID:        claim.ItemID,
		ItemName:      req.ItemName,
		Outcome:       string(OutcomeAlreadyClaimed),
		MintNumber:    claim.Mint(),
		SourceContext: req.SourceContext,
		OccurredAt:    req.Now,
	})
	if err != nil {
		log.Error().Err(err).Str("item_id", claim.ItemID).Msg("Failed to encode activity record")
		return result
	}

	n := &models.Notification{
		Kind:          models.NotificationActivity,
		ClaimID:       claim.ID,
		Payload:       string(body),
		NextAttemptAt: req.Now,
	}
	if err := e.notifications.Create(context.WithoutCancel(ctx), n); err != nil {
		log.Error().Err(err).Str("item_id", claim.ItemID).Msg("Failed to enqueue activity record")
		return result
	}
	result.Notifications = []models.Notification{*n}
	return result
}

// halt deactivates an item whose counter no longer matches its supply
func (e *Engine) halt(ctx context.Context, itemID string, claimed, total int) *Result {
	e.metrics.IncrementCounter(metrics.CounterInvariantHalts)
	log.Error().
		Str("item_id", itemID).
		Int("claimed_count", claimed).
		Int("total_supply", total).
		Msg("Scarce item ledger invariant violated, halting item")

	haltCtx := context.WithoutCancel(ctx)
	if err := e.items.Deactivate(haltCtx, itemID, InvariantViolationReason); err != nil {
		log.Error().Err(err).Str("item_id", itemID).Msg("Failed to halt item")
	}
	if err := e.cache.Invalidate(haltCtx, itemID); err != nil {
		log.Warn().Err(err).Str("item_id", itemID).Msg("Failed to invalidate cache")
	}
	return &Result{Outcome: OutcomeNotAvailable, ItemID: itemID}
}

func (e *Engine) markSoldOut(ctx context.Context, itemID string) {
	if err := e.cache.MarkSoldOut(ctx, itemID); err != nil {
		log.Warn().Err(err).Str("item_id", itemID).Msg("Failed to set sold-out marker")
	}
}

func validationResult(err error) *Result {
	switch {
	case errors.Is(err, payload.ErrMalformedPayload):
		return &Result{Outcome: OutcomeMalformedPayload, Err: err}
	case errors.Is(err, payload.ErrPayloadExpired):
		return &Result{Outcome: OutcomePayloadExpired, Err: err}
	case errors.Is(err, payload.ErrUnknownItem):
		return &Result{Outcome: OutcomeUnknownItem, Err: err}
	case errors.Is(err, payload.ErrItemInactive):
		return &Result{Outcome: OutcomeNotAvailable, Err: err}
	default:
		return &Result{Outcome: OutcomeTransientError, Err: err}
	}
}

func transient(itemID string, err error) *Result {
	log.Warn().Err(err).Str("item_id", itemID).Msg("Redemption attempt failed transiently")
	return &Result{Outcome: OutcomeTransientError, ItemID: itemID, Err: err}
}
