package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"example.com/backstage/services/rewards/internal/claims"
	"example.com/backstage/services/rewards/internal/services"
)

// Redeemer is the redemption use case
type Redeemer interface {
	Redeem(ctx context.Context, req services.RedemptionRequest) *claims.Result
}

// RedemptionHandler handles redemption HTTP requests
type RedemptionHandler struct {
	service Redeemer
}

// NewRedemptionHandler creates a new redemption handler
func NewRedemptionHandler(service Redeemer) *RedemptionHandler {
	return &RedemptionHandler{service: service}
}

// RedemptionRequest is the body of a redemption attempt. Payload is the
// decoded scan content as handed over by the scanner.
type RedemptionRequest struct {
	Payload       string `json:"payload" binding:"required"`
	IdentityID    string `json:"identity_id" binding:"required,max=128"`
	SourceContext string `json:"source_context" binding:"max=1024"`
}

// RedemptionResponse reports the outcome of an attempt
type RedemptionResponse struct {
	Outcome    claims.Outcome `json:"outcome"`
	ItemID     string         `json:"item_id,omitempty"`
	ClaimID    *uuid.UUID     `json:"claim_id,omitempty"`
	MintNumber int            `json:"mint_number,omitempty"`
	ClaimedAt  *time.Time     `json:"claimed_at,omitempty"`
	Retryable  bool           `json:"retryable"`
}

// outcomeStatus maps each outcome to its HTTP status
var outcomeStatus = map[claims.Outcome]int{
	claims.OutcomeSuccess:          http.StatusCreated,
	claims.OutcomeAlreadyClaimed:   http.StatusOK,
	claims.OutcomeSoldOut:          http.StatusConflict,
	claims.OutcomeNotAvailable:     http.StatusConflict,
	claims.OutcomeUnknownItem:      http.StatusNotFound,
	claims.OutcomeMalformedPayload: http.StatusBadRequest,
	claims.OutcomePayloadExpired:   http.StatusUnprocessableEntity,
	claims.OutcomeTransientError:   http.StatusServiceUnavailable,
}

// HandleRedeem runs one redemption attempt
func (h *RedemptionHandler) HandleRedeem(c *gin.Context) {
	var req RedemptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		WriteError(c, NewValidationError(err.Error()))
		return
	}

	result := h.service.Redeem(c.Request.Context(), services.RedemptionRequest{
		Payload:       []byte(req.Payload),
		IdentityID:    req.IdentityID,
		SourceContext: req.SourceContext,
	})

	resp := RedemptionResponse{
		Outcome:    result.Outcome,
		ItemID:     result.ItemID,
		MintNumber: result.MintNumber,
		Retryable:  result.Outcome.Retryable(),
	}
	if result.ClaimID != uuid.Nil {
		id := result.ClaimID
		resp.ClaimID = &id
	}
	if !result.ClaimedAt.IsZero() {
		at := result.ClaimedAt
		resp.ClaimedAt = &at
	}
	if resp.Retryable {
		c.Header("Retry-After", "1")
	}

	status, ok := outcomeStatus[result.Outcome]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.JSON(status, resp)
}

// RegisterRoutes registers the handler's routes
func (h *RedemptionHandler) RegisterRoutes(router gin.IRouter, middleware ...gin.HandlerFunc) {
	handlers := append(middleware, h.HandleRedeem)
	router.POST("/redemptions", handlers...)
}
