package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/backstage/services/rewards/internal/claims"
	"example.com/backstage/services/rewards/internal/models"
)

// ItemService is the item administration and query use case
type ItemService interface {
	CreateScarceItem(ctx context.Context, itemID string, totalSupply int, windowStart time.Time, windowEnd *time.Time) (*models.ScarceItem, error)
	DeactivateItem(ctx context.Context, itemID string) error
	ResetItemForTesting(ctx context.Context, itemID string) error
	GetClaim(ctx context.Context, itemID, identityID string) (*models.Claim, error)
	GetStatus(ctx context.Context, itemID string, now time.Time) (*models.ItemStatus, error)
	ListClaims(ctx context.Context, itemID string) ([]models.Claim, error)
	ListItems(ctx context.Context) ([]models.ScarceItem, error)
	VerifyItem(ctx context.Context, itemID string) (*claims.Verification, error)
}

// ItemsHandler serves the public item queries
type ItemsHandler struct {
	items ItemService
}

// NewItemsHandler creates a new items handler
func NewItemsHandler(items ItemService) *ItemsHandler {
	return &ItemsHandler{items: items}
}

// HandleGetStatus returns the advisory availability of an item
func (h *ItemsHandler) HandleGetStatus(c *gin.Context) {
	status, err := h.items.GetStatus(c.Request.Context(), c.Param("id"), time.Now().UTC())
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// HandleGetClaim returns the claim of one identity on an item
func (h *ItemsHandler) HandleGetClaim(c *gin.Context) {
	claim, err := h.items.GetClaim(c.Request.Context(), c.Param("id"), c.Param("identity"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, claim)
}

// RegisterRoutes registers the handler's routes
func (h *ItemsHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/items/:id/status", h.HandleGetStatus)
	router.GET("/items/:id/claims/:identity", h.HandleGetClaim)
}
