package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// AdminHandler serves item provisioning and maintenance
type AdminHandler struct {
	items    ItemService
	validate *validator.Validate
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(items ItemService) *AdminHandler {
	return &AdminHandler{
		items:    items,
		validate: validator.New(),
	}
}

// CreateItemRequest provisions a scarce item
type CreateItemRequest struct {
	ItemID      string     `json:"item_id" validate:"required,max=128,printascii"`
	TotalSupply int        `json:"total_supply" validate:"required,gt=0"`
	WindowStart time.Time  `json:"window_start" validate:"required"`
	WindowEnd   *time.Time `json:"window_end,omitempty" validate:"omitempty,gtfield=WindowStart"`
}

// HandleCreateItem provisions a new scarce item
func (h *AdminHandler) HandleCreateItem(c *gin.Context) {
	var req CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		WriteError(c, NewValidationError(err.Error()))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(c, NewValidationError(err.Error()))
		return
	}

	item, err := h.items.CreateScarceItem(c.Request.Context(), req.ItemID, req.TotalSupply, req.WindowStart, req.WindowEnd)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// HandleListItems lists every provisioned scarce item
func (h *AdminHandler) HandleListItems(c *gin.Context) {
	items, err := h.items.ListItems(c.Request.Context())
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// HandleDeactivate stops further claims on an item
func (h *AdminHandler) HandleDeactivate(c *gin.Context) {
	if err := h.items.DeactivateItem(c.Request.Context(), c.Param("id")); err != nil {
		WriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleReset clears the claims of an item outside production
func (h *AdminHandler) HandleReset(c *gin.Context) {
	itemID := c.Param("id")
	if err := h.items.ResetItemForTesting(c.Request.Context(), itemID); err != nil {
		WriteError(c, err)
		return
	}
	log.Warn().Str("item_id", itemID).Str("client_ip", c.ClientIP()).Msg("Item reset through admin API")
	c.Status(http.StatusNoContent)
}

// HandleListClaims lists the claims of an item ordered by mint number
func (h *AdminHandler) HandleListClaims(c *gin.Context) {
	claims, err := h.items.ListClaims(c.Request.Context(), c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"claims": claims})
}

// HandleVerify checks the ledger consistency of an item
func (h *AdminHandler) HandleVerify(c *gin.Context) {
	v, err := h.items.VerifyItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// RegisterRoutes registers the handler's routes
func (h *AdminHandler) RegisterRoutes(router gin.IRouter) {
	router.POST("/items", h.HandleCreateItem)
	router.GET("/items", h.HandleListItems)
	router.POST("/items/:id/deactivate", h.HandleDeactivate)
	router.POST("/items/:id/reset", h.HandleReset)
	router.GET("/items/:id/claims", h.HandleListClaims)
	router.GET("/items/:id/verify", h.HandleVerify)
}
