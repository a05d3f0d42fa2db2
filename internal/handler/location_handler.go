package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hallpass-api/internal/dto"
	"github.com/noah-isme/hallpass-api/internal/models"
	"github.com/noah-isme/hallpass-api/pkg/response"
)

type capacityService interface {
	CapacityStatus(ctx context.Context, actor *models.JWTClaims) ([]dto.LocationCapacityStatus, error)
}

// LocationHandler reports live location occupancy.
type LocationHandler struct {
	service capacityService
}

// NewLocationHandler builds a new handler.
func NewLocationHandler(service capacityService) *LocationHandler {
	return &LocationHandler{service: service}
}

// CapacityStatus godoc
// @Summary Live occupancy per location
// @Tags Locations
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /locations/capacity-status [get]
func (h *LocationHandler) CapacityStatus(c *gin.Context) {
	statuses, err := h.service.CapacityStatus(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, statuses)
}
