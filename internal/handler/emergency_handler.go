package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hallpass-api/internal/dto"
	"github.com/noah-isme/hallpass-api/internal/models"
	appErrors "github.com/noah-isme/hallpass-api/pkg/errors"
	"github.com/noah-isme/hallpass-api/pkg/response"
)

type accountabilityService interface {
	ComputeRollCall(ctx context.Context, alertID string, actor *models.JWTClaims) (*models.RollCall, error)
	ExportRollCall(ctx context.Context, alertID string, format dto.RollCallExportFormat, actor *models.JWTClaims) (*dto.RollCallExport, error)
}

// EmergencyHandler serves roll-call during an emergency.
type EmergencyHandler struct {
	service accountabilityService
}

// NewEmergencyHandler builds a new handler.
func NewEmergencyHandler(service accountabilityService) *EmergencyHandler {
	return &EmergencyHandler{service: service}
}

// RollCall godoc
// @Summary Roll-call for the active emergency
// @Tags Emergency
// @Produce json
// @Param alertId path string true "Alert ID"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /emergency/alerts/{alertId}/roll-call [get]
func (h *EmergencyHandler) RollCall(c *gin.Context) {
	rollCall, err := h.service.ComputeRollCall(c.Request.Context(), c.Param("alertId"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, rollCall, map[string]interface{}{"counts": rollCall.Counts})
}

// ExportRollCall godoc
// @Summary Download the roll-call
// @Tags Emergency
// @Produce text/csv
// @Produce application/pdf
// @Param alertId path string true "Alert ID"
// @Param format query string false "csv or pdf" Enums(csv, pdf)
// @Success 200 {file} file
// @Router /emergency/alerts/{alertId}/roll-call/export [get]
func (h *EmergencyHandler) ExportRollCall(c *gin.Context) {
	var query dto.RollCallExportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export query"))
		return
	}
	out, err := h.service.ExportRollCall(c.Request.Context(), c.Param("alertId"), query.Format, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Filename))
	c.Data(http.StatusOK, out.ContentType, out.Body)
}
