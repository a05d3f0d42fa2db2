package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hallpass-api/internal/dto"
	"github.com/noah-isme/hallpass-api/internal/models"
	appErrors "github.com/noah-isme/hallpass-api/pkg/errors"
	"github.com/noah-isme/hallpass-api/pkg/response"
)

type passService interface {
	RequestPass(ctx context.Context, req dto.RequestPassRequest, actor *models.JWTClaims) (*models.Pass, error)
	ApprovePass(ctx context.Context, passID string, actor *models.JWTClaims) (*models.Pass, error)
	DenyPass(ctx context.Context, passID string, req dto.DenyPassRequest, actor *models.JWTClaims) (*models.Pass, error)
	EndPass(ctx context.Context, passID string, actor *models.JWTClaims) (*models.Pass, error)
	ExtendPass(ctx context.Context, passID string, req dto.ExtendPassRequest, actor *models.JWTClaims) (*models.Pass, error)
	Get(ctx context.Context, passID string, actor *models.JWTClaims) (*models.Pass, error)
	ActivePass(ctx context.Context, studentID string, actor *models.JWTClaims) (*models.Pass, error)
	History(ctx context.Context, query dto.HistoryQuery, actor *models.JWTClaims) ([]models.Pass, error)
	HallMonitor(ctx context.Context, actor *models.JWTClaims) ([]dto.HallMonitorEntry, error)
	Overtime(ctx context.Context, actor *models.JWTClaims) ([]dto.HallMonitorEntry, error)
}

// PassHandler exposes the hall pass lifecycle.
type PassHandler struct {
	service passService
}

// NewPassHandler builds a new handler.
func NewPassHandler(service passService) *PassHandler {
	return &PassHandler{service: service}
}

// Request godoc
// @Summary Request a hall pass
// @Description Runs admission. Destinations that need approval return a PENDING pass.
// @Tags Passes
// @Accept json
// @Produce json
// @Param payload body dto.RequestPassRequest true "Pass request"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /passes/request [post]
func (h *PassHandler) Request(c *gin.Context) {
	var req dto.RequestPassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid pass request"))
		return
	}
	pass, err := h.service.RequestPass(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, pass)
}

// Approve godoc
// @Summary Approve a pending pass
// @Description Capacity and encounter rules are checked again; a pass that no longer fits is denied and returned with its denial_reason.
// @Tags Passes
// @Produce json
// @Param id path string true "Pass ID"
// @Success 200 {object} response.Envelope
// @Router /passes/{id}/approve [post]
func (h *PassHandler) Approve(c *gin.Context) {
	pass, err := h.service.ApprovePass(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, pass)
}

// Deny godoc
// @Summary Deny a pending pass
// @Tags Passes
// @Accept json
// @Produce json
// @Param id path string true "Pass ID"
// @Param payload body dto.DenyPassRequest false "Denial reason"
// @Success 200 {object} response.Envelope
// @Router /passes/{id}/deny [post]
func (h *PassHandler) Deny(c *gin.Context) {
	var req dto.DenyPassRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid deny payload"))
			return
		}
	}
	pass, err := h.service.DenyPass(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, pass)
}

// End godoc
// @Summary End an active or overtime pass
// @Tags Passes
// @Produce json
// @Param id path string true "Pass ID"
// @Success 200 {object} response.Envelope
// @Router /passes/{id}/end [post]
func (h *PassHandler) End(c *gin.Context) {
	pass, err := h.service.EndPass(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, pass)
}

// Extend godoc
// @Summary Extend an active or overtime pass
// @Tags Passes
// @Produce json
// @Param id path string true "Pass ID"
// @Param additional_minutes query int true "Minutes to add"
// @Success 200 {object} response.Envelope
// @Router /passes/{id}/extend [post]
func (h *PassHandler) Extend(c *gin.Context) {
	var req dto.ExtendPassRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "additional_minutes must be a positive integer"))
		return
	}
	pass, err := h.service.ExtendPass(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, pass)
}

// Get godoc
// @Summary Get a pass
// @Tags Passes
// @Produce json
// @Param id path string true "Pass ID"
// @Success 200 {object} response.Envelope
// @Router /passes/{id} [get]
func (h *PassHandler) Get(c *gin.Context) {
	pass, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, pass)
}

// Active godoc
// @Summary Current open pass
// @Description Students get their own; staff pass studentId. data is null when there is none.
// @Tags Passes
// @Produce json
// @Param studentId query string false "Student ID (staff only)"
// @Success 200 {object} response.Envelope
// @Router /passes/active [get]
func (h *PassHandler) Active(c *gin.Context) {
	pass, err := h.service.ActivePass(c.Request.Context(), c.Query("studentId"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, pass)
}

// History godoc
// @Summary Pass history for a student
// @Tags Passes
// @Produce json
// @Param studentId query string false "Student ID (staff only)"
// @Param limit query int false "Maximum rows (1-200)"
// @Success 200 {object} response.Envelope
// @Router /passes/history [get]
func (h *PassHandler) History(c *gin.Context) {
	var query dto.HistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid history query"))
		return
	}
	passes, err := h.service.History(c.Request.Context(), query, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, passes, map[string]interface{}{"count": len(passes)})
}

// HallMonitor godoc
// @Summary Students currently out of class
// @Tags Passes
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /passes/hall-monitor [get]
func (h *PassHandler) HallMonitor(c *gin.Context) {
	entries, err := h.service.HallMonitor(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, entries, map[string]interface{}{"count": len(entries)})
}

// Overtime godoc
// @Summary Passes past their time limit
// @Tags Passes
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /passes/overtime [get]
func (h *PassHandler) Overtime(c *gin.Context) {
	entries, err := h.service.Overtime(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, entries, map[string]interface{}{"count": len(entries)})
}
