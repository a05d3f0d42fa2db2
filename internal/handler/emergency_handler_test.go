package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hallpass-api/internal/dto"
	"github.com/noah-isme/hallpass-api/internal/models"
	appErrors "github.com/noah-isme/hallpass-api/pkg/errors"
)

type accountabilityServiceMock struct {
	rollCall   *models.RollCall
	export     *dto.RollCallExport
	err        error
	lastAlert  string
	lastFormat dto.RollCallExportFormat
}

func (m *accountabilityServiceMock) ComputeRollCall(_ context.Context, alertID string, _ *models.JWTClaims) (*models.RollCall, error) {
	m.lastAlert = alertID
	return m.rollCall, m.err
}

func (m *accountabilityServiceMock) ExportRollCall(_ context.Context, alertID string, format dto.RollCallExportFormat, _ *models.JWTClaims) (*dto.RollCallExport, error) {
	m.lastAlert, m.lastFormat = alertID, format
	return m.export, m.err
}

func TestEmergencyHandlerRollCall(t *testing.T) {
	svc := &accountabilityServiceMock{rollCall: &models.RollCall{
		AlertID:  "drill",
		Statuses: map[string]models.RollCallStatus{"s1": models.RollCallUnaccounted},
		Counts:   map[models.RollCallStatus]int{models.RollCallUnaccounted: 1},
	}}
	handler := NewEmergencyHandler(svc)

	c, w := newTestContext(http.MethodGet, "/emergency/alerts/drill/roll-call", nil, teacherClaims)
	c.Params = gin.Params{{Key: "alertId", Value: "drill"}}
	handler.RollCall(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "drill", svc.lastAlert)
	env := decodeEnvelope(t, w)
	assert.Equal(t, map[string]interface{}{"unaccounted": float64(1)}, env.Meta["counts"])
}

func TestEmergencyHandlerRollCallWithoutActiveAlert(t *testing.T) {
	handler := NewEmergencyHandler(&accountabilityServiceMock{err: appErrors.Clone(appErrors.ErrPreconditionFailed, "no active emergency")})

	c, w := newTestContext(http.MethodGet, "/emergency/alerts/drill/roll-call", nil, teacherClaims)
	c.Params = gin.Params{{Key: "alertId", Value: "drill"}}
	handler.RollCall(c)

	require.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Equal(t, "no active emergency", decodeEnvelope(t, w).Error.Message)
}

func TestEmergencyHandlerExport(t *testing.T) {
	svc := &accountabilityServiceMock{export: &dto.RollCallExport{
		Filename:    "roll-call-drill.csv",
		ContentType: "text/csv",
		Body:        []byte("student_id\ns1\n"),
	}}
	handler := NewEmergencyHandler(svc)

	c, w := newTestContext(http.MethodGet, "/emergency/alerts/drill/roll-call/export?format=csv", nil, teacherClaims)
	c.Params = gin.Params{{Key: "alertId", Value: "drill"}}
	handler.ExportRollCall(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, dto.RollCallExportCSV, svc.lastFormat)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="roll-call-drill.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "student_id\ns1\n", w.Body.String())
}

func TestEmergencyHandlerExportError(t *testing.T) {
	handler := NewEmergencyHandler(&accountabilityServiceMock{err: appErrors.ErrValidation})

	c, w := newTestContext(http.MethodGet, "/emergency/alerts/drill/roll-call/export?format=xlsx", nil, teacherClaims)
	c.Params = gin.Params{{Key: "alertId", Value: "drill"}}
	handler.ExportRollCall(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
