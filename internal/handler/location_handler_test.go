package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hallpass-api/internal/dto"
	"github.com/noah-isme/hallpass-api/internal/models"
	appErrors "github.com/noah-isme/hallpass-api/pkg/errors"
)

type capacityServiceFunc func(ctx context.Context, actor *models.JWTClaims) ([]dto.LocationCapacityStatus, error)

func (f capacityServiceFunc) CapacityStatus(ctx context.Context, actor *models.JWTClaims) ([]dto.LocationCapacityStatus, error) {
	return f(ctx, actor)
}

func TestLocationHandlerCapacityStatus(t *testing.T) {
	remaining := 1
	handler := NewLocationHandler(capacityServiceFunc(func(context.Context, *models.JWTClaims) ([]dto.LocationCapacityStatus, error) {
		return []dto.LocationCapacityStatus{{LocationID: "restroom-a", Name: "Restroom A", Occupants: 1, Remaining: &remaining}}, nil
	}))

	c, w := newTestContext(http.MethodGet, "/locations/capacity-status", nil, teacherClaims)
	handler.CapacityStatus(c)

	require.Equal(t, http.StatusOK, w.Code)
	var statuses []dto.LocationCapacityStatus
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, 1, *statuses[0].Remaining)
}

func TestLocationHandlerCapacityStatusForbidden(t *testing.T) {
	handler := NewLocationHandler(capacityServiceFunc(func(context.Context, *models.JWTClaims) ([]dto.LocationCapacityStatus, error) {
		return nil, appErrors.ErrForbidden
	}))

	c, w := newTestContext(http.MethodGet, "/locations/capacity-status", nil, studentClaims)
	handler.CapacityStatus(c)

	assert.Equal(t, http.StatusForbidden, w.Code)
}
