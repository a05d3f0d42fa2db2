package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/hallpass-api/internal/dto"
	"github.com/noah-isme/hallpass-api/internal/models"
	"github.com/noah-isme/hallpass-api/internal/repository"
	appErrors "github.com/noah-isme/hallpass-api/pkg/errors"
	"github.com/noah-isme/hallpass-api/pkg/export"
)

type emergencyReader interface {
	ActiveAlert(ctx context.Context) (*models.EmergencyAlert, error)
	GetAlert(ctx context.Context, id string) (*models.EmergencyAlert, error)
	CheckIns(ctx context.Context, alertID string) ([]models.EmergencyCheckIn, error)
}

type rosterDirectory interface {
	ListActiveStudentIDs(ctx context.Context) ([]string, error)
	NamesByIDs(ctx context.Context, ids []string) (map[string]string, error)
}

type openPassLister interface {
	ListByStatus(ctx context.Context, statuses ...models.PassStatus) ([]models.Pass, error)
}

// AccountabilityService builds emergency roll-calls. It only reads.
type AccountabilityService struct {
	emergencies emergencyReader
	roster      rosterDirectory
	passes      openPassLister
	constraints *ConstraintRegistry
	csv         *export.CSVExporter
	pdf         *export.PDFExporter
	logger      *zap.Logger
	now         func() time.Time
}

// NewAccountabilityService constructs the service.
func NewAccountabilityService(emergencies emergencyReader, roster rosterDirectory, passes openPassLister, constraints *ConstraintRegistry, csv *export.CSVExporter, pdf *export.PDFExporter, logger *zap.Logger) *AccountabilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &AccountabilityService{
		emergencies: emergencies,
		roster:      roster,
		passes:      passes,
		constraints: constraints,
		csv:         csv,
		pdf:         pdf,
		logger:      logger,
		now:         time.Now,
	}
}

var rollCallOrder = map[models.RollCallStatus]int{
	models.RollCallUnaccounted:     0,
	models.RollCallOutstandingPass: 1,
	models.RollCallCheckedIn:       2,
}

// ComputeRollCall classifies every known student for the active alert. A
// check-in wins over an outstanding pass; anyone with neither is unaccounted.
func (s *AccountabilityService) ComputeRollCall(ctx context.Context, alertID string, actor *models.JWTClaims) (*models.RollCall, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if err := s.requireActive(ctx, alertID); err != nil {
		return nil, err
	}

	roster, err := s.roster.ListActiveStudentIDs(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	checkIns, err := s.emergencies.CheckIns(ctx, alertID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load check-ins")
	}
	open, err := s.passes.ListByStatus(ctx, models.OccupyingPassStatuses...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load open passes")
	}

	var snap *models.ConstraintSnapshot
	if s.constraints != nil {
		if snap, err = s.constraints.Snapshot(ctx); err != nil {
			s.logger.Warn("location names unavailable for roll-call", zap.Error(err))
		}
	}

	entries := make(map[string]*models.RollCallEntry)
	entry := func(studentID string) *models.RollCallEntry {
		e, ok := entries[studentID]
		if !ok {
			e = &models.RollCallEntry{StudentID: studentID, Status: models.RollCallUnaccounted}
			entries[studentID] = e
		}
		return e
	}

	for _, id := range roster {
		entry(id)
	}
	for _, pass := range open {
		e := entry(pass.StudentID)
		passID, location := pass.ID, pass.DestinationLocationID
		e.PassID = &passID
		e.LocationID = &location
		if loc, ok := snap.Location(location); ok {
			e.LocationName = loc.Name
		}
		e.Status = models.RollCallOutstandingPass
	}
	for _, checkIn := range checkIns {
		e := entry(checkIn.StudentID)
		status, at := checkIn.Status, checkIn.CheckedInAt
		e.CheckInStatus = &status
		e.CheckedInAt = &at
		e.Status = models.RollCallCheckedIn
	}

	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	names, err := s.roster.NamesByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("student names unavailable for roll-call", zap.Error(err))
		names = map[string]string{}
	}

	result := &models.RollCall{
		AlertID:     alertID,
		GeneratedAt: s.now().UTC(),
		Statuses:    make(map[string]models.RollCallStatus, len(entries)),
		Entries:     make([]models.RollCallEntry, 0, len(entries)),
		Counts: map[models.RollCallStatus]int{
			models.RollCallCheckedIn:       0,
			models.RollCallOutstandingPass: 0,
			models.RollCallUnaccounted:     0,
		},
	}
	for id, e := range entries {
		e.StudentName = names[id]
		result.Statuses[id] = e.Status
		result.Counts[e.Status]++
		result.Entries = append(result.Entries, *e)
	}
	sort.Slice(result.Entries, func(i, j int) bool {
		a, b := result.Entries[i], result.Entries[j]
		if rollCallOrder[a.Status] != rollCallOrder[b.Status] {
			return rollCallOrder[a.Status] < rollCallOrder[b.Status]
		}
		return a.StudentID < b.StudentID
	})
	return result, nil
}

func (s *AccountabilityService) requireActive(ctx context.Context, alertID string) error {
	if _, err := s.emergencies.GetAlert(ctx, alertID); err != nil {
		if errors.Is(err, repository.ErrAlertNotFound) {
			return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("emergency alert %s not found", alertID))
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load alert")
	}
	active, err := s.emergencies.ActiveAlert(ctx)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active alert")
	}
	if active == nil {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "no active emergency")
	}
	if active.ID != alertID {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("alert %s is not the active emergency", alertID))
	}
	return nil
}

var rollCallHeaders = []string{"student_id", "student_name", "status", "check_in", "checked_in_at", "pass_id", "location"}

// ExportRollCall renders the roll-call as CSV or PDF.
func (s *AccountabilityService) ExportRollCall(ctx context.Context, alertID string, format dto.RollCallExportFormat, actor *models.JWTClaims) (*dto.RollCallExport, error) {
	if format == "" {
		format = dto.RollCallExportCSV
	}
	if format != dto.RollCallExportCSV && format != dto.RollCallExportPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	rollCall, err := s.ComputeRollCall(ctx, alertID, actor)
	if err != nil {
		return nil, err
	}

	data := export.Dataset{Headers: rollCallHeaders}
	for _, e := range rollCall.Entries {
		row := map[string]string{
			"student_id":   e.StudentID,
			"student_name": e.StudentName,
			"status":       string(e.Status),
			"location":     e.LocationName,
		}
		if e.CheckInStatus != nil {
			row["check_in"] = string(*e.CheckInStatus)
			row["checked_in_at"] = e.CheckedInAt.Format(time.RFC3339)
		}
		if e.PassID != nil {
			row["pass_id"] = *e.PassID
			if row["location"] == "" {
				row["location"] = *e.LocationID
			}
		}
		data.Rows = append(data.Rows, row)
	}

	stamp := rollCall.GeneratedAt.Format("20060102T150405Z")
	out := &dto.RollCallExport{Filename: fmt.Sprintf("roll-call-%s-%s.%s", alertID, stamp, format)}
	switch format {
	case dto.RollCallExportPDF:
		out.ContentType = "application/pdf"
		out.Body, err = s.pdf.Render(data, "Emergency roll call",
			fmt.Sprintf("Alert: %s", alertID),
			fmt.Sprintf("Generated: %s", rollCall.GeneratedAt.Format(time.RFC1123)),
			fmt.Sprintf("Checked in: %d  Outstanding pass: %d  Unaccounted: %d",
				rollCall.Counts[models.RollCallCheckedIn],
				rollCall.Counts[models.RollCallOutstandingPass],
				rollCall.Counts[models.RollCallUnaccounted]),
		)
	default:
		out.ContentType = "text/csv"
		out.Body, err = s.csv.Render(data)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roll-call")
	}
	return out, nil
}
