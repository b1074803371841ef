package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medifusion/triage-api/internal/model"
	"github.com/medifusion/triage-api/internal/severity"
	apperrors "github.com/medifusion/triage-api/pkg/errors"
)

// LabTasks is the technician's work view: cases held by the caller plus
// the shared queue of booked-but-unclaimed tests.
type LabTasks struct {
	MyCases []*model.PatientCase `json:"my_cases"`
	Queue   []*model.PatientCase `json:"queue"`
}

func (s *Service) ListLabTasks(ctx context.Context, actor model.Actor) (*LabTasks, error) {
	mine, err := s.cases.ListByLabTech(ctx, actor.ID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	queue, err := s.cases.ListPendingTests(ctx)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return &LabTasks{MyCases: mine, Queue: queue}, nil
}

// UpdateTestStatus moves the lab sub-state directly. The closed status
// set is enforced at binding time.
func (s *Service) UpdateTestStatus(ctx context.Context, actor model.Actor, caseID uuid.UUID, req *model.UpdateTestStatusRequest) (*model.PatientCase, error) {
	c, err := s.getCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	c.TestStatus = req.Status
	if err := s.cases.Update(ctx, c); err != nil {
		return nil, apperrors.Internal(err)
	}

	s.notif.Notify(c.PatientID, model.NotificationEvent{
		Type:    "test_update",
		CaseID:  c.ID,
		Message: fmt.Sprintf("Your test status changed to %s", req.Status),
	})
	return c, nil
}

// AssignLabTech hands the test to a technician and starts it.
func (s *Service) AssignLabTech(ctx context.Context, actor model.Actor, caseID uuid.UUID, req *model.AssignLabTechRequest) (*model.PatientCase, error) {
	c, err := s.getCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	c.AssignedLabTechID = &req.LabTechID
	c.TestStatus = model.TestStatusInProgress
	if err := s.cases.Update(ctx, c); err != nil {
		return nil, apperrors.Internal(err)
	}
	if s.metrics != nil {
		s.metrics.CaseTransitions.WithLabelValues("lab_assigned").Inc()
	}
	return c, nil
}

// AddLabNotes appends to the case's flat lab_notes text and records the
// note in the append-only comment history. Prior notes are never
// overwritten.
func (s *Service) AddLabNotes(ctx context.Context, actor model.Actor, caseID uuid.UUID, req *model.LabNotesRequest) (*model.PatientCase, error) {
	c, err := s.getCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	c.LabNotes = appendNotes(c.LabNotes, req.Notes)
	if err := s.cases.Update(ctx, c); err != nil {
		return nil, apperrors.Internal(err)
	}

	comment := &model.LabComment{
		ID:        uuid.New(),
		CaseID:    c.ID,
		LabTechID: actor.ID,
		Comment:   req.Notes,
	}
	if err := s.lab.CreateComment(ctx, comment); err != nil {
		return nil, apperrors.Internal(err)
	}
	return c, nil
}

// UploadReport attaches a result document and closes out the test.
// Image artifacts are rescored inline; the analysis line is appended to
// lab_notes, preserving whatever was there. If the doctor had deferred
// closure to the lab, the case completes here.
func (s *Service) UploadReport(ctx context.Context, actor model.Actor, caseID uuid.UUID, filePath, reportType string, image []byte) (*model.PatientCase, error) {
	c, err := s.getCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	c.ReportFile = filePath
	c.TestStatus = model.TestStatusCompleted

	if len(image) > 0 {
		result, serr := s.scorer.ScoreImage(ctx, image)
		if serr != nil {
			s.logger.Warn().Err(serr).Str("case_id", c.ID.String()).Msg("report rescore failed")
			if s.metrics != nil {
				s.metrics.ReprocessFailed.Inc()
			}
		} else {
			c.ImageResult = result
			c.SeverityScore = severity.Compute(result, severity.ModalityImage)
			c.LabNotes = appendNotes(c.LabNotes,
				fmt.Sprintf("[AI Analysis]: %s (%.2f)", result.Label, result.Confidence))
		}
	}

	if c.Status == model.CaseStatusWaitingLab {
		c.Status = model.CaseStatusCompleted
		c.ReviewedByDoctor = true
	}

	if err := s.cases.Update(ctx, c); err != nil {
		return nil, apperrors.Internal(err)
	}

	report := &model.LabReport{
		ID:         uuid.New(),
		CaseID:     c.ID,
		ReportType: reportType,
		FilePath:   filePath,
		UploadedBy: actor.ID,
	}
	if err := s.lab.CreateReport(ctx, report); err != nil {
		return nil, apperrors.Internal(err)
	}
	if s.metrics != nil {
		s.metrics.CaseTransitions.WithLabelValues("report_uploaded").Inc()
	}

	s.notif.Notify(c.PatientID, model.NotificationEvent{
		Type:    "test_update",
		CaseID:  c.ID,
		Message: "Your lab report is ready",
	})
	return c, nil
}

// LabIntake creates a case directly at the lab, for walk-in results
// that never went through doctor triage. The case arrives completed.
func (s *Service) LabIntake(ctx context.Context, actor model.Actor, patientID uuid.UUID, patientName, filePath string, image []byte) (*model.PatientCase, error) {
	if len(image) == 0 {
		return nil, ErrNoSubjectMaterial
	}

	c := &model.PatientCase{
		Base:        model.Base{ID: uuid.New()},
		PatientID:   patientID,
		PatientName: patientName,
		Status:      model.CaseStatusCompleted,
		TestOrdered: true,
		TestStatus:  model.TestStatusCompleted,
		ReportFile:  filePath,
	}
	if c.PatientName == "" {
		if u, err := s.users.Get(ctx, patientID); err == nil {
			c.PatientName = u.DisplayName()
		}
	}

	result, serr := s.scorer.ScoreImage(ctx, image)
	if serr != nil {
		result = model.SentinelFailure()
	}
	c.ImageResult = result
	c.SeverityScore = severity.Compute(result, severity.ModalityImage)
	if result.IsSentinel() {
		c.SeverityScore = 0
	} else {
		c.LabNotes = fmt.Sprintf("[AI Analysis]: %s (%.2f)", result.Label, result.Confidence)
	}

	if err := s.cases.Create(ctx, c); err != nil {
		return nil, apperrors.Internal(err)
	}
	if s.metrics != nil {
		s.metrics.CasesCreated.WithLabelValues("lab_intake").Inc()
	}

	report := &model.LabReport{
		ID:         uuid.New(),
		CaseID:     c.ID,
		ReportType: "lab_intake",
		FilePath:   filePath,
		UploadedBy: actor.ID,
	}
	if err := s.lab.CreateReport(ctx, report); err != nil {
		return nil, apperrors.Internal(err)
	}
	return c, nil
}

// ManualReport records a typed-in result when there is no file artifact.
func (s *Service) ManualReport(ctx context.Context, actor model.Actor, req *model.ManualReportRequest) (*model.LabReport, error) {
	c, err := s.getCase(ctx, req.CaseID)
	if err != nil {
		return nil, err
	}

	c.TestStatus = model.TestStatusCompleted
	if c.Status == model.CaseStatusWaitingLab {
		c.Status = model.CaseStatusCompleted
		c.ReviewedByDoctor = true
	}
	if err := s.cases.Update(ctx, c); err != nil {
		return nil, apperrors.Internal(err)
	}

	report := &model.LabReport{
		ID:         uuid.New(),
		CaseID:     c.ID,
		ReportType: "manual",
		ManualData: req.Data,
		UploadedBy: actor.ID,
	}
	if err := s.lab.CreateReport(ctx, report); err != nil {
		return nil, apperrors.Internal(err)
	}
	return report, nil
}

// CaseReports returns the versioned report history for a case.
func (s *Service) CaseReports(ctx context.Context, caseID uuid.UUID) ([]*model.LabReport, error) {
	reports, err := s.lab.ListReports(ctx, caseID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return reports, nil
}

// SearchPatients backs the lab search screen. Patients with cases get
// their real rows; patients without any get a synthetic placeholder row
// so the screen can still open an intake for them.
func (s *Service) SearchPatients(ctx context.Context, query string) ([]*model.PatientCase, error) {
	patients, err := s.users.SearchPatients(ctx, query)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	var out []*model.PatientCase
	for _, p := range patients {
		cases, err := s.cases.ListByPatient(ctx, p.ID)
		if err != nil {
			return nil, apperrors.Internal(err)
		}
		if len(cases) == 0 {
			out = append(out, &model.PatientCase{
				Base:        model.Base{ID: uuid.Nil, CreatedAt: time.Now()},
				PatientID:   p.ID,
				PatientName: p.DisplayName(),
				Status:      model.CaseStatusSearchResult,
				TestStatus:  model.TestStatusPending,
			})
			continue
		}
		out = append(out, cases...)
	}
	return out, nil
}

func appendNotes(existing, added string) string {
	if existing == "" {
		return added
	}
	return existing + "\n" + added
}
