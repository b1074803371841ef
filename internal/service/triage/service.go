// Package triage owns the patient-case lifecycle: creation with inline
// scoring, assignment and the open pool, doctor accept/review, the lab
// test sub-workflow, and the lazy reassignment sweep.
package triage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medifusion/triage-api/internal/model"
	"github.com/medifusion/triage-api/internal/notification"
	"github.com/medifusion/triage-api/internal/repository"
	"github.com/medifusion/triage-api/internal/scoring"
	"github.com/medifusion/triage-api/internal/severity"
	apperrors "github.com/medifusion/triage-api/pkg/errors"
	"github.com/medifusion/triage-api/pkg/messaging"
	"github.com/medifusion/triage-api/pkg/metrics"
)

type Service struct {
	cases   repository.CaseRepository
	users   repository.UserRepository
	lab     repository.LabRepository
	scorer  scoring.Scorer
	notif   notification.Notifier
	broker  messaging.Broker
	logger  *zerolog.Logger
	metrics *metrics.Metrics

	// assignmentTimeout is how long an unreviewed assignment may sit
	// before the sweep returns it to the pool.
	assignmentTimeout time.Duration
}

type Config struct {
	AssignmentTimeout time.Duration
}

func NewService(
	cases repository.CaseRepository,
	users repository.UserRepository,
	lab repository.LabRepository,
	scorer scoring.Scorer,
	notif notification.Notifier,
	broker messaging.Broker,
	logger *zerolog.Logger,
	m *metrics.Metrics,
	cfg Config,
) *Service {
	timeout := cfg.AssignmentTimeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &Service{
		cases:             cases,
		users:             users,
		lab:               lab,
		scorer:            scorer,
		notif:             notif,
		broker:            broker,
		logger:            logger,
		metrics:           m,
		assignmentTimeout: timeout,
	}
}

// CreateFromSymptoms creates a case from symptom text, scoring it inline.
// A scoring failure never fails the creation: the sentinel result is
// stored with zero severity and the dependency error is returned
// alongside the case so the transport can surface it as a warning.
func (s *Service) CreateFromSymptoms(ctx context.Context, actor model.Actor, req *model.SubmitSymptomsRequest) (*model.PatientCase, error) {
	if req.Symptoms == "" {
		return nil, ErrNoSubjectMaterial
	}

	c := s.newCase(ctx, actor, req.PatientName, req.PatientContact)
	c.Symptoms = req.Symptoms

	var softErr error
	result, err := s.scorer.ScoreSymptoms(ctx, req.Symptoms)
	if err != nil {
		softErr = err
		result = model.SentinelFailure()
	}
	c.SymptomResult = result
	c.SeverityScore = severity.Compute(result, severity.ModalitySymptom)
	if result.IsSentinel() {
		c.SeverityScore = 0
	}

	if err := s.cases.Create(ctx, c); err != nil {
		return nil, apperrors.Internal(err)
	}
	if s.metrics != nil {
		s.metrics.CasesCreated.WithLabelValues("symptoms").Inc()
	}

	s.enqueueReprocess(ctx, c.ID)
	return c, softErr
}

// CreateFromImage creates a case from an uploaded X-ray image.
func (s *Service) CreateFromImage(ctx context.Context, actor model.Actor, req *model.UploadImageRequest, filePath string, image []byte) (*model.PatientCase, error) {
	if len(image) == 0 {
		return nil, ErrNoSubjectMaterial
	}

	c := s.newCase(ctx, actor, req.PatientName, req.PatientContact)
	c.UploadedFile = filePath

	var softErr error
	result, err := s.scorer.ScoreImage(ctx, image)
	if err != nil {
		softErr = err
		result = model.SentinelFailure()
	}
	c.ImageResult = result
	c.SeverityScore = severity.Compute(result, severity.ModalityImage)
	if result.IsSentinel() {
		c.SeverityScore = 0
	}

	if err := s.cases.Create(ctx, c); err != nil {
		return nil, apperrors.Internal(err)
	}
	if s.metrics != nil {
		s.metrics.CasesCreated.WithLabelValues("image").Inc()
	}

	s.enqueueReprocess(ctx, c.ID)
	return c, softErr
}

func (s *Service) newCase(ctx context.Context, actor model.Actor, name, contact string) *model.PatientCase {
	if name == "" {
		if u, err := s.users.Get(ctx, actor.ID); err == nil {
			name = u.DisplayName()
		}
	}
	return &model.PatientCase{
		Base:           model.Base{ID: uuid.New()},
		PatientID:      actor.ID,
		PatientName:    name,
		PatientContact: contact,
		Status:         model.CaseStatusNew,
		TestStatus:     model.TestStatusPending,
	}
}

// Assign routes the case to a specific doctor or, with a nil doctor id,
// back to the open pool. Idempotent: repeating the call with the same
// target is a no-op at the store.
func (s *Service) Assign(ctx context.Context, actor model.Actor, caseID uuid.UUID, req *model.AssignCaseRequest) (*model.PatientCase, error) {
	c, err := s.getOwned(ctx, actor, caseID)
	if err != nil {
		return nil, err
	}

	var at *time.Time
	if req.DoctorID != nil {
		now := time.Now()
		at = &now
	}
	if err := s.cases.SetAssignment(ctx, c.ID, req.DoctorID, at); err != nil {
		return nil, apperrors.Internal(err)
	}
	if s.metrics != nil {
		if req.DoctorID != nil {
			s.metrics.CaseTransitions.WithLabelValues("assigned").Inc()
		} else {
			s.metrics.CaseTransitions.WithLabelValues("pooled").Inc()
		}
	}

	return s.cases.Get(ctx, caseID)
}

// Accept claims a pool case for the calling doctor. Exactly one of two
// concurrent accepts succeeds; the loser gets a conflict.
func (s *Service) Accept(ctx context.Context, actor model.Actor, caseID uuid.UUID) (*model.PatientCase, error) {
	c, err := s.getCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.AssignedDoctorID != nil {
		return nil, ErrAlreadyAssigned
	}

	if err := s.cases.AcceptAssignment(ctx, caseID, actor.ID, time.Now()); err != nil {
		if errors.Is(err, repository.ErrNoRowsUpdated) {
			if s.metrics != nil {
				s.metrics.AcceptConflicts.Inc()
			}
			return nil, ErrAlreadyAssigned
		}
		return nil, apperrors.Internal(err)
	}
	if s.metrics != nil {
		s.metrics.CaseTransitions.WithLabelValues("accepted").Inc()
	}

	c, err = s.getCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	doctorName := "your doctor"
	if doc, derr := s.users.Get(ctx, actor.ID); derr == nil {
		doctorName = "Dr. " + doc.DisplayName()
	}
	s.notif.Notify(c.PatientID, model.NotificationEvent{
		Type:    "case_update",
		CaseID:  c.ID,
		Message: fmt.Sprintf("Your case has been accepted by %s", doctorName),
	})

	return c, nil
}

// Review records the assigned doctor's decision. If a test was ordered
// and is still pending, the case defers closure and waits for the lab;
// otherwise it is marked reviewed and completed.
func (s *Service) Review(ctx context.Context, actor model.Actor, caseID uuid.UUID, req *model.ReviewCaseRequest) (*model.PatientCase, error) {
	c, err := s.getCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.AssignedDoctorID == nil || *c.AssignedDoctorID != actor.ID {
		return nil, ErrNotAssignedDoctor
	}
	if c.ReviewedByDoctor {
		return nil, ErrAlreadyReviewed
	}

	upd := &repository.ReviewUpdate{
		CaseID:        c.ID,
		DoctorID:      actor.ID,
		Notes:         req.Notes,
		SeverityScore: req.SeverityScore,
	}
	if req.Diagnosis != "" {
		upd.Diagnosis = &req.Diagnosis
	}

	waitingLab := c.TestOrdered && c.TestStatus == model.TestStatusPending
	if waitingLab {
		upd.Reviewed = false
		upd.Status = model.CaseStatusWaitingLab
	} else {
		upd.Reviewed = true
		upd.Status = model.CaseStatusCompleted
	}

	if err := s.cases.ApplyReview(ctx, upd); err != nil {
		if errors.Is(err, repository.ErrNoRowsUpdated) {
			// Lost the race: reviewed or reassigned since the read.
			return nil, ErrAlreadyReviewed
		}
		return nil, apperrors.Internal(err)
	}
	if s.metrics != nil {
		if waitingLab {
			s.metrics.CaseTransitions.WithLabelValues("waiting_lab").Inc()
		} else {
			s.metrics.CaseTransitions.WithLabelValues("completed").Inc()
		}
	}

	c, err = s.getCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	if waitingLab {
		s.notif.Notify(c.PatientID, model.NotificationEvent{
			Type:    "case_update",
			CaseID:  c.ID,
			Message: "Your case review is pending lab results",
		})
	} else {
		diagnosis := c.Diagnosis
		if diagnosis == "" {
			diagnosis = "See details"
		}
		s.notif.Notify(c.PatientID, model.NotificationEvent{
			Type:    "case_update",
			CaseID:  c.ID,
			Message: fmt.Sprintf("Your case has been reviewed. Diagnosis: %s", diagnosis),
		})
	}

	return c, nil
}

// OrderTest records a test order on a case held by the calling doctor.
func (s *Service) OrderTest(ctx context.Context, actor model.Actor, caseID uuid.UUID, req *model.OrderTestRequest) (*model.PatientCase, error) {
	c, err := s.getCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.AssignedDoctorID == nil || *c.AssignedDoctorID != actor.ID {
		return nil, ErrNotAssignedDoctor
	}

	c.TestOrdered = true
	c.OrderedTestType = req.TestType
	c.TestStatus = model.TestStatusRecommended

	if err := s.cases.Update(ctx, c); err != nil {
		return nil, apperrors.Internal(err)
	}
	if s.metrics != nil {
		s.metrics.CaseTransitions.WithLabelValues("test_ordered").Inc()
	}
	return c, nil
}

// BookTest confirms a recommended test, moving it into the lab's open
// queue. Any other test status is a conflict.
func (s *Service) BookTest(ctx context.Context, actor model.Actor, caseID uuid.UUID) (*model.PatientCase, error) {
	c, err := s.getOwned(ctx, actor, caseID)
	if err != nil {
		return nil, err
	}
	if c.TestStatus != model.TestStatusRecommended {
		return nil, ErrTestNotRecommended
	}

	c.TestStatus = model.TestStatusPending
	if err := s.cases.Update(ctx, c); err != nil {
		return nil, apperrors.Internal(err)
	}
	if s.metrics != nil {
		s.metrics.CaseTransitions.WithLabelValues("test_booked").Inc()
	}
	return c, nil
}

// ScheduleTest sets the patient's chosen date for an ordered test.
func (s *Service) ScheduleTest(ctx context.Context, actor model.Actor, caseID uuid.UUID, req *model.ScheduleTestRequest) (*model.PatientCase, error) {
	c, err := s.getOwned(ctx, actor, caseID)
	if err != nil {
		return nil, err
	}
	if !c.TestOrdered {
		return nil, ErrNoTestOrdered
	}

	date, err := time.Parse(time.RFC3339, req.Date)
	if err != nil {
		return nil, apperrors.Validation("invalid date format, use ISO 8601", err)
	}

	c.ScheduledDate = &date
	c.TestStatus = model.TestStatusScheduled
	if err := s.cases.Update(ctx, c); err != nil {
		return nil, apperrors.Internal(err)
	}
	return c, nil
}

// Delete removes the case entirely. Only the owning patient may delete;
// there is no soft delete.
func (s *Service) Delete(ctx context.Context, actor model.Actor, caseID uuid.UUID) error {
	c, err := s.getCase(ctx, caseID)
	if err != nil {
		return err
	}
	if c.PatientID != actor.ID {
		return ErrNotCaseOwner
	}

	if err := s.cases.Delete(ctx, caseID); err != nil {
		return apperrors.Internal(err)
	}
	if s.metrics != nil {
		s.metrics.CaseTransitions.WithLabelValues("deleted").Inc()
	}
	return nil
}

// Get returns a single case, visible to its patient, its assigned
// doctor, its lab tech, or any triage/lab capable actor.
func (s *Service) Get(ctx context.Context, actor model.Actor, caseID uuid.UUID) (*model.PatientCase, error) {
	c, err := s.getCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if actor.Role == model.RolePatient && c.PatientID != actor.ID {
		return nil, ErrNotCaseOwner
	}
	return c, nil
}

// ListMine returns the calling patient's case history, newest first.
func (s *Service) ListMine(ctx context.Context, actor model.Actor) ([]*model.PatientCase, error) {
	cases, err := s.cases.ListByPatient(ctx, actor.ID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return cases, nil
}

// PatientHistory returns all cases for the given patient, for lab and
// doctor review screens.
func (s *Service) PatientHistory(ctx context.Context, patientID uuid.UUID) ([]*model.PatientCase, error) {
	cases, err := s.cases.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return cases, nil
}

// Doctors returns the assignment directory.
func (s *Service) Doctors(ctx context.Context) ([]*model.DoctorInfo, error) {
	doctors, err := s.users.ListDoctors(ctx)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return doctors, nil
}

// Dashboard assembles the doctor's triage view. The sweep runs first so
// expired assignments (any doctor's, not just the caller's) land in the
// pool before filtering.
func (s *Service) Dashboard(ctx context.Context, actor model.Actor) (*model.DoctorDashboard, error) {
	s.sweepExpired(ctx)

	mine, err := s.cases.ListAssigned(ctx, actor.ID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	pool, err := s.cases.ListOpenPool(ctx)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	closed, err := s.cases.ListClosedBy(ctx, actor.ID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	if s.metrics != nil {
		s.metrics.OpenPoolSize.Set(float64(len(pool)))
	}

	return &model.DoctorDashboard{
		MyCases:     mine,
		OpenPool:    pool,
		ClosedCases: closed,
	}, nil
}

// Stats returns the caller's closed-case count.
func (s *Service) Stats(ctx context.Context, actor model.Actor) (*model.DoctorStats, error) {
	count, err := s.cases.CountClosedBy(ctx, actor.ID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return &model.DoctorStats{TotalCasesClosed: count}, nil
}

// sweepExpired reclaims assignments older than the timeout. Deliberately
// lazy: it runs only inside list reads, so an expired assignment can sit
// unreclaimed until somebody lists. Concurrent sweeps are fine; the
// clear is idempotent and last-writer-wins.
func (s *Service) sweepExpired(ctx context.Context) {
	cutoff := time.Now().Add(-s.assignmentTimeout)
	reclaimed, err := s.cases.ReleaseExpired(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("assignment sweep failed")
		return
	}
	if reclaimed > 0 {
		s.logger.Info().Int64("reclaimed", reclaimed).Msg("returned expired assignments to pool")
		if s.metrics != nil {
			s.metrics.SweepReclaimed.Add(float64(reclaimed))
		}
	}
}

func (s *Service) enqueueReprocess(ctx context.Context, caseID uuid.UUID) {
	if s.broker == nil {
		return
	}
	msg := messaging.ReprocessMessage{CaseID: caseID.String()}
	if err := s.broker.Publish(ctx, messaging.ChannelReprocess, msg); err != nil {
		// Best effort, same as the notification path.
		s.logger.Warn().Err(err).Str("case_id", caseID.String()).Msg("failed to enqueue reprocess")
	}
}

func (s *Service) getCase(ctx context.Context, id uuid.UUID) (*model.PatientCase, error) {
	c, err := s.cases.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCaseNotFound
		}
		return nil, apperrors.Internal(err)
	}
	return c, nil
}

func (s *Service) getOwned(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.PatientCase, error) {
	c, err := s.getCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.PatientID != actor.ID {
		return nil, ErrNotCaseOwner
	}
	return c, nil
}
