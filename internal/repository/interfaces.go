package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/medifusion/triage-api/internal/model"
)

// ErrNoRowsUpdated signals a conditional update whose guard did not
// match; callers translate it into the appropriate conflict error.
var ErrNoRowsUpdated = errors.New("no rows updated")

// ReviewUpdate carries the doctor's review payload plus the state branch
// the engine decided on. Applied with a conditional update guarded on
// the reviewing doctor still being assigned and the case unreviewed.
type ReviewUpdate struct {
	CaseID        uuid.UUID
	DoctorID      uuid.UUID
	Notes         string
	Diagnosis     *string
	SeverityScore *float64
	Reviewed      bool
	Status        model.CaseStatus
}

type CaseRepository interface {
	Create(ctx context.Context, c *model.PatientCase) error
	Get(ctx context.Context, id uuid.UUID) (*model.PatientCase, error)
	Update(ctx context.Context, c *model.PatientCase) error
	Delete(ctx context.Context, id uuid.UUID) error

	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.PatientCase, error)
	ListAssigned(ctx context.Context, doctorID uuid.UUID) ([]*model.PatientCase, error)
	ListOpenPool(ctx context.Context) ([]*model.PatientCase, error)
	ListClosedBy(ctx context.Context, doctorID uuid.UUID) ([]*model.PatientCase, error)
	ListByLabTech(ctx context.Context, labTechID uuid.UUID) ([]*model.PatientCase, error)
	ListPendingTests(ctx context.Context) ([]*model.PatientCase, error)
	ListUnscored(ctx context.Context, limit int) ([]*model.PatientCase, error)
	CountClosedBy(ctx context.Context, doctorID uuid.UUID) (int, error)

	// SetAssignment sets or clears the assignment pair and marks the
	// case submitted. Clearing (nil doctor) returns the case to the pool.
	SetAssignment(ctx context.Context, caseID uuid.UUID, doctorID *uuid.UUID, at *time.Time) error

	// AcceptAssignment is the accept check-and-set: it succeeds only if
	// no doctor holds the case, returning ErrNoRowsUpdated otherwise.
	AcceptAssignment(ctx context.Context, caseID, doctorID uuid.UUID, at time.Time) error

	// ApplyReview is the review check-and-set, guarded on the caller
	// still being the assigned doctor and the case being unreviewed.
	ApplyReview(ctx context.Context, upd *ReviewUpdate) error

	// ReleaseExpired clears every unreviewed assignment older than the
	// cutoff. Safe to run concurrently: the clear is idempotent.
	ReleaseExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

type UserRepository interface {
	Create(ctx context.Context, u *model.User) error
	Get(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	Update(ctx context.Context, u *model.User) error
	ListDoctors(ctx context.Context) ([]*model.DoctorInfo, error)
	SearchPatients(ctx context.Context, term string) ([]*model.User, error)
}

type LabRepository interface {
	CreateComment(ctx context.Context, c *model.LabComment) error
	CreateReport(ctx context.Context, r *model.LabReport) error
	ListReports(ctx context.Context, caseID uuid.UUID) ([]*model.LabReport, error)
}
