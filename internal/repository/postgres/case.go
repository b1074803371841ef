package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medifusion/triage-api/internal/model"
	"github.com/medifusion/triage-api/internal/repository"
)

const caseColumns = `
	id, patient_id, patient_name, patient_contact, symptoms, uploaded_file,
	image_result, symptom_result, severity_score, status,
	assigned_doctor_id, assigned_at, doctor_notes, diagnosis, reviewed_by_doctor,
	test_ordered, ordered_test_type, test_status, scheduled_date,
	assigned_lab_tech_id, lab_notes, report_file,
	created_at, updated_at`

func (r *caseRepository) Create(ctx context.Context, c *model.PatientCase) error {
	query := `
		INSERT INTO patient_cases (
			id, patient_id, patient_name, patient_contact, symptoms, uploaded_file,
			image_result, symptom_result, severity_score, status,
			assigned_doctor_id, assigned_at, doctor_notes, diagnosis, reviewed_by_doctor,
			test_ordered, ordered_test_type, test_status, scheduled_date,
			assigned_lab_tech_id, lab_notes, report_file,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24
		)
	`
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.PatientID, c.PatientName, c.PatientContact, c.Symptoms, c.UploadedFile,
		c.ImageResult, c.SymptomResult, c.SeverityScore, c.Status,
		c.AssignedDoctorID, c.AssignedAt, c.DoctorNotes, c.Diagnosis, c.ReviewedByDoctor,
		c.TestOrdered, c.OrderedTestType, c.TestStatus, c.ScheduledDate,
		c.AssignedLabTechID, c.LabNotes, c.ReportFile,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create case: %w", err)
	}
	return nil
}

func (r *caseRepository) Get(ctx context.Context, id uuid.UUID) (*model.PatientCase, error) {
	query := `SELECT ` + caseColumns + ` FROM patient_cases WHERE id = $1`
	var c model.PatientCase
	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return &c, nil
}

func (r *caseRepository) Update(ctx context.Context, c *model.PatientCase) error {
	query := `
		UPDATE patient_cases
		SET symptoms = $1, uploaded_file = $2, image_result = $3, symptom_result = $4,
			severity_score = $5, status = $6, doctor_notes = $7, diagnosis = $8,
			reviewed_by_doctor = $9, test_ordered = $10, ordered_test_type = $11,
			test_status = $12, scheduled_date = $13, assigned_lab_tech_id = $14,
			lab_notes = $15, report_file = $16, updated_at = $17
		WHERE id = $18
	`
	c.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		c.Symptoms, c.UploadedFile, c.ImageResult, c.SymptomResult,
		c.SeverityScore, c.Status, c.DoctorNotes, c.Diagnosis,
		c.ReviewedByDoctor, c.TestOrdered, c.OrderedTestType,
		c.TestStatus, c.ScheduledDate, c.AssignedLabTechID,
		c.LabNotes, c.ReportFile, c.UpdatedAt,
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update case: %w", err)
	}
	return checkAffected(result)
}

func (r *caseRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM patient_cases WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete case: %w", err)
	}
	return checkAffected(result)
}

func (r *caseRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.PatientCase, error) {
	query := `SELECT ` + caseColumns + `
		FROM patient_cases
		WHERE patient_id = $1
		ORDER BY created_at DESC`
	var cases []*model.PatientCase
	if err := r.db.SelectContext(ctx, &cases, query, patientID); err != nil {
		return nil, fmt.Errorf("failed to list patient cases: %w", err)
	}
	return cases, nil
}

func (r *caseRepository) ListAssigned(ctx context.Context, doctorID uuid.UUID) ([]*model.PatientCase, error) {
	query := `SELECT ` + caseColumns + `
		FROM patient_cases
		WHERE assigned_doctor_id = $1 AND reviewed_by_doctor = false
		ORDER BY created_at DESC`
	var cases []*model.PatientCase
	if err := r.db.SelectContext(ctx, &cases, query, doctorID); err != nil {
		return nil, fmt.Errorf("failed to list assigned cases: %w", err)
	}
	return cases, nil
}

func (r *caseRepository) ListOpenPool(ctx context.Context) ([]*model.PatientCase, error) {
	query := `SELECT ` + caseColumns + `
		FROM patient_cases
		WHERE assigned_doctor_id IS NULL
		  AND status = $1
		  AND reviewed_by_doctor = false
		ORDER BY created_at DESC`
	var cases []*model.PatientCase
	if err := r.db.SelectContext(ctx, &cases, query, model.CaseStatusSubmitted); err != nil {
		return nil, fmt.Errorf("failed to list open pool: %w", err)
	}
	return cases, nil
}

func (r *caseRepository) ListClosedBy(ctx context.Context, doctorID uuid.UUID) ([]*model.PatientCase, error) {
	query := `SELECT ` + caseColumns + `
		FROM patient_cases
		WHERE assigned_doctor_id = $1 AND reviewed_by_doctor = true
		ORDER BY updated_at DESC`
	var cases []*model.PatientCase
	if err := r.db.SelectContext(ctx, &cases, query, doctorID); err != nil {
		return nil, fmt.Errorf("failed to list closed cases: %w", err)
	}
	return cases, nil
}

func (r *caseRepository) ListByLabTech(ctx context.Context, labTechID uuid.UUID) ([]*model.PatientCase, error) {
	query := `SELECT ` + caseColumns + `
		FROM patient_cases
		WHERE assigned_lab_tech_id = $1
		ORDER BY created_at DESC`
	var cases []*model.PatientCase
	if err := r.db.SelectContext(ctx, &cases, query, labTechID); err != nil {
		return nil, fmt.Errorf("failed to list lab cases: %w", err)
	}
	return cases, nil
}

func (r *caseRepository) ListPendingTests(ctx context.Context) ([]*model.PatientCase, error) {
	query := `SELECT ` + caseColumns + `
		FROM patient_cases
		WHERE test_ordered = true
		  AND test_status = $1
		  AND assigned_lab_tech_id IS NULL
		ORDER BY created_at ASC`
	var cases []*model.PatientCase
	if err := r.db.SelectContext(ctx, &cases, query, model.TestStatusPending); err != nil {
		return nil, fmt.Errorf("failed to list pending tests: %w", err)
	}
	return cases, nil
}

func (r *caseRepository) ListUnscored(ctx context.Context, limit int) ([]*model.PatientCase, error) {
	query := `SELECT ` + caseColumns + `
		FROM patient_cases
		WHERE (symptoms <> '' AND symptom_result IS NULL)
		   OR (uploaded_file <> '' AND image_result IS NULL)
		ORDER BY created_at ASC
		LIMIT $1`
	var cases []*model.PatientCase
	if err := r.db.SelectContext(ctx, &cases, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list unscored cases: %w", err)
	}
	return cases, nil
}

func (r *caseRepository) CountClosedBy(ctx context.Context, doctorID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM patient_cases
		WHERE assigned_doctor_id = $1 AND reviewed_by_doctor = true
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, doctorID); err != nil {
		return 0, fmt.Errorf("failed to count closed cases: %w", err)
	}
	return count, nil
}

func (r *caseRepository) SetAssignment(ctx context.Context, caseID uuid.UUID, doctorID *uuid.UUID, at *time.Time) error {
	query := `
		UPDATE patient_cases
		SET assigned_doctor_id = $1, assigned_at = $2, status = $3, updated_at = $4
		WHERE id = $5
	`
	result, err := r.db.ExecContext(ctx, query, doctorID, at, model.CaseStatusSubmitted, time.Now(), caseID)
	if err != nil {
		return fmt.Errorf("failed to set assignment: %w", err)
	}
	return checkAffected(result)
}

// AcceptAssignment claims an unassigned case. The WHERE guard makes the
// claim linearizable at the store: of two concurrent accepts exactly one
// matches the NULL row.
func (r *caseRepository) AcceptAssignment(ctx context.Context, caseID, doctorID uuid.UUID, at time.Time) error {
	query := `
		UPDATE patient_cases
		SET assigned_doctor_id = $1, assigned_at = $2, updated_at = $3
		WHERE id = $4 AND assigned_doctor_id IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, doctorID, at, time.Now(), caseID)
	if err != nil {
		return fmt.Errorf("failed to accept case: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrNoRowsUpdated
	}
	return nil
}

// ApplyReview commits the review decision under the same guard the
// engine checked, so a concurrent re-review or reassignment loses.
func (r *caseRepository) ApplyReview(ctx context.Context, upd *repository.ReviewUpdate) error {
	query := `
		UPDATE patient_cases
		SET doctor_notes = $1,
			diagnosis = COALESCE($2, diagnosis),
			severity_score = COALESCE($3, severity_score),
			reviewed_by_doctor = $4,
			status = $5,
			updated_at = $6
		WHERE id = $7 AND assigned_doctor_id = $8 AND reviewed_by_doctor = false
	`
	result, err := r.db.ExecContext(ctx, query,
		upd.Notes, upd.Diagnosis, upd.SeverityScore,
		upd.Reviewed, upd.Status, time.Now(),
		upd.CaseID, upd.DoctorID,
	)
	if err != nil {
		return fmt.Errorf("failed to apply review: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrNoRowsUpdated
	}
	return nil
}

func (r *caseRepository) ReleaseExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE patient_cases
		SET assigned_doctor_id = NULL, assigned_at = NULL, updated_at = $1
		WHERE assigned_doctor_id IS NOT NULL
		  AND reviewed_by_doctor = false
		  AND assigned_at < $2
	`
	result, err := r.db.ExecContext(ctx, query, time.Now(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to release expired assignments: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

func checkAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
