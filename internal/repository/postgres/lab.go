package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medifusion/triage-api/internal/model"
)

func (r *labRepository) CreateComment(ctx context.Context, c *model.LabComment) error {
	query := `
		INSERT INTO lab_comments (id, case_id, lab_tech_id, comment, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query, c.ID, c.CaseID, c.LabTechID, c.Comment, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create lab comment: %w", err)
	}
	return nil
}

func (r *labRepository) CreateReport(ctx context.Context, rep *model.LabReport) error {
	query := `
		INSERT INTO lab_reports (
			id, case_id, report_type, file_path, manual_data, uploaded_by, uploaded_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7,
			COALESCE((SELECT MAX(version) FROM lab_reports WHERE case_id = $2), 0) + 1
		)
	`
	if rep.ID == uuid.Nil {
		rep.ID = uuid.New()
	}
	rep.UploadedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		rep.ID, rep.CaseID, rep.ReportType, rep.FilePath,
		rep.ManualData, rep.UploadedBy, rep.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create lab report: %w", err)
	}
	return nil
}

func (r *labRepository) ListReports(ctx context.Context, caseID uuid.UUID) ([]*model.LabReport, error) {
	query := `
		SELECT id, case_id, report_type, file_path, manual_data, uploaded_by, uploaded_at, version
		FROM lab_reports
		WHERE case_id = $1
		ORDER BY uploaded_at DESC
	`
	var reports []*model.LabReport
	if err := r.db.SelectContext(ctx, &reports, query, caseID); err != nil {
		return nil, fmt.Errorf("failed to list lab reports: %w", err)
	}
	return reports, nil
}
