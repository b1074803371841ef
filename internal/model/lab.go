package model

import (
	"time"

	"github.com/google/uuid"
)

// LabComment is an append-only note history entry; the flat lab_notes
// column on the case keeps only the concatenated text.
type LabComment struct {
	ID        uuid.UUID `db:"id" json:"id"`
	CaseID    uuid.UUID `db:"case_id" json:"case_id"`
	LabTechID uuid.UUID `db:"lab_tech_id" json:"lab_tech_id"`
	Comment   string    `db:"comment" json:"comment"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type LabReport struct {
	ID         uuid.UUID `db:"id" json:"id"`
	CaseID     uuid.UUID `db:"case_id" json:"case_id"`
	ReportType string    `db:"report_type" json:"report_type"`
	FilePath   string    `db:"file_path" json:"file_path,omitempty"`
	ManualData string    `db:"manual_data" json:"manual_data,omitempty"`
	UploadedBy uuid.UUID `db:"uploaded_by" json:"uploaded_by"`
	UploadedAt time.Time `db:"uploaded_at" json:"uploaded_at"`
	Version    int       `db:"version" json:"version"`
}

// Notification events pushed to connected parties on case transitions.
type NotificationEvent struct {
	Type    string    `json:"type"`
	CaseID  uuid.UUID `json:"case_id,omitempty"`
	Message string    `json:"message"`
}
