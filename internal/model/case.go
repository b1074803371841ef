package model

import (
	"time"

	"github.com/google/uuid"
)

type CaseStatus string

const (
	CaseStatusNew          CaseStatus = "new"
	CaseStatusSubmitted    CaseStatus = "submitted"
	CaseStatusWaitingLab   CaseStatus = "waiting_lab"
	CaseStatusCompleted    CaseStatus = "completed"
	CaseStatusPredicted    CaseStatus = "predicted"
	CaseStatusSearchResult CaseStatus = "search_result"
)

type TestStatus string

const (
	TestStatusPending     TestStatus = "pending"
	TestStatusRecommended TestStatus = "recommended"
	TestStatusInProgress  TestStatus = "in_progress"
	TestStatusScheduled   TestStatus = "scheduled"
	TestStatusCompleted   TestStatus = "completed"
)

// PatientCase is one patient's diagnostic episode, from symptom or image
// submission through doctor review and the optional lab sub-workflow.
type PatientCase struct {
	Base
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	PatientName    string     `db:"patient_name" json:"patient_name"`
	PatientContact string     `db:"patient_contact" json:"patient_contact,omitempty"`

	// Subject material: at least one of the two is populated.
	Symptoms     string `db:"symptoms" json:"symptoms,omitempty"`
	UploadedFile string `db:"uploaded_file" json:"uploaded_file,omitempty"`

	// Two independent AI results, one per modality.
	ImageResult   *ScoringResult `db:"image_result" json:"image_result,omitempty"`
	SymptomResult *ScoringResult `db:"symptom_result" json:"symptom_result,omitempty"`

	SeverityScore float64    `db:"severity_score" json:"severity_score"`
	Status        CaseStatus `db:"status" json:"status"`

	// Doctor triage fields. Assignment id and timestamp are an atomic
	// pair: always set and cleared together.
	AssignedDoctorID *uuid.UUID `db:"assigned_doctor_id" json:"assigned_doctor_id,omitempty"`
	AssignedAt       *time.Time `db:"assigned_at" json:"assigned_at,omitempty"`
	DoctorNotes      string     `db:"doctor_notes" json:"doctor_notes,omitempty"`
	Diagnosis        string     `db:"diagnosis" json:"diagnosis,omitempty"`
	ReviewedByDoctor bool       `db:"reviewed_by_doctor" json:"reviewed_by_doctor"`

	// Lab sub-workflow.
	TestOrdered       bool       `db:"test_ordered" json:"test_ordered"`
	OrderedTestType   string     `db:"ordered_test_type" json:"ordered_test_type,omitempty"`
	TestStatus        TestStatus `db:"test_status" json:"test_status"`
	ScheduledDate     *time.Time `db:"scheduled_date" json:"scheduled_date,omitempty"`
	AssignedLabTechID *uuid.UUID `db:"assigned_lab_tech_id" json:"assigned_lab_tech_id,omitempty"`
	LabNotes          string     `db:"lab_notes" json:"lab_notes,omitempty"`
	ReportFile        string     `db:"report_file" json:"report_file,omitempty"`
}

// InOpenPool reports whether the case belongs to the doctors' open pool:
// unassigned, submitted, and not yet reviewed.
func (c *PatientCase) InOpenPool() bool {
	return c.AssignedDoctorID == nil &&
		c.Status == CaseStatusSubmitted &&
		!c.ReviewedByDoctor
}

// AssignmentExpired reports whether an unreviewed assignment is older
// than the given timeout.
func (c *PatientCase) AssignmentExpired(timeout time.Duration, now time.Time) bool {
	return c.AssignedDoctorID != nil &&
		!c.ReviewedByDoctor &&
		c.AssignedAt != nil &&
		now.Sub(*c.AssignedAt) > timeout
}

type SubmitSymptomsRequest struct {
	PatientName    string `json:"patient_name" binding:"max=128"`
	PatientContact string `json:"patient_contact" binding:"max=128"`
	Symptoms       string `json:"symptoms" binding:"required,min=3"`
}

type UploadImageRequest struct {
	PatientName    string `form:"patient_name" binding:"max=128"`
	PatientContact string `form:"patient_contact" binding:"max=128"`
}

type AssignCaseRequest struct {
	// Nil doctor id returns the case to the open pool.
	DoctorID *uuid.UUID `json:"doctor_id"`
}

type ReviewCaseRequest struct {
	Notes         string   `json:"notes" binding:"required"`
	Diagnosis     string   `json:"diagnosis"`
	SeverityScore *float64 `json:"severity_score" binding:"omitempty,gte=0,lte=10"`
}

type OrderTestRequest struct {
	TestType string `json:"test_type" binding:"required,max=64"`
}

type ScheduleTestRequest struct {
	Date string `json:"date" binding:"required,iso8601"`
}

type UpdateTestStatusRequest struct {
	Status TestStatus `json:"status" binding:"required,oneof=pending in_progress scheduled completed"`
}

type AssignLabTechRequest struct {
	LabTechID uuid.UUID `json:"lab_tech_id" binding:"required"`
}

type LabNotesRequest struct {
	Notes string `json:"notes" binding:"required"`
}

type ManualReportRequest struct {
	CaseID uuid.UUID `json:"case_id" binding:"required"`
	Data   string    `json:"data" binding:"required"`
}

// DoctorDashboard is the assigned-cases read: the sweep runs before the
// three filters so expired assignments surface in the pool, not in my_cases.
type DoctorDashboard struct {
	MyCases     []*PatientCase `json:"my_cases"`
	OpenPool    []*PatientCase `json:"open_pool"`
	ClosedCases []*PatientCase `json:"closed_cases"`
}

type DoctorStats struct {
	TotalCasesClosed int `json:"total_cases_closed"`
}
