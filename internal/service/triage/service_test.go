package triage

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medifusion/triage-api/internal/model"
	"github.com/medifusion/triage-api/internal/repository"
	apperrors "github.com/medifusion/triage-api/pkg/errors"
)

// ---- in-memory fakes ----

type fakeCaseRepo struct {
	mu    sync.Mutex
	cases map[uuid.UUID]*model.PatientCase
}

func newFakeCaseRepo() *fakeCaseRepo {
	return &fakeCaseRepo{cases: make(map[uuid.UUID]*model.PatientCase)}
}

func (r *fakeCaseRepo) Create(_ context.Context, c *model.PatientCase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	r.cases[c.ID] = &cp
	return nil
}

func (r *fakeCaseRepo) Get(_ context.Context, id uuid.UUID) (*model.PatientCase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCaseRepo) Update(_ context.Context, c *model.PatientCase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cases[c.ID]; !ok {
		return sql.ErrNoRows
	}
	c.UpdatedAt = time.Now()
	cp := *c
	r.cases[c.ID] = &cp
	return nil
}

func (r *fakeCaseRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cases[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.cases, id)
	return nil
}

func (r *fakeCaseRepo) list(filter func(*model.PatientCase) bool) []*model.PatientCase {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.PatientCase
	for _, c := range r.cases {
		if filter(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out
}

func (r *fakeCaseRepo) ListByPatient(_ context.Context, id uuid.UUID) ([]*model.PatientCase, error) {
	return r.list(func(c *model.PatientCase) bool { return c.PatientID == id }), nil
}

func (r *fakeCaseRepo) ListAssigned(_ context.Context, id uuid.UUID) ([]*model.PatientCase, error) {
	return r.list(func(c *model.PatientCase) bool {
		return c.AssignedDoctorID != nil && *c.AssignedDoctorID == id && !c.ReviewedByDoctor
	}), nil
}

func (r *fakeCaseRepo) ListOpenPool(_ context.Context) ([]*model.PatientCase, error) {
	return r.list(func(c *model.PatientCase) bool { return c.InOpenPool() }), nil
}

func (r *fakeCaseRepo) ListClosedBy(_ context.Context, id uuid.UUID) ([]*model.PatientCase, error) {
	return r.list(func(c *model.PatientCase) bool {
		return c.AssignedDoctorID != nil && *c.AssignedDoctorID == id && c.ReviewedByDoctor
	}), nil
}

func (r *fakeCaseRepo) ListByLabTech(_ context.Context, id uuid.UUID) ([]*model.PatientCase, error) {
	return r.list(func(c *model.PatientCase) bool {
		return c.AssignedLabTechID != nil && *c.AssignedLabTechID == id
	}), nil
}

func (r *fakeCaseRepo) ListPendingTests(_ context.Context) ([]*model.PatientCase, error) {
	return r.list(func(c *model.PatientCase) bool {
		return c.TestOrdered && c.TestStatus == model.TestStatusPending && c.AssignedLabTechID == nil
	}), nil
}

func (r *fakeCaseRepo) ListUnscored(_ context.Context, limit int) ([]*model.PatientCase, error) {
	out := r.list(func(c *model.PatientCase) bool {
		return (c.Symptoms != "" && c.SymptomResult == nil) ||
			(c.UploadedFile != "" && c.ImageResult == nil)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeCaseRepo) CountClosedBy(ctx context.Context, id uuid.UUID) (int, error) {
	closed, _ := r.ListClosedBy(ctx, id)
	return len(closed), nil
}

func (r *fakeCaseRepo) SetAssignment(_ context.Context, caseID uuid.UUID, doctorID *uuid.UUID, at *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[caseID]
	if !ok {
		return sql.ErrNoRows
	}
	c.AssignedDoctorID = doctorID
	c.AssignedAt = at
	c.Status = model.CaseStatusSubmitted
	c.UpdatedAt = time.Now()
	return nil
}

func (r *fakeCaseRepo) AcceptAssignment(_ context.Context, caseID, doctorID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[caseID]
	if !ok || c.AssignedDoctorID != nil {
		return repository.ErrNoRowsUpdated
	}
	c.AssignedDoctorID = &doctorID
	c.AssignedAt = &at
	c.UpdatedAt = time.Now()
	return nil
}

func (r *fakeCaseRepo) ApplyReview(_ context.Context, upd *repository.ReviewUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[upd.CaseID]
	if !ok || c.AssignedDoctorID == nil || *c.AssignedDoctorID != upd.DoctorID || c.ReviewedByDoctor {
		return repository.ErrNoRowsUpdated
	}
	c.DoctorNotes = upd.Notes
	if upd.Diagnosis != nil {
		c.Diagnosis = *upd.Diagnosis
	}
	if upd.SeverityScore != nil {
		c.SeverityScore = *upd.SeverityScore
	}
	c.ReviewedByDoctor = upd.Reviewed
	c.Status = upd.Status
	c.UpdatedAt = time.Now()
	return nil
}

func (r *fakeCaseRepo) ReleaseExpired(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, c := range r.cases {
		if c.AssignedDoctorID != nil && !c.ReviewedByDoctor &&
			c.AssignedAt != nil && c.AssignedAt.Before(cutoff) {
			c.AssignedDoctorID = nil
			c.AssignedAt = nil
			n++
		}
	}
	return n, nil
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]*model.User)}
}

func (r *fakeUserRepo) Create(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
	return nil
}

func (r *fakeUserRepo) Get(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (r *fakeUserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *fakeUserRepo) Update(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
	return nil
}

func (r *fakeUserRepo) ListDoctors(_ context.Context) ([]*model.DoctorInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.DoctorInfo
	for _, u := range r.users {
		if u.Role == model.RoleDoctor {
			out = append(out, &model.DoctorInfo{ID: u.ID, Name: u.DisplayName(), Specialty: u.Specialty})
		}
	}
	return out, nil
}

func (r *fakeUserRepo) SearchPatients(_ context.Context, term string) ([]*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.User
	for _, u := range r.users {
		if u.Role == model.RolePatient && strings.Contains(strings.ToLower(u.Username), strings.ToLower(term)) {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeLabRepo struct {
	mu       sync.Mutex
	comments []*model.LabComment
	reports  []*model.LabReport
}

func (r *fakeLabRepo) CreateComment(_ context.Context, c *model.LabComment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.comments = append(r.comments, c)
	return nil
}

func (r *fakeLabRepo) CreateReport(_ context.Context, rep *model.LabReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep.Version = len(r.reports) + 1
	r.reports = append(r.reports, rep)
	return nil
}

func (r *fakeLabRepo) ListReports(_ context.Context, caseID uuid.UUID) ([]*model.LabReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.LabReport
	for _, rep := range r.reports {
		if rep.CaseID == caseID {
			out = append(out, rep)
		}
	}
	return out, nil
}

type fakeScorer struct {
	symptomResult *model.ScoringResult
	imageResult   *model.ScoringResult
	err           error
}

func (s *fakeScorer) ScoreSymptoms(context.Context, string) (*model.ScoringResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.symptomResult, nil
}

func (s *fakeScorer) ScoreImage(context.Context, []byte) (*model.ScoringResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.imageResult, nil
}

type capturedNotification struct {
	Recipient uuid.UUID
	Event     model.NotificationEvent
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []capturedNotification
}

func (n *fakeNotifier) Notify(recipient uuid.UUID, event model.NotificationEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, capturedNotification{Recipient: recipient, Event: event})
}

func (n *fakeNotifier) forRecipient(id uuid.UUID) []model.NotificationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []model.NotificationEvent
	for _, s := range n.sent {
		if s.Recipient == id {
			out = append(out, s.Event)
		}
	}
	return out
}

// ---- fixture ----

type fixture struct {
	svc     *Service
	cases   *fakeCaseRepo
	users   *fakeUserRepo
	lab     *fakeLabRepo
	scorer  *fakeScorer
	notif   *fakeNotifier
	patient model.Actor
	doctor  model.Actor
	tech    model.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		cases:  newFakeCaseRepo(),
		users:  newFakeUserRepo(),
		lab:    &fakeLabRepo{},
		scorer: &fakeScorer{},
		notif:  &fakeNotifier{},
	}
	f.patient = model.Actor{ID: uuid.New(), Role: model.RolePatient}
	f.doctor = model.Actor{ID: uuid.New(), Role: model.RoleDoctor}
	f.tech = model.Actor{ID: uuid.New(), Role: model.RoleLabTech}

	ctx := context.Background()
	require.NoError(t, f.users.Create(ctx, &model.User{
		Base: model.Base{ID: f.patient.ID}, Username: "pat", FullName: "Pat Smith", Role: model.RolePatient,
	}))
	require.NoError(t, f.users.Create(ctx, &model.User{
		Base: model.Base{ID: f.doctor.ID}, Username: "doc", FullName: "Dana Jones", Role: model.RoleDoctor, Specialty: "Pulmonology",
	}))
	require.NoError(t, f.users.Create(ctx, &model.User{
		Base: model.Base{ID: f.tech.ID}, Username: "tech", Role: model.RoleLabTech,
	}))

	logger := zerolog.Nop()
	f.svc = NewService(f.cases, f.users, f.lab, f.scorer, f.notif, nil, &logger, nil, Config{
		AssignmentTimeout: 15 * time.Minute,
	})
	return f
}

func (f *fixture) submitCase(t *testing.T, label string, conf float64, urgency model.Urgency) *model.PatientCase {
	t.Helper()
	f.scorer.symptomResult = &model.ScoringResult{Label: label, Confidence: conf, Urgency: urgency}
	c, err := f.svc.CreateFromSymptoms(context.Background(), f.patient, &model.SubmitSymptomsRequest{
		Symptoms: "persistent cough and fever",
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) submitToPool(t *testing.T, label string, conf float64, urgency model.Urgency) *model.PatientCase {
	t.Helper()
	c := f.submitCase(t, label, conf, urgency)
	c, err := f.svc.Assign(context.Background(), f.patient, c.ID, &model.AssignCaseRequest{})
	require.NoError(t, err)
	return c
}

// ---- tests ----

func TestCreateFromSymptomsScoresInline(t *testing.T) {
	f := newFixture(t)
	c := f.submitCase(t, "pneumonia", 0.8, model.UrgencyHigh)

	assert.Equal(t, model.CaseStatusNew, c.Status)
	assert.Equal(t, "Pat Smith", c.PatientName)
	// 6 + 4*0.8 = 9.2, urgency boost lands on the cap path only above 8.
	assert.InDelta(t, 10.0, c.SeverityScore, 0.001)
}

func TestCreateFromSymptomsSurvivesScorerOutage(t *testing.T) {
	f := newFixture(t)
	f.scorer.err = apperrors.Dependency("analyzer unavailable", nil)

	c, err := f.svc.CreateFromSymptoms(context.Background(), f.patient, &model.SubmitSymptomsRequest{
		Symptoms: "chest pain",
	})
	require.NotNil(t, c)
	assert.True(t, apperrors.IsKind(err, apperrors.KindDependency))
	assert.True(t, c.SymptomResult.IsSentinel())
	assert.Equal(t, 0.0, c.SeverityScore)

	stored, gerr := f.cases.Get(context.Background(), c.ID)
	require.NoError(t, gerr)
	assert.Equal(t, "Error", stored.SymptomResult.Label)
}

func TestCreateRequiresSubjectMaterial(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateFromSymptoms(context.Background(), f.patient, &model.SubmitSymptomsRequest{})
	assert.ErrorIs(t, err, ErrNoSubjectMaterial)
}

func TestAssignToPoolMakesCaseVisible(t *testing.T) {
	f := newFixture(t)
	c := f.submitToPool(t, "asthma", 0.5, "")

	assert.Equal(t, model.CaseStatusSubmitted, c.Status)
	assert.True(t, c.InOpenPool())

	pool, err := f.cases.ListOpenPool(context.Background())
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.Equal(t, c.ID, pool[0].ID)
}

func TestAssignDirectToDoctor(t *testing.T) {
	f := newFixture(t)
	c := f.submitCase(t, "asthma", 0.5, "")

	c, err := f.svc.Assign(context.Background(), f.patient, c.ID, &model.AssignCaseRequest{DoctorID: &f.doctor.ID})
	require.NoError(t, err)
	require.NotNil(t, c.AssignedDoctorID)
	assert.Equal(t, f.doctor.ID, *c.AssignedDoctorID)
	assert.NotNil(t, c.AssignedAt)
	assert.False(t, c.InOpenPool())
}

func TestAssignRejectsNonOwner(t *testing.T) {
	f := newFixture(t)
	c := f.submitCase(t, "asthma", 0.5, "")

	other := model.Actor{ID: uuid.New(), Role: model.RolePatient}
	_, err := f.svc.Assign(context.Background(), other, c.ID, &model.AssignCaseRequest{})
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization))
}

func TestAcceptExactlyOneWinner(t *testing.T) {
	f := newFixture(t)
	c := f.submitToPool(t, "pneumonia", 0.7, "")

	doctors := make([]model.Actor, 8)
	for i := range doctors {
		doctors[i] = model.Actor{ID: uuid.New(), Role: model.RoleDoctor}
	}

	var wg sync.WaitGroup
	results := make([]error, len(doctors))
	for i, d := range doctors {
		wg.Add(1)
		go func(i int, d model.Actor) {
			defer wg.Done()
			_, results[i] = f.svc.Accept(context.Background(), d, c.ID)
		}(i, d)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
		}
	}
	assert.Equal(t, 1, wins)
}

func TestAcceptUnknownCase(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Accept(context.Background(), f.doctor, uuid.New())
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestAcceptNotifiesPatientWithDoctorName(t *testing.T) {
	f := newFixture(t)
	c := f.submitToPool(t, "bronchitis", 0.6, "")

	_, err := f.svc.Accept(context.Background(), f.doctor, c.ID)
	require.NoError(t, err)

	events := f.notif.forRecipient(f.patient.ID)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Message, "Dr. Dana Jones")
	assert.Equal(t, c.ID, events[0].CaseID)
}

func TestReviewCompletesCase(t *testing.T) {
	f := newFixture(t)
	c := f.submitToPool(t, "pneumonia", 0.7, "")
	_, err := f.svc.Accept(context.Background(), f.doctor, c.ID)
	require.NoError(t, err)

	c, err = f.svc.Review(context.Background(), f.doctor, c.ID, &model.ReviewCaseRequest{
		Notes:     "consistent with bacterial pneumonia",
		Diagnosis: "Pneumonia",
	})
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusCompleted, c.Status)
	assert.True(t, c.ReviewedByDoctor)

	events := f.notif.forRecipient(f.patient.ID)
	require.NotEmpty(t, events)
	assert.Contains(t, events[len(events)-1].Message, "Pneumonia")
}

func TestReviewDefersToLabWhenTestPending(t *testing.T) {
	f := newFixture(t)
	c := f.submitToPool(t, "pneumonia", 0.8, "")
	_, err := f.svc.Accept(context.Background(), f.doctor, c.ID)
	require.NoError(t, err)

	_, err = f.svc.OrderTest(context.Background(), f.doctor, c.ID, &model.OrderTestRequest{TestType: "X-Ray"})
	require.NoError(t, err)
	_, err = f.svc.BookTest(context.Background(), f.patient, c.ID)
	require.NoError(t, err)

	c, err = f.svc.Review(context.Background(), f.doctor, c.ID, &model.ReviewCaseRequest{Notes: "await imaging"})
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusWaitingLab, c.Status)
	assert.False(t, c.ReviewedByDoctor)
}

func TestReviewRejectsUnassignedDoctor(t *testing.T) {
	f := newFixture(t)
	c := f.submitToPool(t, "asthma", 0.5, "")

	_, err := f.svc.Review(context.Background(), f.doctor, c.ID, &model.ReviewCaseRequest{Notes: "n"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization))
}

func TestReviewTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	c := f.submitToPool(t, "asthma", 0.5, "")
	_, err := f.svc.Accept(context.Background(), f.doctor, c.ID)
	require.NoError(t, err)

	_, err = f.svc.Review(context.Background(), f.doctor, c.ID, &model.ReviewCaseRequest{Notes: "first"})
	require.NoError(t, err)

	_, err = f.svc.Review(context.Background(), f.doctor, c.ID, &model.ReviewCaseRequest{Notes: "second"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
}

func TestOrderTestRequiresAssignedDoctor(t *testing.T) {
	f := newFixture(t)
	c := f.submitToPool(t, "asthma", 0.5, "")

	_, err := f.svc.OrderTest(context.Background(), f.doctor, c.ID, &model.OrderTestRequest{TestType: "X-Ray"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization))
}

func TestBookTestRequiresRecommended(t *testing.T) {
	f := newFixture(t)
	c := f.submitToPool(t, "asthma", 0.5, "")

	_, err := f.svc.BookTest(context.Background(), f.patient, c.ID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
}

func TestScheduleTestParsesTimestamp(t *testing.T) {
	f := newFixture(t)
	c := f.submitToPool(t, "asthma", 0.5, "")
	_, err := f.svc.Accept(context.Background(), f.doctor, c.ID)
	require.NoError(t, err)
	_, err = f.svc.OrderTest(context.Background(), f.doctor, c.ID, &model.OrderTestRequest{TestType: "CT"})
	require.NoError(t, err)

	c, err = f.svc.ScheduleTest(context.Background(), f.patient, c.ID, &model.ScheduleTestRequest{
		Date: "2026-09-15T10:30:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, model.TestStatusScheduled, c.TestStatus)
	require.NotNil(t, c.ScheduledDate)
	assert.Equal(t, 15, c.ScheduledDate.Day())

	_, err = f.svc.ScheduleTest(context.Background(), f.patient, c.ID, &model.ScheduleTestRequest{
		Date: "next tuesday",
	})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestScheduleTestRequiresOrder(t *testing.T) {
	f := newFixture(t)
	c := f.submitToPool(t, "asthma", 0.5, "")

	_, err := f.svc.ScheduleTest(context.Background(), f.patient, c.ID, &model.ScheduleTestRequest{
		Date: "2026-09-15T10:30:00Z",
	})
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
}

func TestDeleteOwnerOnly(t *testing.T) {
	f := newFixture(t)
	c := f.submitCase(t, "asthma", 0.5, "")

	other := model.Actor{ID: uuid.New(), Role: model.RolePatient}
	err := f.svc.Delete(context.Background(), other, c.ID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuthorization))

	require.NoError(t, f.svc.Delete(context.Background(), f.patient, c.ID))
	_, err = f.svc.Get(context.Background(), f.patient, c.ID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestDashboardSweepsExpiredAssignments(t *testing.T) {
	f := newFixture(t)
	c := f.submitToPool(t, "pneumonia", 0.7, "")
	_, err := f.svc.Accept(context.Background(), f.doctor, c.ID)
	require.NoError(t, err)

	// Age the assignment past the timeout.
	f.cases.mu.Lock()
	stale := time.Now().Add(-16 * time.Minute)
	f.cases.cases[c.ID].AssignedAt = &stale
	f.cases.mu.Unlock()

	dash, err := f.svc.Dashboard(context.Background(), f.doctor)
	require.NoError(t, err)
	assert.Empty(t, dash.MyCases)
	require.Len(t, dash.OpenPool, 1)
	assert.Equal(t, c.ID, dash.OpenPool[0].ID)
	assert.Nil(t, dash.OpenPool[0].AssignedDoctorID)
	assert.Nil(t, dash.OpenPool[0].AssignedAt)
}

func TestDashboardKeepsFreshAssignments(t *testing.T) {
	f := newFixture(t)
	c := f.submitToPool(t, "pneumonia", 0.7, "")
	_, err := f.svc.Accept(context.Background(), f.doctor, c.ID)
	require.NoError(t, err)

	dash, err := f.svc.Dashboard(context.Background(), f.doctor)
	require.NoError(t, err)
	require.Len(t, dash.MyCases, 1)
	assert.Equal(t, c.ID, dash.MyCases[0].ID)
	assert.Empty(t, dash.OpenPool)
}

func TestLabReportUploadRescoresAndCompletes(t *testing.T) {
	f := newFixture(t)
	c := f.submitToPool(t, "pneumonia", 0.8, "")
	_, err := f.svc.Accept(context.Background(), f.doctor, c.ID)
	require.NoError(t, err)
	_, err = f.svc.OrderTest(context.Background(), f.doctor, c.ID, &model.OrderTestRequest{TestType: "X-Ray"})
	require.NoError(t, err)
	_, err = f.svc.BookTest(context.Background(), f.patient, c.ID)
	require.NoError(t, err)
	_, err = f.svc.Review(context.Background(), f.doctor, c.ID, &model.ReviewCaseRequest{Notes: "await imaging"})
	require.NoError(t, err)

	_, err = f.svc.AddLabNotes(context.Background(), f.tech, c.ID, &model.LabNotesRequest{Notes: "sample received"})
	require.NoError(t, err)

	f.scorer.imageResult = &model.ScoringResult{Label: "covid", Confidence: 0.9}
	c, err = f.svc.UploadReport(context.Background(), f.tech, c.ID, "/reports/xray.png", "xray", []byte{0xFF})
	require.NoError(t, err)

	assert.Equal(t, model.TestStatusCompleted, c.TestStatus)
	assert.Equal(t, model.CaseStatusCompleted, c.Status)
	assert.True(t, c.ReviewedByDoctor)
	// image serious band: 5 + 5*0.9
	assert.InDelta(t, 9.5, c.SeverityScore, 0.001)
	assert.True(t, strings.HasPrefix(c.LabNotes, "sample received"))
	assert.Contains(t, c.LabNotes, "[AI Analysis]: covid (0.90)")

	reports, err := f.svc.CaseReports(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "/reports/xray.png", reports[0].FilePath)
}

func TestLabIntakeCreatesCompletedCase(t *testing.T) {
	f := newFixture(t)
	f.scorer.imageResult = &model.ScoringResult{Label: "tuberculosis", Confidence: 0.6}

	c, err := f.svc.LabIntake(context.Background(), f.tech, f.patient.ID, "", "/reports/walkin.png", []byte{0xFF})
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusCompleted, c.Status)
	assert.Equal(t, model.TestStatusCompleted, c.TestStatus)
	assert.Equal(t, "Pat Smith", c.PatientName)
	assert.InDelta(t, 8.0, c.SeverityScore, 0.001)
}

func TestSearchPatientsSynthesizesPlaceholderRows(t *testing.T) {
	f := newFixture(t)

	rows, err := f.svc.SearchPatients(context.Background(), "pat")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.CaseStatusSearchResult, rows[0].Status)
	assert.Equal(t, f.patient.ID, rows[0].PatientID)

	f.submitCase(t, "asthma", 0.5, "")
	rows, err = f.svc.SearchPatients(context.Background(), "pat")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotEqual(t, model.CaseStatusSearchResult, rows[0].Status)
}

func TestLabTasksSplitsQueueAndMine(t *testing.T) {
	f := newFixture(t)
	c := f.submitToPool(t, "asthma", 0.5, "")
	_, err := f.svc.Accept(context.Background(), f.doctor, c.ID)
	require.NoError(t, err)
	_, err = f.svc.OrderTest(context.Background(), f.doctor, c.ID, &model.OrderTestRequest{TestType: "X-Ray"})
	require.NoError(t, err)
	_, err = f.svc.BookTest(context.Background(), f.patient, c.ID)
	require.NoError(t, err)

	tasks, err := f.svc.ListLabTasks(context.Background(), f.tech)
	require.NoError(t, err)
	assert.Empty(t, tasks.MyCases)
	require.Len(t, tasks.Queue, 1)

	_, err = f.svc.AssignLabTech(context.Background(), f.tech, c.ID, &model.AssignLabTechRequest{LabTechID: f.tech.ID})
	require.NoError(t, err)

	tasks, err = f.svc.ListLabTasks(context.Background(), f.tech)
	require.NoError(t, err)
	require.Len(t, tasks.MyCases, 1)
	assert.Equal(t, model.TestStatusInProgress, tasks.MyCases[0].TestStatus)
	assert.Empty(t, tasks.Queue)
}

func TestStatsCountsClosedCases(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		c := f.submitToPool(t, "asthma", 0.5, "")
		_, err := f.svc.Accept(context.Background(), f.doctor, c.ID)
		require.NoError(t, err)
		_, err = f.svc.Review(context.Background(), f.doctor, c.ID, &model.ReviewCaseRequest{Notes: "done"})
		require.NoError(t, err)
	}

	stats, err := f.svc.Stats(context.Background(), f.doctor)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalCasesClosed)
}
