package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medifusion/triage-api/internal/model"
	"github.com/medifusion/triage-api/internal/repository"
	"github.com/medifusion/triage-api/pkg/messaging"
)

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
	cp := *c
	r.cases[c.ID] = &cp
	return nil
}

func (r *fakeCaseRepo) Delete(context.Context, uuid.UUID) error { return nil }

func (r *fakeCaseRepo) ListByPatient(context.Context, uuid.UUID) ([]*model.PatientCase, error) {
	return nil, nil
}
func (r *fakeCaseRepo) ListAssigned(context.Context, uuid.UUID) ([]*model.PatientCase, error) {
	return nil, nil
}
func (r *fakeCaseRepo) ListOpenPool(context.Context) ([]*model.PatientCase, error) { return nil, nil }
func (r *fakeCaseRepo) ListClosedBy(context.Context, uuid.UUID) ([]*model.PatientCase, error) {
	return nil, nil
}
func (r *fakeCaseRepo) ListByLabTech(context.Context, uuid.UUID) ([]*model.PatientCase, error) {
	return nil, nil
}
func (r *fakeCaseRepo) ListPendingTests(context.Context) ([]*model.PatientCase, error) {
	return nil, nil
}

func (r *fakeCaseRepo) ListUnscored(_ context.Context, limit int) ([]*model.PatientCase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.PatientCase
	for _, c := range r.cases {
		if len(out) == limit {
			break
		}
		if (c.Symptoms != "" && c.SymptomResult == nil) ||
			(c.UploadedFile != "" && c.ImageResult == nil) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeCaseRepo) CountClosedBy(context.Context, uuid.UUID) (int, error) { return 0, nil }
func (r *fakeCaseRepo) SetAssignment(context.Context, uuid.UUID, *uuid.UUID, *time.Time) error {
	return nil
}
func (r *fakeCaseRepo) AcceptAssignment(context.Context, uuid.UUID, uuid.UUID, time.Time) error {
	return nil
}
func (r *fakeCaseRepo) ApplyReview(context.Context, *repository.ReviewUpdate) error { return nil }
func (r *fakeCaseRepo) ReleaseExpired(context.Context, time.Time) (int64, error)   { return 0, nil }

type fakeScorer struct {
	result *model.ScoringResult
	err    error
}

func (s *fakeScorer) ScoreSymptoms(context.Context, string) (*model.ScoringResult, error) {
	return s.result, s.err
}

func (s *fakeScorer) ScoreImage(context.Context, []byte) (*model.ScoringResult, error) {
	return s.result, s.err
}

type fakeBroker struct {
	ch chan []byte
}

func (b *fakeBroker) Publish(_ context.Context, _ string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	b.ch <- payload
	return nil
}

func (b *fakeBroker) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}

func (b *fakeBroker) Close() error { return nil }

func TestReprocessFillsSentinelResult(t *testing.T) {
	repo := newFakeCaseRepo()
	c := &model.PatientCase{
		Base:          model.Base{ID: uuid.New()},
		Symptoms:      "fever and cough",
		SymptomResult: model.SentinelFailure(),
		Status:        model.CaseStatusNew,
	}
	require.NoError(t, repo.Create(context.Background(), c))

	logger := zerolog.Nop()
	r := NewReprocessor(repo, &fakeScorer{
		result: &model.ScoringResult{Label: "pneumonia", Confidence: 0.9},
	}, nil, &logger, nil)

	r.reprocess(context.Background(), c)

	stored, err := repo.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "pneumonia", stored.SymptomResult.Label)
	assert.Equal(t, model.CaseStatusPredicted, stored.Status)
	// 0.4 weight on the symptom confidence, scaled to 0-10.
	assert.InDelta(t, 3.6, stored.SeverityScore, 0.001)
}

func TestReprocessLeavesScoredCaseAlone(t *testing.T) {
	repo := newFakeCaseRepo()
	c := &model.PatientCase{
		Base:          model.Base{ID: uuid.New()},
		Symptoms:      "fever",
		SymptomResult: &model.ScoringResult{Label: "asthma", Confidence: 0.5},
		SeverityScore: 5.5,
		Status:        model.CaseStatusSubmitted,
	}
	require.NoError(t, repo.Create(context.Background(), c))

	logger := zerolog.Nop()
	r := NewReprocessor(repo, &fakeScorer{
		result: &model.ScoringResult{Label: "pneumonia", Confidence: 0.9},
	}, nil, &logger, nil)

	r.reprocess(context.Background(), c)

	stored, err := repo.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "asthma", stored.SymptomResult.Label)
	assert.Equal(t, 5.5, stored.SeverityScore)
	assert.Equal(t, model.CaseStatusSubmitted, stored.Status)
}

func TestReprocessKeepsStatusOfSubmittedCases(t *testing.T) {
	repo := newFakeCaseRepo()
	c := &model.PatientCase{
		Base:          model.Base{ID: uuid.New()},
		Symptoms:      "fever",
		SymptomResult: model.SentinelFailure(),
		Status:        model.CaseStatusSubmitted,
	}
	require.NoError(t, repo.Create(context.Background(), c))

	logger := zerolog.Nop()
	r := NewReprocessor(repo, &fakeScorer{
		result: &model.ScoringResult{Label: "covid", Confidence: 0.8},
	}, nil, &logger, nil)

	r.reprocess(context.Background(), c)

	stored, err := repo.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusSubmitted, stored.Status)
}

func TestRunConsumesBrokerMessages(t *testing.T) {
	repo := newFakeCaseRepo()
	c := &model.PatientCase{
		Base:     model.Base{ID: uuid.New()},
		Symptoms: "fever",
		Status:   model.CaseStatusNew,
	}
	require.NoError(t, repo.Create(context.Background(), c))

	broker := &fakeBroker{ch: make(chan []byte, 1)}
	logger := zerolog.Nop()
	r := NewReprocessor(repo, &fakeScorer{
		result: &model.ScoringResult{Label: "tuberculosis", Confidence: 0.7},
	}, broker, &logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.NoError(t, broker.Publish(ctx, messaging.ChannelReprocess,
		messaging.ReprocessMessage{CaseID: c.ID.String()}))

	require.Eventually(t, func() bool {
		stored, err := repo.Get(context.Background(), c.ID)
		return err == nil && stored.SymptomResult != nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	stored, err := repo.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusPredicted, stored.Status)
}

func TestRunIgnoresMalformedMessages(t *testing.T) {
	repo := newFakeCaseRepo()
	broker := &fakeBroker{ch: make(chan []byte, 2)}
	logger := zerolog.Nop()
	r := NewReprocessor(repo, &fakeScorer{}, broker, &logger, nil)

	broker.ch <- []byte("not json")
	broker.ch <- []byte(`{"case_id": "not-a-uuid"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
