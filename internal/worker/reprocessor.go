// Package worker runs the background rescoring loop: cases whose inline
// scoring failed (or never ran) get their missing results filled in and
// a combined severity computed.
package worker

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medifusion/triage-api/internal/model"
	"github.com/medifusion/triage-api/internal/repository"
	"github.com/medifusion/triage-api/internal/scoring"
	"github.com/medifusion/triage-api/internal/severity"
	"github.com/medifusion/triage-api/pkg/messaging"
	"github.com/medifusion/triage-api/pkg/metrics"
)

const (
	sweepInterval = 5 * time.Minute
	sweepBatch    = 50
)

type Reprocessor struct {
	cases   repository.CaseRepository
	scorer  scoring.Scorer
	broker  messaging.Broker
	logger  *zerolog.Logger
	metrics *metrics.Metrics
}

func NewReprocessor(cases repository.CaseRepository, scorer scoring.Scorer, broker messaging.Broker, logger *zerolog.Logger, m *metrics.Metrics) *Reprocessor {
	return &Reprocessor{
		cases:   cases,
		scorer:  scorer,
		broker:  broker,
		logger:  logger,
		metrics: m,
	}
}

// Run consumes the reprocess channel and, on a timer, picks up cases the
// channel missed. Blocks until the context is cancelled. Redelivery is
// harmless: rescoring an already-scored case is a no-op.
func (r *Reprocessor) Run(ctx context.Context) error {
	var msgs <-chan []byte
	if r.broker != nil {
		ch, err := r.broker.Subscribe(ctx, messaging.ChannelReprocess)
		if err != nil {
			r.logger.Error().Err(err).Msg("failed to subscribe, falling back to polling only")
		} else {
			msgs = ch
		}
	}

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			r.handleMessage(ctx, payload)
		case <-ticker.C:
			r.pollUnscored(ctx)
		}
	}
}

func (r *Reprocessor) handleMessage(ctx context.Context, payload []byte) {
	var msg messaging.ReprocessMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		r.logger.Error().Err(err).Msg("malformed reprocess message")
		return
	}
	id, err := uuid.Parse(msg.CaseID)
	if err != nil {
		r.logger.Error().Err(err).Str("case_id", msg.CaseID).Msg("malformed case id")
		return
	}

	c, err := r.cases.Get(ctx, id)
	if err != nil {
		r.logger.Warn().Err(err).Str("case_id", msg.CaseID).Msg("reprocess target missing")
		return
	}
	r.reprocess(ctx, c)
}

func (r *Reprocessor) pollUnscored(ctx context.Context) {
	cases, err := r.cases.ListUnscored(ctx, sweepBatch)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list unscored cases")
		return
	}
	for _, c := range cases {
		r.reprocess(ctx, c)
	}
}

// reprocess fills in whichever modality result is missing or sentinel,
// then recomputes the combined severity.
func (r *Reprocessor) reprocess(ctx context.Context, c *model.PatientCase) {
	changed := false

	if c.Symptoms != "" && (c.SymptomResult == nil || c.SymptomResult.IsSentinel()) {
		result, err := r.scorer.ScoreSymptoms(ctx, c.Symptoms)
		if err != nil {
			r.logger.Warn().Err(err).Str("case_id", c.ID.String()).Msg("symptom rescore failed")
			if r.metrics != nil {
				r.metrics.ReprocessFailed.Inc()
			}
		} else {
			c.SymptomResult = result
			changed = true
		}
	}

	if c.UploadedFile != "" && (c.ImageResult == nil || c.ImageResult.IsSentinel()) {
		image, err := os.ReadFile(c.UploadedFile)
		if err != nil {
			r.logger.Warn().Err(err).Str("case_id", c.ID.String()).Msg("uploaded file unreadable")
		} else {
			result, serr := r.scorer.ScoreImage(ctx, image)
			if serr != nil {
				r.logger.Warn().Err(serr).Str("case_id", c.ID.String()).Msg("image rescore failed")
				if r.metrics != nil {
					r.metrics.ReprocessFailed.Inc()
				}
			} else {
				c.ImageResult = result
				changed = true
			}
		}
	}

	if !changed {
		return
	}

	// Combined yields a 0-1 confidence; severity lives on the 0-10 scale.
	c.SeverityScore = severity.Combined(c.ImageResult, c.SymptomResult) * 10
	if c.Status == model.CaseStatusNew {
		c.Status = model.CaseStatusPredicted
	}

	if err := r.cases.Update(ctx, c); err != nil {
		r.logger.Error().Err(err).Str("case_id", c.ID.String()).Msg("failed to persist rescored case")
		return
	}
	if r.metrics != nil {
		r.metrics.ReprocessedCases.Inc()
	}
	r.logger.Info().
		Str("case_id", c.ID.String()).
		Float64("severity", c.SeverityScore).
		Msg("case rescored")
}
