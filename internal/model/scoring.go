package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

type Urgency string

const (
	UrgencyLow     Urgency = "low"
	UrgencyMedium  Urgency = "medium"
	UrgencyHigh    Urgency = "high"
	UrgencyUnknown Urgency = "unknown"
)

// ScoringResult is the normalized output of the scoring collaborator.
// The provider's loose response shapes (label/prob vs top_label/top_prob)
// are folded into this one type at the client boundary.
type ScoringResult struct {
	Label       string       `json:"label"`
	Confidence  float64      `json:"confidence"`
	Notes       string       `json:"notes,omitempty"`
	Urgency     Urgency      `json:"urgency,omitempty"`
	Predictions []Prediction `json:"predictions,omitempty"`
}

type Prediction struct {
	Disease    string  `json:"disease"`
	Confidence float64 `json:"confidence"`
}

// SentinelFailure is the degraded result stored when the scoring
// collaborator is unavailable; case creation proceeds regardless.
func SentinelFailure() *ScoringResult {
	return &ScoringResult{
		Label:      "Error",
		Confidence: 0,
		Notes:      "scoring unavailable",
		Urgency:    UrgencyUnknown,
	}
}

// IsSentinel reports whether the result is the stored failure marker.
func (r *ScoringResult) IsSentinel() bool {
	return r != nil && r.Label == "Error" && r.Confidence == 0
}

// Value implements driver.Valuer so results persist as JSONB columns.
func (r *ScoringResult) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

// Scan implements sql.Scanner.
func (r *ScoringResult) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	default:
		return fmt.Errorf("unsupported scoring result source type %T", src)
	}
}
