// Package severity derives a 0-10 urgency score from a scoring result.
// It is not a clinical diagnosis; doctors may override it at review time.
package severity

import (
	"math"
	"strings"

	"github.com/medifusion/triage-api/internal/model"
)

// Modality selects the band table. The serious bands differ between the
// image path (5 + 5c) and the symptom path (6 + 4c); both are kept as
// configured, pending product clarification on unifying them.
type Modality int

const (
	ModalityImage Modality = iota
	ModalitySymptom
)

var (
	normalLabels   = []string{"normal", "healthy"}
	seriousLabels  = []string{"pneumonia", "covid", "tuberculosis", "severe"}
	moderateLabels = []string{"asthma", "bronchitis"}
)

const urgencyBoost = 2.0

// Compute maps a scoring result to a severity score in [0, 10], rounded
// to two decimal places. A missing result scores zero. Confidence outside
// [0, 1] is clamped.
func Compute(res *model.ScoringResult, m Modality) float64 {
	if res == nil {
		return 0
	}

	c := res.Confidence
	if c < 0 || math.IsNaN(c) {
		c = 0
	}
	if c > 1 {
		c = 1
	}

	label := strings.ToLower(res.Label)

	var score float64
	switch {
	case containsAny(label, normalLabels):
		score = c * 2.0 // 0-2
	case containsAny(label, seriousLabels):
		if m == ModalityImage {
			score = 5.0 + c*5.0 // 5-10
		} else {
			score = 6.0 + c*4.0 // 6-10
		}
	case containsAny(label, moderateLabels):
		score = 4.0 + c*3.0 // 4-7
	default:
		score = 3.0 + c*4.0 // 3-7
	}

	if res.Urgency == model.UrgencyHigh {
		score = math.Min(10.0, score+urgencyBoost)
	}

	return round2(score)
}

// Combined produces the background-rescore severity from both modality
// results, weighted 60% image / 40% symptoms. Non-serious labels
// contribute a low floor instead of their confidence.
func Combined(image, symptom *model.ScoringResult) float64 {
	return round2(seriousWeight(image)*0.6 + seriousWeight(symptom)*0.4)
}

func seriousWeight(res *model.ScoringResult) float64 {
	if res == nil {
		return 0
	}
	if containsAny(strings.ToLower(res.Label), seriousLabels) {
		c := res.Confidence
		if c < 0 || c > 1 || math.IsNaN(c) {
			return 0
		}
		return c
	}
	return 0.1
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
