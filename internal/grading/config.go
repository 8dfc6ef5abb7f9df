package grading

import (
	"fmt"

	"github.com/noah-isme/uni-records-api/internal/models"
	"github.com/noah-isme/uni-records-api/pkg/config"
)

// FromConfig builds a Policy from the environment supplied grading table.
// Empty weight tables fall back to DefaultWeights for that course type.
func FromConfig(cfg config.GradingConfig) (*Policy, error) {
	defaults := DefaultWeights()
	weights := map[models.CourseType]Weights{
		models.CourseTypeTheoretical: defaults[models.CourseTypeTheoretical],
		models.CourseTypePractical:   defaults[models.CourseTypePractical],
	}
	if len(cfg.TheoreticalWeights) > 0 {
		weights[models.CourseTypeTheoretical] = toWeights(cfg.TheoreticalWeights)
	}
	if len(cfg.PracticalWeights) > 0 {
		weights[models.CourseTypePractical] = toWeights(cfg.PracticalWeights)
	}

	bands := make([]Band, 0, len(cfg.LetterScale))
	for _, band := range cfg.LetterScale {
		bands = append(bands, Band{LowerBound: band.LowerBound, Label: band.Label})
	}

	failLabel := cfg.FailLabel
	if failLabel == "" {
		failLabel = "Fail"
	}
	policy, err := NewPolicy(weights, bands, failLabel)
	if err != nil {
		return nil, fmt.Errorf("build grading policy: %w", err)
	}
	return policy, nil
}

func toWeights(raw map[string]float64) Weights {
	out := make(Weights, len(raw))
	for name, weight := range raw {
		out[Component(name)] = weight
	}
	return out
}
