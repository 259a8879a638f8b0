package engagement

import (
	"fmt"
	"math"
	"strings"
)

// PolicyVersion identifies the default scoring policy below.
const PolicyVersion = "2024.1"

// Weights are the per-signal weights of an article score. They must sum to 1.
type Weights struct {
	Views    float64 `yaml:"views" json:"views"`
	Comments float64 `yaml:"comments" json:"comments"`
	Shares   float64 `yaml:"shares" json:"shares"`
	Dwell    float64 `yaml:"dwell" json:"dwell"`
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.Views + w.Comments + w.Shares + w.Dwell
}

// Recency controls the freshness bonus and the decay of older articles.
type Recency struct {
	FreshDays       float64 `yaml:"fresh_days" json:"fresh_days"`
	FreshBonus      float64 `yaml:"fresh_bonus" json:"fresh_bonus"`
	DecayFactor     float64 `yaml:"decay_factor" json:"decay_factor"`
	DecayPeriodDays float64 `yaml:"decay_period_days" json:"decay_period_days"`
}

// Policy is the versioned configuration of the scoring engine.
type Policy struct {
	Version string

	Weights Weights
	Recency Recency

	// Dwell is the fixed dwell-time baseline in seconds.
	Dwell MetricBaseline
	// NeutralScore is used for a signal that is absent.
	NeutralScore float64

	// Defaults substitute for a baseline that cannot be computed.
	Defaults Baseline

	CategoryPriority        map[string]float64
	DefaultCategoryPriority float64

	HighEngagementThreshold float64
}

// DefaultPolicy returns the documented default scoring policy.
func DefaultPolicy() Policy {
	return Policy{
		Version: PolicyVersion,
		Weights: Weights{Views: 0.30, Comments: 0.35, Shares: 0.25, Dwell: 0.10},
		Recency: Recency{
			FreshDays:       7,
			FreshBonus:      0.01,
			DecayFactor:     0.9,
			DecayPeriodDays: 7,
		},
		Dwell:        MetricBaseline{Mean: 120, StdDev: 60},
		NeutralScore: 50,
		Defaults:     DefaultBaseline(),
		CategoryPriority: map[string]float64{
			"crime":         15,
			"public_safety": 15,
			"accident":      12,
			"legal":         10,
			"politics":      10,
			"government":    8,
			"health":        8,
			"environment":   5,
			"business":      5,
			"community":     3,
		},
		DefaultCategoryPriority: 5,
		HighEngagementThreshold: 75,
	}
}

// Validate reports a policy whose weights do not sum to 1 or whose recency
// parameters would divide by zero.
func (p Policy) Validate() error {
	if math.Abs(p.Weights.Sum()-1) > 1e-6 {
		return fmt.Errorf("scoring weights sum to %.4f, want 1.0", p.Weights.Sum())
	}
	if p.Recency.DecayPeriodDays <= 0 {
		return fmt.Errorf("decay period must be positive, got %v", p.Recency.DecayPeriodDays)
	}
	if p.Recency.DecayFactor <= 0 || p.Recency.DecayFactor > 1 {
		return fmt.Errorf("decay factor must be in (0, 1], got %v", p.Recency.DecayFactor)
	}
	return nil
}

// CategoryBonus returns the category priority bonus for category.
func (p Policy) CategoryBonus(category string) float64 {
	if v, ok := p.CategoryPriority[strings.ToLower(strings.TrimSpace(category))]; ok {
		return v
	}
	return p.DefaultCategoryPriority
}
