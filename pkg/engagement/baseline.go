package engagement

import (
	"math"
	"sort"
	"time"

	"github.com/elonfeng/storyradar/pkg/article"
)

// Scope records which sample set a baseline was derived from.
type Scope string

const (
	ScopeCategory Scope = "category"
	ScopeRegion   Scope = "region"
	ScopeDefault  Scope = "default"
)

// MetricBaseline is the mean and standard deviation of one metric.
type MetricBaseline struct {
	Mean   float64 `yaml:"mean" json:"mean"`
	StdDev float64 `yaml:"stddev" json:"stddev"`
}

// Baseline holds rolling engagement statistics for a (region, category).
type Baseline struct {
	Region     string         `json:"region"`
	Category   string         `json:"category"`
	Views      MetricBaseline `json:"views"`
	Comments   MetricBaseline `json:"comments"`
	Shares     MetricBaseline `json:"shares"`
	ViewsP75   float64        `json:"views_p75"`
	ViewsP90   float64        `json:"views_p90"`
	Samples    int            `json:"samples"`
	Scope      Scope          `json:"scope"`
	ComputedAt time.Time      `json:"computed_at"`
}

// DefaultBaseline is substituted whenever statistics are unavailable.
func DefaultBaseline() Baseline {
	return Baseline{
		Views:    MetricBaseline{Mean: 100, StdDev: 50},
		Comments: MetricBaseline{Mean: 5, StdDev: 3},
		Shares:   MetricBaseline{Mean: 10, StdDev: 5},
		ViewsP75: 150,
		ViewsP90: 200,
		Scope:    ScopeDefault,
	}
}

// Key identifies a baseline.
type Key struct {
	Region   string `db:"region"`
	Category string `db:"category"`
}

// computeBaseline derives statistics from a sample of article metrics.
func computeBaseline(samples []article.Metrics) Baseline {
	views := make([]float64, len(samples))
	comments := make([]float64, len(samples))
	shares := make([]float64, len(samples))
	for i, m := range samples {
		views[i] = float64(m.Views)
		comments[i] = float64(m.Comments)
		shares[i] = float64(m.Shares)
	}

	sorted := append([]float64(nil), views...)
	sort.Float64s(sorted)

	return Baseline{
		Views:    meanStdDev(views),
		Comments: meanStdDev(comments),
		Shares:   meanStdDev(shares),
		ViewsP75: percentile(sorted, 75),
		ViewsP90: percentile(sorted, 90),
		Samples:  len(samples),
	}
}

// regionBaseline derives a region-wide fallback. Shares are substituted
// from the view average when the region has no share data at all.
func regionBaseline(samples []article.Metrics) Baseline {
	b := computeBaseline(samples)
	hasShares := false
	for _, m := range samples {
		if m.Shares > 0 {
			hasShares = true
			break
		}
	}
	if !hasShares {
		b.Shares = MetricBaseline{Mean: b.Views.Mean * 0.1, StdDev: b.Views.Mean * 0.05}
	}
	return b
}

func meanStdDev(values []float64) MetricBaseline {
	if len(values) == 0 {
		return MetricBaseline{}
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return MetricBaseline{Mean: mean, StdDev: math.Sqrt(sq / float64(len(values)))}
}

// percentile uses nearest-rank on an ascending slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
