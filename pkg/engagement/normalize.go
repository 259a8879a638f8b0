package engagement

import "math"

// Normalize maps a raw metric onto 0-100 with a z-score transform.
// The baseline mean lands on 50 and each standard deviation moves the
// score by 25, so mean±2σ hit the bounds. A degenerate stddev is replaced
// by max(1, 0.3·mean).
func Normalize(v, mean, stddev float64) float64 {
	if stddev <= 0 {
		stddev = math.Max(1, 0.3*mean)
	}
	z := (v - mean) / stddev
	return clamp(50+25*z, 0, 100)
}

// Apply adjusts score for an article ageDays old: a small linear bonus
// inside the fresh window, exponential decay per period after it.
func (r Recency) Apply(score, ageDays float64) float64 {
	if ageDays < 0 {
		ageDays = 0
	}
	if ageDays <= r.FreshDays {
		return score * (1 + r.FreshBonus*(r.FreshDays-ageDays))
	}
	return score * math.Pow(r.DecayFactor, (ageDays-r.FreshDays)/r.DecayPeriodDays)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(hi, math.Max(lo, v))
}
