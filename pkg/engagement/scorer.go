package engagement

import (
	"context"
	"math"
	"time"

	"github.com/elonfeng/storyradar/pkg/article"
	"github.com/elonfeng/storyradar/pkg/story"
)

// BaselineSource resolves the baseline an article is scored against.
type BaselineSource interface {
	Baseline(ctx context.Context, region, category string) Baseline
}

// StaticBaselines serves the same baseline for every lookup.
type StaticBaselines Baseline

func (s StaticBaselines) Baseline(context.Context, string, string) Baseline { return Baseline(s) }

// Scorer computes engagement scores for articles and threads. Apart from
// the baseline read it has no side effects.
type Scorer struct {
	baselines BaselineSource
	policy    Policy
	now       func() time.Time
}

// NewScorer creates a scorer. A policy that fails validation is replaced by
// DefaultPolicy.
func NewScorer(baselines BaselineSource, policy Policy) *Scorer {
	if policy.Validate() != nil {
		policy = DefaultPolicy()
	}
	if baselines == nil {
		baselines = StaticBaselines(policy.Defaults)
	}
	return &Scorer{baselines: baselines, policy: policy, now: time.Now}
}

// WithClock returns a copy of s reading the current time from now.
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	c := *s
	c.now = now
	return &c
}

// Policy returns the active scoring policy.
func (s *Scorer) Policy() Policy { return s.policy }

// ScoreArticle returns the 0-100 engagement score of a single article.
func (s *Scorer) ScoreArticle(ctx context.Context, a article.Article) float64 {
	b := s.baselines.Baseline(ctx, a.Region, a.Category)
	w := s.policy.Weights

	views := Normalize(float64(a.Views), b.Views.Mean, b.Views.StdDev)
	comments := Normalize(float64(a.Comments), b.Comments.Mean, b.Comments.StdDev)
	shares := Normalize(float64(a.Shares), b.Shares.Mean, b.Shares.StdDev)
	dwell := s.policy.NeutralScore
	if a.AvgDwellSeconds != nil {
		dwell = Normalize(*a.AvgDwellSeconds, s.policy.Dwell.Mean, s.policy.Dwell.StdDev)
	}

	score := views*w.Views + comments*w.Comments + shares*w.Shares + dwell*w.Dwell
	score = s.policy.Recency.Apply(score, a.AgeDays(s.now()))
	return clamp(score, 0, 100)
}

// IsHighEngagement compares the article score against threshold. A
// non-positive threshold uses the policy default.
func (s *Scorer) IsHighEngagement(ctx context.Context, a article.Article, threshold float64) bool {
	if threshold <= 0 {
		threshold = s.policy.HighEngagementThreshold
	}
	return s.ScoreArticle(ctx, a) >= threshold
}

// ScoreThread returns the 0-100 score of a thread. Later articles weigh
// more; momentum and comment volume add bonuses.
func (s *Scorer) ScoreThread(ctx context.Context, t *story.Thread) float64 {
	articles := t.Chronological()
	if len(articles) == 0 {
		return 0
	}

	var weighted, weights float64
	totalComments := 0
	for i, a := range articles {
		w := 1 + 0.2*float64(i)
		weighted += s.ScoreArticle(ctx, a) * w
		weights += w
		totalComments += a.Comments
	}

	score := weighted / weights
	score += Momentum(articles) * 10
	score += math.Min(10, float64(totalComments)/10)
	return clamp(score, 0, 100)
}

// Momentum compares mean views of the later half of a chronologically
// sorted article list to the earlier half, clamped to [-1, 1].
func Momentum(chronological []article.Article) float64 {
	if len(chronological) < 2 {
		return 0
	}
	mid := len(chronological) / 2
	first := meanViews(chronological[:mid])
	second := meanViews(chronological[mid:])
	if first == 0 {
		return 0
	}
	return clamp((second-first)/first, -1, 1)
}

func meanViews(articles []article.Article) float64 {
	if len(articles) == 0 {
		return 0
	}
	var sum float64
	for _, a := range articles {
		sum += float64(a.Views)
	}
	return sum / float64(len(articles))
}

// FollowUpPriority ranks how urgently a thread deserves follow-up coverage.
// The result is additive over several bands and capped at 100.
func (s *Scorer) FollowUpPriority(ctx context.Context, t *story.Thread) float64 {
	articles := t.Chronological()
	score := s.ScoreThread(ctx, t)

	var p float64
	switch {
	case score >= 80:
		p += 30
	case score >= 60:
		p += 20
	case score >= 40:
		p += 10
	}

	comments := 0
	for _, a := range articles {
		comments += a.Comments
	}
	switch {
	case comments >= 100:
		p += 25
	case comments >= 50:
		p += 15
	case comments >= 20:
		p += 10
	}

	last := t.LastArticleAt
	if last.IsZero() && len(articles) > 0 {
		last = articles[len(articles)-1].PublishedAt
	}
	if !last.IsZero() {
		days := s.now().Sub(last).Hours() / 24
		switch {
		case days <= 1:
			p += 20
		case days <= 3:
			p += 15
		case days <= 7:
			p += 10
		}
	}

	if m := Momentum(articles); m > 0 {
		p += math.Min(15, m*10)
	}

	p += s.policy.CategoryBonus(t.Category)
	return math.Min(100, p)
}

// Report is a summary of a thread's engagement.
type Report struct {
	ThreadID         string  `json:"thread_id"`
	Score            float64 `json:"score"`
	Momentum         float64 `json:"momentum"`
	TotalComments    int     `json:"total_comments"`
	FollowUpPriority float64 `json:"follow_up_priority"`
}

// Report scores a thread and collects its headline figures.
func (s *Scorer) Report(ctx context.Context, t *story.Thread) Report {
	articles := t.Chronological()
	total := 0
	for _, a := range articles {
		total += a.Comments
	}
	return Report{
		ThreadID:         t.ID,
		Score:            s.ScoreThread(ctx, t),
		Momentum:         Momentum(articles),
		TotalComments:    total,
		FollowUpPriority: s.FollowUpPriority(ctx, t),
	}
}
