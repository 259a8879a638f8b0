package match

import (
	"strings"

	"github.com/elonfeng/storyradar/pkg/article"
	"github.com/elonfeng/storyradar/pkg/oracle"
	"github.com/elonfeng/storyradar/pkg/story"
)

// Weights split the 100-point match score across signals.
type Weights struct {
	People   float64 `yaml:"people"`
	Keywords float64 `yaml:"keywords"`
	Title    float64 `yaml:"title"`
	Category float64 `yaml:"category"`
}

// Policy is the matching configuration.
type Policy struct {
	Weights  Weights
	MinScore float64
}

// DefaultPolicy is the 40/30/20/10 split with a floor of 50.
func DefaultPolicy() Policy {
	return Policy{
		Weights:  Weights{People: 40, Keywords: 30, Title: 20, Category: 10},
		MinScore: 50,
	}
}

// Breakdown is the per-signal contribution to a match score.
type Breakdown struct {
	People   float64 `json:"people"`
	Keywords float64 `json:"keywords"`
	Title    float64 `json:"title"`
	Category float64 `json:"category"`
}

// Total returns the summed match score.
func (b Breakdown) Total() float64 {
	return b.People + b.Keywords + b.Title + b.Category
}

// Result is the outcome of matching an article against candidate threads.
type Result struct {
	Thread    *story.Thread
	Score     float64
	Breakdown Breakdown
}

// Matcher decides whether a new article continues an existing thread.
type Matcher struct {
	policy Policy
}

// New creates a matcher. A zero policy means DefaultPolicy.
func New(policy Policy) *Matcher {
	if policy.Weights == (Weights{}) {
		policy = DefaultPolicy()
	}
	return &Matcher{policy: policy}
}

// FindMatchingThread returns the best-scoring candidate at or above the
// floor. Candidates are expected most recent first; ties keep the earlier
// candidate. Articles the analysis does not call ongoing never match.
func (m *Matcher) FindMatchingThread(a article.Article, an oracle.ArticleAnalysis, candidates []story.Thread) (Result, bool) {
	if !an.IsOngoingStory {
		return Result{}, false
	}
	category := an.Category
	if category == "" {
		category = a.Category
	}

	var best Result
	found := false
	for i := range candidates {
		t := &candidates[i]
		if !sameLabel(t.Category, an.Category) && !sameLabel(t.Category, a.Category) {
			continue
		}
		b := m.Score(a, an, t, category)
		if score := b.Total(); !found || score > best.Score {
			best = Result{Thread: t, Score: score, Breakdown: b}
			found = true
		}
	}
	if !found || best.Score < m.policy.MinScore {
		return Result{}, false
	}
	return best, true
}

// Score computes the weighted match of an article against one thread.
func (m *Matcher) Score(a article.Article, an oracle.ArticleAnalysis, t *story.Thread, category string) Breakdown {
	w := m.policy.Weights
	b := Breakdown{
		People:   w.People * overlap(t.Entities.People, an.People()),
		Keywords: w.Keywords * overlap(t.MonitoringKeywords, an.MonitoringKeywords),
		Title:    w.Title * TitleSimilarity(t.Title, a.Title) / 100,
	}
	if sameLabel(t.Category, category) {
		b.Category = w.Category
	}
	return b
}

// overlap is |thread ∩ incoming| / |thread|, ignoring case. An empty thread
// set contributes nothing.
func overlap(thread, incoming []string) float64 {
	base := lowerSet(thread)
	if len(base) == 0 {
		return 0
	}
	in := lowerSet(incoming)
	shared := 0
	for k := range base {
		if in[k] {
			shared++
		}
	}
	return float64(shared) / float64(len(base))
}

func lowerSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			set[v] = true
		}
	}
	return set
}

func sameLabel(a, b string) bool {
	a, b = story.NormalizeLabel(a), story.NormalizeLabel(b)
	return a != "" && a == b
}
