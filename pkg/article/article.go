package article

import (
	"strings"
	"time"
)

// Metrics holds the engagement counters of a published article.
// Counters only ever grow; dwell time is optional.
type Metrics struct {
	Views           int      `json:"views" db:"views"`
	Comments        int      `json:"comments" db:"comments"`
	Shares          int      `json:"shares" db:"shares"`
	AvgDwellSeconds *float64 `json:"avg_dwell_seconds,omitempty" db:"avg_dwell_seconds"`
}

// Merge returns m with every counter raised to at least the value in other.
func (m Metrics) Merge(other Metrics) Metrics {
	out := m
	out.Views = max(m.Views, other.Views)
	out.Comments = max(m.Comments, other.Comments)
	out.Shares = max(m.Shares, other.Shares)
	if other.AvgDwellSeconds != nil {
		v := *other.AvgDwellSeconds
		out.AvgDwellSeconds = &v
	}
	return out
}

// Article is a published news article. Owned by the publishing system;
// read-only here apart from its metric counters.
type Article struct {
	ID          string    `json:"id" db:"id"`
	Region      string    `json:"region" db:"region"`
	Category    string    `json:"category" db:"category"`
	Title       string    `json:"title" db:"title"`
	Body        string    `json:"body" db:"body"`
	URL         string    `json:"url" db:"url"`
	PublishedAt time.Time `json:"published_at" db:"published_at"`
	Metrics     `json:"metrics"`
}

// AgeDays returns the article age in fractional days at now, never negative.
func (a Article) AgeDays(now time.Time) float64 {
	d := now.Sub(a.PublishedAt).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

// Text returns title and body joined for keyword scanning.
func (a Article) Text() string {
	if a.Body == "" {
		return a.Title
	}
	return a.Title + "\n" + a.Body
}

// ContainsAny reports whether text contains any of the keywords, ignoring case.
// It returns the first keyword that matched.
func ContainsAny(text string, keywords []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}
