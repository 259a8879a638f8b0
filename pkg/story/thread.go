package story

import (
	"sort"
	"strings"
	"time"

	"github.com/elonfeng/storyradar/pkg/article"
)

// Status is the lifecycle state of a thread.
type Status string

const (
	StatusDeveloping Status = "developing"
	StatusMonitoring Status = "monitoring"
	StatusResolved   Status = "resolved"
	StatusDormant    Status = "dormant"
)

// ParseStatus returns the status named by s, or false when s is not a known status.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusDeveloping, StatusMonitoring, StatusResolved, StatusDormant:
		return st, true
	}
	return "", false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusDormant
}

// CanTransition reports whether s may move to next.
// Terminal states never move; a status never "transitions" to itself.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() || s == next {
		return false
	}
	switch s {
	case StatusDeveloping:
		return next == StatusMonitoring || next == StatusResolved || next == StatusDormant
	case StatusMonitoring:
		return next == StatusDeveloping || next == StatusResolved || next == StatusDormant
	}
	return false
}

// ActiveStatuses are the statuses whose threads accept new articles.
func ActiveStatuses() []Status {
	return []Status{StatusDeveloping, StatusMonitoring}
}

// NormalizeLabel folds a category-like label to its canonical form:
// trimmed, lower case, inner spaces as underscores.
func NormalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, " ", "_")
}

// Priority is the editorial urgency of a thread.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank orders priorities; higher is more urgent. Unknown priorities rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Role describes why an article belongs to a thread.
type Role string

const (
	RoleOrigin   Role = "origin"
	RoleFollowUp Role = "follow_up"
)

// Member is an article attached to a thread.
type Member struct {
	Article  article.Article `json:"article"`
	Sequence int             `json:"sequence"`
	Role     Role            `json:"role"`
	AddedAt  time.Time       `json:"added_at"`
}

// KeyDate is a dated event relevant to the story.
type KeyDate struct {
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	Importance  string    `json:"importance"`
}

// Entities are the structured actors and anchors of a story.
type Entities struct {
	People        []string  `json:"people"`
	Organizations []string  `json:"organizations"`
	Locations     []string  `json:"locations"`
	Dates         []KeyDate `json:"dates"`
}

// Thread is one ongoing real-world story composed of one or more articles.
type Thread struct {
	ID                 string    `json:"id"`
	Region             string    `json:"region"`
	Title              string    `json:"title"`
	Summary            string    `json:"summary"`
	Category           string    `json:"category"`
	Subcategory        string    `json:"subcategory"`
	Tags               []string  `json:"tags"`
	Priority           Priority  `json:"priority"`
	Status             Status    `json:"status"`
	Members            []Member  `json:"members"`
	Entities           Entities  `json:"entities"`
	PredictedBeats     []Beat    `json:"predicted_beats"`
	MonitoringKeywords []string  `json:"monitoring_keywords"`
	FirstArticleAt     time.Time `json:"first_article_at"`
	LastArticleAt      time.Time `json:"last_article_at"`
	NextCheckAt        time.Time `json:"next_check_at"`
	Version            int       `json:"version"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Chronological returns the member articles sorted by publication time.
// Ties keep sequence order.
func (t *Thread) Chronological() []article.Article {
	members := make([]Member, len(t.Members))
	copy(members, t.Members)
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].Article.PublishedAt.Equal(members[j].Article.PublishedAt) {
			return members[i].Sequence < members[j].Sequence
		}
		return members[i].Article.PublishedAt.Before(members[j].Article.PublishedAt)
	})
	out := make([]article.Article, len(members))
	for i, m := range members {
		out[i] = m.Article
	}
	return out
}

// HasArticle reports whether the article is already a member.
func (t *Thread) HasArticle(articleID string) bool {
	for _, m := range t.Members {
		if m.Article.ID == articleID {
			return true
		}
	}
	return false
}

// Beat is a predicted future development in a story.
type Beat struct {
	ID           string     `json:"id"`
	ThreadID     string     `json:"thread_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	ExpectedDate *time.Time `json:"expected_date,omitempty"`
	Likelihood   int        `json:"likelihood"`
	CreatedAt    time.Time  `json:"created_at"`
}
