package oracle

import (
	"context"
	"strings"
	"time"

	"github.com/elonfeng/storyradar/pkg/article"
	"github.com/elonfeng/storyradar/pkg/story"
)

// Oracle judges articles and threads. Implementations may fail at any time;
// callers treat a failure as "not ongoing" / "no change".
type Oracle interface {
	AnalyzeArticle(ctx context.Context, a article.Article) (ArticleAnalysis, error)
	AnalyzeThread(ctx context.Context, t *story.Thread) (ThreadAnalysis, error)
}

// Entity is a named person, organization or location.
type Entity struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// KeyDate is a dated event the story is heading towards.
type KeyDate struct {
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	Importance  string    `json:"importance"`
}

// PredictedBeat is a likely future development.
type PredictedBeat struct {
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	ExpectedDate *time.Time `json:"expected_date,omitempty"`
	Likelihood   int        `json:"likelihood"`
}

// FollowUpHints steer trigger creation.
type FollowUpHints struct {
	CheckInDays int      `json:"check_in_days"`
	WatchFor    []string `json:"watch_for"`
}

// PriorityIndicators feed the priority decision table.
type PriorityIndicators struct {
	MissingPerson    bool `json:"missing_person"`
	ActiveSearch     bool `json:"active_search"`
	LegalProceedings bool `json:"legal_proceedings"`
	PublicInterest   int  `json:"public_interest"`
	TimeSensitivity  int  `json:"time_sensitivity"`
	OngoingRisk      int  `json:"ongoing_risk"`
}

// ArticleAnalysis is the judgment on a single article. Every field holds an
// explicit default when the oracle omitted or mangled it.
type ArticleAnalysis struct {
	IsOngoingStory     bool               `json:"is_ongoing_story"`
	Confidence         int                `json:"confidence"`
	ThreadTitle        string             `json:"thread_title"`
	ThreadSummary      string             `json:"thread_summary"`
	Category           string             `json:"category"`
	Subcategory        string             `json:"subcategory"`
	Tags               []string           `json:"tags"`
	KeyPeople          []Entity           `json:"key_people"`
	KeyOrganizations   []Entity           `json:"key_organizations"`
	KeyLocations       []Entity           `json:"key_locations"`
	KeyDates           []KeyDate          `json:"key_dates"`
	PredictedBeats     []PredictedBeat    `json:"predicted_beats"`
	MonitoringKeywords []string           `json:"monitoring_keywords"`
	FollowUp           FollowUpHints      `json:"follow_up_triggers"`
	Priority           PriorityIndicators `json:"priority_indicators"`
}

// People returns the key people names.
func (a ArticleAnalysis) People() []string { return names(a.KeyPeople) }

// Entities converts the analysis into the thread entity sets.
func (a ArticleAnalysis) Entities() story.Entities {
	dates := make([]story.KeyDate, len(a.KeyDates))
	for i, d := range a.KeyDates {
		dates[i] = story.KeyDate{Date: d.Date, Description: d.Description, Importance: d.Importance}
	}
	return story.Entities{
		People:        names(a.KeyPeople),
		Organizations: names(a.KeyOrganizations),
		Locations:     names(a.KeyLocations),
		Dates:         dates,
	}
}

// SuggestedArticle is a follow-up piece the newsroom could write.
type SuggestedArticle struct {
	Title         string   `json:"title"`
	Angle         string   `json:"angle"`
	SearchQueries []string `json:"search_queries"`
	Sources       []string `json:"sources"`
	Urgency       string   `json:"urgency"`
}

// ThreadAnalysis is the judgment on a whole thread.
type ThreadAnalysis struct {
	NeedsFollowUp     bool               `json:"needs_followup"`
	Confidence        int                `json:"confidence"`
	IsResolved        bool               `json:"is_resolved"`
	SuggestedArticles []SuggestedArticle `json:"suggested_articles"`
	NextCheckDays     int                `json:"next_check_days"`
	// RecommendedStatus is empty when the oracle gave no usable status.
	RecommendedStatus story.Status `json:"recommended_status"`
}

// Status resolves the status the analysis asks for. An explicit
// recommendation wins; otherwise a resolved verdict maps to resolved.
func (t ThreadAnalysis) Status() (story.Status, bool) {
	if t.RecommendedStatus != "" {
		return t.RecommendedStatus, true
	}
	if t.IsResolved {
		return story.StatusResolved, true
	}
	return "", false
}

func names(entities []Entity) []string {
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		if n := strings.TrimSpace(e.Name); n != "" {
			out = append(out, n)
		}
	}
	return out
}
