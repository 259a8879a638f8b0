package oracle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/elonfeng/storyradar/pkg/story"
)

var (
	// ErrMalformed is returned when the oracle reply is not a JSON object.
	ErrMalformed = errors.New("oracle: malformed response")
	// ErrDisabled is returned by the disabled oracle.
	ErrDisabled = errors.New("oracle: disabled")
)

// DecodeArticleAnalysis parses an oracle reply for a single article. Fields
// that are missing or of the wrong type fall back to defaults; only a reply
// that is not a JSON object is an error.
func DecodeArticleAnalysis(raw string) (ArticleAnalysis, error) {
	var r rawArticleAnalysis
	if err := decodeObject(raw, &r); err != nil {
		return ArticleAnalysis{}, err
	}
	return r.normalize(), nil
}

// DecodeThreadAnalysis parses an oracle reply for a thread.
func DecodeThreadAnalysis(raw string) (ThreadAnalysis, error) {
	var r rawThreadAnalysis
	if err := decodeObject(raw, &r); err != nil {
		return ThreadAnalysis{}, err
	}
	return r.normalize(), nil
}

func decodeObject(raw string, v any) error {
	body := extractObject(raw)
	if body == "" {
		return fmt.Errorf("%w: no JSON object in %q", ErrMalformed, truncateStr(raw, 200))
	}
	err := json.Unmarshal([]byte(body), v)
	var typeErr *json.UnmarshalTypeError
	if err != nil && !errors.As(err, &typeErr) {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	// Type mismatches leave the offending field at its zero value.
	return nil
}

// extractObject strips markdown fences and surrounding prose, returning the
// outermost {...} span or "" when there is none.
func extractObject(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if idx := strings.Index(raw[3:], "\n"); idx >= 0 {
			raw = raw[3+idx+1:]
		}
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return ""
	}
	return raw[start : end+1]
}

// flexBool accepts true/false, "true"/"yes"/"1" and numbers.
type flexBool struct {
	set bool
	val bool
}

func (b *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	switch x := v.(type) {
	case bool:
		b.set, b.val = true, x
	case float64:
		b.set, b.val = true, x != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "y", "1":
			b.set, b.val = true, true
		case "false", "no", "n", "0":
			b.set, b.val = true, false
		}
	}
	return nil
}

func (b flexBool) or(def bool) bool {
	if !b.set {
		return def
	}
	return b.val
}

// flexInt accepts numbers and numeric strings, rounding fractions.
type flexInt struct {
	set bool
	val int
}

func (n *flexInt) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(bytes.TrimSpace(data), &v); err != nil {
		return nil
	}
	switch x := v.(type) {
	case float64:
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			n.set, n.val = true, int(math.Round(x))
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(x), "%"), 64); err == nil {
			n.set, n.val = true, int(math.Round(f))
		}
	}
	return nil
}

func (n flexInt) or(def int) int {
	if !n.set {
		return def
	}
	return n.val
}

// flexStrings accepts a string list, a single string, or a list of objects
// with a "name" field. Non-string elements are skipped.
type flexStrings []string

func (s *flexStrings) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	var out []string
	add := func(x any) {
		switch e := x.(type) {
		case string:
			out = append(out, e)
		case map[string]any:
			if name, ok := e["name"].(string); ok {
				out = append(out, name)
			}
		}
	}
	switch x := v.(type) {
	case []any:
		for _, e := range x {
			add(e)
		}
	default:
		add(x)
	}
	*s = out
	return nil
}

// flexEntities accepts ["Name", ...] or [{"name": ..., "role": ...}, ...].
type flexEntities []Entity

func (s *flexEntities) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil
	}
	var out []Entity
	for _, item := range items {
		var name string
		if json.Unmarshal(item, &name) == nil {
			out = append(out, Entity{Name: name})
			continue
		}
		var obj struct {
			Name  string `json:"name"`
			Role  string `json:"role"`
			Title string `json:"title"`
		}
		if json.Unmarshal(item, &obj) == nil {
			if obj.Role == "" {
				obj.Role = obj.Title
			}
			out = append(out, Entity{Name: obj.Name, Role: obj.Role})
		}
	}
	*s = out
	return nil
}

type rawKeyDate struct {
	Date        string `json:"date"`
	Description string `json:"description"`
	Event       string `json:"event"`
	Importance  string `json:"importance"`
}

type rawBeat struct {
	Title        string  `json:"title"`
	Beat         string  `json:"beat"`
	Description  string  `json:"description"`
	ExpectedDate string  `json:"expected_date"`
	Likelihood   flexInt `json:"likelihood"`
}

type rawArticleAnalysis struct {
	IsOngoingStory     flexBool     `json:"is_ongoing_story"`
	Confidence         flexInt      `json:"confidence"`
	ThreadTitle        string       `json:"thread_title"`
	ThreadSummary      string       `json:"thread_summary"`
	Category           string       `json:"category"`
	Subcategory        string       `json:"subcategory"`
	Tags               flexStrings  `json:"tags"`
	KeyPeople          flexEntities `json:"key_people"`
	KeyOrganizations   flexEntities `json:"key_organizations"`
	KeyLocations       flexEntities `json:"key_locations"`
	KeyDates           []rawKeyDate `json:"key_dates"`
	PredictedBeats     []rawBeat    `json:"predicted_beats"`
	MonitoringKeywords flexStrings  `json:"monitoring_keywords"`
	FollowUpTriggers   struct {
		CheckInDays flexInt     `json:"check_in_days"`
		WatchFor    flexStrings `json:"watch_for"`
	} `json:"follow_up_triggers"`
	PriorityIndicators struct {
		MissingPerson    flexBool `json:"missing_person"`
		ActiveSearch     flexBool `json:"active_search"`
		LegalProceedings flexBool `json:"legal_proceedings"`
		PublicInterest   flexInt  `json:"public_interest"`
		TimeSensitivity  flexInt  `json:"time_sensitivity"`
		OngoingRisk      flexInt  `json:"ongoing_risk"`
	} `json:"priority_indicators"`
}

func (r rawArticleAnalysis) normalize() ArticleAnalysis {
	out := ArticleAnalysis{
		IsOngoingStory:     r.IsOngoingStory.or(false),
		Confidence:         clampInt(r.Confidence.or(0), 0, 100),
		ThreadTitle:        strings.TrimSpace(r.ThreadTitle),
		ThreadSummary:      strings.TrimSpace(r.ThreadSummary),
		Category:           story.NormalizeLabel(r.Category),
		Subcategory:        story.NormalizeLabel(r.Subcategory),
		Tags:               dedupe(r.Tags),
		KeyPeople:          dedupeEntities(r.KeyPeople),
		KeyOrganizations:   dedupeEntities(r.KeyOrganizations),
		KeyLocations:       dedupeEntities(r.KeyLocations),
		KeyDates:           []KeyDate{},
		PredictedBeats:     []PredictedBeat{},
		MonitoringKeywords: dedupe(r.MonitoringKeywords),
		FollowUp: FollowUpHints{
			CheckInDays: max(0, r.FollowUpTriggers.CheckInDays.or(0)),
			WatchFor:    dedupe(r.FollowUpTriggers.WatchFor),
		},
		Priority: PriorityIndicators{
			MissingPerson:    r.PriorityIndicators.MissingPerson.or(false),
			ActiveSearch:     r.PriorityIndicators.ActiveSearch.or(false),
			LegalProceedings: r.PriorityIndicators.LegalProceedings.or(false),
			PublicInterest:   clampInt(r.PriorityIndicators.PublicInterest.or(0), 0, 100),
			TimeSensitivity:  clampInt(r.PriorityIndicators.TimeSensitivity.or(0), 0, 100),
			OngoingRisk:      clampInt(r.PriorityIndicators.OngoingRisk.or(0), 0, 100),
		},
	}

	for _, d := range r.KeyDates {
		t, ok := parseDate(d.Date)
		if !ok {
			continue
		}
		desc := d.Description
		if desc == "" {
			desc = d.Event
		}
		out.KeyDates = append(out.KeyDates, KeyDate{
			Date:        t,
			Description: strings.TrimSpace(desc),
			Importance:  normalizeImportance(d.Importance),
		})
	}

	for _, b := range r.PredictedBeats {
		title := strings.TrimSpace(b.Title)
		if title == "" {
			title = strings.TrimSpace(b.Beat)
		}
		if title == "" {
			continue
		}
		beat := PredictedBeat{
			Title:       title,
			Description: strings.TrimSpace(b.Description),
			Likelihood:  clampInt(b.Likelihood.or(0), 0, 100),
		}
		if t, ok := parseDate(b.ExpectedDate); ok {
			beat.ExpectedDate = &t
		}
		out.PredictedBeats = append(out.PredictedBeats, beat)
	}
	return out
}

type rawSuggestion struct {
	Title         string      `json:"title"`
	Angle         string      `json:"angle"`
	SearchQueries flexStrings `json:"search_queries"`
	Sources       flexStrings `json:"sources"`
	Urgency       string      `json:"urgency"`
}

type rawThreadAnalysis struct {
	NeedsFollowUp     flexBool        `json:"needs_followup"`
	Confidence        flexInt         `json:"confidence"`
	IsResolved        flexBool        `json:"is_resolved"`
	SuggestedArticles []rawSuggestion `json:"suggested_articles"`
	NextCheckDays     flexInt         `json:"next_check_days"`
	RecommendedStatus string          `json:"recommended_status"`
}

func (r rawThreadAnalysis) normalize() ThreadAnalysis {
	out := ThreadAnalysis{
		NeedsFollowUp:     r.NeedsFollowUp.or(false),
		Confidence:        clampInt(r.Confidence.or(0), 0, 100),
		IsResolved:        r.IsResolved.or(true),
		SuggestedArticles: []SuggestedArticle{},
		NextCheckDays:     max(0, r.NextCheckDays.or(0)),
	}
	if st, ok := story.ParseStatus(story.NormalizeLabel(r.RecommendedStatus)); ok {
		out.RecommendedStatus = st
	}
	for _, s := range r.SuggestedArticles {
		if strings.TrimSpace(s.Title) == "" {
			continue
		}
		out.SuggestedArticles = append(out.SuggestedArticles, SuggestedArticle{
			Title:         strings.TrimSpace(s.Title),
			Angle:         strings.TrimSpace(s.Angle),
			SearchQueries: dedupe(s.SearchQueries),
			Sources:       dedupe(s.Sources),
			Urgency:       normalizeImportance(s.Urgency),
		})
	}
	return out
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func normalizeImportance(s string) string {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "high", "medium", "low":
		return v
	case "critical", "urgent":
		return "high"
	}
	return "medium"
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func dedupeEntities(in []Entity) []Entity {
	seen := make(map[string]bool, len(in))
	out := make([]Entity, 0, len(in))
	for _, e := range in {
		e.Name = strings.TrimSpace(e.Name)
		key := strings.ToLower(e.Name)
		if e.Name == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

func clampInt(v, lo, hi int) int {
	return min(hi, max(lo, v))
}

func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
