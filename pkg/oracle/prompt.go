package oracle

import (
	"fmt"
	"strings"
	"time"

	"github.com/elonfeng/storyradar/pkg/article"
	"github.com/elonfeng/storyradar/pkg/story"
)

const articleSchema = `{
  "is_ongoing_story": bool,
  "confidence": int 0-100,
  "thread_title": string,
  "thread_summary": string,
  "category": string,
  "subcategory": string,
  "tags": [string],
  "key_people": [{"name": string, "role": string}],
  "key_organizations": [{"name": string}],
  "key_locations": [{"name": string}],
  "key_dates": [{"date": "YYYY-MM-DD", "description": string, "importance": "high"|"medium"|"low"}],
  "predicted_beats": [{"title": string, "description": string, "expected_date": "YYYY-MM-DD", "likelihood": int 0-100}],
  "monitoring_keywords": [string],
  "follow_up_triggers": {"check_in_days": int, "watch_for": [string]},
  "priority_indicators": {"missing_person": bool, "active_search": bool, "legal_proceedings": bool,
    "public_interest": int 0-100, "time_sensitivity": int 0-100, "ongoing_risk": int 0-100}
}`

const threadSchema = `{
  "needs_followup": bool,
  "confidence": int 0-100,
  "is_resolved": bool,
  "recommended_status": "developing"|"monitoring"|"resolved"|"dormant",
  "next_check_days": int,
  "suggested_articles": [{"title": string, "angle": string, "search_queries": [string],
    "sources": [string], "urgency": "high"|"medium"|"low"}]
}`

// Request is a single oracle call: subject context plus the JSON schema the
// reply must follow.
type Request struct {
	Subject string
	Schema  string
}

// Prompt renders the request as one user message.
func (r Request) Prompt() string {
	return fmt.Sprintf("%s\n\nRespond with ONLY a JSON object matching this schema:\n%s", r.Subject, r.Schema)
}

func articleRequest(a article.Article) Request {
	var b strings.Builder
	b.WriteString("Decide whether this news article is part of an ongoing story that deserves follow-up coverage.\n\n")
	fmt.Fprintf(&b, "Region: %s\nCategory: %s\nPublished: %s\nTitle: %s\n",
		a.Region, a.Category, a.PublishedAt.UTC().Format(time.RFC3339), a.Title)
	if a.Body != "" {
		fmt.Fprintf(&b, "\n%s\n", truncateStr(a.Body, 6000))
	}
	return Request{Subject: b.String(), Schema: articleSchema}
}

func threadRequest(t *story.Thread) Request {
	var b strings.Builder
	b.WriteString("Review this ongoing story and decide its status and whether follow-up coverage is needed.\n\n")
	fmt.Fprintf(&b, "Story: %s\nStatus: %s\nPriority: %s\nCategory: %s\nSummary: %s\n",
		t.Title, t.Status, t.Priority, t.Category, t.Summary)
	if len(t.Entities.People) > 0 {
		fmt.Fprintf(&b, "Key people: %s\n", strings.Join(t.Entities.People, ", "))
	}
	b.WriteString("\nArticles (oldest first):\n")
	for _, a := range t.Chronological() {
		fmt.Fprintf(&b, "- [%s] %s\n", a.PublishedAt.UTC().Format("2006-01-02"), a.Title)
	}
	return Request{Subject: b.String(), Schema: threadSchema}
}
