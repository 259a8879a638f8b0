package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/storyradar/pkg/oracle"
	"github.com/elonfeng/storyradar/pkg/story"
)

var testNow = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

func newPlanner() *Planner {
	return NewPlanner(DefaultPolicy()).WithClock(func() time.Time { return testNow })
}

func byType(plan Plan, typ story.TriggerType) []story.Trigger {
	var out []story.Trigger
	for _, t := range plan.Triggers {
		if t.Type == typ {
			out = append(out, t)
		}
	}
	return out
}

func TestMissingPersonCapsToOneDay(t *testing.T) {
	p := newPlanner()
	an := oracle.ArticleAnalysis{
		FollowUp: oracle.FollowUpHints{CheckInDays: 5},
		Priority: oracle.PriorityIndicators{MissingPerson: true},
	}

	plan, err := p.Plan(an)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.CheckInDays)
	assert.Equal(t, testNow.Add(24*time.Hour), plan.NextCheckAt)

	tb := byType(plan, story.TriggerTimeBased)
	require.Len(t, tb, 1)
	assert.Equal(t, testNow.Add(24*time.Hour), tb[0].NotBefore)
	assert.Equal(t, testNow.AddDate(0, 3, 0), tb[0].NotAfter)
	cfg, err := tb[0].TimeBased()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.DaysAfterLast)
	assert.Equal(t, 10, cfg.MaxChecks)
}

func TestCheckInDays(t *testing.T) {
	p := newPlanner()
	tests := []struct {
		name string
		an   oracle.ArticleAnalysis
		want int
	}{
		{"default", oracle.ArticleAnalysis{}, 3},
		{"as given", oracle.ArticleAnalysis{FollowUp: oracle.FollowUpHints{CheckInDays: 7}}, 7},
		{"upper bound", oracle.ArticleAnalysis{FollowUp: oracle.FollowUpHints{CheckInDays: 400}}, 30},
		{"active search", oracle.ArticleAnalysis{FollowUp: oracle.FollowUpHints{CheckInDays: 4}, Priority: oracle.PriorityIndicators{ActiveSearch: true}}, 1},
		{"legal", oracle.ArticleAnalysis{FollowUp: oracle.FollowUpHints{CheckInDays: 9}, Priority: oracle.PriorityIndicators{LegalProceedings: true}}, 2},
		{"legal below cap", oracle.ArticleAnalysis{FollowUp: oracle.FollowUpHints{CheckInDays: 1}, Priority: oracle.PriorityIndicators{LegalProceedings: true}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.CheckInDays(tt.an))
		})
	}
}

func TestResolutionCheckOnlyWithKeywords(t *testing.T) {
	p := newPlanner()

	plan, err := p.Plan(oracle.ArticleAnalysis{FollowUp: oracle.FollowUpHints{WatchFor: []string{" ", ""}}})
	require.NoError(t, err)
	assert.Empty(t, byType(plan, story.TriggerResolutionCheck))

	plan, err = p.Plan(oracle.ArticleAnalysis{FollowUp: oracle.FollowUpHints{WatchFor: []string{"verdict", "sentenced"}}})
	require.NoError(t, err)
	rc := byType(plan, story.TriggerResolutionCheck)
	require.Len(t, rc, 1)
	assert.Equal(t, testNow.Add(24*time.Hour), rc[0].NotBefore)
	assert.Equal(t, testNow.AddDate(0, 1, 0), rc[0].NotAfter)
	cfg, err := rc[0].Resolution()
	require.NoError(t, err)
	assert.Equal(t, []string{"verdict", "sentenced"}, cfg.WatchFor)
}

func TestDateEventRules(t *testing.T) {
	p := newPlanner()
	hearing := testNow.AddDate(0, 0, 10)
	vote := testNow.AddDate(0, 0, 20)
	an := oracle.ArticleAnalysis{KeyDates: []oracle.KeyDate{
		{Date: hearing, Description: "Hearing", Importance: "high"},
		{Date: vote, Description: "Council vote", Importance: "medium"},
		{Date: testNow.AddDate(0, 0, 5), Description: "Minor", Importance: "low"},
		{Date: testNow.AddDate(0, 0, -2), Description: "Past", Importance: "high"},
	}}

	plan, err := p.Plan(an)
	require.NoError(t, err)
	de := byType(plan, story.TriggerDateEvent)
	require.Len(t, de, 2)

	assert.Equal(t, hearing.AddDate(0, 0, -2), de[0].NotBefore)
	assert.Equal(t, hearing.AddDate(0, 0, 7), de[0].NotAfter)
	assert.Equal(t, hearing.AddDate(0, 0, -2), de[0].DueAt)
	cfg, err := de[0].DateEvent()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.DaysBefore)
	assert.Equal(t, "Hearing", cfg.Description)

	cfg, err = de[1].DateEvent()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.DaysBefore)
	assert.Equal(t, vote.AddDate(0, 0, -1), de[1].DueAt)
}

func TestWindowsAlwaysOrdered(t *testing.T) {
	p := newPlanner()
	for _, days := range []int{-3, 0, 1, 5, 29, 30, 31, 1000} {
		an := oracle.ArticleAnalysis{
			FollowUp: oracle.FollowUpHints{CheckInDays: days, WatchFor: []string{"arrest"}},
			KeyDates: []oracle.KeyDate{{Date: testNow.Add(time.Hour), Importance: "high"}},
		}
		plan, err := p.Plan(an)
		require.NoError(t, err)
		require.Len(t, plan.Triggers, 3)
		for _, tr := range plan.Triggers {
			assert.True(t, tr.NotBefore.Before(tr.NotAfter), "%s days=%d", tr.Type, days)
			assert.Equal(t, story.TriggerArmed, tr.State)
			assert.False(t, tr.DueAt.Before(testNow))
		}
		assert.True(t, plan.NextCheckAt.After(testNow))
	}
}

func TestNextCheckCapsByPriority(t *testing.T) {
	p := newPlanner()
	assert.Equal(t, testNow.Add(24*time.Hour), p.NextCheck(testNow, 6, story.PriorityCritical))
	assert.Equal(t, testNow.Add(48*time.Hour), p.NextCheck(testNow, 6, story.PriorityHigh))
	assert.Equal(t, testNow.Add(6*24*time.Hour), p.NextCheck(testNow, 6, story.PriorityMedium))
	assert.Equal(t, testNow.Add(3*24*time.Hour), p.NextCheck(testNow, 0, story.PriorityLow))
}

func TestAdvance(t *testing.T) {
	p := newPlanner()

	tb, err := story.NewTrigger(story.TriggerTimeBased, story.TimeBasedConfig{DaysAfterLast: 3, MaxChecks: 2},
		testNow, testNow.AddDate(0, 3, 0), testNow)
	require.NoError(t, err)
	state, next, err := p.Advance(tb, testNow)
	require.NoError(t, err)
	assert.Equal(t, story.TriggerArmed, state)
	assert.Equal(t, testNow.Add(72*time.Hour), next)

	tb.Fires = 1
	state, _, err = p.Advance(tb, testNow)
	require.NoError(t, err)
	assert.Equal(t, story.TriggerExhausted, state)

	rc, err := story.NewTrigger(story.TriggerResolutionCheck, story.ResolutionConfig{WatchFor: []string{"x"}},
		testNow, testNow.Add(12*time.Hour), testNow)
	require.NoError(t, err)
	state, _, err = p.Advance(rc, testNow)
	require.NoError(t, err)
	assert.Equal(t, story.TriggerExpired, state)

	de, err := story.NewTrigger(story.TriggerDateEvent, story.DateEventConfig{Date: testNow}, testNow, testNow.AddDate(0, 0, 7), testNow)
	require.NoError(t, err)
	state, _, err = p.Advance(de, testNow)
	require.NoError(t, err)
	assert.Equal(t, story.TriggerFired, state)
}
