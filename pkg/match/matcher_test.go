package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/storyradar/pkg/article"
	"github.com/elonfeng/storyradar/pkg/oracle"
	"github.com/elonfeng/storyradar/pkg/story"
)

func TestTitleSimilarity(t *testing.T) {
	assert.Equal(t, 100.0, TitleSimilarity("Bridge Closed", "bridge closed"))
	assert.Equal(t, 0.0, TitleSimilarity("", ""))
	assert.Equal(t, 0.0, TitleSimilarity("abc", "xyz"))
	// "World" vs "Word": common "Wor" + "d" = 4 chars, 8/9.
	assert.InDelta(t, 800.0/9, TitleSimilarity("World", "Word"), 1e-9)
	assert.Equal(t, TitleSimilarity("Hello", "World"), TitleSimilarity("Hello", "World"))
}

func analysis(ongoing bool, category string, people, keywords []string) oracle.ArticleAnalysis {
	an := oracle.ArticleAnalysis{IsOngoingStory: ongoing, Category: category, MonitoringKeywords: keywords}
	for _, p := range people {
		an.KeyPeople = append(an.KeyPeople, oracle.Entity{Name: p})
	}
	return an
}

func thread(id, title, category string, people, keywords []string) story.Thread {
	return story.Thread{
		ID:                 id,
		Title:              title,
		Category:           category,
		Entities:           story.Entities{People: people},
		MonitoringKeywords: keywords,
	}
}

func TestNotOngoingNeverMatches(t *testing.T) {
	m := New(DefaultPolicy())
	th := thread("t1", "Warehouse fire", "accident", []string{"Chief Diaz"}, []string{"fire"})
	a := article.Article{Title: "Warehouse fire", Category: "accident"}

	_, ok := m.FindMatchingThread(a, analysis(false, "accident", []string{"Chief Diaz"}, []string{"fire"}), []story.Thread{th})
	assert.False(t, ok)
}

func TestScoreBreakdown(t *testing.T) {
	m := New(DefaultPolicy())
	th := thread("t1", "Warehouse fire downtown", "accident",
		[]string{"Chief Diaz", "Mayor Lee"}, []string{"warehouse", "fire", "evacuation", "arson"})
	a := article.Article{Title: "Warehouse fire downtown", Category: "accident"}
	an := analysis(true, "accident", []string{"chief diaz"}, []string{"FIRE", "Warehouse", "smoke"})

	b := m.Score(a, an, &th, "accident")
	assert.InDelta(t, 20, b.People, 1e-9)
	assert.InDelta(t, 15, b.Keywords, 1e-9)
	assert.InDelta(t, 20, b.Title, 1e-9)
	assert.InDelta(t, 10, b.Category, 1e-9)
	assert.InDelta(t, 65, b.Total(), 1e-9)

	again := m.Score(a, an, &th, "accident")
	assert.Equal(t, b, again)
}

func TestFindMatchingThreadBestAboveFloor(t *testing.T) {
	m := New(DefaultPolicy())
	weak := thread("weak", "City council budget", "accident", []string{"Mayor Lee"}, []string{"budget"})
	strong := thread("strong", "Warehouse fire", "accident", []string{"Chief Diaz"}, []string{"fire", "warehouse"})
	other := thread("other", "Warehouse fire", "crime", []string{"Chief Diaz"}, []string{"fire", "warehouse"})

	a := article.Article{Title: "Warehouse fire investigation", Category: "accident"}
	an := analysis(true, "accident", []string{"Chief Diaz"}, []string{"fire", "warehouse"})

	res, ok := m.FindMatchingThread(a, an, []story.Thread{weak, other, strong})
	require.True(t, ok)
	assert.Equal(t, "strong", res.Thread.ID)
	assert.GreaterOrEqual(t, res.Score, 50.0)
}

func TestFindMatchingThreadBelowFloor(t *testing.T) {
	m := New(DefaultPolicy())
	th := thread("t1", "School board election", "politics", []string{"Ann Park"}, []string{"election"})
	a := article.Article{Title: "Stadium renovation approved", Category: "politics"}
	an := analysis(true, "politics", []string{"Bo Chen"}, []string{"stadium"})

	_, ok := m.FindMatchingThread(a, an, []story.Thread{th})
	assert.False(t, ok)

	_, ok = m.FindMatchingThread(a, an, nil)
	assert.False(t, ok)
}

func TestTiesKeepFirstCandidate(t *testing.T) {
	m := New(DefaultPolicy())
	first := thread("first", "Flood warning", "environment", []string{"Dr. Ito"}, []string{"flood"})
	second := thread("second", "Flood warning", "environment", []string{"Dr. Ito"}, []string{"flood"})
	a := article.Article{Title: "Flood warning", Category: "environment"}
	an := analysis(true, "", []string{"Dr. Ito"}, []string{"flood"})

	res, ok := m.FindMatchingThread(a, an, []story.Thread{first, second})
	require.True(t, ok)
	assert.Equal(t, "first", res.Thread.ID)
	assert.InDelta(t, 100, res.Score, 1e-9)
}

func TestEmptyThreadEntitiesContributeNothing(t *testing.T) {
	m := New(DefaultPolicy())
	th := thread("t1", "Road closure", "community", nil, nil)
	a := article.Article{Title: "Road closure", Category: "community"}
	an := analysis(true, "community", []string{"Someone"}, []string{"road"})

	b := m.Score(a, an, &th, "community")
	assert.Zero(t, b.People)
	assert.Zero(t, b.Keywords)
	assert.InDelta(t, 30, b.Total(), 1e-9)
}
