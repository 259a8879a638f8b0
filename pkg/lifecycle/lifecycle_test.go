package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/storyradar/internal/store"
	"github.com/elonfeng/storyradar/pkg/alert"
	"github.com/elonfeng/storyradar/pkg/article"
	"github.com/elonfeng/storyradar/pkg/oracle"
	"github.com/elonfeng/storyradar/pkg/story"
)

var testNow = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

type fakeOracle struct {
	mu          sync.Mutex
	articles    map[string]oracle.ArticleAnalysis
	thread      oracle.ThreadAnalysis
	err         error
	threadErr   error
	delay       time.Duration
	threadCalls int
}

func (f *fakeOracle) AnalyzeArticle(ctx context.Context, a article.Article) (oracle.ArticleAnalysis, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return oracle.ArticleAnalysis{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return oracle.ArticleAnalysis{}, f.err
	}
	an, ok := f.articles[a.ID]
	if !ok {
		return oracle.ArticleAnalysis{}, fmt.Errorf("no analysis for %s", a.ID)
	}
	return an, nil
}

func (f *fakeOracle) AnalyzeThread(_ context.Context, _ *story.Thread) (oracle.ThreadAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threadCalls++
	if f.threadErr != nil {
		return oracle.ThreadAnalysis{}, f.threadErr
	}
	return f.thread, nil
}

func (f *fakeOracle) set(id string, an oracle.ArticleAnalysis) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.articles[id] = an
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []*alert.Notification
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Send(_ context.Context, n *alert.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return nil
}

type harness struct {
	store    *store.SQLiteStore
	oracle   *fakeOracle
	notifier *recordingNotifier
	orch     *Orchestrator
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "lifecycle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := &harness{
		store:    st,
		oracle:   &fakeOracle{articles: make(map[string]oracle.ArticleAnalysis)},
		notifier: &recordingNotifier{},
		now:      testNow,
	}
	h.orch = New(st, h.oracle, Options{
		OracleTimeout: time.Second,
		Alerts:        alert.NewManager([]alert.Notifier{h.notifier}),
		Now:           func() time.Time { return h.now },
	}, zerolog.Nop())
	return h
}

func testArticle(id, title string) article.Article {
	return article.Article{
		ID:          id,
		Region:      "north",
		Category:    "crime",
		Title:       title,
		Body:        "Jury selection began on Monday.",
		PublishedAt: testNow.Add(-time.Hour),
		Metrics:     article.Metrics{Views: 500, Comments: 20, Shares: 10},
	}
}

func ongoing(title string, people ...string) oracle.ArticleAnalysis {
	key := make([]oracle.Entity, len(people))
	for i, p := range people {
		key[i] = oracle.Entity{Name: p}
	}
	return oracle.ArticleAnalysis{
		IsOngoingStory:     true,
		Confidence:         80,
		ThreadTitle:        title,
		ThreadSummary:      "A trial in progress.",
		Category:           "crime",
		Tags:               []string{"court"},
		KeyPeople:          key,
		MonitoringKeywords: []string{"trial", "jury"},
		PredictedBeats:     []oracle.PredictedBeat{{Title: "Sentencing", Likelihood: 70}},
		FollowUp:           oracle.FollowUpHints{CheckInDays: 5, WatchFor: []string{"verdict"}},
		Priority:           oracle.PriorityIndicators{PublicInterest: 50, TimeSensitivity: 50, OngoingRisk: 50},
	}
}

func (h *harness) process(t *testing.T, a article.Article, an oracle.ArticleAnalysis) Outcome {
	t.Helper()
	h.oracle.set(a.ID, an)
	out, err := h.orch.ProcessArticle(context.Background(), a)
	require.NoError(t, err)
	return out
}

func (h *harness) trigger(t *testing.T, threadID string, typ story.TriggerType) story.Trigger {
	t.Helper()
	ts, err := h.store.ListTriggers(context.Background(), threadID)
	require.NoError(t, err)
	for _, tr := range ts {
		if tr.Type == typ {
			return tr
		}
	}
	t.Fatalf("thread %s has no %s trigger", threadID, typ)
	return story.Trigger{}
}

func TestProcessArticleOracleFailureSkips(t *testing.T) {
	h := newHarness(t)
	h.oracle.err = errors.New("upstream 503")

	out, err := h.orch.ProcessArticle(context.Background(), testArticle("a1", "Trial opens"))
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, out.Action)

	threads, err := h.store.ListThreads(context.Background(), store.ThreadFilter{})
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestProcessArticleOracleTimeoutSkips(t *testing.T) {
	h := newHarness(t)
	h.orch.timeout = 20 * time.Millisecond
	h.oracle.delay = time.Second

	out := h.process(t, testArticle("a1", "Trial opens"), ongoing("Smith trial", "John Smith"))
	assert.Equal(t, ActionSkipped, out.Action)
}

func TestProcessArticleNotOngoing(t *testing.T) {
	h := newHarness(t)
	out := h.process(t, testArticle("a1", "Bake sale"), oracle.ArticleAnalysis{Confidence: 90})
	assert.Equal(t, ActionSkipped, out.Action)
	assert.Equal(t, 90, out.Analysis.Confidence)
}

func TestProcessArticleCreatesThread(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out := h.process(t, testArticle("a1", "Trial opens"), ongoing("Smith trial", "John Smith"))
	require.Equal(t, ActionCreated, out.Action)
	require.NotEmpty(t, out.ThreadID)

	th, err := h.store.GetThread(ctx, out.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, "Smith trial", th.Title)
	assert.Equal(t, story.StatusDeveloping, th.Status)
	assert.Equal(t, story.PriorityMedium, th.Priority)
	assert.Equal(t, []string{"John Smith"}, th.Entities.People)
	require.Len(t, th.Members, 1)
	assert.Equal(t, story.RoleOrigin, th.Members[0].Role)
	require.Len(t, th.PredictedBeats, 1)
	assert.Equal(t, "Sentencing", th.PredictedBeats[0].Title)
	assert.True(t, th.NextCheckAt.Equal(testNow.Add(5*24*time.Hour)))

	ts, err := h.store.ListTriggers(ctx, out.ThreadID)
	require.NoError(t, err)
	assert.Len(t, ts, 2)
	for _, tr := range ts {
		assert.True(t, tr.NotBefore.Before(tr.NotAfter), "trigger %s window", tr.Type)
	}
}

func TestProcessArticleTitleFallsBackToArticle(t *testing.T) {
	h := newHarness(t)
	an := ongoing("", "John Smith")
	out := h.process(t, testArticle("a1", "Trial opens"), an)

	th, err := h.store.GetThread(context.Background(), out.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, "Trial opens", th.Title)
}

func TestMissingPersonCapsCheckIn(t *testing.T) {
	h := newHarness(t)
	an := ongoing("Missing hiker", "Ann Lee")
	an.Priority.MissingPerson = true

	out := h.process(t, testArticle("a1", "Hiker missing"), an)
	require.Equal(t, ActionCreated, out.Action)

	th, err := h.store.GetThread(context.Background(), out.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, story.PriorityCritical, th.Priority)
	assert.True(t, th.NextCheckAt.Equal(testNow.Add(24*time.Hour)))

	tb := h.trigger(t, out.ThreadID, story.TriggerTimeBased)
	cfg, err := tb.TimeBased()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.DaysAfterLast)
}

func TestPublicInterestGivesHigh(t *testing.T) {
	h := newHarness(t)
	an := ongoing("Council vote", "Mayor Ruiz")
	an.Priority = oracle.PriorityIndicators{PublicInterest: 85}

	out := h.process(t, testArticle("a1", "Council vote delayed"), an)
	th, err := h.store.GetThread(context.Background(), out.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, story.PriorityHigh, th.Priority)
}

func TestAppendAndDuplicate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.process(t, testArticle("a1", "Trial opens"), ongoing("Smith trial", "John Smith"))
	require.Equal(t, ActionCreated, first.Action)

	second := h.process(t, testArticle("a2", "Smith trial day two"), ongoing("Smith trial continues", "John Smith"))
	require.Equal(t, ActionAppended, second.Action)
	assert.Equal(t, first.ThreadID, second.ThreadID)
	assert.GreaterOrEqual(t, second.MatchScore, 80.0)

	again := h.process(t, testArticle("a2", "Smith trial day two"), ongoing("Smith trial continues", "John Smith"))
	assert.Equal(t, ActionDuplicate, again.Action)
	assert.Equal(t, first.ThreadID, again.ThreadID)

	th, err := h.store.GetThread(ctx, first.ThreadID)
	require.NoError(t, err)
	require.Len(t, th.Members, 2)
	assert.Equal(t, story.RoleFollowUp, th.Members[1].Role)
	assert.Equal(t, story.StatusDeveloping, th.Status)
}

func TestUnrelatedArticleStartsNewThread(t *testing.T) {
	h := newHarness(t)
	first := h.process(t, testArticle("a1", "Trial opens"), ongoing("Smith trial", "John Smith"))

	other := ongoing("Harbor theft ring", "Maria Gomez")
	other.MonitoringKeywords = []string{"harbor", "theft"}
	second := h.process(t, testArticle("a2", "Thefts at the harbor"), other)

	require.Equal(t, ActionCreated, second.Action)
	assert.NotEqual(t, first.ThreadID, second.ThreadID)
}

func TestAppendOnlyEscalatesPriority(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.process(t, testArticle("a1", "Trial opens"), ongoing("Smith trial", "John Smith"))

	urgent := ongoing("Smith trial", "John Smith")
	urgent.Priority.ActiveSearch = true
	h.process(t, testArticle("a2", "Witness missing in Smith trial"), urgent)

	th, err := h.store.GetThread(ctx, first.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, story.PriorityCritical, th.Priority)

	calm := ongoing("Smith trial", "John Smith")
	calm.Priority = oracle.PriorityIndicators{}
	out := h.process(t, testArticle("a3", "Smith trial adjourned"), calm)
	require.Equal(t, ActionAppended, out.Action)

	th, err = h.store.GetThread(ctx, first.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, story.PriorityCritical, th.Priority)
	assert.Len(t, th.Members, 3)
}

func TestConcurrentArticlesShareOneThread(t *testing.T) {
	h := newHarness(t)
	const n = 8
	articles := make([]article.Article, n)
	for i := range articles {
		articles[i] = testArticle(fmt.Sprintf("a%d", i), fmt.Sprintf("Smith trial update %d", i))
		h.oracle.set(articles[i].ID, ongoing("Smith trial", "John Smith"))
	}

	outcomes := make([]Outcome, n)
	var wg sync.WaitGroup
	for i := range articles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := h.orch.ProcessArticle(context.Background(), articles[i])
			assert.NoError(t, err)
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	counts := map[Action]int{}
	for _, out := range outcomes {
		counts[out.Action]++
	}
	assert.Equal(t, 1, counts[ActionCreated])
	assert.Equal(t, n-1, counts[ActionAppended])

	threads, err := h.store.ListThreads(context.Background(), store.ThreadFilter{})
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Len(t, threads[0].Members, n)
	assert.Zero(t, h.orch.locks.size())
}

func TestCategoryCaseSharesThread(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a1 := testArticle("a1", "Trial opens")
	a1.Category = "Crime"
	an1 := ongoing("Smith trial", "John Smith")
	an1.Category = "Crime "
	first := h.process(t, a1, an1)
	require.Equal(t, ActionCreated, first.Action)

	a2 := testArticle("a2", "Smith trial day two")
	a2.Category = "CRIME"
	an2 := ongoing("Smith trial continues", "John Smith")
	an2.Category = ""
	second := h.process(t, a2, an2)
	require.Equal(t, ActionAppended, second.Action)
	assert.Equal(t, first.ThreadID, second.ThreadID)

	th, err := h.store.GetThread(ctx, first.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, "crime", th.Category)
	assert.Len(t, th.Members, 2)
}

func TestOrchestratorsSharingStoreCreateOneThread(t *testing.T) {
	h := newHarness(t)
	other := New(h.store, h.oracle, Options{OracleTimeout: time.Second}, zerolog.Nop())
	orchs := []*Orchestrator{h.orch, other}
	require.NotEqual(t, h.orch.owner, other.owner)

	const n = 6
	articles := make([]article.Article, n)
	for i := range articles {
		articles[i] = testArticle(fmt.Sprintf("a%d", i), fmt.Sprintf("Smith trial update %d", i))
		h.oracle.set(articles[i].ID, ongoing("Smith trial", "John Smith"))
	}

	var wg sync.WaitGroup
	for i := range articles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := orchs[i%2].ProcessArticle(context.Background(), articles[i])
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	threads, err := h.store.ListThreads(context.Background(), store.ThreadFilter{})
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Len(t, threads[0].Members, n)

	// Every lease was released, so a fresh owner takes the key at once.
	ok, err := h.store.AcquireLease(context.Background(), "thread:north/crime", "someone-else", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProcessArticleWaitsForForeignLease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ok, err := h.store.AcquireLease(ctx, "thread:north/crime", "other-process", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	h.oracle.set("a1", ongoing("Smith trial", "John Smith"))
	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = h.orch.ProcessArticle(short, testArticle("a1", "Trial opens"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, h.store.ReleaseLease(ctx, "thread:north/crime", "other-process"))
	out := h.process(t, testArticle("a1", "Trial opens"), ongoing("Smith trial", "John Smith"))
	assert.Equal(t, ActionCreated, out.Action)
}

func TestFireTriggerOutsideWindowExpires(t *testing.T) {
	h := newHarness(t)
	out := h.process(t, testArticle("a1", "Trial opens"), ongoing("Smith trial", "John Smith"))
	tb := h.trigger(t, out.ThreadID, story.TriggerTimeBased)

	res, err := h.orch.FireTrigger(context.Background(), tb)
	require.NoError(t, err)
	assert.Equal(t, FireExpired, res.Action)
	assert.Zero(t, h.oracle.threadCalls)
	assert.Equal(t, story.TriggerExpired, h.trigger(t, out.ThreadID, story.TriggerTimeBased).State)
}

func TestFireTriggerTransitionAndFollowUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	out := h.process(t, testArticle("a1", "Trial opens"), ongoing("Smith trial", "John Smith"))
	tb := h.trigger(t, out.ThreadID, story.TriggerTimeBased)

	h.now = tb.DueAt
	h.oracle.thread = oracle.ThreadAnalysis{
		NeedsFollowUp:     true,
		Confidence:        75,
		NextCheckDays:     10,
		RecommendedStatus: story.StatusMonitoring,
		SuggestedArticles: []oracle.SuggestedArticle{{Title: "What the jury heard", Angle: "explainer", Urgency: "medium"}},
	}

	res, err := h.orch.FireTrigger(ctx, tb)
	require.NoError(t, err)
	assert.Equal(t, FireAnalyzed, res.Action)
	assert.Equal(t, story.StatusDeveloping, res.From)
	assert.Equal(t, story.StatusMonitoring, res.To)
	assert.True(t, res.Transitioned())
	assert.True(t, res.NextCheckAt.Equal(h.now.Add(10*24*time.Hour)))
	require.NotNil(t, res.FollowUp)
	assert.Equal(t, story.StatusMonitoring, res.FollowUp.Status)
	assert.Equal(t, story.TriggerTimeBased, res.FollowUp.Trigger)
	require.Len(t, h.notifier.got, 1)
	assert.Equal(t, "What the jury heard", h.notifier.got[0].Suggestions[0].Title)

	th, err := h.store.GetThread(ctx, out.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, story.StatusMonitoring, th.Status)
	assert.True(t, th.NextCheckAt.Equal(res.NextCheckAt))

	rearmed := h.trigger(t, out.ThreadID, story.TriggerTimeBased)
	assert.Equal(t, story.TriggerArmed, rearmed.State)
	assert.Equal(t, 1, rearmed.Fires)
	assert.True(t, rearmed.DueAt.Equal(res.NextCheckAt))

	dup, err := h.orch.FireTrigger(ctx, tb)
	require.NoError(t, err)
	assert.Equal(t, FireDuplicate, dup.Action)
	assert.Equal(t, 1, h.oracle.threadCalls)
}

func TestFireTriggerFollowsOracleNextCheck(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	out := h.process(t, testArticle("a1", "Trial opens"), ongoing("Smith trial", "John Smith"))
	tb := h.trigger(t, out.ThreadID, story.TriggerTimeBased)

	h.now = tb.DueAt
	h.oracle.thread = oracle.ThreadAnalysis{Confidence: 70, NextCheckDays: 1}

	res, err := h.orch.FireTrigger(ctx, tb)
	require.NoError(t, err)
	require.Equal(t, FireAnalyzed, res.Action)
	assert.True(t, res.NextCheckAt.Equal(h.now.Add(24*time.Hour)))

	th, err := h.store.GetThread(ctx, out.ThreadID)
	require.NoError(t, err)
	rearmed := h.trigger(t, out.ThreadID, story.TriggerTimeBased)
	assert.True(t, rearmed.DueAt.Equal(th.NextCheckAt), "due %s, next check %s", rearmed.DueAt, th.NextCheckAt)

	due, err := h.store.DueTriggers(ctx, th.NextCheckAt, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, rearmed.ID, due[0].ID)

	h.now = th.NextCheckAt
	again, err := h.orch.FireTrigger(ctx, due[0])
	require.NoError(t, err)
	assert.Equal(t, FireAnalyzed, again.Action)
	assert.Equal(t, 2, h.oracle.threadCalls)
}

func TestFireTriggerResolvedExpiresAll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	out := h.process(t, testArticle("a1", "Trial opens"), ongoing("Smith trial", "John Smith"))
	tb := h.trigger(t, out.ThreadID, story.TriggerTimeBased)

	h.now = tb.DueAt
	h.oracle.thread = oracle.ThreadAnalysis{IsResolved: true, Confidence: 90}

	res, err := h.orch.FireTrigger(ctx, tb)
	require.NoError(t, err)
	assert.Equal(t, story.StatusResolved, res.To)
	assert.Nil(t, res.FollowUp)

	ts, err := h.store.ListTriggers(ctx, out.ThreadID)
	require.NoError(t, err)
	for _, tr := range ts {
		assert.NotEqual(t, story.TriggerArmed, tr.State, "trigger %s", tr.Type)
	}

	// Resolved threads no longer take articles.
	next := h.process(t, testArticle("a2", "Smith trial aftermath"), ongoing("Smith trial", "John Smith"))
	assert.Equal(t, ActionCreated, next.Action)
	assert.NotEqual(t, out.ThreadID, next.ThreadID)
}

func TestFireTriggerTerminalThreadExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	out := h.process(t, testArticle("a1", "Trial opens"), ongoing("Smith trial", "John Smith"))
	tb := h.trigger(t, out.ThreadID, story.TriggerTimeBased)
	require.NoError(t, h.store.UpdateThreadStatus(ctx, out.ThreadID, story.StatusDormant))

	h.now = tb.DueAt
	res, err := h.orch.FireTrigger(ctx, tb)
	require.NoError(t, err)
	assert.Equal(t, FireExpired, res.Action)
	assert.Zero(t, h.oracle.threadCalls)
}

func TestFireResolutionCheckNeedsKeyword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	out := h.process(t, testArticle("a1", "Trial opens"), ongoing("Smith trial", "John Smith"))
	rc := h.trigger(t, out.ThreadID, story.TriggerResolutionCheck)

	h.now = rc.DueAt
	h.oracle.thread = oracle.ThreadAnalysis{RecommendedStatus: story.StatusMonitoring}

	res, err := h.orch.FireTrigger(ctx, rc)
	require.NoError(t, err)
	assert.Equal(t, FireSkipped, res.Action)
	assert.Zero(t, h.oracle.threadCalls)

	rc = h.trigger(t, out.ThreadID, story.TriggerResolutionCheck)
	assert.Equal(t, story.TriggerArmed, rc.State)
	assert.Equal(t, 1, rc.Fires)

	verdict := testArticle("a2", "Smith trial: jury reaches VERDICT")
	verdict.PublishedAt = h.now
	require.Equal(t, ActionAppended, h.process(t, verdict, ongoing("Smith trial", "John Smith")).Action)

	h.now = rc.DueAt
	res, err = h.orch.FireTrigger(ctx, rc)
	require.NoError(t, err)
	assert.Equal(t, FireAnalyzed, res.Action)
	assert.Equal(t, story.StatusMonitoring, res.To)
	assert.Equal(t, 1, h.oracle.threadCalls)
}

func TestFireTriggerAnalysisFailureKeepsStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	out := h.process(t, testArticle("a1", "Trial opens"), ongoing("Smith trial", "John Smith"))
	tb := h.trigger(t, out.ThreadID, story.TriggerTimeBased)

	h.now = tb.DueAt
	h.oracle.threadErr = oracle.ErrMalformed

	res, err := h.orch.FireTrigger(ctx, tb)
	require.NoError(t, err)
	assert.Equal(t, FireFailed, res.Action)

	th, err := h.store.GetThread(ctx, out.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, story.StatusDeveloping, th.Status)
	assert.Equal(t, 1, h.trigger(t, out.ThreadID, story.TriggerTimeBased).Fires)
}

func TestDerivePriority(t *testing.T) {
	tests := []struct {
		name string
		ind  oracle.PriorityIndicators
		want story.Priority
	}{
		{"missing person", oracle.PriorityIndicators{MissingPerson: true}, story.PriorityCritical},
		{"active search", oracle.PriorityIndicators{ActiveSearch: true, PublicInterest: 10}, story.PriorityCritical},
		{"legal", oracle.PriorityIndicators{LegalProceedings: true}, story.PriorityHigh},
		{"public interest", oracle.PriorityIndicators{PublicInterest: 80}, story.PriorityHigh},
		{"high average", oracle.PriorityIndicators{PublicInterest: 70, TimeSensitivity: 75, OngoingRisk: 70}, story.PriorityHigh},
		{"medium average", oracle.PriorityIndicators{PublicInterest: 40, TimeSensitivity: 40, OngoingRisk: 40}, story.PriorityMedium},
		{"low", oracle.PriorityIndicators{PublicInterest: 79, TimeSensitivity: 10, OngoingRisk: 10}, story.PriorityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DerivePriority(tt.ind))
		})
	}
}

func TestKeyedMutexForgetsReleasedKeys(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("north")
	acquired := make(chan struct{})
	go func() {
		defer close(acquired)
		k.Lock("north")()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first held")
	case <-time.After(20 * time.Millisecond):
	}
	k.Lock("south")()
	unlock()
	<-acquired
	assert.Zero(t, k.size())
}
