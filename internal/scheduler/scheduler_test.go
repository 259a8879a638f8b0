package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/storyradar/pkg/article"
	"github.com/elonfeng/storyradar/pkg/lifecycle"
	"github.com/elonfeng/storyradar/pkg/story"
)

var testNow = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

type fakeQueue struct {
	mu        sync.Mutex
	pending   []article.Article
	processed map[string]time.Time
	due       []story.Trigger
	dueAt     time.Time
	err       error
}

func (q *fakeQueue) PendingArticles(_ context.Context, limit int) ([]article.Article, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	var out []article.Article
	for _, a := range q.pending {
		if _, done := q.processed[a.ID]; !done && len(out) < limit {
			out = append(out, a)
		}
	}
	return out, nil
}

func (q *fakeQueue) MarkArticleProcessed(_ context.Context, id string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processed[id] = at
	return nil
}

func (q *fakeQueue) DueTriggers(_ context.Context, now time.Time, _ int) ([]story.Trigger, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dueAt = now
	return q.due, nil
}

type fakeEngine struct {
	running  atomic.Int32
	peak     atomic.Int32
	articles atomic.Int32
	fires    atomic.Int32
	failID   string
	delay    time.Duration
}

func (e *fakeEngine) enter() func() {
	n := e.running.Add(1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(e.delay)
	return func() { e.running.Add(-1) }
}

func (e *fakeEngine) ProcessArticle(_ context.Context, a article.Article) (lifecycle.Outcome, error) {
	defer e.enter()()
	e.articles.Add(1)
	if a.ID == e.failID {
		return lifecycle.Outcome{}, errors.New("database is locked")
	}
	if a.Category == "weather" {
		return lifecycle.Outcome{Action: lifecycle.ActionSkipped}, nil
	}
	return lifecycle.Outcome{Action: lifecycle.ActionCreated, ThreadID: "t-" + a.ID}, nil
}

func (e *fakeEngine) FireTrigger(_ context.Context, tr story.Trigger) (lifecycle.FireResult, error) {
	defer e.enter()()
	e.fires.Add(1)
	return lifecycle.FireResult{Action: lifecycle.FireAnalyzed, ThreadID: tr.ThreadID}, nil
}

type fakeBaselines struct{ calls atomic.Int32 }

func (b *fakeBaselines) RecalculateAll(context.Context) (int, error) {
	b.calls.Add(1)
	return 3, nil
}

func newQueue(n int) *fakeQueue {
	q := &fakeQueue{processed: make(map[string]time.Time)}
	for i := 0; i < n; i++ {
		cat := "crime"
		if i%2 == 1 {
			cat = "weather"
		}
		q.pending = append(q.pending, article.Article{ID: fmt.Sprintf("a%d", i), Category: cat})
	}
	return q
}

func TestProcessPendingMarksHandledArticles(t *testing.T) {
	q := newQueue(6)
	eng := &fakeEngine{failID: "a2"}
	s := New(q, eng, nil, Options{Now: func() time.Time { return testNow }}, zerolog.Nop())

	st, err := s.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, st.Total)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 2, st.Actions["created"])
	assert.Equal(t, 3, st.Actions["skipped"])

	assert.Len(t, q.processed, 5)
	assert.NotContains(t, q.processed, "a2")
	assert.Equal(t, testNow, q.processed["a0"])

	// The failed article comes back on the next batch.
	st, err = s.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Total)
}

func TestProcessPendingRespectsBatchAndWorkers(t *testing.T) {
	q := newQueue(20)
	eng := &fakeEngine{delay: 5 * time.Millisecond}
	s := New(q, eng, nil, Options{Workers: 3, BatchSize: 8}, zerolog.Nop())

	st, err := s.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, st.Total)
	assert.EqualValues(t, 8, eng.articles.Load())
	assert.LessOrEqual(t, eng.peak.Load(), int32(3))
}

func TestProcessPendingQueueError(t *testing.T) {
	q := newQueue(1)
	q.err = errors.New("disk I/O error")
	s := New(q, &fakeEngine{}, nil, Options{}, zerolog.Nop())

	_, err := s.ProcessPending(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
}

func TestFireDue(t *testing.T) {
	q := newQueue(0)
	q.due = []story.Trigger{{ID: "tr1", ThreadID: "t1"}, {ID: "tr2", ThreadID: "t2"}}
	eng := &fakeEngine{}
	s := New(q, eng, nil, Options{Now: func() time.Time { return testNow }}, zerolog.Nop())

	st, err := s.FireDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Actions["analyzed"])
	assert.Equal(t, testNow, q.dueAt)
}

func TestRunStartsImmediatelyAndStops(t *testing.T) {
	q := newQueue(2)
	q.due = []story.Trigger{{ID: "tr1", ThreadID: "t1"}}
	eng := &fakeEngine{}
	bl := &fakeBaselines{}
	s := New(q, eng, bl, Options{
		ArticleInterval:  time.Hour,
		TriggerInterval:  time.Hour,
		BaselineInterval: time.Hour,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return eng.articles.Load() == 2 && eng.fires.Load() == 1
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, bl.calls.Load())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRunTicks(t *testing.T) {
	q := newQueue(0)
	q.due = []story.Trigger{{ID: "tr1", ThreadID: "t1"}}
	eng := &fakeEngine{}
	s := New(q, eng, nil, Options{
		ArticleInterval:  time.Hour,
		TriggerInterval:  10 * time.Millisecond,
		BaselineInterval: time.Hour,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool { return eng.fires.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}
