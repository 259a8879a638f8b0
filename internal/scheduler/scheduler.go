package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/storyradar/pkg/article"
	"github.com/elonfeng/storyradar/pkg/lifecycle"
	"github.com/elonfeng/storyradar/pkg/story"
)

// Queue is the store side of the scheduler: unprocessed articles and due
// triggers.
type Queue interface {
	PendingArticles(ctx context.Context, limit int) ([]article.Article, error)
	MarkArticleProcessed(ctx context.Context, id string, at time.Time) error
	DueTriggers(ctx context.Context, now time.Time, limit int) ([]story.Trigger, error)
}

// Engine runs the per-article and per-trigger tasks.
type Engine interface {
	ProcessArticle(ctx context.Context, a article.Article) (lifecycle.Outcome, error)
	FireTrigger(ctx context.Context, tr story.Trigger) (lifecycle.FireResult, error)
}

// Baselines recomputes engagement baselines.
type Baselines interface {
	RecalculateAll(ctx context.Context) (int, error)
}

// Options tunes a Scheduler. Zero fields take defaults.
type Options struct {
	ArticleInterval  time.Duration
	TriggerInterval  time.Duration
	BaselineInterval time.Duration
	Workers          int
	BatchSize        int
	Now              func() time.Time
}

// Scheduler runs article processing, trigger firing and baseline
// recalculation on fixed intervals.
type Scheduler struct {
	queue     Queue
	engine    Engine
	baselines Baselines
	opts      Options
	log       zerolog.Logger
}

// New creates a new scheduler. baselines may be nil.
func New(q Queue, engine Engine, baselines Baselines, opts Options, log zerolog.Logger) *Scheduler {
	if opts.ArticleInterval <= 0 {
		opts.ArticleInterval = 5 * time.Minute
	}
	if opts.TriggerInterval <= 0 {
		opts.TriggerInterval = 15 * time.Minute
	}
	if opts.BaselineInterval <= 0 {
		opts.BaselineInterval = 6 * time.Hour
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		queue:     q,
		engine:    engine,
		baselines: baselines,
		opts:      opts,
		log:       log.With().Str("component", "scheduler").Logger(),
	}
}

// Run starts the scheduler loop. Every job runs once immediately, then on
// its ticker. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	articleTicker := time.NewTicker(s.opts.ArticleInterval)
	triggerTicker := time.NewTicker(s.opts.TriggerInterval)
	baselineTicker := time.NewTicker(s.opts.BaselineInterval)
	defer articleTicker.Stop()
	defer triggerTicker.Stop()
	defer baselineTicker.Stop()

	s.refreshBaselines(ctx)
	s.processPending(ctx)
	s.fireDue(ctx)

	s.log.Info().
		Dur("articles_every", s.opts.ArticleInterval).
		Dur("triggers_every", s.opts.TriggerInterval).
		Dur("baselines_every", s.opts.BaselineInterval).
		Int("workers", s.opts.Workers).
		Msg("scheduler running")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-articleTicker.C:
			s.processPending(ctx)
		case <-triggerTicker.C:
			s.fireDue(ctx)
		case <-baselineTicker.C:
			s.refreshBaselines(ctx)
		}
	}
}

// Stats counts the tasks of one batch.
type Stats struct {
	Total   int
	Failed  int
	// Actions counts outcomes by action name.
	Actions map[string]int
}

type tally struct {
	failed  atomic.Int64
	actions chan string
}

// ProcessPending runs one batch of unprocessed articles through the engine.
// Articles are marked processed once the engine handled them without a
// store error; the rest are retried on the next batch.
func (s *Scheduler) ProcessPending(ctx context.Context) (Stats, error) {
	articles, err := s.queue.PendingArticles(ctx, s.opts.BatchSize)
	if err != nil {
		return Stats{}, fmt.Errorf("load pending articles: %w", err)
	}
	return s.run(len(articles), func(i int) (string, error) {
		a := articles[i]
		out, err := s.engine.ProcessArticle(ctx, a)
		if err != nil {
			return "", fmt.Errorf("process article %s: %w", a.ID, err)
		}
		if err := s.queue.MarkArticleProcessed(ctx, a.ID, s.opts.Now()); err != nil {
			return "", err
		}
		return string(out.Action), nil
	}), nil
}

// FireDue fires one batch of due triggers.
func (s *Scheduler) FireDue(ctx context.Context) (Stats, error) {
	due, err := s.queue.DueTriggers(ctx, s.opts.Now(), s.opts.BatchSize)
	if err != nil {
		return Stats{}, fmt.Errorf("load due triggers: %w", err)
	}
	return s.run(len(due), func(i int) (string, error) {
		res, err := s.engine.FireTrigger(ctx, due[i])
		if err != nil {
			return "", fmt.Errorf("fire trigger %s: %w", due[i].ID, err)
		}
		return string(res.Action), nil
	}), nil
}

// run executes n tasks on at most Workers goroutines. A failing task is
// logged and counted; it never stops the batch.
func (s *Scheduler) run(n int, task func(i int) (string, error)) Stats {
	st := Stats{Total: n, Actions: make(map[string]int)}
	if n == 0 {
		return st
	}
	t := tally{actions: make(chan string, n)}

	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			action, err := task(i)
			if err != nil {
				t.failed.Add(1)
				s.log.Error().Err(err).Msg("task failed")
				return nil
			}
			t.actions <- action
			return nil
		})
	}
	_ = g.Wait()
	close(t.actions)

	for a := range t.actions {
		st.Actions[a]++
	}
	st.Failed = int(t.failed.Load())
	return st
}

func (s *Scheduler) processPending(ctx context.Context) {
	st, err := s.ProcessPending(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("article batch failed")
		return
	}
	if st.Total > 0 {
		s.log.Info().Int("articles", st.Total).Int("failed", st.Failed).
			Interface("actions", st.Actions).Msg("processed articles")
	}
}

func (s *Scheduler) fireDue(ctx context.Context) {
	st, err := s.FireDue(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("trigger batch failed")
		return
	}
	if st.Total > 0 {
		s.log.Info().Int("triggers", st.Total).Int("failed", st.Failed).
			Interface("actions", st.Actions).Msg("fired triggers")
	}
}

func (s *Scheduler) refreshBaselines(ctx context.Context) {
	if s.baselines == nil {
		return
	}
	n, err := s.baselines.RecalculateAll(ctx)
	if err != nil {
		s.log.Error().Err(err).Int("recalculated", n).Msg("baseline recalculation failed")
		return
	}
	s.log.Info().Int("recalculated", n).Msg("baselines recalculated")
}
