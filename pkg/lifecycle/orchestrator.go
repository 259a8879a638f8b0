// Package lifecycle coordinates oracle calls, thread matching, thread
// persistence and trigger scheduling for story threads.
//
// Find-or-create of a thread is serialized per (region, category) twice:
// by an in-process keyed mutex and by a store lease, so several scheduler
// processes may share one database.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/elonfeng/storyradar/internal/store"
	"github.com/elonfeng/storyradar/pkg/alert"
	"github.com/elonfeng/storyradar/pkg/article"
	"github.com/elonfeng/storyradar/pkg/match"
	"github.com/elonfeng/storyradar/pkg/oracle"
	"github.com/elonfeng/storyradar/pkg/story"
	"github.com/elonfeng/storyradar/pkg/trigger"
)

// Store is the persistence the orchestrator needs. Conflicting writes
// wrap store.ErrConflict.
type Store interface {
	CreateThread(ctx context.Context, t *story.Thread, origin article.Article, beats []story.Beat, triggers []story.Trigger) error
	AppendArticle(ctx context.Context, threadID string, a article.Article, role story.Role) (bool, error)
	GetThread(ctx context.Context, id string) (*story.Thread, error)
	FindActiveThreads(ctx context.Context, region string, categories ...string) ([]story.Thread, error)
	UpdateThreadStatus(ctx context.Context, id string, status story.Status) error
	UpdateThreadPriority(ctx context.Context, id string, p story.Priority) error
	UpdateNextCheck(ctx context.Context, id string, at time.Time) error
	ListTriggers(ctx context.Context, threadID string) ([]story.Trigger, error)
	RecordTriggerFire(ctx context.Context, id string, at time.Time, state story.TriggerState, nextDue time.Time) error
	RescheduleTrigger(ctx context.Context, id string, dueAt time.Time) error
	ExpireTrigger(ctx context.Context, id string) error
	ExpireThreadTriggers(ctx context.Context, threadID string) (int64, error)
	AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key, owner string) error
}

// leasePoll is how often a blocked ingestion retries the store lease.
const leasePoll = 25 * time.Millisecond

// Options configures an Orchestrator. Zero fields take defaults.
type Options struct {
	OracleTimeout time.Duration
	// LeaseTTL bounds how long a crashed process can block find-or-create
	// for its (region, category).
	LeaseTTL time.Duration
	Matcher  *match.Matcher
	Planner  *trigger.Planner
	Alerts   *alert.Manager
	Now      func() time.Time
}

// Orchestrator drives threads through their lifecycle.
type Orchestrator struct {
	store   Store
	oracle  oracle.Oracle
	matcher *match.Matcher
	planner *trigger.Planner
	alerts  *alert.Manager
	timeout time.Duration
	locks   *keyedMutex
	owner   string
	lease   time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

// New creates an orchestrator.
func New(st Store, or oracle.Oracle, opts Options, log zerolog.Logger) *Orchestrator {
	if opts.OracleTimeout <= 0 {
		opts.OracleTimeout = 30 * time.Second
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 2 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Matcher == nil {
		opts.Matcher = match.New(match.DefaultPolicy())
	}
	if opts.Planner == nil {
		opts.Planner = trigger.NewPlanner(trigger.DefaultPolicy())
	}
	opts.Planner.WithClock(opts.Now)
	return &Orchestrator{
		store:   st,
		oracle:  or,
		matcher: opts.Matcher,
		planner: opts.Planner,
		alerts:  opts.Alerts,
		timeout: opts.OracleTimeout,
		locks:   newKeyedMutex(),
		owner:   uuid.NewString(),
		lease:   opts.LeaseTTL,
		now:     opts.Now,
		log:     log.With().Str("component", "lifecycle").Logger(),
	}
}

// Action is what ProcessArticle did with an article.
type Action string

const (
	ActionSkipped   Action = "skipped"
	ActionCreated   Action = "created"
	ActionAppended  Action = "appended"
	ActionDuplicate Action = "duplicate"
)

// Outcome reports the result of processing one article.
type Outcome struct {
	Action     Action
	ThreadID   string
	MatchScore float64
	Analysis   oracle.ArticleAnalysis
}

// ProcessArticle runs a newly published article through the oracle and
// either starts a thread, continues one or skips it. Oracle failures and
// non-ongoing verdicts skip the article without error. Only store failures
// are returned.
func (o *Orchestrator) ProcessArticle(ctx context.Context, a article.Article) (Outcome, error) {
	log := o.log.With().Str("article", a.ID).Str("region", a.Region).Logger()

	an, err := o.analyzeArticle(ctx, a)
	if err != nil {
		log.Warn().Err(err).Msg("article analysis failed, treating as not ongoing")
		return Outcome{Action: ActionSkipped}, nil
	}
	if !an.IsOngoingStory {
		log.Debug().Int("confidence", an.Confidence).Msg("not an ongoing story")
		return Outcome{Action: ActionSkipped, Analysis: an}, nil
	}

	category := story.NormalizeLabel(an.Category)
	if category == "" {
		category = story.NormalizeLabel(a.Category)
	}
	key := a.Region + "\x00" + category
	unlock := o.locks.Lock(key)
	defer unlock()
	release, err := o.acquireLease(ctx, "thread:"+a.Region+"/"+category)
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	out, err := o.matchOrCreate(ctx, a, an, category)
	if errors.Is(err, store.ErrConflict) {
		// Another writer attached the article first; look again and join it.
		log.Warn().Err(err).Msg("thread write conflict, retrying as append")
		out, err = o.matchOrCreate(ctx, a, an, category)
	}
	if err != nil {
		return Outcome{}, err
	}
	out.Analysis = an
	return out, nil
}

func (o *Orchestrator) matchOrCreate(ctx context.Context, a article.Article, an oracle.ArticleAnalysis, category string) (Outcome, error) {
	candidates, err := o.store.FindActiveThreads(ctx, a.Region, category, a.Category)
	if err != nil {
		return Outcome{}, fmt.Errorf("find candidate threads: %w", err)
	}
	for i := range candidates {
		if candidates[i].HasArticle(a.ID) {
			return Outcome{Action: ActionDuplicate, ThreadID: candidates[i].ID}, nil
		}
	}
	if res, ok := o.matcher.FindMatchingThread(a, an, candidates); ok {
		return o.appendTo(ctx, res.Thread, a, an, res.Score)
	}
	return o.createThread(ctx, a, an, category)
}

func (o *Orchestrator) createThread(ctx context.Context, a article.Article, an oracle.ArticleAnalysis, category string) (Outcome, error) {
	plan, err := o.planner.Plan(an)
	if err != nil {
		return Outcome{}, fmt.Errorf("plan triggers: %w", err)
	}

	title := an.ThreadTitle
	if title == "" {
		title = a.Title
	}
	t := &story.Thread{
		Region:             a.Region,
		Title:              title,
		Summary:            an.ThreadSummary,
		Category:           category,
		Subcategory:        an.Subcategory,
		Tags:               an.Tags,
		Priority:           DerivePriority(an.Priority),
		Status:             story.StatusDeveloping,
		Entities:           an.Entities(),
		MonitoringKeywords: an.MonitoringKeywords,
		NextCheckAt:        plan.NextCheckAt,
	}
	beats := make([]story.Beat, 0, len(an.PredictedBeats))
	for _, pb := range an.PredictedBeats {
		beats = append(beats, story.Beat{
			Title:        pb.Title,
			Description:  pb.Description,
			ExpectedDate: pb.ExpectedDate,
			Likelihood:   pb.Likelihood,
		})
	}

	if err := o.store.CreateThread(ctx, t, a, beats, plan.Triggers); err != nil {
		return Outcome{}, err
	}
	o.log.Info().Str("thread", t.ID).Str("article", a.ID).Str("priority", string(t.Priority)).
		Int("triggers", len(plan.Triggers)).Int("beats", len(beats)).
		Time("next_check_at", t.NextCheckAt).Msg("thread created")
	return Outcome{Action: ActionCreated, ThreadID: t.ID}, nil
}

func (o *Orchestrator) appendTo(ctx context.Context, t *story.Thread, a article.Article, an oracle.ArticleAnalysis, score float64) (Outcome, error) {
	added, err := o.store.AppendArticle(ctx, t.ID, a, story.RoleFollowUp)
	if err != nil {
		return Outcome{}, err
	}
	if !added {
		return Outcome{Action: ActionDuplicate, ThreadID: t.ID, MatchScore: score}, nil
	}

	if derived := DerivePriority(an.Priority); derived.Rank() > t.Priority.Rank() {
		if err := o.store.UpdateThreadPriority(ctx, t.ID, derived); err != nil {
			return Outcome{}, fmt.Errorf("escalate priority: %w", err)
		}
		o.log.Info().Str("thread", t.ID).Str("from", string(t.Priority)).Str("to", string(derived)).
			Msg("thread priority escalated")
	}
	o.log.Info().Str("thread", t.ID).Str("article", a.ID).Float64("match_score", score).Msg("article appended")
	return Outcome{Action: ActionAppended, ThreadID: t.ID, MatchScore: score}, nil
}

// acquireLease blocks until this orchestrator holds the store lease for key.
func (o *Orchestrator) acquireLease(ctx context.Context, key string) (func(), error) {
	for {
		ok, err := o.store.AcquireLease(ctx, key, o.owner, o.lease)
		if err != nil {
			return nil, fmt.Errorf("acquire thread lease: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire thread lease: %w", ctx.Err())
		case <-time.After(leasePoll):
		}
	}
	return func() {
		if err := o.store.ReleaseLease(context.WithoutCancel(ctx), key, o.owner); err != nil {
			o.log.Warn().Err(err).Msg("release thread lease failed")
		}
	}, nil
}

func (o *Orchestrator) analyzeArticle(ctx context.Context, a article.Article) (oracle.ArticleAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return o.oracle.AnalyzeArticle(ctx, a)
}

func (o *Orchestrator) analyzeThread(ctx context.Context, t *story.Thread) (oracle.ThreadAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return o.oracle.AnalyzeThread(ctx, t)
}
