package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/storyradar/internal/cache"
	"github.com/elonfeng/storyradar/internal/config"
	"github.com/elonfeng/storyradar/internal/logging"
	"github.com/elonfeng/storyradar/internal/scheduler"
	"github.com/elonfeng/storyradar/internal/store"
	"github.com/elonfeng/storyradar/pkg/alert"
	"github.com/elonfeng/storyradar/pkg/article"
	"github.com/elonfeng/storyradar/pkg/engagement"
	"github.com/elonfeng/storyradar/pkg/lifecycle"
	"github.com/elonfeng/storyradar/pkg/match"
	"github.com/elonfeng/storyradar/pkg/oracle"
	"github.com/elonfeng/storyradar/pkg/story"
	"github.com/elonfeng/storyradar/pkg/trigger"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

// app holds the wired engine for one command invocation.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	store    *store.SQLiteStore
	provider *engagement.Provider
	scorer   *engagement.Scorer
	orch     *lifecycle.Orchestrator
	closers  []func() error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &app{cfg: cfg, log: log, store: db, closers: []func() error{db.Close}}

	baselineCache, err := a.buildCache(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	policy := cfg.ScoringPolicy()
	a.provider = engagement.NewProvider(db, baselineCache, cfg.Cache.ProviderOptions(policy.Defaults), log)
	a.scorer = engagement.NewScorer(a.provider, policy)

	a.orch = lifecycle.New(db, a.buildOracle(), lifecycle.Options{
		OracleTimeout: cfg.Oracle.ParseTimeout(),
		Matcher:       match.New(cfg.MatchPolicy()),
		Planner:       trigger.NewPlanner(cfg.Triggers),
		Alerts:        buildAlertManager(cfg),
	}, log)
	return a, nil
}

func (a *app) buildCache(ctx context.Context) (engagement.BaselineCache, error) {
	if a.cfg.Cache.Backend != "redis" {
		return cache.NewMemory(), nil
	}
	client, err := cache.Dial(ctx, a.cfg.Cache.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	a.log.Info().Str("backend", "redis").Msg("baseline cache ready")
	return cache.NewRedis(client, a.log), nil
}

func (a *app) buildOracle() oracle.Oracle {
	oc := a.cfg.Oracle
	if !oc.Enabled || oc.APIKey == "" {
		a.log.Warn().Msg("oracle disabled, every article will be treated as not ongoing")
		return oracle.Disabled{}
	}
	a.log.Info().Str("provider", oc.Provider).Str("model", oc.Model).Msg("oracle enabled")
	return oracle.NewClient(oracle.ClientOptions{
		Provider:          oc.Provider,
		Model:             oc.Model,
		APIKey:            oc.APIKey,
		BaseURL:           oc.BaseURL,
		Timeout:           oc.ParseTimeout(),
		RequestsPerMinute: oc.RequestsPerMinute,
	}, a.log)
}

func (a *app) scheduler() *scheduler.Scheduler {
	sc := a.cfg.Schedule
	return scheduler.New(a.store, a.orch, a.provider, scheduler.Options{
		ArticleInterval:  sc.ParseArticleInterval(),
		TriggerInterval:  sc.ParseTriggerInterval(),
		BaselineInterval: sc.ParseBaselineInterval(),
		Workers:          sc.Workers,
		BatchSize:        sc.BatchSize,
	}, a.log)
}

// Close releases everything newApp opened, last opened first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("close failed")
		}
	}
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

// readArticles accepts either a JSON array of articles or an object with
// an "articles" array.
func readArticles(path string) ([]article.Article, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	var articles []article.Article
	if len(data) > 0 && data[0] == '{' {
		var doc struct {
			Articles []article.Article `json:"articles"`
		}
		err = json.Unmarshal(data, &doc)
		articles = doc.Articles
	} else {
		err = json.Unmarshal(data, &articles)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, a := range articles {
		if a.ID == "" || a.Region == "" {
			return nil, fmt.Errorf("article %d in %s: id and region are required", i, path)
		}
		if a.PublishedAt.IsZero() {
			articles[i].PublishedAt = time.Now().UTC()
		}
	}
	return articles, nil
}

func runIngest(ctx context.Context, path string, process bool) error {
	articles, err := readArticles(path)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, art := range articles {
		if err := a.store.UpsertArticle(ctx, art); err != nil {
			return fmt.Errorf("store article %s: %w", art.ID, err)
		}
	}
	fmt.Fprintf(os.Stderr, "stored %d articles\n", len(articles))
	if !process {
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ARTICLE\tACTION\tTHREAD\tMATCH")
	for _, art := range articles {
		out, err := a.orch.ProcessArticle(ctx, art)
		if err != nil {
			return fmt.Errorf("process article %s: %w", art.ID, err)
		}
		if err := a.store.MarkArticleProcessed(ctx, art.ID, time.Now()); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\n", art.ID, out.Action, out.ThreadID, out.MatchScore)
	}
	return w.Flush()
}

func runDaemon(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.scheduler().Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	fmt.Fprintln(os.Stderr, "shutting down...")
	return nil
}

func runThreads(ctx context.Context, status, region string, limit int, jsonOutput bool) error {
	filter := store.ThreadFilter{Region: region, Limit: limit}
	if status != "" {
		st, ok := story.ParseStatus(status)
		if !ok {
			return fmt.Errorf("unknown status %q", status)
		}
		filter.Status = st
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	threads, err := a.store.ListThreads(ctx, filter)
	if err != nil {
		return fmt.Errorf("list threads: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(threads)
	}

	if len(threads) == 0 {
		fmt.Println("no threads found (try ingesting articles first: storyradar ingest articles.json)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tARTICLES\tTITLE\tNEXT CHECK")
	for _, t := range threads {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			t.ID, t.Status, t.Priority, len(t.Members), t.Title,
			t.NextCheckAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runScore(ctx context.Context, threadID string, jsonOutput bool) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.store.GetThread(ctx, threadID)
	if err != nil {
		return fmt.Errorf("load thread: %w", err)
	}
	report := a.scorer.Report(ctx, t)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("%s (%s, %s)\n", t.Title, t.Status, t.Priority)
	fmt.Printf("  score:              %.1f\n", report.Score)
	fmt.Printf("  momentum:           %.2f\n", report.Momentum)
	fmt.Printf("  comments:           %d\n", report.TotalComments)
	fmt.Printf("  follow-up priority: %.1f\n", report.FollowUpPriority)
	return nil
}

func runRecalc(ctx context.Context, region, category string) error {
	if region != "" && category == "" {
		return fmt.Errorf("--region needs --category")
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if category != "" {
		b, err := a.provider.Recalculate(ctx, region, category)
		if err != nil {
			return err
		}
		fmt.Printf("%s/%s: %s baseline from %d samples (views %.1f ± %.1f)\n",
			region, category, b.Scope, b.Samples, b.Views.Mean, b.Views.StdDev)
		return nil
	}

	n, err := a.provider.RecalculateAll(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("recalculated %d baselines\n", n)
	return nil
}

func runCheck(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.scheduler().FireDue(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("fired %d triggers (%d failed)\n", st.Total, st.Failed)
	for action, n := range st.Actions {
		fmt.Printf("  %s: %d\n", action, n)
	}
	return nil
}
