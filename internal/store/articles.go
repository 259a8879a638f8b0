package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/elonfeng/storyradar/pkg/article"
	"github.com/elonfeng/storyradar/pkg/engagement"
)

const articleColumns = "id, region, category, title, body, url, published_at, views, comments, shares, avg_dwell_seconds"

// upsertArticle inserts a or raises its stored counters. Counters never
// decrease; the other columns keep their first-seen values.
func upsertArticle(ctx context.Context, q querier, a article.Article) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO articles (id, region, category, title, body, url, published_at, views, comments, shares, avg_dwell_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			views = MAX(views, excluded.views),
			comments = MAX(comments, excluded.comments),
			shares = MAX(shares, excluded.shares),
			avg_dwell_seconds = COALESCE(excluded.avg_dwell_seconds, avg_dwell_seconds)
	`, a.ID, a.Region, a.Category, a.Title, a.Body, a.URL, a.PublishedAt.UTC(),
		a.Views, a.Comments, a.Shares, a.AvgDwellSeconds)
	if err != nil {
		return fmt.Errorf("upsert article %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertArticle(ctx context.Context, a article.Article) error {
	return upsertArticle(ctx, s.db, a)
}

func (s *SQLiteStore) GetArticle(ctx context.Context, id string) (*article.Article, error) {
	var a article.Article
	err := s.db.GetContext(ctx, &a, "SELECT "+articleColumns+" FROM articles WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get article %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get article %s: %w", id, err)
	}
	a.PublishedAt = a.PublishedAt.UTC()
	return &a, nil
}

// PendingArticles returns articles not yet run through the lifecycle,
// oldest first.
func (s *SQLiteStore) PendingArticles(ctx context.Context, limit int) ([]article.Article, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []article.Article
	err := selectBuilt(ctx, s.db, &out, sq.Select(articleColumns).
		From("articles").
		Where(sq.Eq{"processed_at": nil}).
		OrderBy("published_at", "id").
		Limit(uint64(limit)))
	if err != nil {
		return nil, fmt.Errorf("pending articles: %w", err)
	}
	for i := range out {
		out[i].PublishedAt = out[i].PublishedAt.UTC()
	}
	return out, nil
}

func (s *SQLiteStore) MarkArticleProcessed(ctx context.Context, id string, at time.Time) error {
	n, err := execBuilt(ctx, s.db, sq.Update("articles").Set("processed_at", at.UTC()).Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("mark article %s processed: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("mark article %s processed: %w", id, ErrNotFound)
	}
	return nil
}

// MetricSamples returns the metrics of articles in (region, category)
// published at or after since.
func (s *SQLiteStore) MetricSamples(ctx context.Context, region, category string, since time.Time) ([]article.Metrics, error) {
	return s.samples(ctx, sq.Eq{"region": region, "category": category}, since)
}

// RegionSamples returns the metrics of every article in region published
// at or after since.
func (s *SQLiteStore) RegionSamples(ctx context.Context, region string, since time.Time) ([]article.Metrics, error) {
	return s.samples(ctx, sq.Eq{"region": region}, since)
}

func (s *SQLiteStore) samples(ctx context.Context, where sq.Eq, since time.Time) ([]article.Metrics, error) {
	var out []article.Metrics
	err := selectBuilt(ctx, s.db, &out, sq.Select("views", "comments", "shares", "avg_dwell_seconds").
		From("articles").
		Where(where).
		Where(sq.GtOrEq{"published_at": since.UTC()}))
	if err != nil {
		return nil, fmt.Errorf("metric samples: %w", err)
	}
	return out, nil
}

// BaselineKeys lists the (region, category) pairs with articles published
// at or after since.
func (s *SQLiteStore) BaselineKeys(ctx context.Context, since time.Time) ([]engagement.Key, error) {
	var out []engagement.Key
	err := selectBuilt(ctx, s.db, &out, sq.Select("region", "category").Distinct().
		From("articles").
		Where(sq.GtOrEq{"published_at": since.UTC()}).
		OrderBy("region", "category"))
	if err != nil {
		return nil, fmt.Errorf("baseline keys: %w", err)
	}
	return out, nil
}
