package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/elonfeng/storyradar/pkg/article"
	"github.com/elonfeng/storyradar/pkg/story"
)

// appendRetries bounds optimistic retries of AppendArticle.
const appendRetries = 5

type threadRow struct {
	ID             string    `db:"id"`
	Region         string    `db:"region"`
	Title          string    `db:"title"`
	Summary        string    `db:"summary"`
	Category       string    `db:"category"`
	Subcategory    string    `db:"subcategory"`
	TagsJSON       string    `db:"tags"`
	Priority       string    `db:"priority"`
	Status         string    `db:"status"`
	EntitiesJSON   string    `db:"entities"`
	KeywordsJSON   string    `db:"monitoring_keywords"`
	FirstArticleAt time.Time `db:"first_article_at"`
	LastArticleAt  time.Time `db:"last_article_at"`
	NextCheckAt    time.Time `db:"next_check_at"`
	Version        int       `db:"version"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r threadRow) thread() story.Thread {
	t := story.Thread{
		ID:             r.ID,
		Region:         r.Region,
		Title:          r.Title,
		Summary:        r.Summary,
		Category:       r.Category,
		Subcategory:    r.Subcategory,
		Priority:       story.Priority(r.Priority),
		Status:         story.Status(r.Status),
		FirstArticleAt: r.FirstArticleAt.UTC(),
		LastArticleAt:  r.LastArticleAt.UTC(),
		NextCheckAt:    r.NextCheckAt.UTC(),
		Version:        r.Version,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	json.Unmarshal([]byte(r.TagsJSON), &t.Tags)
	json.Unmarshal([]byte(r.EntitiesJSON), &t.Entities)
	json.Unmarshal([]byte(r.KeywordsJSON), &t.MonitoringKeywords)
	return t
}

type memberRow struct {
	ThreadID string    `db:"thread_id"`
	Sequence int       `db:"sequence"`
	Role     string    `db:"role"`
	AddedAt  time.Time `db:"added_at"`
	article.Article
}

type beatRow struct {
	ID           string     `db:"id"`
	ThreadID     string     `db:"thread_id"`
	Title        string     `db:"title"`
	Description  string     `db:"description"`
	ExpectedDate *time.Time `db:"expected_date"`
	Likelihood   int        `db:"likelihood"`
	Position     int        `db:"position"`
	CreatedAt    time.Time  `db:"created_at"`
}

// CreateThread persists t together with its origin member, beats and
// triggers in one transaction. IDs and timestamps are filled in place.
// It fails with ErrConflict when origin already belongs to a thread.
func (s *SQLiteStore) CreateThread(ctx context.Context, t *story.Thread, origin article.Article, beats []story.Beat, triggers []story.Trigger) error {
	now := s.clock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Version = 1
	t.CreatedAt, t.UpdatedAt = now, now
	t.FirstArticleAt = origin.PublishedAt.UTC()
	t.LastArticleAt = origin.PublishedAt.UTC()

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := upsertArticle(ctx, tx, origin); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO threads (id, region, title, summary, category, subcategory, tags, priority, status,
				entities, monitoring_keywords, first_article_at, last_article_at, next_check_at, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.Region, t.Title, t.Summary, t.Category, t.Subcategory, toJSON(t.Tags), string(t.Priority), string(t.Status),
			toJSON(t.Entities), toJSON(t.MonitoringKeywords), t.FirstArticleAt, t.LastArticleAt,
			t.NextCheckAt.UTC(), t.Version, now, now)
		if err != nil {
			return fmt.Errorf("insert thread: %w", err)
		}

		if err := insertMember(ctx, tx, t.ID, origin.ID, 1, story.RoleOrigin, now); err != nil {
			return err
		}
		for i := range beats {
			if err := insertBeat(ctx, tx, t.ID, &beats[i], i+1, now); err != nil {
				return err
			}
		}
		for i := range triggers {
			if err := insertTrigger(ctx, tx, t.ID, &triggers[i], now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create thread %s: %w", t.ID, err)
	}

	t.Members = []story.Member{{Article: origin, Sequence: 1, Role: story.RoleOrigin, AddedAt: now}}
	t.PredictedBeats = beats
	return nil
}

func insertMember(ctx context.Context, tx *sqlx.Tx, threadID, articleID string, seq int, role story.Role, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO thread_articles (thread_id, article_id, sequence, role, added_at)
		VALUES (?, ?, ?, ?, ?)
	`, threadID, articleID, seq, string(role), at)
	if isUniqueViolation(err) {
		return fmt.Errorf("attach article %s: %w", articleID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("attach article %s: %w", articleID, err)
	}
	return nil
}

func insertBeat(ctx context.Context, tx *sqlx.Tx, threadID string, b *story.Beat, pos int, at time.Time) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.ThreadID = threadID
	b.CreatedAt = at
	b.ExpectedDate = utcPtr(b.ExpectedDate)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO beats (id, thread_id, title, description, expected_date, likelihood, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, threadID, b.Title, b.Description, b.ExpectedDate, b.Likelihood, pos, at)
	if err != nil {
		return fmt.Errorf("insert beat: %w", err)
	}
	return nil
}

// AppendArticle attaches a to the thread. It returns false without error
// when a is already a member of this thread, and ErrConflict when a
// belongs to another thread. The thread row is updated under an optimistic
// version compare; a lost race is retried.
func (s *SQLiteStore) AppendArticle(ctx context.Context, threadID string, a article.Article, role story.Role) (bool, error) {
	for attempt := 0; attempt < appendRetries; attempt++ {
		added, err := s.tryAppend(ctx, threadID, a, role)
		if errors.Is(err, errStaleVersion) {
			continue
		}
		return added, err
	}
	return false, fmt.Errorf("append article %s to %s: %w", a.ID, threadID, ErrConflict)
}

var errStaleVersion = errors.New("stale thread version")

func (s *SQLiteStore) tryAppend(ctx context.Context, threadID string, a article.Article, role story.Role) (bool, error) {
	added := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row threadRow
		err := tx.GetContext(ctx, &row, "SELECT * FROM threads WHERE id = ?", threadID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load thread %s: %w", threadID, err)
		}

		if err := upsertArticle(ctx, tx, a); err != nil {
			return err
		}

		var owner string
		err = tx.GetContext(ctx, &owner, "SELECT thread_id FROM thread_articles WHERE article_id = ?", a.ID)
		switch {
		case err == nil && owner == threadID:
			return nil
		case err == nil:
			return fmt.Errorf("article %s already in thread %s: %w", a.ID, owner, ErrConflict)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("lookup membership %s: %w", a.ID, err)
		}

		var seq int
		if err := tx.GetContext(ctx, &seq,
			"SELECT COALESCE(MAX(sequence), 0) + 1 FROM thread_articles WHERE thread_id = ?", threadID); err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		now := s.clock()
		if err := insertMember(ctx, tx, threadID, a.ID, seq, role, now); err != nil {
			return err
		}

		last := row.LastArticleAt.UTC()
		if pub := a.PublishedAt.UTC(); pub.After(last) {
			last = pub
		}
		n, err := execBuilt(ctx, tx, sq.Update("threads").
			Set("last_article_at", last).
			Set("updated_at", now).
			Set("version", sq.Expr("version + 1")).
			Where(sq.Eq{"id": threadID, "version": row.Version}))
		if err != nil {
			return fmt.Errorf("bump thread %s: %w", threadID, err)
		}
		if n == 0 {
			return errStaleVersion
		}
		added = true
		return nil
	})
	return added, err
}

func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*story.Thread, error) {
	var row threadRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM threads WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get thread %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get thread %s: %w", id, err)
	}
	threads, err := s.hydrate(ctx, []threadRow{row})
	if err != nil {
		return nil, err
	}
	return &threads[0], nil
}

// FindActiveThreads returns developing and monitoring threads in region,
// limited to the given categories when any are named. Categories compare
// folded: case, surrounding space and inner spaces versus underscores are
// ignored. Most recently updated stories come first.
func (s *SQLiteStore) FindActiveThreads(ctx context.Context, region string, categories ...string) ([]story.Thread, error) {
	q := sq.Select("*").From("threads").
		Where(sq.Eq{"region": region, "status": statusStrings(story.ActiveStatuses())}).
		OrderBy("last_article_at DESC", "created_at DESC", "id")
	var cats []string
	for _, c := range categories {
		if c = story.NormalizeLabel(c); c != "" {
			cats = append(cats, c)
		}
	}
	if len(cats) > 0 {
		q = q.Where(sq.Eq{"REPLACE(LOWER(TRIM(category)), ' ', '_')": cats})
	}
	var rows []threadRow
	if err := selectBuilt(ctx, s.db, &rows, q); err != nil {
		return nil, fmt.Errorf("find active threads: %w", err)
	}
	return s.hydrate(ctx, rows)
}

func (s *SQLiteStore) ListThreads(ctx context.Context, f ThreadFilter) ([]story.Thread, error) {
	q := sq.Select("*").From("threads").OrderBy("last_article_at DESC", "id")
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": string(f.Status)})
	}
	if f.Region != "" {
		q = q.Where(sq.Eq{"region": f.Region})
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q = q.Limit(uint64(limit))

	var rows []threadRow
	if err := selectBuilt(ctx, s.db, &rows, q); err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return s.hydrate(ctx, rows)
}

// hydrate loads members and beats for rows.
func (s *SQLiteStore) hydrate(ctx context.Context, rows []threadRow) ([]story.Thread, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]string, len(rows))
	threads := make([]story.Thread, len(rows))
	index := make(map[string]int, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
		threads[i] = r.thread()
		index[r.ID] = i
	}

	var members []memberRow
	err := selectBuilt(ctx, s.db, &members, sq.Select(
		"ta.thread_id", "ta.sequence", "ta.role", "ta.added_at",
		"a.id", "a.region", "a.category", "a.title", "a.body", "a.url", "a.published_at",
		"a.views", "a.comments", "a.shares", "a.avg_dwell_seconds").
		From("thread_articles ta").
		Join("articles a ON a.id = ta.article_id").
		Where(sq.Eq{"ta.thread_id": ids}).
		OrderBy("ta.thread_id", "ta.sequence"))
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	for _, m := range members {
		a := m.Article
		a.PublishedAt = a.PublishedAt.UTC()
		t := &threads[index[m.ThreadID]]
		t.Members = append(t.Members, story.Member{
			Article:  a,
			Sequence: m.Sequence,
			Role:     story.Role(m.Role),
			AddedAt:  m.AddedAt.UTC(),
		})
	}

	var beats []beatRow
	err = selectBuilt(ctx, s.db, &beats, sq.Select("*").From("beats").
		Where(sq.Eq{"thread_id": ids}).
		OrderBy("thread_id", "position", "created_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("load beats: %w", err)
	}
	for _, b := range beats {
		t := &threads[index[b.ThreadID]]
		t.PredictedBeats = append(t.PredictedBeats, story.Beat{
			ID:           b.ID,
			ThreadID:     b.ThreadID,
			Title:        b.Title,
			Description:  b.Description,
			ExpectedDate: utcPtr(b.ExpectedDate),
			Likelihood:   b.Likelihood,
			CreatedAt:    b.CreatedAt.UTC(),
		})
	}
	return threads, nil
}

func (s *SQLiteStore) UpdateThreadStatus(ctx context.Context, id string, status story.Status) error {
	return s.updateThread(ctx, id, "status", string(status))
}

func (s *SQLiteStore) UpdateThreadPriority(ctx context.Context, id string, p story.Priority) error {
	return s.updateThread(ctx, id, "priority", string(p))
}

func (s *SQLiteStore) UpdateNextCheck(ctx context.Context, id string, at time.Time) error {
	return s.updateThread(ctx, id, "next_check_at", at.UTC())
}

func (s *SQLiteStore) updateThread(ctx context.Context, id, column string, value any) error {
	n, err := execBuilt(ctx, s.db, sq.Update("threads").
		Set(column, value).
		Set("updated_at", s.clock()).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("update thread %s %s: %w", id, column, err)
	}
	if n == 0 {
		return fmt.Errorf("update thread %s: %w", id, ErrNotFound)
	}
	return nil
}

// CreateBeat adds a beat after the thread's existing ones.
func (s *SQLiteStore) CreateBeat(ctx context.Context, threadID string, b *story.Beat) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var pos int
		if err := tx.GetContext(ctx, &pos,
			"SELECT COALESCE(MAX(position), 0) + 1 FROM beats WHERE thread_id = ?", threadID); err != nil {
			return fmt.Errorf("next beat position: %w", err)
		}
		return insertBeat(ctx, tx, threadID, b, pos, s.clock())
	})
}

func statusStrings(in []story.Status) []string {
	out := make([]string, len(in))
	for i, st := range in {
		out[i] = string(st)
	}
	return out
}
