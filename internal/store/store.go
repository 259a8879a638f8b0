package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/elonfeng/storyradar/pkg/article"
	"github.com/elonfeng/storyradar/pkg/engagement"
	"github.com/elonfeng/storyradar/pkg/story"
)

var (
	// ErrNotFound is returned when a thread, article or trigger does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write loses to a concurrent one: an
	// article already attached elsewhere or a stale thread version.
	ErrConflict = errors.New("conflict")
)

// ThreadFilter controls thread listing.
type ThreadFilter struct {
	Status story.Status
	Region string
	Limit  int
}

// Store is the persistence interface.
type Store interface {
	UpsertArticle(ctx context.Context, a article.Article) error
	GetArticle(ctx context.Context, id string) (*article.Article, error)
	PendingArticles(ctx context.Context, limit int) ([]article.Article, error)
	MarkArticleProcessed(ctx context.Context, id string, at time.Time) error

	CreateThread(ctx context.Context, t *story.Thread, origin article.Article, beats []story.Beat, triggers []story.Trigger) error
	AppendArticle(ctx context.Context, threadID string, a article.Article, role story.Role) (bool, error)
	GetThread(ctx context.Context, id string) (*story.Thread, error)
	FindActiveThreads(ctx context.Context, region string, categories ...string) ([]story.Thread, error)
	ListThreads(ctx context.Context, f ThreadFilter) ([]story.Thread, error)
	UpdateThreadStatus(ctx context.Context, id string, status story.Status) error
	UpdateThreadPriority(ctx context.Context, id string, p story.Priority) error
	UpdateNextCheck(ctx context.Context, id string, at time.Time) error
	CreateBeat(ctx context.Context, threadID string, b *story.Beat) error

	CreateTrigger(ctx context.Context, threadID string, t *story.Trigger) error
	ListTriggers(ctx context.Context, threadID string) ([]story.Trigger, error)
	DueTriggers(ctx context.Context, now time.Time, limit int) ([]story.Trigger, error)
	RecordTriggerFire(ctx context.Context, id string, at time.Time, state story.TriggerState, nextDue time.Time) error
	RescheduleTrigger(ctx context.Context, id string, dueAt time.Time) error
	ExpireTrigger(ctx context.Context, id string) error
	ExpireThreadTriggers(ctx context.Context, threadID string) (int64, error)

	AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key, owner string) error

	engagement.SampleSource

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// New opens a SQLite database and runs migrations. Write transactions take
// the database lock when they begin, so concurrent writers queue behind the
// busy timeout instead of failing on lock upgrade.
func New(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)" +
		"&_txlock=immediate&_time_format=sqlite"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) clock() time.Time {
	return s.now().UTC()
}

// withTx runs fn inside a transaction, committing when it returns nil.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY violation.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

func selectBuilt(ctx context.Context, q querier, dest any, b sq.SelectBuilder) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return q.SelectContext(ctx, dest, query, args...)
}

func execBuilt(ctx context.Context, q querier, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
