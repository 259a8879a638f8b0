package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/elonfeng/storyradar/pkg/story"
)

type triggerRow struct {
	ID        string     `db:"id"`
	ThreadID  string     `db:"thread_id"`
	Type      string     `db:"type"`
	Config    string     `db:"config"`
	NotBefore time.Time  `db:"not_before"`
	NotAfter  time.Time  `db:"not_after"`
	DueAt     time.Time  `db:"due_at"`
	Fires     int        `db:"fires"`
	State     string     `db:"state"`
	LastFired *time.Time `db:"last_fired"`
	CreatedAt time.Time  `db:"created_at"`
}

func (r triggerRow) trigger() story.Trigger {
	return story.Trigger{
		ID:        r.ID,
		ThreadID:  r.ThreadID,
		Type:      story.TriggerType(r.Type),
		Config:    json.RawMessage(r.Config),
		NotBefore: r.NotBefore.UTC(),
		NotAfter:  r.NotAfter.UTC(),
		DueAt:     r.DueAt.UTC(),
		Fires:     r.Fires,
		State:     story.TriggerState(r.State),
		LastFired: utcPtr(r.LastFired),
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func insertTrigger(ctx context.Context, tx *sqlx.Tx, threadID string, t *story.Trigger, at time.Time) error {
	if !t.NotBefore.Before(t.NotAfter) {
		return fmt.Errorf("trigger %s window [%s, %s] is empty", t.Type, t.NotBefore, t.NotAfter)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.State == "" {
		t.State = story.TriggerArmed
	}
	if t.DueAt.IsZero() {
		t.DueAt = t.NotBefore
	}
	config := string(t.Config)
	if config == "" {
		config = "{}"
	}
	t.ThreadID = threadID
	t.CreatedAt = at
	_, err := tx.ExecContext(ctx, `
		INSERT INTO triggers (id, thread_id, type, config, not_before, not_after, due_at, fires, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, threadID, string(t.Type), config, t.NotBefore.UTC(), t.NotAfter.UTC(), t.DueAt.UTC(),
		t.Fires, string(t.State), at)
	if err != nil {
		return fmt.Errorf("insert %s trigger: %w", t.Type, err)
	}
	return nil
}

func (s *SQLiteStore) CreateTrigger(ctx context.Context, threadID string, t *story.Trigger) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return insertTrigger(ctx, tx, threadID, t, s.clock())
	})
}

func (s *SQLiteStore) ListTriggers(ctx context.Context, threadID string) ([]story.Trigger, error) {
	return s.triggers(ctx, sq.Select("*").From("triggers").
		Where(sq.Eq{"thread_id": threadID}).
		OrderBy("due_at", "id"))
}

// DueTriggers returns armed triggers whose due time has passed, earliest
// first. Triggers past their window are included so the caller can expire
// them.
func (s *SQLiteStore) DueTriggers(ctx context.Context, now time.Time, limit int) ([]story.Trigger, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.triggers(ctx, sq.Select("*").From("triggers").
		Where(sq.Eq{"state": string(story.TriggerArmed)}).
		Where(sq.LtOrEq{"due_at": now.UTC()}).
		OrderBy("due_at", "id").
		Limit(uint64(limit)))
}

func (s *SQLiteStore) triggers(ctx context.Context, q sq.SelectBuilder) ([]story.Trigger, error) {
	var rows []triggerRow
	if err := selectBuilt(ctx, s.db, &rows, q); err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	out := make([]story.Trigger, len(rows))
	for i, r := range rows {
		out[i] = r.trigger()
	}
	return out, nil
}

// RecordTriggerFire counts a fire at at and moves the trigger to state.
// nextDue is applied only when the trigger stays armed. Only an armed trigger
// that is due at at can be fired, so a second claim on the same fire fails
// with ErrConflict.
func (s *SQLiteStore) RecordTriggerFire(ctx context.Context, id string, at time.Time, state story.TriggerState, nextDue time.Time) error {
	q := sq.Update("triggers").
		Set("fires", sq.Expr("fires + 1")).
		Set("last_fired", at.UTC()).
		Set("state", string(state)).
		Where(sq.Eq{"id": id, "state": string(story.TriggerArmed)}).
		Where(sq.LtOrEq{"due_at": at.UTC()})
	if state == story.TriggerArmed && !nextDue.IsZero() {
		q = q.Set("due_at", nextDue.UTC())
	}
	n, err := execBuilt(ctx, s.db, q)
	if err != nil {
		return fmt.Errorf("record fire %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("record fire %s: %w", id, ErrConflict)
	}
	return nil
}

// RescheduleTrigger moves the due time of an armed trigger. Triggers that
// are no longer armed are left alone.
func (s *SQLiteStore) RescheduleTrigger(ctx context.Context, id string, dueAt time.Time) error {
	_, err := execBuilt(ctx, s.db, sq.Update("triggers").
		Set("due_at", dueAt.UTC()).
		Where(sq.Eq{"id": id, "state": string(story.TriggerArmed)}))
	if err != nil {
		return fmt.Errorf("reschedule trigger %s: %w", id, err)
	}
	return nil
}

// ExpireTrigger disarms a trigger without counting a fire.
func (s *SQLiteStore) ExpireTrigger(ctx context.Context, id string) error {
	_, err := execBuilt(ctx, s.db, sq.Update("triggers").
		Set("state", string(story.TriggerExpired)).
		Where(sq.Eq{"id": id, "state": string(story.TriggerArmed)}))
	if err != nil {
		return fmt.Errorf("expire trigger %s: %w", id, err)
	}
	return nil
}

// ExpireThreadTriggers disarms every armed trigger of a thread.
func (s *SQLiteStore) ExpireThreadTriggers(ctx context.Context, threadID string) (int64, error) {
	n, err := execBuilt(ctx, s.db, sq.Update("triggers").
		Set("state", string(story.TriggerExpired)).
		Where(sq.Eq{"thread_id": threadID, "state": string(story.TriggerArmed)}))
	if err != nil {
		return 0, fmt.Errorf("expire triggers of %s: %w", threadID, err)
	}
	return n, nil
}
