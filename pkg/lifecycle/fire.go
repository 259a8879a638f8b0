package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/storyradar/internal/store"
	"github.com/elonfeng/storyradar/pkg/alert"
	"github.com/elonfeng/storyradar/pkg/article"
	"github.com/elonfeng/storyradar/pkg/story"
)

// FireAction is what FireTrigger did with a due trigger.
type FireAction string

const (
	FireExpired   FireAction = "expired"
	FireSkipped   FireAction = "skipped"
	FireAnalyzed  FireAction = "analyzed"
	FireFailed    FireAction = "failed"
	FireDuplicate FireAction = "duplicate"
)

// FireResult reports the result of firing one trigger.
type FireResult struct {
	Action      FireAction
	ThreadID    string
	From        story.Status
	To          story.Status
	FollowUp    *alert.Notification
	NextCheckAt time.Time
}

// Transitioned reports whether the thread changed status.
func (r FireResult) Transitioned() bool { return r.To != "" && r.To != r.From }

// FireTrigger re-analyzes the trigger's thread and applies the verdict.
// The fire is recorded before the oracle is called, so a trigger picked up
// twice only runs once; the second caller gets FireDuplicate.
func (o *Orchestrator) FireTrigger(ctx context.Context, tr story.Trigger) (FireResult, error) {
	now := o.now().UTC()
	log := o.log.With().Str("trigger", tr.ID).Str("thread", tr.ThreadID).
		Str("type", string(tr.Type)).Logger()
	res := FireResult{ThreadID: tr.ThreadID}

	if !tr.InWindow(now) {
		if err := o.store.ExpireTrigger(ctx, tr.ID); err != nil {
			return res, fmt.Errorf("expire trigger: %w", err)
		}
		log.Debug().Time("not_after", tr.NotAfter).Msg("trigger outside its window, expired")
		res.Action = FireExpired
		return res, nil
	}

	t, err := o.store.GetThread(ctx, tr.ThreadID)
	if err != nil {
		return res, fmt.Errorf("load thread: %w", err)
	}
	res.From = t.Status
	if t.Status.Terminal() {
		if err := o.store.ExpireTrigger(ctx, tr.ID); err != nil {
			return res, fmt.Errorf("expire trigger: %w", err)
		}
		res.Action = FireExpired
		return res, nil
	}

	state, nextDue, err := o.planner.Advance(tr, now)
	if err != nil {
		return res, err
	}
	if err := o.store.RecordTriggerFire(ctx, tr.ID, now, state, nextDue); err != nil {
		if errors.Is(err, store.ErrConflict) {
			res.Action = FireDuplicate
			return res, nil
		}
		return res, fmt.Errorf("record fire: %w", err)
	}

	if tr.Type == story.TriggerResolutionCheck {
		cfg, err := tr.Resolution()
		if err != nil {
			return res, err
		}
		kw, ok := watchedKeyword(t, cfg.WatchFor)
		if !ok {
			log.Debug().Msg("no watched keyword in thread articles")
			res.Action = FireSkipped
			return res, nil
		}
		log = log.With().Str("keyword", kw).Logger()
	}

	an, err := o.analyzeThread(ctx, t)
	if err != nil {
		log.Warn().Err(err).Msg("thread analysis failed, status unchanged")
		res.Action = FireFailed
		return res, nil
	}
	res.Action = FireAnalyzed

	if next, ok := an.Status(); ok && t.Status.CanTransition(next) {
		if err := o.store.UpdateThreadStatus(ctx, t.ID, next); err != nil {
			return res, fmt.Errorf("update status: %w", err)
		}
		res.To = next
		log.Info().Str("from", string(t.Status)).Str("to", string(next)).
			Int("confidence", an.Confidence).Msg("thread status changed")
		if next.Terminal() {
			n, err := o.store.ExpireThreadTriggers(ctx, t.ID)
			if err != nil {
				return res, fmt.Errorf("expire thread triggers: %w", err)
			}
			log.Debug().Int64("expired", n).Msg("thread closed")
			return res, nil
		}
	} else if ok && next != t.Status {
		log.Warn().Str("from", string(t.Status)).Str("to", string(next)).Msg("ignoring invalid status transition")
	}

	res.NextCheckAt = o.planner.NextCheck(now, an.NextCheckDays, t.Priority)
	if err := o.store.UpdateNextCheck(ctx, t.ID, res.NextCheckAt); err != nil {
		return res, fmt.Errorf("update next check: %w", err)
	}
	if err := o.rescheduleTimeBased(ctx, t.ID, res.NextCheckAt); err != nil {
		return res, err
	}

	if an.NeedsFollowUp {
		status := t.Status
		if res.To != "" {
			status = res.To
		}
		res.FollowUp = &alert.Notification{
			ThreadID:    t.ID,
			Title:       t.Title,
			Region:      t.Region,
			Category:    t.Category,
			Priority:    t.Priority,
			Status:      status,
			Trigger:     tr.Type,
			Confidence:  an.Confidence,
			NextCheckAt: res.NextCheckAt,
			Suggestions: an.SuggestedArticles,
		}
		o.notify(ctx, res.FollowUp, log)
	}
	return res, nil
}

// rescheduleTimeBased moves the thread's armed time-based triggers to the
// oracle's next check, clipped to each trigger's window.
func (o *Orchestrator) rescheduleTimeBased(ctx context.Context, threadID string, at time.Time) error {
	ts, err := o.store.ListTriggers(ctx, threadID)
	if err != nil {
		return fmt.Errorf("load triggers: %w", err)
	}
	for _, tr := range ts {
		if tr.Type != story.TriggerTimeBased || tr.State != story.TriggerArmed {
			continue
		}
		due := at
		if due.Before(tr.NotBefore) {
			due = tr.NotBefore
		}
		if due.After(tr.NotAfter) {
			due = tr.NotAfter
		}
		if due.Equal(tr.DueAt) {
			continue
		}
		if err := o.store.RescheduleTrigger(ctx, tr.ID, due); err != nil {
			return fmt.Errorf("reschedule trigger: %w", err)
		}
	}
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, n *alert.Notification, log zerolog.Logger) {
	if !o.alerts.HasNotifiers() {
		return
	}
	if err := o.alerts.Broadcast(ctx, n); err != nil {
		log.Error().Err(err).Msg("follow-up alert delivery failed")
		return
	}
	log.Info().Int("suggestions", len(n.Suggestions)).Msg("follow-up alert sent")
}

func watchedKeyword(t *story.Thread, keywords []string) (string, bool) {
	for _, a := range t.Chronological() {
		if kw, ok := article.ContainsAny(a.Text(), keywords); ok {
			return kw, true
		}
	}
	return "", false
}
