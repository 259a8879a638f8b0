// Package trigger decides when a story thread should be looked at again.
// A trigger is only a declaration of when to re-run analysis; firing it is
// the orchestrator's job.
package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/elonfeng/storyradar/pkg/oracle"
	"github.com/elonfeng/storyradar/pkg/story"
)

const day = 24 * time.Hour

// Policy holds the scheduling constants.
type Policy struct {
	DefaultCheckInDays int `yaml:"default_check_in_days"`
	MaxCheckInDays     int `yaml:"max_check_in_days"`
	UrgentCapDays      int `yaml:"urgent_cap_days"` // missing person, active search, critical
	LegalCapDays       int `yaml:"legal_cap_days"`  // legal proceedings, high
	MaxChecks          int `yaml:"max_checks"`
	// TimeBasedMonths bounds the time_based window after creation.
	TimeBasedMonths int `yaml:"time_based_months"`
	// ResolutionMonths bounds the resolution_check window after creation.
	ResolutionMonths int `yaml:"resolution_months"`
	DateWindowBefore int `yaml:"date_window_before_days"`
	DateWindowAfter  int `yaml:"date_window_after_days"`
}

// DefaultPolicy returns the stock scheduling constants.
func DefaultPolicy() Policy {
	return Policy{
		DefaultCheckInDays: 3,
		MaxCheckInDays:     30,
		UrgentCapDays:      1,
		LegalCapDays:       2,
		MaxChecks:          10,
		TimeBasedMonths:    3,
		ResolutionMonths:   1,
		DateWindowBefore:   2,
		DateWindowAfter:    7,
	}
}

// Plan is the set of triggers and the first check for a new thread.
type Plan struct {
	CheckInDays int
	NextCheckAt time.Time
	Triggers    []story.Trigger
}

// Planner derives triggers from an article analysis.
type Planner struct {
	policy Policy
	now    func() time.Time
}

// NewPlanner creates a planner. Zero fields in policy take their default.
func NewPlanner(policy Policy) *Planner {
	def := DefaultPolicy()
	fill := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	fill(&policy.DefaultCheckInDays, def.DefaultCheckInDays)
	fill(&policy.MaxCheckInDays, def.MaxCheckInDays)
	fill(&policy.UrgentCapDays, def.UrgentCapDays)
	fill(&policy.LegalCapDays, def.LegalCapDays)
	fill(&policy.MaxChecks, def.MaxChecks)
	fill(&policy.TimeBasedMonths, def.TimeBasedMonths)
	fill(&policy.ResolutionMonths, def.ResolutionMonths)
	fill(&policy.DateWindowBefore, def.DateWindowBefore)
	fill(&policy.DateWindowAfter, def.DateWindowAfter)
	return &Planner{policy: policy, now: time.Now}
}

// WithClock replaces the planner's clock.
func (p *Planner) WithClock(now func() time.Time) *Planner {
	p.now = now
	return p
}

// Policy returns the effective policy.
func (p *Planner) Policy() Policy { return p.policy }

// CheckInDays applies the default and the indicator caps to the
// analysis's suggested check-in interval.
func (p *Planner) CheckInDays(an oracle.ArticleAnalysis) int {
	days := p.bound(an.FollowUp.CheckInDays)
	switch {
	case an.Priority.MissingPerson || an.Priority.ActiveSearch:
		days = min(days, p.policy.UrgentCapDays)
	case an.Priority.LegalProceedings:
		days = min(days, p.policy.LegalCapDays)
	}
	return days
}

// Plan builds the triggers for a thread created from an.
func (p *Planner) Plan(an oracle.ArticleAnalysis) (Plan, error) {
	now := p.now().UTC()
	days := p.CheckInDays(an)
	plan := Plan{
		CheckInDays: days,
		NextCheckAt: now.Add(time.Duration(days) * day),
	}

	tb, err := story.NewTrigger(story.TriggerTimeBased,
		story.TimeBasedConfig{DaysAfterLast: days, MaxChecks: p.policy.MaxChecks},
		plan.NextCheckAt, now.AddDate(0, p.policy.TimeBasedMonths, 0), plan.NextCheckAt)
	if err != nil {
		return Plan{}, err
	}
	plan.Triggers = append(plan.Triggers, tb)

	if watch := cleanKeywords(an.FollowUp.WatchFor); len(watch) > 0 {
		start := now.Add(day)
		rc, err := story.NewTrigger(story.TriggerResolutionCheck,
			story.ResolutionConfig{WatchFor: watch},
			start, now.AddDate(0, p.policy.ResolutionMonths, 0), start)
		if err != nil {
			return Plan{}, err
		}
		plan.Triggers = append(plan.Triggers, rc)
	}

	for _, kd := range an.KeyDates {
		importance := strings.ToLower(kd.Importance)
		if importance == "low" || !kd.Date.After(now) {
			continue
		}
		before := 1
		if importance == "high" {
			before = 2
		}
		due := kd.Date.Add(-time.Duration(before) * day)
		if due.Before(now) {
			due = now
		}
		de, err := story.NewTrigger(story.TriggerDateEvent,
			story.DateEventConfig{Date: kd.Date, Description: kd.Description, Importance: importance, DaysBefore: before},
			kd.Date.Add(-time.Duration(p.policy.DateWindowBefore)*day),
			kd.Date.Add(time.Duration(p.policy.DateWindowAfter)*day),
			due)
		if err != nil {
			return Plan{}, err
		}
		plan.Triggers = append(plan.Triggers, de)
	}
	return plan, nil
}

// NextCheck returns the thread's next check after a re-analysis that asked
// for days (0 means default), capped by the thread's priority.
func (p *Planner) NextCheck(now time.Time, days int, priority story.Priority) time.Time {
	days = p.bound(days)
	switch priority {
	case story.PriorityCritical:
		days = min(days, p.policy.UrgentCapDays)
	case story.PriorityHigh:
		days = min(days, p.policy.LegalCapDays)
	}
	return now.Add(time.Duration(days) * day)
}

// Advance computes the trigger state after a fire at now: the next due
// instant while it stays armed, or the terminal state it moves to.
func (p *Planner) Advance(t story.Trigger, now time.Time) (story.TriggerState, time.Time, error) {
	switch t.Type {
	case story.TriggerTimeBased:
		cfg, err := t.TimeBased()
		if err != nil {
			return "", time.Time{}, err
		}
		if cfg.MaxChecks > 0 && t.Fires+1 >= cfg.MaxChecks {
			return story.TriggerExhausted, time.Time{}, nil
		}
		next := now.Add(time.Duration(p.bound(cfg.DaysAfterLast)) * day)
		if next.After(t.NotAfter) {
			return story.TriggerExhausted, time.Time{}, nil
		}
		return story.TriggerArmed, next, nil
	case story.TriggerResolutionCheck:
		next := now.Add(day)
		if next.After(t.NotAfter) {
			return story.TriggerExpired, time.Time{}, nil
		}
		return story.TriggerArmed, next, nil
	case story.TriggerDateEvent:
		return story.TriggerFired, time.Time{}, nil
	default:
		return "", time.Time{}, fmt.Errorf("unknown trigger type %q", t.Type)
	}
}

func (p *Planner) bound(days int) int {
	if days <= 0 {
		days = p.policy.DefaultCheckInDays
	}
	return max(1, min(days, p.policy.MaxCheckInDays))
}

func cleanKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
