package story

import (
	"encoding/json"
	"fmt"
	"time"
)

// TriggerType tags the condition a trigger watches.
type TriggerType string

const (
	TriggerTimeBased       TriggerType = "time_based"
	TriggerResolutionCheck TriggerType = "resolution_check"
	TriggerDateEvent       TriggerType = "date_event"
)

// TriggerState tracks whether a trigger may still fire.
type TriggerState string

const (
	TriggerArmed     TriggerState = "armed"
	TriggerFired     TriggerState = "fired"
	TriggerExpired   TriggerState = "expired"
	TriggerExhausted TriggerState = "exhausted"
)

// TimeBasedConfig re-checks a thread a fixed number of days after the last check.
type TimeBasedConfig struct {
	DaysAfterLast int `json:"days_after_last"`
	MaxChecks     int `json:"max_checks"`
}

// ResolutionConfig watches subsequent content for resolution keywords.
type ResolutionConfig struct {
	WatchFor []string `json:"watch_for"`
}

// DateEventConfig fires ahead of a known date.
type DateEventConfig struct {
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	Importance  string    `json:"importance"`
	DaysBefore  int       `json:"days_before"`
}

// Trigger is a scheduled condition under which a thread should be re-analyzed.
type Trigger struct {
	ID        string          `json:"id"`
	ThreadID  string          `json:"thread_id"`
	Type      TriggerType     `json:"type"`
	Config    json.RawMessage `json:"config"`
	NotBefore time.Time       `json:"not_before"`
	NotAfter  time.Time       `json:"not_after"`
	DueAt     time.Time       `json:"due_at"`
	Fires     int             `json:"fires"`
	State     TriggerState    `json:"state"`
	LastFired *time.Time      `json:"last_fired,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// InWindow reports whether now lies inside [NotBefore, NotAfter].
func (t *Trigger) InWindow(now time.Time) bool {
	return !now.Before(t.NotBefore) && !now.After(t.NotAfter)
}

// NewTrigger builds an armed trigger with cfg encoded as its payload.
func NewTrigger(typ TriggerType, cfg any, notBefore, notAfter, dueAt time.Time) (Trigger, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return Trigger{}, fmt.Errorf("encode %s config: %w", typ, err)
	}
	return Trigger{
		Type:      typ,
		Config:    raw,
		NotBefore: notBefore,
		NotAfter:  notAfter,
		DueAt:     dueAt,
		State:     TriggerArmed,
	}, nil
}

// TimeBased decodes the payload of a time_based trigger.
func (t *Trigger) TimeBased() (TimeBasedConfig, error) {
	var cfg TimeBasedConfig
	err := t.decode(TriggerTimeBased, &cfg)
	return cfg, err
}

// Resolution decodes the payload of a resolution_check trigger.
func (t *Trigger) Resolution() (ResolutionConfig, error) {
	var cfg ResolutionConfig
	err := t.decode(TriggerResolutionCheck, &cfg)
	return cfg, err
}

// DateEvent decodes the payload of a date_event trigger.
func (t *Trigger) DateEvent() (DateEventConfig, error) {
	var cfg DateEventConfig
	err := t.decode(TriggerDateEvent, &cfg)
	return cfg, err
}

func (t *Trigger) decode(want TriggerType, v any) error {
	if t.Type != want {
		return fmt.Errorf("trigger %s is %s, not %s", t.ID, t.Type, want)
	}
	if err := json.Unmarshal(t.Config, v); err != nil {
		return fmt.Errorf("decode trigger %s config: %w", t.ID, err)
	}
	return nil
}
