// Package alert delivers follow-up suggestions to newsroom channels.
package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elonfeng/storyradar/pkg/oracle"
	"github.com/elonfeng/storyradar/pkg/story"
)

// Notification is a follow-up suggestion for one thread.
type Notification struct {
	ThreadID    string                    `json:"thread_id"`
	Title       string                    `json:"title"`
	Region      string                    `json:"region"`
	Category    string                    `json:"category"`
	Priority    story.Priority            `json:"priority"`
	Status      story.Status              `json:"status"`
	Trigger     story.TriggerType         `json:"trigger"`
	Confidence  int                       `json:"confidence"`
	NextCheckAt time.Time                 `json:"next_check_at"`
	Suggestions []oracle.SuggestedArticle `json:"suggestions"`
}

// Summary renders the suggestions as plain lines, at most limit of them.
func (n *Notification) Summary(limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Priority: %s | Status: %s | Confidence: %d%%", n.Priority, n.Status, n.Confidence)
	for i, s := range n.Suggestions {
		if i == limit {
			fmt.Fprintf(&b, "\n…and %d more", len(n.Suggestions)-limit)
			break
		}
		fmt.Fprintf(&b, "\n• %s", s.Title)
		if s.Angle != "" {
			fmt.Fprintf(&b, " (%s)", s.Angle)
		}
		if s.Urgency != "" {
			fmt.Fprintf(&b, " [%s]", s.Urgency)
		}
		if len(s.SearchQueries) > 0 {
			fmt.Fprintf(&b, "\n  search: %s", strings.Join(s.SearchQueries, "; "))
		}
		if len(s.Sources) > 0 {
			fmt.Fprintf(&b, "\n  sources: %s", strings.Join(s.Sources, ", "))
		}
	}
	return b.String()
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return m != nil && len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func post(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "storyradar/1.0")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
