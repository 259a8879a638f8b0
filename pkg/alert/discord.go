package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/elonfeng/storyradar/pkg/story"
)

// Discord sends notifications via Discord webhook.
type Discord struct {
	client     *http.Client
	webhookURL string
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (d *Discord) Name() string { return "discord" }

var priorityColors = map[story.Priority]int{
	story.PriorityCritical: 0xD32F2F,
	story.PriorityHigh:     0xFF6600,
	story.PriorityMedium:   0xFBC02D,
	story.PriorityLow:      0x607D8B,
}

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	embed := map[string]any{
		"title":       "Follow-up: " + n.Title,
		"description": n.Summary(5),
		"color":       priorityColors[n.Priority],
		"footer":      map[string]string{"text": fmt.Sprintf("thread %s · %s/%s", n.ThreadID, n.Region, n.Category)},
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(map[string]any{"embeds": []map[string]any{embed}})
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}
	if err := post(ctx, d.client, d.webhookURL, body, nil); err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}
