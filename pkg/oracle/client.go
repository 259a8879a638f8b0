package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/elonfeng/storyradar/pkg/article"
	"github.com/elonfeng/storyradar/pkg/story"
)

// ClientOptions configures an LLM-backed oracle.
type ClientOptions struct {
	Provider string // "openai" or "anthropic"
	Model    string
	APIKey   string
	BaseURL  string // custom endpoint (optional)
	Timeout  time.Duration
	// RequestsPerMinute throttles outgoing calls; 0 disables throttling.
	RequestsPerMinute float64
}

// Client calls an LLM chat endpoint and decodes its JSON judgment.
type Client struct {
	client   *http.Client
	limiter  *rate.Limiter
	provider string
	model    string
	apiKey   string
	baseURL  string
	log      zerolog.Logger
}

var _ Oracle = (*Client)(nil)

// NewClient creates an oracle client.
func NewClient(opts ClientOptions, log zerolog.Logger) *Client {
	if opts.Model == "" {
		switch opts.Provider {
		case "anthropic":
			opts.Model = "claude-sonnet-4-20250514"
		default:
			opts.Model = "gpt-4o-mini"
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerMinute/60), 1)
	}
	return &Client{
		client:   &http.Client{Timeout: opts.Timeout},
		limiter:  limiter,
		provider: opts.Provider,
		model:    opts.Model,
		apiKey:   opts.APIKey,
		baseURL:  opts.BaseURL,
		log:      log.With().Str("component", "oracle").Str("provider", opts.Provider).Logger(),
	}
}

// AnalyzeArticle asks whether a is part of an ongoing story.
func (c *Client) AnalyzeArticle(ctx context.Context, a article.Article) (ArticleAnalysis, error) {
	raw, err := c.Complete(ctx, articleRequest(a))
	if err != nil {
		return ArticleAnalysis{}, err
	}
	res, err := DecodeArticleAnalysis(raw)
	if err != nil {
		return ArticleAnalysis{}, fmt.Errorf("analyze article %s: %w", a.ID, err)
	}
	return res, nil
}

// AnalyzeThread asks for a status and follow-up verdict on t.
func (c *Client) AnalyzeThread(ctx context.Context, t *story.Thread) (ThreadAnalysis, error) {
	raw, err := c.Complete(ctx, threadRequest(t))
	if err != nil {
		return ThreadAnalysis{}, err
	}
	res, err := DecodeThreadAnalysis(raw)
	if err != nil {
		return ThreadAnalysis{}, fmt.Errorf("analyze thread %s: %w", t.ID, err)
	}
	return res, nil
}

// Complete sends a request and returns the raw reply text.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("oracle rate limit: %w", err)
	}
	start := time.Now()
	var (
		raw string
		err error
	)
	switch c.provider {
	case "anthropic":
		raw, err = c.callAnthropic(ctx, req.Prompt())
	default:
		raw, err = c.callOpenAI(ctx, req.Prompt())
	}
	c.log.Debug().Dur("took", time.Since(start)).Bool("ok", err == nil).Msg("oracle call")
	return raw, err
}

func (c *Client) callOpenAI(ctx context.Context, prompt string) (string, error) {
	baseURL := c.baseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}

	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature":     0.1,
		"response_format": map[string]string{"type": "json_object"},
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if err := c.post(ctx, baseURL+"/v1/chat/completions", headers, payload, &result); err != nil {
		return "", fmt.Errorf("call openai: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices returned")
	}
	return result.Choices[0].Message.Content, nil
}

func (c *Client) callAnthropic(ctx context.Context, prompt string) (string, error) {
	baseURL := c.baseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	payload := map[string]any{
		"model":      c.model,
		"max_tokens": 4096,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": "2023-06-01",
	}
	if err := c.post(ctx, baseURL+"/v1/messages", headers, payload, &result); err != nil {
		return "", fmt.Errorf("call anthropic: %w", err)
	}
	if len(result.Content) == 0 {
		return "", fmt.Errorf("anthropic: no content returned")
	}
	return result.Content[0].Text, nil
}

func (c *Client) post(ctx context.Context, url string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode envelope: %v", ErrMalformed, err)
	}
	return nil
}

// Disabled is an oracle that always fails, used when no API key is set.
// Every article is then treated as not ongoing.
type Disabled struct{}

func (Disabled) AnalyzeArticle(context.Context, article.Article) (ArticleAnalysis, error) {
	return ArticleAnalysis{}, ErrDisabled
}

func (Disabled) AnalyzeThread(context.Context, *story.Thread) (ThreadAnalysis, error) {
	return ThreadAnalysis{}, ErrDisabled
}
