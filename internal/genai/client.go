package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"nexuslab/internal/models"
)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 400 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{cfg: cfg}
}

func (c *Client) Summarize(ctx context.Context, src Source) (SummaryResult, error) {
	var out SummaryResult
	if err := c.generateJSON(ctx, summaryPrompt, src, &out); err != nil {
		return SummaryResult{}, err
	}
	if out.Title == "" {
		out.Title = titleFallback(src)
	}
	return out, nil
}

func (c *Client) GenerateQuiz(ctx context.Context, src Source) (QuizResult, error) {
	var out QuizResult
	if err := c.generateJSON(ctx, quizPrompt, src, &out); err != nil {
		return QuizResult{}, err
	}
	if out.Title == "" {
		out.Title = titleFallback(src)
	}
	assignQuizIDs(out.Quiz)
	return out, nil
}

func (c *Client) GenerateSlides(ctx context.Context, src Source) (SlidesResult, error) {
	var out SlidesResult
	if err := c.generateJSON(ctx, slidesPrompt, src, &out); err != nil {
		return SlidesResult{}, err
	}
	if out.Title == "" {
		out.Title = titleFallback(src)
	}
	return out, nil
}

// UnifiedGenerate produces the full learning package in one pass.
func (c *Client) UnifiedGenerate(ctx context.Context, src Source) (UnifiedResult, error) {
	var out UnifiedResult
	if err := c.generateJSON(ctx, unifiedPrompt, src, &out); err != nil {
		return UnifiedResult{}, err
	}
	if out.Title == "" {
		out.Title = titleFallback(src)
	}
	for i := range out.Flashcards {
		out.Flashcards[i].ID = fmt.Sprintf("fc-%d", i)
	}
	assignQuizIDs(out.Quiz)
	return out, nil
}

// ChatTurn runs one conversational turn in the given mode and returns the
// model's reply text.
func (c *Client) ChatTurn(ctx context.Context, mode models.Mode, transcript []models.Message) (string, error) {
	messages := []map[string]string{
		{"role": "system", "content": systemPromptFor(mode)},
	}
	for _, msg := range transcript {
		role := "user"
		if msg.Role == models.RoleModel {
			role = "assistant"
		}
		messages = append(messages, map[string]string{"role": role, "content": msg.Content})
	}

	payload := map[string]any{
		"model":    c.cfg.Model,
		"messages": messages,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}
	return c.complete(ctx, body)
}

func (c *Client) generateJSON(ctx context.Context, prompt string, src Source, out any) error {
	if err := src.validate(); err != nil {
		return err
	}

	body, err := c.buildGeneratePayload(prompt, src)
	if err != nil {
		return err
	}
	text, err := c.complete(ctx, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripFences(text)), out); err != nil {
		return &ServiceError{Err: fmt.Errorf("decode structured result: %w", err)}
	}
	return nil
}

func (c *Client) buildGeneratePayload(prompt string, src Source) ([]byte, error) {
	parts := []map[string]any{
		{"type": "text", "text": prompt},
	}
	if len(src.Data) > 0 {
		parts = append(parts, map[string]any{
			"type": "file",
			"file": map[string]any{
				"filename":  src.Name,
				"file_data": "data:" + src.MimeType + ";base64," + base64.StdEncoding.EncodeToString(src.Data),
			},
		})
	} else {
		parts = append(parts, map[string]any{
			"type": "text",
			"text": "Source URL: " + src.URL,
		})
	}

	payload := map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]any{
			{"role": "user", "content": parts},
		},
		"response_format": map[string]string{"type": "json_object"},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal generate payload: %w", err)
	}
	return b, nil
}

// complete posts the payload, retrying only transient failures, and
// returns the first choice's text.
func (c *Client) complete(ctx context.Context, body []byte) (string, error) {
	endpoint, err := c.endpointURL()
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		text, err := c.callOnce(ctx, endpoint, body)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !IsServiceError(err) || attempt == c.cfg.MaxRetries {
			break
		}
		backoff := c.cfg.BackoffBase * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}
	return "", lastErr
}

func (c *Client) callOnce(ctx context.Context, endpoint string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.cfg.APIKey) != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", &ServiceError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", &ServiceError{Err: fmt.Errorf("read response body: %w", err)}
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", &ServiceError{Status: resp.StatusCode}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// A key or permission problem on our side, not the user's material.
		return "", fmt.Errorf("generation service rejected credentials (status %d)", resp.StatusCode)
	case resp.StatusCode >= 400:
		// The provider rejected the input itself.
		return "", &SourceError{Reason: fmt.Sprintf("provider rejected source (status %d)", resp.StatusCode)}
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &ServiceError{Err: fmt.Errorf("decode completion response: %w", err)}
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", &ServiceError{Err: fmt.Errorf("empty completion response")}
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *Client) endpointURL() (string, error) {
	base := strings.TrimSpace(c.cfg.BaseURL)
	if base == "" {
		return "", fmt.Errorf("genai base url is empty")
	}
	if strings.HasSuffix(base, "/chat/completions") {
		return base, nil
	}
	return strings.TrimSuffix(base, "/") + "/chat/completions", nil
}

func assignQuizIDs(quiz []models.QuizQuestion) {
	for i := range quiz {
		quiz[i].ID = fmt.Sprintf("q-%d", i)
	}
}

func titleFallback(src Source) string {
	if src.Name != "" {
		name := src.Name
		if idx := strings.LastIndex(name, "."); idx > 0 {
			name = name[:idx]
		}
		return name
	}
	if src.URL != "" {
		return src.URL
	}
	return "Untitled"
}

// stripFences tolerates models that wrap JSON in a markdown code fence
// despite JSON mode.
func stripFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}
