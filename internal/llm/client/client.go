// Package client talks to an OpenAI-compatible chat-completions endpoint:
// streaming completions with retry and per-completion statistics, plus a
// non-streaming variant for short utility calls.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"parley/internal/models"
)

const (
	DefaultBaseURL    = "https://openrouter.ai/api/v1"
	DefaultMaxRetries = 3

	completionsPath = "/chat/completions"
	retryBaseDelay  = 500 * time.Millisecond
	retryMaxDelay   = 10 * time.Second
	maxErrorBody    = 64 * 1024
)

// ErrNotConfigured means no API key is available for the request.
var ErrNotConfigured = errors.New("no api key configured")

// Callbacks receive a stream's output. Every content delta goes through
// OnToken; exactly one of OnComplete or OnError fires when the stream
// settles.
type Callbacks struct {
	OnToken    func(token string)
	OnComplete func(content string, stats *models.MessageStats, images []string)
	OnError    func(err error)
}

// Options tune a single completion request.
type Options struct {
	WebSearch bool
	// Images requests the image output modality for models that support it.
	Images bool
}

// Config configures a Client.
type Config struct {
	BaseURL string
	// APIKey is read per request so settings changes apply without
	// rebuilding the client.
	APIKey     func() string
	HTTPClient *http.Client
	MaxRetries int
	// RetryBase is the first backoff delay; it doubles per retry.
	RetryBase time.Duration
}

// Client issues completion requests. It holds no per-conversation state and
// is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     func() string
	http       *http.Client
	maxRetries int
	retryBase  time.Duration
}

func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	apiKey := cfg.APIKey
	if apiKey == nil {
		apiKey = func() string { return "" }
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// No client-level timeout: streams are long-lived, deadlines come
		// from the request context.
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = retryBaseDelay
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		http:       httpClient,
		maxRetries: maxRetries,
		retryBase:  retryBase,
	}
}

// ChatStream runs one streaming completion over history and delivers the
// outcome through cb. The call blocks until the stream settles; it does not
// return before the terminal callback has fired.
func (c *Client) ChatStream(ctx context.Context, model string, history []models.Message, cb Callbacks, opts *Options) {
	st, err := c.streamWithRetry(ctx, model, history, cb, opts)
	if err != nil {
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return
	}
	if cb.OnComplete != nil {
		cb.OnComplete(st.content.String(), st.stats(), st.images)
	}
}

func (c *Client) streamWithRetry(ctx context.Context, model string, history []models.Message, cb Callbacks, opts *Options) (*streamState, error) {
	key := strings.TrimSpace(c.apiKey())
	if key == "" {
		return nil, ErrNotConfigured
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}

	body, err := json.Marshal(c.buildRequest(model, history, opts, true))
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			log.Printf("llm: retrying stream in %v after: %v", delay, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		st, err := c.streamAttempt(ctx, key, model, body, cb)
		if err == nil {
			return st, nil
		}
		if st.deltas > 0 {
			// Content already reached the caller. A retry would replay the
			// completion from the start and duplicate what the UI shows.
			return nil, err
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("streaming failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// streamAttempt runs a single attempt with fresh timers. The returned state
// is never nil, so the caller can see whether content was delivered before
// an error.
func (c *Client) streamAttempt(ctx context.Context, key, model string, body []byte, cb Callbacks) (*streamState, error) {
	st := newStreamState(model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return st, fmt.Errorf("create completion request: %w", err)
	}
	c.setHeaders(req, key)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Connection", "keep-alive")

	resp, err := c.http.Do(req)
	if err != nil {
		return st, fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return st, readAPIError(resp)
	}
	if err := readStream(ctx, resp.Body, st, cb); err != nil {
		return st, err
	}
	return st, nil
}

// Complete runs a non-streaming completion and returns the first choice's
// message content.
func (c *Client) Complete(ctx context.Context, model string, history []models.Message, opts *Options) (string, error) {
	key := strings.TrimSpace(c.apiKey())
	if key == "" {
		return "", ErrNotConfigured
	}
	if model == "" {
		return "", fmt.Errorf("model is required")
	}

	body, err := json.Marshal(c.buildRequest(model, history, opts, false))
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	c.setHeaders(req, key)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", readAPIError(resp)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// GenerateTitle asks the model for a short title summarizing the first
// exchange of a chat.
func (c *Client) GenerateTitle(ctx context.Context, model, userTurn, assistantTurn string) (string, error) {
	prompt, err := loadPrompt("chat_title.txt")
	if err != nil {
		return "", err
	}

	history := []models.Message{
		{Role: models.RoleSystem, Content: prompt},
		{Role: models.RoleUser, Content: userTurn},
		{Role: models.RoleAssistant, Content: assistantTurn},
	}
	raw, err := c.Complete(ctx, model, history, nil)
	if err != nil {
		return "", err
	}

	title := strings.TrimSpace(raw)
	title = strings.Trim(title, `"'`)
	title = strings.ReplaceAll(title, "\n", " ")
	if title == "" {
		return "", fmt.Errorf("model returned an empty title")
	}
	return title, nil
}

type completionRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
	WebSearch     bool           `json:"web_search,omitempty"`
	Modalities    []string       `json:"modalities,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// chatMessage is one history turn on the wire. Content is either a plain
// string or a slice of requestPart for multimodal turns.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type requestPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *requestImage `json:"image_url,omitempty"`
	File     *requestFile  `json:"file,omitempty"`
}

type requestImage struct {
	URL string `json:"url"`
}

type requestFile struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

func (c *Client) buildRequest(model string, history []models.Message, opts *Options, stream bool) completionRequest {
	req := completionRequest{
		Model:    model,
		Messages: buildHistory(history),
		Stream:   stream,
	}
	if stream {
		req.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	if opts != nil {
		req.WebSearch = opts.WebSearch
		if opts.Images {
			req.Modalities = []string{"image", "text"}
		}
	}
	return req
}

// buildHistory converts cached messages to wire form. A message carrying
// attachments becomes multimodal content: its text first, then one part per
// attachment, images as inline data URLs and other files inline by name.
// Everything else is flattened to plain text.
func buildHistory(history []models.Message) []chatMessage {
	out := make([]chatMessage, 0, len(history))
	for i := range history {
		m := &history[i]
		if len(m.Attachments) == 0 {
			out = append(out, chatMessage{Role: m.Role, Content: m.TextContent()})
			continue
		}

		parts := make([]requestPart, 0, len(m.Attachments)+1)
		if text := m.TextContent(); text != "" {
			parts = append(parts, requestPart{Type: "text", Text: text})
		}
		for _, att := range m.Attachments {
			if att.IsImage() {
				parts = append(parts, requestPart{
					Type:     "image_url",
					ImageURL: &requestImage{URL: att.DataURL()},
				})
			} else {
				parts = append(parts, requestPart{
					Type: "file",
					File: &requestFile{Filename: att.Name, FileData: att.DataURL()},
				})
			}
		}
		out = append(out, chatMessage{Role: m.Role, Content: parts})
	}
	return out
}

func (c *Client) setHeaders(req *http.Request, key string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := c.retryBase << (attempt - 1)
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

// apiError is a non-2xx response from the completion endpoint.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("completion endpoint returned http %d", e.Status)
	}
	return fmt.Sprintf("completion endpoint returned http %d: %s", e.Status, e.Message)
}

func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := ""
	if err := json.Unmarshal(raw, &envelope); err == nil {
		msg = envelope.Error.Message
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	return &apiError{Status: resp.StatusCode, Message: msg}
}

// isRetryable reports whether another attempt may succeed: rate limits,
// server errors and network failures qualify, other client errors and
// context cancellation do not.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusTooManyRequests {
			return true
		}
		return apiErr.Status >= 500
	}
	return true
}
