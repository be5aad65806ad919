package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/jwebster45206/storyforge/pkg/chat"
)

const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultUserAgent = "StoryForge/1.0"
	DefaultTimeout   = 90 * time.Second
)

// OpenAIClient implements ChatClient for any OpenAI-compatible
// chat-completions endpoint.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

// CompletionRequest is the request body posted to {base}/chat/completions.
type CompletionRequest struct {
	Model            string             `json:"model"`
	Messages         []chat.ChatMessage `json:"messages"`
	Temperature      float64            `json:"temperature"`
	TopP             float64            `json:"top_p"`
	MaxTokens        int                `json:"max_tokens"`
	PresencePenalty  float64            `json:"presence_penalty"`
	FrequencyPenalty float64            `json:"frequency_penalty"`
	Stream           bool               `json:"stream"`
}

// NewOpenAIClient creates a new chat client. A blank baseURL uses the
// OpenAI endpoint; a zero timeout uses DefaultTimeout.
func NewOpenAIClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *OpenAIClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// WithUserAgent overrides the User-Agent header.
func (c *OpenAIClient) WithUserAgent(ua string) *OpenAIClient {
	if ua != "" {
		c.userAgent = ua
	}
	return c
}

// Send posts the stack and extracts the first choice of the reply.
func (c *OpenAIClient) Send(ctx context.Context, messages []chat.ChatMessage, settings chat.Settings, model string) (*chat.Completion, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}

	request := CompletionRequest{
		Model:            model,
		Messages:         messages,
		Temperature:      settings.Temperature,
		TopP:             settings.TopP,
		MaxTokens:        settings.MaxTokens,
		PresencePenalty:  settings.PresencePenalty,
		FrequencyPenalty: settings.FrequencyPenalty,
		Stream:           false,
	}
	reqBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("request failed: %w: %w", context.DeadlineExceeded, err)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Debug("Chat completion received",
		"status", resp.StatusCode,
		"model", model,
		"latency_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
			return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, msg.String())
		}
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	completion, err := parseCompletion(body)
	if err != nil {
		return nil, err
	}
	completion.URL = url
	completion.RequestBody = string(reqBody)
	return completion, nil
}

// parseCompletion extracts the first choice and the usage block.
func parseCompletion(body []byte) (*chat.Completion, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("failed to parse response: invalid JSON")
	}
	reply := gjson.ParseBytes(body)
	if msg := reply.Get("error.message"); msg.Exists() {
		return nil, fmt.Errorf("API error: %s", msg.String())
	}

	content := reply.Get("choices.0.message.content").String()
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyCompletion
	}

	completion := &chat.Completion{
		Content:      content,
		FinishReason: reply.Get("choices.0.finish_reason").String(),
		Model:        reply.Get("model").String(),
		ResponseBody: string(body),
	}
	if u := reply.Get("usage"); u.Exists() {
		completion.Usage = &chat.Usage{
			PromptTokens:     int(u.Get("prompt_tokens").Int()),
			CompletionTokens: int(u.Get("completion_tokens").Int()),
			TotalTokens:      int(u.Get("total_tokens").Int()),
		}
	}
	return completion, nil
}
