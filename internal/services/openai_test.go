package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/jwebster45206/storyforge/pkg/chat"
)

func TestOpenAIClient_Send(t *testing.T) {
	var got CompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "StoryForge/1.0", r.Header.Get("User-Agent"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		assert.True(t, gjson.GetBytes(body, "stream").Exists(), "stream should always be sent")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "narrator-large-2",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "The door creaks open."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 8, "total_tokens": 128}
		}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL+"/v1/", "sk-test", time.Second, nil)
	messages := []chat.ChatMessage{
		{Role: chat.ChatRoleSystem, Content: "You are the narrator."},
		{Role: chat.ChatRoleUser, Content: "open the door"},
	}
	settings := chat.Settings{Temperature: 0.5, TopP: 0.9, MaxTokens: 300, PresencePenalty: 0.1, FrequencyPenalty: 0.2}

	completion, err := client.Send(context.Background(), messages, settings, "narrator-large")
	require.NoError(t, err)

	assert.Equal(t, "The door creaks open.", completion.Content)
	assert.Equal(t, "stop", completion.FinishReason)
	assert.Equal(t, "narrator-large-2", completion.Model)
	assert.Equal(t, &chat.Usage{PromptTokens: 120, CompletionTokens: 8, TotalTokens: 128}, completion.Usage)
	assert.Equal(t, server.URL+"/v1/chat/completions", completion.URL)
	assert.Contains(t, completion.RequestBody, `"open the door"`)
	assert.Contains(t, completion.ResponseBody, "narrator-large-2")

	assert.Equal(t, "narrator-large", got.Model)
	assert.Equal(t, messages, got.Messages)
	assert.Equal(t, 0.5, got.Temperature)
	assert.Equal(t, 0.9, got.TopP)
	assert.Equal(t, 300, got.MaxTokens)
	assert.Equal(t, 0.1, got.PresencePenalty)
	assert.Equal(t, 0.2, got.FrequencyPenalty)
	assert.False(t, got.Stream)
}

func TestOpenAIClient_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
		is      error
	}{
		{
			name:    "non-2xx with error message",
			status:  http.StatusUnauthorized,
			body:    `{"error": {"message": "bad key"}}`,
			wantErr: "API request failed with status 401: bad key",
		},
		{
			name:    "non-2xx plain body",
			status:  http.StatusBadGateway,
			body:    "upstream down",
			wantErr: "API request failed with status 502: upstream down",
		},
		{
			name:   "empty completion",
			status: http.StatusOK,
			body:   `{"choices": [{"message": {"content": "   "}}]}`,
			is:     ErrEmptyCompletion,
		},
		{
			name:   "no choices",
			status: http.StatusOK,
			body:   `{"choices": []}`,
			is:     ErrEmptyCompletion,
		},
		{
			name:    "invalid json",
			status:  http.StatusOK,
			body:    `{"choices": [`,
			wantErr: "invalid JSON",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewOpenAIClient(server.URL, "", time.Second, nil)
			_, err := client.Send(context.Background(), []chat.ChatMessage{{Role: chat.ChatRoleUser, Content: "look"}}, chat.DefaultSettings(), "m")
			require.Error(t, err)
			if tt.wantErr != "" {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestOpenAIClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewOpenAIClient(server.URL, "", 50*time.Millisecond, nil)
	_, err := client.Send(context.Background(), []chat.ChatMessage{{Role: chat.ChatRoleUser, Content: "wait"}}, chat.DefaultSettings(), "m")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "timeouts should match context.DeadlineExceeded: %v", err)
}

func TestOpenAIClient_NoMessages(t *testing.T) {
	client := NewOpenAIClient("", "", 0, nil)
	_, err := client.Send(context.Background(), nil, chat.DefaultSettings(), "m")
	assert.Error(t, err)
	assert.Equal(t, DefaultBaseURL, client.baseURL)
	assert.Equal(t, DefaultTimeout, client.httpClient.Timeout)
}

func TestDummyNarrator_Send(t *testing.T) {
	d := NewDummyNarrator(0)
	tests := []struct {
		action string
		want   string
	}{
		{action: " 2 ", want: "You press deeper into the forest."},
		{action: "1", want: "@scene"},
		{action: "dance", want: `"!world.flags.idle": true`},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			c, err := d.Send(context.Background(), []chat.ChatMessage{
				{Role: chat.ChatRoleSystem, Content: "rules"},
				{Role: chat.ChatRoleUser, Content: tt.action},
			}, chat.DefaultSettings(), "dummy")
			require.NoError(t, err)
			assert.Contains(t, c.Content, tt.want)
			assert.Equal(t, DummyURL, c.URL)
			assert.Equal(t, "dummy", c.Model)
		})
	}
}

func TestDummyNarrator_HonorsCancel(t *testing.T) {
	d := NewDummyNarrator(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Send(ctx, []chat.ChatMessage{{Role: chat.ChatRoleUser, Content: "1"}}, chat.DefaultSettings(), "dummy")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockChatClient(t *testing.T) {
	m := NewMockChatClient()
	c, err := m.Send(context.Background(), []chat.ChatMessage{{Role: chat.ChatRoleUser, Content: "hi"}}, chat.DefaultSettings(), "m")
	require.NoError(t, err)
	assert.Equal(t, "Mock response", c.Content)

	m.SetReplies("first", "second")
	c1, _ := m.Send(context.Background(), nil, chat.Settings{}, "m")
	c2, _ := m.Send(context.Background(), nil, chat.Settings{}, "m")
	c3, _ := m.Send(context.Background(), nil, chat.Settings{}, "m")
	assert.Equal(t, []string{"first", "second", "second"}, []string{c1.Content, c2.Content, c3.Content})

	m.SetSendError(errors.New("boom"))
	_, err = m.Send(context.Background(), nil, chat.Settings{}, "m")
	assert.EqualError(t, err, "boom")

	assert.Len(t, m.Calls(), 5)
	m.Reset()
	assert.Empty(t, m.Calls())
}
