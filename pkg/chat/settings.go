package chat

// Settings is an AI settings profile. A prompt card carries two of them:
// the primary narrator profile and a helper profile.
type Settings struct {
	ConnectionID           string  `json:"selectedConnectionId,omitempty" yaml:"selectedConnectionId,omitempty"`
	Temperature            float64 `json:"temperature" yaml:"temperature"`
	TopP                   float64 `json:"topP" yaml:"topP"`
	MaxTokens              int     `json:"maxTokens" yaml:"maxTokens"`
	PresencePenalty        float64 `json:"presencePenalty" yaml:"presencePenalty"`
	FrequencyPenalty       float64 `json:"frequencyPenalty" yaml:"frequencyPenalty"`
	FunctionCallingEnabled bool    `json:"functionCallingEnabled" yaml:"functionCallingEnabled"`
}

// DefaultSettings returns the default narrator profile.
func DefaultSettings() Settings {
	return Settings{
		Temperature: 0.7,
		TopP:        1.0,
		MaxTokens:   2048,
	}
}

// Usage carries the token accounting reported by the provider, if any.
type Usage struct {
	PromptTokens     int `json:"input"`
	CompletionTokens int `json:"output"`
	TotalTokens      int `json:"total"`
}

// Completion is the raw reply of one chat exchange plus the transport
// diagnostics kept in the turn log.
type Completion struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`
	Model        string `json:"model,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`

	URL          string `json:"url,omitempty"`
	RequestBody  string `json:"request_body,omitempty"`
	ResponseBody string `json:"response_body,omitempty"`
}

// Truncated reports whether the provider stopped because of the token limit.
func (c *Completion) Truncated() bool {
	return c != nil && c.FinishReason == "length"
}
