package providers

import (
	"context"
	"strings"
)

const defaultOllamaURL = "http://localhost:11434"

// Ollama implements the Reviewer interface for Ollama and LM Studio through
// their OpenAI-compatible endpoint. No API key is required.
type Ollama struct {
	chat chatCompletions
}

// NewOllama creates a new Ollama provider. BaseURL may be given with or
// without the /v1 or /v1/chat/completions suffix.
func NewOllama(model string, opts Options) (*Ollama, error) {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1/chat/completions")
	baseURL = strings.TrimSuffix(baseURL, "/v1")

	// Local models get a longer default timeout.
	if opts.Timeout <= 0 && opts.HTTPClient == nil {
		opts.Timeout = 3 * defaultTimeout
	}
	return &Ollama{chat: chatCompletions{
		apiKey:  opts.APIKey,
		model:   model,
		url:     baseURL + "/v1/chat/completions",
		client:  opts.client(),
		retries: opts.retries(),
	}}, nil
}

func (o *Ollama) Name() string  { return "ollama" }
func (o *Ollama) Model() string { return o.chat.model }

func (o *Ollama) Review(ctx context.Context, req ReviewRequest) (ReviewResponse, error) {
	return o.chat.complete(ctx, req)
}
