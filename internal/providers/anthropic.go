package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic implements the Reviewer interface on the Anthropic Messages API.
type Anthropic struct {
	client  anthropic.Client
	model   string
	retries int
}

// NewAnthropic creates a new Anthropic provider.
func NewAnthropic(model string, opts Options) (*Anthropic, error) {
	if opts.APIKey == "" {
		return nil, &authError{message: "ANTHROPIC_API_KEY is not set"}
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithHTTPClient(opts.client()),
		// Retries are handled by retryWithBackoff so rate limits back off uniformly.
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &Anthropic{
		client:  anthropic.NewClient(reqOpts...),
		model:   model,
		retries: opts.retries(),
	}, nil
}

func (a *Anthropic) Name() string  { return "anthropic" }
func (a *Anthropic) Model() string { return a.model }

func (a *Anthropic) Review(ctx context.Context, req ReviewRequest) (ReviewResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	var resp ReviewResponse
	err := retryWithBackoff(ctx, a.retries, func() error {
		message, err := a.client.Messages.New(ctx, params)
		if err != nil {
			return classifyAnthropicError(err)
		}

		var content strings.Builder
		for _, block := range message.Content {
			if block.Type == "text" {
				content.WriteString(block.Text)
			}
		}
		resp = ReviewResponse{
			Content:    content.String(),
			TokensUsed: int(message.Usage.InputTokens + message.Usage.OutputTokens),
		}
		return nil
	})
	return resp, err
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("sending request: %w", err)
	}
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return &rateLimitError{}
	case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
		return &authError{message: apiErr.Error()}
	case apiErr.StatusCode >= 500:
		return &serverError{statusCode: apiErr.StatusCode, body: apiErr.Error()}
	default:
		return fmt.Errorf("API error (status %d): %w", apiErr.StatusCode, err)
	}
}
