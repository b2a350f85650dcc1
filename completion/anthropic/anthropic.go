// Package anthropic provides a completion.Endpoint implementation backed by
// the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/finmesh/completion"
)

// Options configure the Anthropic endpoint adapter (model id, max tokens,
// API key). Extend via functional options to preserve stability.
type Options struct {
	Model     anthropic.Model
	MaxTokens int64
	APIKey    string
}

// Endpoint wraps the Anthropic Messages API behind the generic
// completion.Endpoint interface.
type Endpoint struct {
	client *anthropic.Client
	opts   Options
}

// NewEndpoint creates a new Anthropic endpoint using the official client.
func NewEndpoint(optFns ...func(o *Options)) *Endpoint {
	opts := Options{
		Model:     anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Endpoint{client: &client, opts: opts}
}

// NewEndpointFromClient creates a new Anthropic endpoint from an existing client.
func NewEndpointFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Endpoint {
	opts := Options{
		Model:     anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Endpoint{client: client, opts: opts}
}

// Complete implements completion.Endpoint.
func (e *Endpoint) Complete(ctx context.Context, req completion.Request) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     e.opts.Model,
		MaxTokens: e.opts.MaxTokens,
		Messages:  buildMessages(req.Messages),
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if system := extractSystem(req.Messages); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	return sb.String(), nil
}

// Info returns metadata describing this Anthropic endpoint implementation.
func (e *Endpoint) Info() completion.Info {
	return completion.Info{Name: string(e.opts.Model), Provider: "anthropic"}
}

func buildMessages(messages []completion.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			continue // carried via the dedicated system field
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
		}
	}
	return out
}

func extractSystem(messages []completion.Message) string {
	var parts []string
	for _, m := range messages {
		if m.Role == "system" {
			parts = append(parts, m.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return completion.NewError(completion.KindTimeout, "anthropic: %v", err)
	}

	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 429:
			return completion.NewError(completion.KindRateLimited, "anthropic: %v", err)
		case apierr.StatusCode >= 500:
			return completion.NewError(completion.KindServerError, "anthropic: %v", err)
		case apierr.StatusCode >= 400:
			return completion.NewError(completion.KindClientError, "anthropic: %v", err)
		}
	}

	return completion.NewError(completion.KindServerError, "anthropic: %v", err)
}
