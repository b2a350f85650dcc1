// Package openai provides a completion.Endpoint implementation backed by the
// OpenAI Chat Completions API. It adapts FinMesh's normalized request shape
// into the SDK's message format and maps SDK failures onto the fixed
// completion error taxonomy.
package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go"

	"github.com/hupe1980/finmesh/completion"
)

// Options configure the OpenAI endpoint adapter. Fields mirror a minimal
// subset of Chat Completion parameters; extend via functional options
// without breaking callers.
type Options struct {
	Model     string
	MaxTokens int64
}

// Endpoint wraps the OpenAI Chat Completions API behind the generic
// completion.Endpoint interface.
type Endpoint struct {
	client *openai.Client
	opts   Options
}

// NewEndpoint creates a new OpenAI endpoint using the official client.
func NewEndpoint(optFns ...func(o *Options)) *Endpoint {
	client := openai.NewClient()
	return NewEndpointFromClient(&client, optFns...)
}

// NewEndpointFromClient creates a new OpenAI endpoint from an existing client.
func NewEndpointFromClient(client *openai.Client, optFns ...func(o *Options)) *Endpoint {
	opts := Options{
		Model:     openai.ChatModelGPT4oMini,
		MaxTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Endpoint{client: client, opts: opts}
}

// Complete implements completion.Endpoint.
func (e *Endpoint) Complete(ctx context.Context, req completion.Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req.Messages),
		Model:               e.opts.Model,
		MaxCompletionTokens: openai.Int(e.opts.MaxTokens),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", completion.NewError(completion.KindServerError, "openai: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Info returns metadata describing this OpenAI endpoint implementation.
func (e *Endpoint) Info() completion.Info {
	return completion.Info{Name: e.opts.Model, Provider: "openai"}
}

func buildMessages(messages []completion.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Text))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Text))
		default:
			out = append(out, openai.UserMessage(m.Text))
		}
	}
	return out
}

// classify maps SDK failures onto the completion error taxonomy: 429 is rate
// limiting, 5xx is a transient server failure, other 4xx are caller errors
// and context expiry is a timeout.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return completion.NewError(completion.KindTimeout, "openai: %v", err)
	}

	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 429:
			return completion.NewError(completion.KindRateLimited, "openai: %v", err)
		case apierr.StatusCode >= 500:
			return completion.NewError(completion.KindServerError, "openai: %v", err)
		case apierr.StatusCode >= 400:
			return completion.NewError(completion.KindClientError, "openai: %v", err)
		}
	}

	return completion.NewError(completion.KindServerError, "openai: %v", err)
}
