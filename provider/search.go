// Package provider contains concrete capability implementations (web search,
// financial data, document retrieval, knowledge lookup) adapted to the
// uniform capability interface. Each provider classifies its own failures
// into the capability error taxonomy so the invoker never has to inspect
// provider-specific errors.
package provider

import (
	"context"

	"github.com/tmc/langchaingo/tools/duckduckgo"

	"github.com/hupe1980/finmesh/capability"
)

// CapabilityWebSearch is the registered name of the web search capability.
const CapabilityWebSearch = "web_search"

// WebSearch exposes DuckDuckGo web search through the capability interface.
type WebSearch struct {
	client *duckduckgo.Tool
}

// WebSearchOptions configure the web search provider.
type WebSearchOptions struct {
	// MaxResults bounds how many results one query returns.
	MaxResults int
	// UserAgent identifies the client to the search backend.
	UserAgent string
}

// NewWebSearch constructs the DuckDuckGo-backed search capability.
func NewWebSearch(optFns ...func(o *WebSearchOptions)) (*WebSearch, error) {
	opts := WebSearchOptions{
		MaxResults: 10,
		UserAgent:  duckduckgo.DefaultUserAgent,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	ddg, err := duckduckgo.New(opts.MaxResults, opts.UserAgent)
	if err != nil {
		return nil, err
	}
	return &WebSearch{client: ddg}, nil
}

// Name implements capability.Capability.
func (s *WebSearch) Name() string { return CapabilityWebSearch }

// Description implements capability.Capability.
func (s *WebSearch) Description() string {
	return "Search the web for current news and general information."
}

// Parameters implements capability.Capability.
func (s *WebSearch) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query to look up",
			},
		},
		"required": []string{"query"},
	}
}

// Execute implements capability.Capability.
func (s *WebSearch) Execute(ctx context.Context, args map[string]any) (any, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, capability.NewError(s.Name(), capability.KindInvalidParameters, "query must be a non-empty string")
	}

	res, err := s.client.Call(ctx, query)
	if err != nil {
		return nil, err // invoker classifies (timeout vs upstream)
	}
	return res, nil
}

// Probe implements capability.Capability with a minimal live query.
func (s *WebSearch) Probe(ctx context.Context) error {
	res, err := s.client.Call(ctx, "market news")
	if err != nil {
		return err
	}
	if res == "" {
		return &capability.DegradedError{Reason: "probe query returned no results"}
	}
	return nil
}
