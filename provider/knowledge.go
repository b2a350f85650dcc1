package provider

import (
	"context"
	"strings"

	"github.com/hupe1980/finmesh/capability"
)

// CapabilityKnowledgeLookup is the registered name of the local knowledge capability.
const CapabilityKnowledgeLookup = "knowledge_lookup"

// KnowledgeEntry is one entry of the in-process knowledge base.
type KnowledgeEntry struct {
	Topic string `json:"topic"`
	Text  string `json:"text"`
}

// NewKnowledgeLookup builds an in-process keyword lookup capability over the
// given entries. It needs no network and doubles as the offline default in
// examples and tests.
func NewKnowledgeLookup(entries []KnowledgeEntry) *capability.FunctionCapability {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"topic": map[string]any{
				"type":        "string",
				"description": "Topic keywords to look up",
			},
		},
		"required": []string{"topic"},
	}

	fn := func(ctx context.Context, args map[string]any) (any, error) {
		topic, _ := args["topic"].(string)
		if topic == "" {
			return nil, capability.NewError(CapabilityKnowledgeLookup, capability.KindInvalidParameters, "topic must be a non-empty string")
		}

		needle := strings.ToLower(topic)
		var matches []KnowledgeEntry
		for _, e := range entries {
			if strings.Contains(strings.ToLower(e.Topic), needle) ||
				strings.Contains(strings.ToLower(e.Text), needle) {
				matches = append(matches, e)
			}
		}
		return matches, nil
	}

	probe := func(ctx context.Context) error {
		if len(entries) == 0 {
			return &capability.DegradedError{Reason: "knowledge base is empty"}
		}
		return nil
	}

	return capability.NewFunctionCapability(
		CapabilityKnowledgeLookup,
		"Look up background facts in the local knowledge base.",
		params,
		fn,
		capability.WithProbe(probe),
	)
}
