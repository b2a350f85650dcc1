package agent

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// rawStep is the lenient wire shape the planning endpoint is asked to emit.
// "tool" and "arguments" are accepted as aliases since models drift between
// the two vocabularies.
type rawStep struct {
	Capability string         `json:"capability"`
	Tool       string         `json:"tool"`
	Params     map[string]any `json:"params"`
	Arguments  map[string]any `json:"arguments"`
	Purpose    string         `json:"purpose"`
}

// ParsePlan extracts a Plan from raw completion text. Strategies are tried
// in order and the first one yielding a well-formed ordered step list wins:
//
//  1. the contents of a fenced code block
//  2. a bare JSON array or {"steps": [...]} object anywhere in the text
//  3. the entire trimmed text
//
// ParsePlan never fails hard: the second return value reports whether any
// strategy produced a valid plan, and callers fall back to a default plan
// when it is false. An empty JSON array parses to a valid empty plan.
func ParsePlan(text string) (Plan, bool) {
	for _, candidate := range fencedBlocks(text) {
		if plan, ok := decodeSteps(candidate); ok {
			return plan, true
		}
	}
	for _, candidate := range bareBlocks(text) {
		if plan, ok := decodeSteps(candidate); ok {
			return plan, true
		}
	}
	if plan, ok := decodeSteps(strings.TrimSpace(text)); ok {
		return plan, true
	}
	return Plan{}, false
}

// fencedBlocks returns the inner content of every ``` fenced block,
// stripping an optional language tag on the opening fence.
func fencedBlocks(text string) []string {
	var blocks []string
	rest := text
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			break
		}
		rest = rest[start+3:]
		end := strings.Index(rest, "```")
		if end < 0 {
			break
		}
		block := rest[:end]
		rest = rest[end+3:]

		// Drop a language tag such as "json" on the first line.
		if nl := strings.IndexByte(block, '\n'); nl >= 0 {
			first := strings.TrimSpace(block[:nl])
			if first != "" && !strings.ContainsAny(first, "[{") {
				block = block[nl+1:]
			}
		}
		blocks = append(blocks, strings.TrimSpace(block))
	}
	return blocks
}

// bareBlocks scans for JSON values embedded in prose by attempting a decode
// at every '[' or '{' position.
func bareBlocks(text string) []string {
	var blocks []string
	for i := 0; i < len(text); i++ {
		if text[i] != '[' && text[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err == nil {
			blocks = append(blocks, string(raw))
			i += int(dec.InputOffset()) - 1
		}
	}
	return blocks
}

// decodeSteps parses a candidate string into an ordered step list. The
// candidate may be a bare array or an object carrying a "steps" array.
func decodeSteps(candidate string) (Plan, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" || !gjson.Valid(candidate) {
		return Plan{}, false
	}

	root := gjson.Parse(candidate)
	var raw string
	switch {
	case root.IsArray():
		raw = candidate
	case root.Get("steps").IsArray():
		raw = root.Get("steps").Raw
	default:
		return Plan{}, false
	}

	var steps []rawStep
	if err := json.Unmarshal([]byte(raw), &steps); err != nil {
		return Plan{}, false
	}

	plan := Plan{Steps: make([]PlanStep, 0, len(steps))}
	for i, s := range steps {
		name := s.Capability
		if name == "" {
			name = s.Tool
		}
		if name == "" {
			return Plan{}, false // malformed step invalidates the candidate
		}
		params := s.Params
		if params == nil {
			params = s.Arguments
		}
		plan.Steps = append(plan.Steps, PlanStep{
			Index:      i,
			Capability: name,
			Params:     params,
			Purpose:    s.Purpose,
		})
	}
	return plan, true
}
