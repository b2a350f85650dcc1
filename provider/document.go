package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hupe1980/finmesh/capability"
)

// CapabilityDocumentLookup is the registered name of the document retrieval capability.
const CapabilityDocumentLookup = "document_lookup"

// Document is one retrieved document snippet.
type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Source  string `json:"source,omitempty"`
}

// DocumentLookup retrieves filings, reports and other documents from an HTTP
// JSON provider serving GET {base}/documents?query=...&limit=N with a JSON
// array of Document.
type DocumentLookup struct {
	baseURL string
	client  *http.Client
}

// DocumentLookupOptions configure the document retrieval provider.
type DocumentLookupOptions struct {
	// HTTPClient overrides the default client (10s overall timeout).
	HTTPClient *http.Client
}

// NewDocumentLookup constructs the document retrieval capability against baseURL.
func NewDocumentLookup(baseURL string, optFns ...func(o *DocumentLookupOptions)) *DocumentLookup {
	opts := DocumentLookupOptions{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &DocumentLookup{baseURL: baseURL, client: opts.HTTPClient}
}

// Name implements capability.Capability.
func (d *DocumentLookup) Name() string { return CapabilityDocumentLookup }

// Description implements capability.Capability.
func (d *DocumentLookup) Description() string {
	return "Retrieve filings, reports and research documents matching a query."
}

// Parameters implements capability.Capability.
func (d *DocumentLookup) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search terms for the document index",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of documents to return",
			},
		},
		"required": []string{"query"},
	}
}

// Execute implements capability.Capability.
func (d *DocumentLookup) Execute(ctx context.Context, args map[string]any) (any, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, capability.NewError(d.Name(), capability.KindInvalidParameters, "query must be a non-empty string")
	}
	limit := 5
	if l, ok := args["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}

	path := "/documents?query=" + url.QueryEscape(query) + "&limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return nil, capability.NewError(d.Name(), capability.KindInvalidParameters, "%v", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := classifyStatus(d.Name(), resp.StatusCode); err != nil {
		return nil, err
	}

	var docs []Document
	if err := json.NewDecoder(resp.Body).Decode(&docs); err != nil {
		return nil, capability.NewError(d.Name(), capability.KindUpstreamServerError, "malformed response: %v", err)
	}
	return docs, nil
}

// Probe implements capability.Capability.
func (d *DocumentLookup) Probe(ctx context.Context) error {
	docs, err := d.Execute(ctx, map[string]any{"query": "annual report", "limit": float64(1)})
	if err != nil {
		return err
	}
	if list, ok := docs.([]Document); ok && len(list) == 0 {
		return &capability.DegradedError{Reason: "probe query returned no documents"}
	}
	return nil
}
