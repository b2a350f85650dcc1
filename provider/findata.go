package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/hupe1980/finmesh/capability"
)

// CapabilityFinancialData is the registered name of the quote lookup capability.
const CapabilityFinancialData = "financial_data"

// Quote is the normalized payload returned by the financial data capability.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Currency      string  `json:"currency"`
	ChangePercent float64 `json:"change_percent"`
	AsOf          string  `json:"as_of,omitempty"`
}

// FinancialData looks up quotes and basic fundamentals from an HTTP JSON
// provider. The concrete provider only has to serve
// GET {base}/quote?symbol=XYZ with a Quote-shaped body; everything else about
// its wire format is its own business.
type FinancialData struct {
	baseURL string
	client  *http.Client
	apiKey  string
}

// FinancialDataOptions configure the financial data provider.
type FinancialDataOptions struct {
	// HTTPClient overrides the default client (10s overall timeout).
	HTTPClient *http.Client
	// APIKey, when set, is sent as a bearer token.
	APIKey string
}

// NewFinancialData constructs the quote lookup capability against baseURL.
func NewFinancialData(baseURL string, optFns ...func(o *FinancialDataOptions)) *FinancialData {
	opts := FinancialDataOptions{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &FinancialData{baseURL: baseURL, client: opts.HTTPClient, apiKey: opts.APIKey}
}

// Name implements capability.Capability.
func (f *FinancialData) Name() string { return CapabilityFinancialData }

// Description implements capability.Capability.
func (f *FinancialData) Description() string {
	return "Look up the current quote and daily change for a ticker symbol."
}

// Parameters implements capability.Capability.
func (f *FinancialData) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"symbol": map[string]any{
				"type":        "string",
				"description": "Ticker symbol, e.g. AAPL",
			},
		},
		"required": []string{"symbol"},
	}
}

// Execute implements capability.Capability.
func (f *FinancialData) Execute(ctx context.Context, args map[string]any) (any, error) {
	symbol, ok := args["symbol"].(string)
	if !ok || symbol == "" {
		return nil, capability.NewError(f.Name(), capability.KindInvalidParameters, "symbol must be a non-empty string")
	}

	var quote Quote
	if err := f.getJSON(ctx, "/quote?symbol="+url.QueryEscape(symbol), &quote); err != nil {
		return nil, err
	}
	return quote, nil
}

// Probe implements capability.Capability by fetching a well-known symbol.
func (f *FinancialData) Probe(ctx context.Context) error {
	var quote Quote
	if err := f.getJSON(ctx, "/quote?symbol=SPY", &quote); err != nil {
		return err
	}
	if quote.Symbol == "" || quote.Price == 0 {
		return &capability.DegradedError{Reason: "probe quote came back empty"}
	}
	return nil
}

func (f *FinancialData) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path, nil)
	if err != nil {
		return capability.NewError(f.Name(), capability.KindInvalidParameters, "%v", err)
	}
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return err // invoker classifies context expiry as timeout
	}
	defer resp.Body.Close()

	if err := classifyStatus(f.Name(), resp.StatusCode); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return capability.NewError(f.Name(), capability.KindUpstreamServerError, "malformed response: %v", err)
	}
	return nil
}

// classifyStatus maps HTTP status codes onto the capability error taxonomy.
func classifyStatus(name string, status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests:
		return capability.NewError(name, capability.KindRateLimited, "provider rate limited the call")
	case status >= 500:
		return capability.NewError(name, capability.KindUpstreamServerError, "provider returned status %d", status)
	default:
		return capability.NewError(name, capability.KindInvalidParameters, "provider rejected the call with status %d", status)
	}
}
