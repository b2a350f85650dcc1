package completion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func complete(t *testing.T, endpoint *MockEndpoint, prompt string) string {
	t.Helper()
	out, err := endpoint.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Text: prompt}},
	})
	require.NoError(t, err)
	return out
}

func TestMockResponseSelectionIsRegistrationOrdered(t *testing.T) {
	endpoint := NewMockEndpoint()
	endpoint.AddResponse("quarterly report", "specific answer")
	endpoint.AddResponse("report", "generic answer")

	// The prompt matches both substrings; the earliest registration wins on
	// every call.
	for i := 0; i < 10; i++ {
		assert.Equal(t, "specific answer", complete(t, endpoint, "summarize the quarterly report"))
	}

	assert.Equal(t, "generic answer", complete(t, endpoint, "summarize the annual report"))
}

func TestMockAddResponseReplacesInPlace(t *testing.T) {
	endpoint := NewMockEndpoint()
	endpoint.AddResponse("report", "first")
	endpoint.AddResponse("report", "second")

	assert.Equal(t, "second", complete(t, endpoint, "the report"))
}

func TestMockFallsBackToEchoingPrompt(t *testing.T) {
	endpoint := NewMockEndpoint()

	out := complete(t, endpoint, "unmatched prompt")
	assert.Contains(t, out, "unmatched prompt")
}
