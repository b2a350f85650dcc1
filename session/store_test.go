package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testState(id string) State {
	return State{
		ID:        id,
		Scenario:  "market_analysis",
		Mode:      "standard",
		Query:     "ACME",
		Status:    StatusRunning,
		LastStep:  "quote",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func runStoreContract(t *testing.T, store Store) {
	t.Helper()

	_, ok, err := store.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	state := testState("s1")
	require.NoError(t, store.Set("s1", state, 0))

	got, ok, err := store.Get("s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state.Scenario, got.Scenario)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, "quote", got.LastStep)

	// Last writer wins.
	state.Status = StatusComplete
	require.NoError(t, store.Set("s1", state, 0))
	got, ok, err = store.Get("s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusComplete, got.Status)

	require.NoError(t, store.Delete("s1"))
	_, ok, err = store.Get("s1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Delete("s1"), "deleting an unknown id is not an error")
}

func TestInMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewInMemoryStore())
}

func TestInMemoryStoreTTL(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set("s1", testState("s1"), time.Minute))

	_, ok, err := store.Get("s1")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, err = store.Get("s1")
	require.NoError(t, err)
	assert.False(t, ok, "expired entries read as absent")
}

func TestSQLiteStoreContract(t *testing.T) {
	store, err := NewSQLiteStore()
	require.NoError(t, err)
	defer store.Close()

	runStoreContract(t, store)
}

func TestSQLiteStoreTTL(t *testing.T) {
	store, err := NewSQLiteStore()
	require.NoError(t, err)
	defer store.Close()

	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set("s1", testState("s1"), time.Minute))

	_, ok, err := store.Get("s1")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, err = store.Get("s1")
	require.NoError(t, err)
	assert.False(t, ok)
}
