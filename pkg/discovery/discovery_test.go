package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_UpsertGetList(t *testing.T) {
	r := NewRegistry(0, nil)
	r.Upsert("weather", Card{Name: "weather", Capabilities: []string{"forecast"}})

	card, ok := r.Get("weather")
	require.True(t, ok)
	assert.Equal(t, "weather", card.Name)
	assert.Len(t, r.List(), 1)
}

func TestRegistry_TTLHidesButKeepsForObservability(t *testing.T) {
	r := NewRegistry(10*time.Millisecond, nil)
	r.Upsert("weather", Card{Name: "weather"})

	_, ok := r.Get("weather")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	_, ok = r.Get("weather")
	assert.False(t, ok, "expired card must be hidden from reads")
	assert.Empty(t, r.List())

	dump := r.ObservabilityDump()
	assert.Contains(t, dump, "weather", "expired card must still be visible for observability")
}

func TestRegistry_FindByCapability(t *testing.T) {
	r := NewRegistry(0, nil)
	r.Upsert("weather", Card{Name: "weather", Capabilities: []string{"forecast"}})
	r.Upsert("calc", Card{Name: "calc", Capabilities: []string{"math"}})

	found := r.FindByCapability("forecast")
	require.Len(t, found, 1)
	assert.Equal(t, "weather", found[0].Name)
}
