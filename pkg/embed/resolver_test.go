package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_SimpleSubstitution(t *testing.T) {
	r := NewResolver(3)
	r.Register("upper", PhaseLate, func(ctx context.Context, expr string, rc *Context) (string, *Signal, error) {
		return "[" + expr + "]", nil, nil
	})

	out, err := r.ResolveLate("hello «upper:world» end")
	require.NoError(t, err)
	assert.Equal(t, "hello [world] end", out)
}

func TestResolver_PhaseIsolation(t *testing.T) {
	r := NewResolver(3)
	r.Register("early_only", PhaseEarly, func(ctx context.Context, expr string, rc *Context) (string, *Signal, error) {
		return "EARLY", nil, nil
	})

	out, err := r.ResolveLate("«early_only:x»")
	require.NoError(t, err)
	assert.Equal(t, "«early_only:x»", out, "late resolve must not touch early-phase embeds")
}

func TestResolver_RecursivePass(t *testing.T) {
	r := NewResolver(3)
	calls := 0
	r.Register("once", PhaseLate, func(ctx context.Context, expr string, rc *Context) (string, *Signal, error) {
		calls++
		if expr == "outer" {
			return "«once:inner»", nil, nil
		}
		return "done", nil, nil
	})

	out, err := r.ResolveLate("«once:outer»")
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, 2, calls)
}

func TestResolver_EmitsSignal(t *testing.T) {
	r := NewResolver(3)
	r.Register("notify", PhaseLate, func(ctx context.Context, expr string, rc *Context) (string, *Signal, error) {
		return "", &Signal{Kind: "notification", Data: expr}, nil
	})

	out, signals, err := r.ResolveLateWithSignals(context.Background(), "«notify:hi»", &Context{})
	require.NoError(t, err)
	assert.Equal(t, "", out)
	require.Len(t, signals, 1)
	assert.Equal(t, "notification", signals[0].Kind)
	assert.Equal(t, "hi", signals[0].Data)
}

func TestIsContainer(t *testing.T) {
	assert.True(t, IsContainer("text/plain", "has «a:b»"))
	assert.False(t, IsContainer("text/plain", "no delimiter"))
	assert.False(t, IsContainer("image/png", "«a:b»"))
	assert.True(t, IsContainer("application/json", `{"x":"«a:b»"}`))
}
