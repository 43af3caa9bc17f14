package transform

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(name string, data any) *Event {
	return &Event{Ctx: context.Background(), Name: name, Data: data}
}

func TestNamePatterns(t *testing.T) {
	tests := []struct {
		name      string
		transform EventTransformFunc
		event     string
		kept      bool
	}{
		{"drop matching", DropNamePattern("debug/#"), "debug/a/b", false},
		{"drop single level", DropNamePattern("+/internal"), "x/internal", false},
		{"drop keeps others", DropNamePattern("debug/#"), "chat/room1", true},
		{"keep matching", KeepNamePattern("chat/+"), "chat/room1", true},
		{"keep drops others", KeepNamePattern("chat/+"), "chat/room1/typing", false},
		{"drop prefix", DropNamePrefix("internal/"), "internal/x", false},
		{"drop prefix keeps others", DropNamePrefix("internal/"), "public/x", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := event(tt.event, "data")
			result, cont := tt.transform(ev)
			if tt.kept {
				assert.Same(t, ev, result)
				assert.True(t, cont)
			} else {
				assert.Nil(t, result)
				assert.False(t, cont)
			}
		})
	}
}

func TestAddNamePrefix(t *testing.T) {
	ev := event("news", 1)
	result, cont := AddNamePrefix("mirror/")(ev)
	require.NotNil(t, result)
	assert.True(t, cont)
	assert.Equal(t, "mirror/news", result.Name)
	assert.Equal(t, 1, result.Data)
	assert.Equal(t, "news", ev.Name, "original is not modified")
}

func TestRateLimitByName(t *testing.T) {
	mock := clock.NewMock()
	limit := RateLimitByName(time.Second, mock)

	kept := func(name string) bool {
		result, _ := limit(event(name, nil))
		return result != nil
	}

	assert.True(t, kept("a"))
	assert.False(t, kept("a"))
	assert.True(t, kept("b"))
	mock.Add(999 * time.Millisecond)
	assert.False(t, kept("a"))
	mock.Add(time.Millisecond)
	assert.True(t, kept("a"))
}

func TestChainTransforms(t *testing.T) {
	t.Run("runs in order", func(t *testing.T) {
		result := Apply(event("news", nil), AddNamePrefix("a/"), AddNamePrefix("b/"))
		require.NotNil(t, result)
		assert.Equal(t, "b/a/news", result.Name)
	})

	t.Run("drop stops the chain", func(t *testing.T) {
		called := false
		spy := func(ev *Event) (*Event, bool) {
			called = true
			return ev, true
		}
		assert.Nil(t, Apply(event("debug/x", nil), DropNamePattern("debug/#"), spy))
		assert.False(t, called)
	})

	t.Run("false stops the chain", func(t *testing.T) {
		stop := func(ev *Event) (*Event, bool) { return ev, false }
		result, cont := ChainTransforms(stop, AddNamePrefix("x/"))(event("news", nil))
		require.NotNil(t, result)
		assert.False(t, cont)
		assert.Equal(t, "news", result.Name)
	})

	t.Run("empty chain", func(t *testing.T) {
		ev := event("news", nil)
		assert.Same(t, ev, Apply(ev))
	})
}

func TestTransformOnPattern(t *testing.T) {
	enrich := TransformOnPattern("sensor/+device/data", func(_ context.Context, data any, fields map[string]string) any {
		if fields["device"] == "blocked" {
			return nil
		}
		return map[string]any{"device": fields["device"], "value": data}
	})

	result, _ := enrich(event("sensor/t1/data", 21.5))
	require.NotNil(t, result)
	assert.Equal(t, map[string]any{"device": "t1", "value": 21.5}, result.Data)

	result, _ = enrich(event("sensor/blocked/data", 1))
	assert.Nil(t, result)

	ev := event("other", 1)
	result, _ = enrich(ev)
	assert.Same(t, ev, result)
}

func TestIfPatternAndModifyPayload(t *testing.T) {
	double := ModifyPayload(func(_ context.Context, data any, fields map[string]string) any {
		assert.Empty(t, fields)
		return data.(int) * 2
	})
	onlyNumbers := IfPattern("numbers/#", double)

	result, _ := onlyNumbers(event("numbers/x", 2))
	assert.Equal(t, 4, result.Data)

	result, _ = onlyNumbers(event("words/x", 2))
	assert.Equal(t, 2, result.Data)
}
