package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBusDeliversInRegistrationOrder(t *testing.T) {
	t.Parallel()

	bus := New()
	var got []string
	bus.On("greet", func(data ...any) { got = append(got, "first:"+data[0].(string)) })
	bus.On("greet", func(data ...any) { got = append(got, "second:"+data[0].(string)) })
	bus.On("other", func(...any) { got = append(got, "other") })

	bus.Emit("greet", "hi")

	require.Equal(t, []string{"first:hi", "second:hi"}, got)
}

func TestBusCancelRemovesOnlyThatHandler(t *testing.T) {
	t.Parallel()

	bus := New()
	calls := 0
	cancel := bus.On("tick", func(...any) { calls += 10 })
	bus.On("tick", func(...any) { calls++ })

	cancel()
	cancel()
	bus.Emit("tick")

	require.Equal(t, 1, calls)
	require.Equal(t, 1, bus.Listeners("tick"))
}

func TestBusHandlerMayUnsubscribeDuringEmit(t *testing.T) {
	t.Parallel()

	bus := New()
	var cancel func()
	calls := 0
	cancel = bus.On("once", func(...any) {
		calls++
		cancel()
	})

	bus.Emit("once")
	bus.Emit("once")

	require.Equal(t, 1, calls)
	require.Zero(t, bus.Listeners("once"))
}
