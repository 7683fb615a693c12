package eventbus_test

import (
	"testing"

	"github.com/corral-dev/corral/internal/eventbus"
	"github.com/corral-dev/corral/internal/model"
	"github.com/stretchr/testify/require"
)

func TestStatusChangeDeliveredInOrder(t *testing.T) {
	t.Parallel()
	b := eventbus.New()

	var got []model.Status
	b.OnStatusChange(func(e eventbus.StatusChange) {
		got = append(got, e.Status)
	})

	b.PublishStatusChange(eventbus.StatusChange{ID: "api", Status: model.StatusStarting})
	b.PublishStatusChange(eventbus.StatusChange{ID: "api", Status: model.StatusRunning})

	require.Equal(t, []model.Status{model.StatusStarting, model.StatusRunning}, got)
}

func TestMultipleSubscribersAllRun(t *testing.T) {
	t.Parallel()
	b := eventbus.New()

	var a, c int
	b.OnOutput(func(eventbus.Output) { a++ })
	b.OnOutput(func(eventbus.Output) { c++ })

	b.PublishOutput(eventbus.Output{ID: "api", Line: "hi", Stream: model.StreamStdout})

	require.Equal(t, 1, a)
	require.Equal(t, 1, c)
}

func TestPanicInHandlerIsIsolated(t *testing.T) {
	t.Parallel()
	b := eventbus.New()

	var ran bool
	b.OnHiddenChange(func(eventbus.HiddenChange) { panic("boom") })
	b.OnHiddenChange(func(eventbus.HiddenChange) { ran = true })

	require.NotPanics(t, func() {
		b.PublishHiddenChange(eventbus.HiddenChange{ID: "api", Hidden: false})
	})
	require.True(t, ran)
}
