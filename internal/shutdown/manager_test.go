package shutdown

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShutdownRunsComponentsInReverseOrder(t *testing.T) {
	m := NewManager(context.Background(), nil)

	var order []string
	m.Register(ShutdownFunc(func() { order = append(order, "session") }))
	m.Register(ShutdownFunc(func() { order = append(order, "source") }))

	m.Shutdown()
	m.Shutdown()

	assert.Equal(t, []string{"source", "session"}, order)
	assert.ErrorIs(t, m.Context().Err(), context.Canceled)

	select {
	case <-m.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestCancelLeavesComponentsRegistered(t *testing.T) {
	m := NewManager(context.Background(), nil)
	released := false
	m.Register(ShutdownFunc(func() { released = true }))

	m.Cancel()
	assert.ErrorIs(t, m.Context().Err(), context.Canceled)
	assert.False(t, released)

	m.Shutdown()
	assert.True(t, released)
}

func TestParentCancellationPropagates(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	m := NewManager(parent, nil)
	cancel()
	assert.ErrorIs(t, m.Context().Err(), context.Canceled)
}
