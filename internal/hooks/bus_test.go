package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	t.Parallel()
	b := NewBus()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		_, err := b.Register(SubscriberFunc(func(ctx context.Context, ev Event) error {
			order = append(order, i)
			return nil
		}))
		require.NoError(t, err)
	}
	require.NoError(t, b.Publish(context.Background(), Event{Type: WorkflowStarted}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestPublishStopsAtFirstSubscriberError(t *testing.T) {
	t.Parallel()
	b := NewBus()
	var calledSecond bool
	boom := errors.New("boom")
	_, err := b.Register(SubscriberFunc(func(ctx context.Context, ev Event) error { return boom }))
	require.NoError(t, err)
	_, err = b.Register(SubscriberFunc(func(ctx context.Context, ev Event) error {
		calledSecond = true
		return nil
	}))
	require.NoError(t, err)

	err = b.Publish(context.Background(), Event{Type: WorkflowFailed})
	assert.ErrorIs(t, err, boom)
	assert.False(t, calledSecond)
}

func TestSubscriptionCloseIsIdempotentAndUnregisters(t *testing.T) {
	t.Parallel()
	b := NewBus()
	var calls int
	sub, err := b.Register(SubscriberFunc(func(ctx context.Context, ev Event) error {
		calls++
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), Event{}))
	assert.Equal(t, 1, calls)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close()) // idempotent

	require.NoError(t, b.Publish(context.Background(), Event{}))
	assert.Equal(t, 1, calls) // unregistered, no further delivery
}

func TestRegisterRejectsNilSubscriber(t *testing.T) {
	t.Parallel()
	b := NewBus()
	_, err := b.Register(nil)
	assert.Error(t, err)
}
