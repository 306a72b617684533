package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roundstep/roundstep/eventbus"
	"github.com/roundstep/roundstep/libs/log"
)

func startBus(ctx context.Context, t *testing.T) *eventbus.Bus {
	t.Helper()
	bus := eventbus.NewBus(log.NewTestingLogger(t))
	require.NoError(t, bus.Start(ctx))
	t.Cleanup(func() {
		if err := bus.Stop(); err != nil {
			t.Log(err)
		}
	})
	return bus
}

func TestBusPublishSubscribe(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := startBus(ctx, t)

	sub := bus.Subscribe("NewRound", 1)
	require.NotEmpty(t, sub.ID())
	require.Equal(t, "NewRound", sub.EventType())

	require.NoError(t, bus.Publish("NewRound", "payload"))
	// Events of other types must not be delivered here.
	require.NoError(t, bus.Publish("Vote", "other"))

	select {
	case msg := <-sub.Out():
		assert.Equal(t, "NewRound", msg.Type())
		assert.Equal(t, "payload", msg.Data())
	case <-time.After(time.Second):
		t.Fatal("expected to receive a message")
	}

	select {
	case msg := <-sub.Out():
		t.Fatalf("unexpected message: %v", msg.Data())
	default:
	}
}

func TestBusSlowSubscriber(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := startBus(ctx, t)

	sub := bus.Subscribe("Vote", 1)
	require.NoError(t, bus.Publish("Vote", 1))
	require.NoError(t, bus.Publish("Vote", 2))

	select {
	case <-sub.Canceled():
	case <-time.After(time.Second):
		t.Fatal("expected subscription to be canceled")
	}
	assert.Equal(t, eventbus.ErrOutOfCapacity, sub.Err())
	assert.Equal(t, 0, bus.NumSubscriptions())

	// The buffered message is still drainable.
	msg := <-sub.Out()
	assert.Equal(t, 1, msg.Data())
}

func TestBusUnsubscribe(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := startBus(ctx, t)

	sub := bus.Subscribe("Polka", 1)
	require.NoError(t, bus.Unsubscribe(sub))
	assert.Equal(t, eventbus.ErrUnsubscribed, sub.Err())

	err := bus.Unsubscribe(sub)
	assert.Equal(t, eventbus.ErrSubscriptionNotFound, err)

	require.NoError(t, bus.Publish("Polka", "ignored"))
	select {
	case msg := <-sub.Out():
		t.Fatalf("unexpected message: %v", msg.Data())
	default:
	}
}

func TestBusStopCancelsSubscriptions(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := eventbus.NewBus(log.NewTestingLogger(t))
	require.NoError(t, bus.Start(ctx))

	sub := bus.Subscribe("NewBlock", 1)
	require.NoError(t, bus.Stop())

	select {
	case <-sub.Canceled():
	case <-time.After(time.Second):
		t.Fatal("expected subscription to be canceled on stop")
	}
	assert.NoError(t, sub.Err())
	assert.Equal(t, eventbus.ErrBusStopped, bus.Publish("NewBlock", "late"))
}
