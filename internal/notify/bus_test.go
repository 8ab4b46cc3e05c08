package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euforicio/mdview/internal/notify"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := notify.NewBus(ctx, nil)
	ch := bus.Subscribe(ctx)

	bus.Notice(notify.KindNotFound, notify.LevelWarning, "missing.md was not found", map[string]string{"path": "missing.md"})

	select {
	case evt := <-ch:
		assert.Equal(t, notify.KindNotFound, evt.Kind)
		assert.Equal(t, notify.LevelWarning, evt.Level)
		assert.Equal(t, "missing.md", evt.Context["path"])
		assert.False(t, evt.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusClosesChannelOnCancel(t *testing.T) {
	t.Parallel()

	busCtx, cancelBus := context.WithCancel(context.Background())
	defer cancelBus()
	bus := notify.NewBus(busCtx, nil)

	subCtx, cancelSub := context.WithCancel(context.Background())
	ch := bus.Subscribe(subCtx)
	require.Equal(t, 1, bus.Subscribers())

	cancelSub()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "expected closed channel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	assert.Eventually(t, func() bool { return bus.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
}

func TestBusDropsForLaggingSubscriber(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := notify.NewBus(ctx, nil)
	ch := bus.Subscribe(ctx)

	for range 100 {
		bus.Publish(notify.Event{Kind: notify.KindPreview})
	}
	assert.LessOrEqual(t, len(ch), cap(ch))
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	var rec notify.Recorder
	rec.Publish(notify.Event{Kind: notify.KindNoFolder})
	rec.Publish(notify.Event{Kind: notify.KindNoFile})
	assert.Equal(t, []notify.Kind{notify.KindNoFolder, notify.KindNoFile}, rec.Kinds())
	assert.Len(t, rec.Events(), 2)
}
