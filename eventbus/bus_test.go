package eventbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	authsync "github.com/goliatone/go-authsync"
	"github.com/goliatone/go-authsync/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type quietLogger struct{}

func (quietLogger) Debug(string, ...any) {}
func (quietLogger) Info(string, ...any)  {}
func (quietLogger) Warn(string, ...any)  {}
func (quietLogger) Error(string, ...any) {}

func newBus() *eventbus.Bus {
	return eventbus.New(eventbus.WithLogger(quietLogger{}))
}

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := newBus()
	var got []string

	bus.Subscribe(func(_ context.Context, e authsync.Event) { got = append(got, "a:"+string(e.Type)) })
	bus.Subscribe(func(_ context.Context, e authsync.Event) { got = append(got, "b:"+string(e.Type)) })

	require.NoError(t, bus.Publish(context.Background(), authsync.Event{Type: authsync.EventLogout}))
	assert.Equal(t, []string{"a:auth.logout", "b:auth.logout"}, got)
}

func TestBusTopicFilter(t *testing.T) {
	bus := newBus()
	var got []authsync.EventType

	bus.Subscribe(func(_ context.Context, e authsync.Event) {
		got = append(got, e.Type)
	}, authsync.EventLogout, authsync.EventError)

	ctx := context.Background()
	_ = bus.Publish(ctx, authsync.Event{Type: authsync.EventLoginSuccess})
	_ = bus.Publish(ctx, authsync.Event{Type: authsync.EventLogout})
	_ = bus.Publish(ctx, authsync.Event{Type: authsync.EventError})

	assert.Equal(t, []authsync.EventType{authsync.EventLogout, authsync.EventError}, got)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := newBus()
	calls := 0
	sub := bus.Subscribe(func(context.Context, authsync.Event) { calls++ })

	_ = bus.Publish(context.Background(), authsync.Event{Type: authsync.EventLogout})
	sub.Unsubscribe()
	sub.Unsubscribe()
	_ = bus.Publish(context.Background(), authsync.Event{Type: authsync.EventLogout})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.Len())
	assert.NotEmpty(t, sub.ID())
}

func TestBusUnsubscribeDuringPublish(t *testing.T) {
	bus := newBus()
	var second int
	var first *eventbus.Subscription
	first = bus.Subscribe(func(context.Context, authsync.Event) { first.Unsubscribe() })
	bus.Subscribe(func(context.Context, authsync.Event) { second++ })

	_ = bus.Publish(context.Background(), authsync.Event{Type: authsync.EventLogout})
	_ = bus.Publish(context.Background(), authsync.Event{Type: authsync.EventLogout})

	assert.Equal(t, 2, second)
	assert.Equal(t, 1, bus.Len())
}

func TestBusRecoversHandlerPanic(t *testing.T) {
	bus := newBus()
	delivered := false
	bus.Subscribe(func(context.Context, authsync.Event) { panic("boom") })
	bus.Subscribe(func(context.Context, authsync.Event) { delivered = true })

	err := bus.Publish(context.Background(), authsync.Event{Type: authsync.EventError})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.True(t, delivered)
}

func TestBusChannelSubscription(t *testing.T) {
	bus := newBus()
	sub := bus.SubscribeChan(1, authsync.EventStatusChanged)

	ctx := context.Background()
	_ = bus.Publish(ctx, authsync.Event{Type: authsync.EventStatusChanged, To: authsync.StatusChecking})
	// buffer full, dropped
	_ = bus.Publish(ctx, authsync.Event{Type: authsync.EventStatusChanged, To: authsync.StatusAuthenticated})

	evt := <-sub.C()
	assert.Equal(t, authsync.StatusChecking, evt.To)

	sub.Unsubscribe()
	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestBusChannelWaitsForRoomForLogout(t *testing.T) {
	bus := newBus()
	sub := bus.SubscribeChan(1)
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, authsync.Event{Type: authsync.EventStatusChanged}))

	published := make(chan struct{})
	go func() {
		_ = bus.Publish(ctx, authsync.Event{Type: authsync.EventLogout, Reason: authsync.ReasonSessionExpired})
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("logout publish returned while the buffer was full")
	case <-time.After(50 * time.Millisecond):
	}

	first := <-sub.C()
	assert.Equal(t, authsync.EventStatusChanged, first.Type)
	<-published
	second := <-sub.C()
	assert.Equal(t, authsync.EventLogout, second.Type)
	assert.Equal(t, authsync.ReasonSessionExpired, second.Reason)
}

func TestBusChannelLogoutGivesUpOnContext(t *testing.T) {
	bus := newBus()
	sub := bus.SubscribeChan(1)
	require.NoError(t, bus.Publish(context.Background(), authsync.Event{Type: authsync.EventLoginSuccess}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, bus.Publish(ctx, authsync.Event{Type: authsync.EventLogout}))

	evt := <-sub.C()
	assert.Equal(t, authsync.EventLoginSuccess, evt.Type)
	assert.Empty(t, sub.C())
}

func TestBusUnsubscribeReleasesBlockedPublisher(t *testing.T) {
	bus := newBus()
	sub := bus.SubscribeChan(1)
	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, authsync.Event{Type: authsync.EventStatusChanged}))

	published := make(chan struct{})
	go func() {
		_ = bus.Publish(ctx, authsync.Event{Type: authsync.EventLogout})
		close(published)
	}()
	time.Sleep(20 * time.Millisecond)

	sub.Unsubscribe()
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publisher still blocked after unsubscribe")
	}
	assert.Equal(t, 0, bus.Len())
}

func TestBusClose(t *testing.T) {
	bus := newBus()
	sub := bus.SubscribeChan(4)
	calls := 0
	bus.Subscribe(func(context.Context, authsync.Event) { calls++ })

	bus.Close()
	require.NoError(t, bus.Publish(context.Background(), authsync.Event{Type: authsync.EventLogout}))

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, calls)

	late := bus.SubscribeChan(1)
	_, ok = <-late.C()
	assert.False(t, ok)
}

func TestBusConcurrentPublish(t *testing.T) {
	bus := newBus()
	var mu sync.Mutex
	count := 0
	bus.Subscribe(func(context.Context, authsync.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = bus.Publish(context.Background(), authsync.Event{Type: authsync.EventStatusChanged})
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, count)
}

func TestBusIsPublisher(t *testing.T) {
	var _ authsync.Publisher = newBus()
}
