package progressbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesCachedLatestOnJoin(t *testing.T) {
	b := New()
	b.Publish("scan-1", ProgressEvent{ScanID: "scan-1", Status: "crawling", Progress: 10})

	sub := b.Subscribe("scan-1")
	defer sub.Unsubscribe()

	select {
	case ev := <-sub.C:
		require.Equal(t, 10, ev.Progress)
	case <-time.After(time.Second):
		t.Fatal("expected cached latest event on subscribe")
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New()
	a := b.Subscribe("scan-2")
	c := b.Subscribe("scan-2")
	defer a.Unsubscribe()
	defer c.Unsubscribe()

	b.Publish("scan-2", ProgressEvent{ScanID: "scan-2", Progress: 42})

	for _, sub := range []*Subscription{a, c} {
		select {
		case ev := <-sub.C:
			require.Equal(t, 42, ev.Progress)
		case <-time.After(time.Second):
			t.Fatal("expected event on both subscribers")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe("scan-3")
	sub.Unsubscribe()

	_, ok := <-sub.C
	require.False(t, ok)
}

func TestCloseClosesAllSubscribers(t *testing.T) {
	b := New()
	a := b.Subscribe("scan-4")
	c := b.Subscribe("scan-4")

	b.Close("scan-4")

	_, okA := <-a.C
	_, okC := <-c.C
	require.False(t, okA)
	require.False(t, okC)
}

func TestPublishDoesNotBlockOnFullSubscriberBuffer(t *testing.T) {
	b := New()
	sub := b.Subscribe("scan-5")
	defer sub.Unsubscribe()

	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish("scan-5", ProgressEvent{ScanID: "scan-5", Progress: i})
	}
	// Publisher must not have blocked; draining should still see the buffer full.
	require.Len(t, sub.C, subscriberBuffer)
}
