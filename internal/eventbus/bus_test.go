package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tokenpulse/internal/domain/models"
)

func TestBus_EventOrderPerSubscriber(t *testing.T) {
	b := New(nil)
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish(models.NewScrapeStopped(0))
	b.Publish(models.NewScrapeLog("aggregate", "grouping posts"))
	b.Publish(models.NewCoinsUpdated(3))

	first := <-ch
	second := <-ch
	third := <-ch

	require.Equal(t, models.EventScrapeStopped, first.Type)
	require.Equal(t, models.EventScrapeLog, second.Type)
	require.Equal(t, models.EventCoinsUpdated, third.Type)
}

func TestBus_DropsOldestWhenSubscriberBufferFull(t *testing.T) {
	b := New(nil)
	b.bufSize = 2
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	// Manually re-subscribe with the small buffer size in effect.
	b.mu.Lock()
	for _, sub := range b.subs {
		sub.ch = make(chan models.Event, 2)
		ch = sub.ch
	}
	b.mu.Unlock()

	b.Publish(models.NewCoinsUpdated(1))
	b.Publish(models.NewCoinsUpdated(2))
	b.Publish(models.NewCoinsUpdated(3)) // forces a drop + marker

	events := drain(ch, 2)
	require.Len(t, events, 2)

	sawDroppedMarker := false
	for _, e := range events {
		if e.Type == models.EventDroppedEvents {
			sawDroppedMarker = true
		}
	}
	require.True(t, sawDroppedMarker)
}

func TestBus_IndependentSubscribers(t *testing.T) {
	b := New(nil)
	chA, unsubA := b.Subscribe()
	defer unsubA()
	chB, unsubB := b.Subscribe()
	defer unsubB()

	b.Publish(models.NewCoinsUpdated(5))

	a := <-chA
	bb := <-chB
	require.Equal(t, models.EventCoinsUpdated, a.Type)
	require.Equal(t, models.EventCoinsUpdated, bb.Type)
}

func drain(ch <-chan models.Event, n int) []models.Event {
	out := make([]models.Event, 0, n)
	for i := 0; i < n; i++ {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
	return out
}
