package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(1)
	defer unsubA()
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TypeAuthDenied})
	b.Publish(Event{Type: TypeAbandoned})

	if e := <-a; e.Type != TypeAuthDenied || e.Time.IsZero() {
		t.Fatalf("a got %+v", e)
	}
	select {
	case e := <-a:
		t.Fatalf("a should have dropped the second event, got %+v", e)
	default:
	}
	if got := b.Dropped(); got != 1 {
		t.Fatalf("Dropped()=%d want 1", got)
	}
	if len(c) != 2 {
		t.Fatalf("c buffered %d events want 2", len(c))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
	b.Publish(Event{Type: TypeBroadcast})
}

func TestCounter(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(16)
	c := NewCounter()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, ch)
		close(done)
	}()

	b.Publish(Event{Type: TypeRegistryAdded, Data: int64(7)})
	b.Publish(Event{Type: TypeRegistryAdded, Data: int64(8)})
	b.Publish(Event{Type: TypeRegistryRemoved})

	deadline := time.Now().Add(2 * time.Second)
	for c.Counts()[TypeRegistryRemoved] != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("counter did not observe events: %v", c.Counts())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := c.Counts()[TypeRegistryAdded]; got != 2 {
		t.Fatalf("added=%d want 2", got)
	}
	if e, ok := c.Last(TypeRegistryAdded); !ok || e.Data.(int64) != 8 {
		t.Fatalf("Last()=%+v ok=%v", e, ok)
	}
	cancel()
	<-done
	unsub()
}
