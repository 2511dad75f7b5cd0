package relay

import (
	"context"
	"sync"
	"testing"

	"relaybot/pkg/logx"
)

func TestBroadcastIsolatesFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(100, 200)
	f.sender.setFailing(200, true)
	msg := &Message{Text: "hello"}

	rep := f.engine().Broadcast(context.Background(), msg)
	if rep.Destinations != 2 || rep.Delivered != 1 || rep.Failed != 1 || rep.Enqueued != 1 {
		t.Fatalf("report=%+v", rep)
	}
	if f.sender.attempts(100) != 1 || f.sender.attempts(200) != 1 {
		t.Fatalf("each destination should be attempted once: %v", f.sender.calls)
	}

	pending := f.queue.Snapshot()
	if len(pending) != 1 {
		t.Fatalf("queue=%+v", pending)
	}
	p := pending[0]
	if p.Destination != 200 || p.Message != msg || p.Retries != 0 || p.BroadcastID != rep.ID {
		t.Fatalf("pending=%+v", p)
	}
	if len(f.bus.ofType("relay.delivery_failed")) != 1 || len(f.bus.ofType("relay.broadcast")) != 1 {
		t.Fatalf("unexpected events: %+v", f.bus.events)
	}
}

func TestBroadcastSkipsCommands(t *testing.T) {
	t.Parallel()

	f := newFixture(100)
	rep := f.engine().Broadcast(context.Background(), &Message{Text: "/listgroups"})
	if !rep.Skipped {
		t.Fatalf("command post should be skipped")
	}
	if len(f.sender.calls) != 0 {
		t.Fatalf("no sends expected, got %v", f.sender.calls)
	}
}

func TestBroadcastCustomPrefixAndMediaOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(100)
	e := f.engine()
	e.Apply(EngineConfig{CommandPrefix: "!", Concurrency: 1})

	if rep := e.Broadcast(context.Background(), &Message{Text: "/not a command here"}); rep.Skipped {
		t.Fatalf("slash post should be relayed with a custom prefix")
	}
	if rep := e.Broadcast(context.Background(), &Message{Media: &Media{Kind: MediaPhoto, FileID: "x"}}); rep.Skipped || rep.Delivered != 1 {
		t.Fatalf("media-only post: %+v", rep)
	}
}

func TestBroadcastEmptyRegistry(t *testing.T) {
	t.Parallel()

	f := newFixture()
	rep := f.engine().Broadcast(context.Background(), &Message{Text: "x"})
	if rep.Destinations != 0 || rep.Skipped {
		t.Fatalf("report=%+v", rep)
	}
}

// A destination removed while its send is in flight must not be queued.
func TestBroadcastRemovalDuringSend(t *testing.T) {
	t.Parallel()

	f := newFixture(400)
	f.sender.setFailing(400, true)
	tracker := NewTracker(f.reg, f.queue, logx.Nop())

	var once sync.Once
	f.sender.hook = func(dest DestinationID) {
		once.Do(func() {
			tracker.Handle(context.Background(), MembershipChange{ActorIsBot: true, Destination: dest})
		})
	}

	rep := f.engine().Broadcast(context.Background(), &Message{Text: "x"})
	if rep.Failed != 1 || rep.Enqueued != 0 {
		t.Fatalf("report=%+v", rep)
	}
	if f.queue.Len() != 0 {
		t.Fatalf("queue should stay empty, got %+v", f.queue.Snapshot())
	}
}
