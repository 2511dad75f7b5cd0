package relay

import (
	"context"
	"errors"
	"sync"

	"relaybot/internal/eventbus"
	"relaybot/internal/storage"
	"relaybot/pkg/logx"
)

var errSend = errors.New("send failed")

// fakeSender fails for destinations in fail and records every attempt.
type fakeSender struct {
	mu    sync.Mutex
	fail  map[DestinationID]bool
	calls []DestinationID
	hook  func(dest DestinationID)
}

func newFakeSender(failing ...DestinationID) *fakeSender {
	f := &fakeSender{fail: map[DestinationID]bool{}}
	for _, d := range failing {
		f.fail[d] = true
	}
	return f
}

func (f *fakeSender) Deliver(_ context.Context, dest DestinationID, _ *Message) error {
	f.mu.Lock()
	f.calls = append(f.calls, dest)
	failing := f.fail[dest]
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(dest)
	}
	if failing {
		return errSend
	}
	return nil
}

func (f *fakeSender) setFailing(dest DestinationID, failing bool) {
	f.mu.Lock()
	f.fail[dest] = failing
	f.mu.Unlock()
}

func (f *fakeSender) attempts(dest DestinationID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.calls {
		if d == dest {
			n++
		}
	}
	return n
}

type recordingBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *recordingBus) Publish(e eventbus.Event) {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
}

func (b *recordingBus) ofType(typ string) []eventbus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []eventbus.Event
	for _, e := range b.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// failingStore fails every save.
type failingStore struct{ storage.Store }

func (failingStore) SaveDestinations(context.Context, []int64) error {
	return errors.New("disk full")
}

type fixture struct {
	reg    *Registry
	queue  *FailureQueue
	sender *fakeSender
	bus    *recordingBus
	store  *storage.Memory
}

func newFixture(ids ...int64) *fixture {
	store := storage.NewMemory()
	if len(ids) > 0 {
		_ = store.SaveDestinations(context.Background(), ids)
	}
	bus := &recordingBus{}
	reg := NewRegistry(store, logx.Nop(), WithRegistryEvents(bus))
	if err := reg.Load(context.Background()); err != nil {
		panic(err)
	}
	return &fixture{reg: reg, queue: NewFailureQueue(), sender: newFakeSender(), bus: bus, store: store}
}

func (f *fixture) engine() *Engine {
	return NewEngine(f.reg, f.queue, f.sender, EngineConfig{}, logx.Nop(), f.bus)
}

func (f *fixture) retry(maxRetries uint) *RetryScheduler {
	return NewRetryScheduler(f.reg, f.queue, f.sender, RetryConfig{MaxRetries: maxRetries}, logx.Nop(), f.bus)
}
