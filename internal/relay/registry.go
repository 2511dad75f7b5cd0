package relay

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"relaybot/internal/eventbus"
	"relaybot/internal/storage"
	"relaybot/pkg/logx"
)

// ErrStoreUnreadable is returned by Registry.Load when the store exists but
// cannot be read and the corrupt policy is CorruptFail.
var ErrStoreUnreadable = errors.New("destination store unreadable")

// CorruptPolicy decides what Load does with an unreadable store.
type CorruptPolicy string

const (
	// CorruptFail refuses to start.
	CorruptFail CorruptPolicy = "fail"
	// CorruptEmpty starts with no destinations. Stores that support it move
	// the unreadable data aside first.
	CorruptEmpty CorruptPolicy = "empty"
)

// Registry is the set of destinations that receive broadcasts. Every
// mutation rewrites the store while the lock is held, so saves land in
// mutation order.
type Registry struct {
	store  storage.Store
	log    logx.Logger
	events Publisher
	policy CorruptPolicy

	mu  sync.RWMutex
	ids map[DestinationID]struct{}
}

type RegistryOption func(*Registry)

func WithRegistryEvents(p Publisher) RegistryOption {
	return func(r *Registry) { r.events = p }
}

func WithCorruptPolicy(p CorruptPolicy) RegistryOption {
	return func(r *Registry) {
		if p != "" {
			r.policy = p
		}
	}
}

func NewRegistry(store storage.Store, log logx.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:  store,
		log:    log.With(logx.String("comp", "relay.registry")),
		policy: CorruptFail,
		ids:    map[DestinationID]struct{}{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Load replaces the in-memory set with the stored one. A store that was
// never written is created empty.
func (r *Registry) Load(ctx context.Context) error {
	raw, err := r.store.LoadDestinations(ctx)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		r.mu.Lock()
		defer r.mu.Unlock()
		r.ids = map[DestinationID]struct{}{}
		if err := r.store.SaveDestinations(ctx, []int64{}); err != nil {
			return fmt.Errorf("create destination store: %w", err)
		}
		r.log.Info("destination store created")
		return nil
	case r.policy == CorruptEmpty:
		r.log.Error("destination store unreadable, starting empty", logx.Err(err))
		if q, ok := r.store.(storage.Quarantiner); ok {
			if _, qerr := q.Quarantine(ctx); qerr != nil {
				r.log.Warn("quarantine failed", logx.Err(qerr))
			}
		}
		raw = nil
	default:
		return fmt.Errorf("%w: %w", ErrStoreUnreadable, err)
	}

	set := make(map[DestinationID]struct{}, len(raw))
	for _, id := range raw {
		set[Normalize(id)] = struct{}{}
	}
	r.mu.Lock()
	r.ids = set
	r.mu.Unlock()
	r.log.Info("destinations loaded", logx.Int("count", len(set)))
	return nil
}

// Add inserts id and reports whether it was new.
func (r *Registry) Add(ctx context.Context, id DestinationID) bool {
	id = Normalize(int64(id))
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; ok {
		return false
	}
	r.ids[id] = struct{}{}
	r.persistLocked(ctx)
	r.log.Info("destination added", logx.Int64("dest", id.Int64()), logx.Int("count", len(r.ids)))
	emit(r.events, eventbus.TypeRegistryAdded, id.Int64())
	return true
}

// Remove deletes id and reports whether it was present.
func (r *Registry) Remove(ctx context.Context, id DestinationID) bool {
	id = Normalize(int64(id))
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; !ok {
		return false
	}
	delete(r.ids, id)
	r.persistLocked(ctx)
	r.log.Info("destination removed", logx.Int64("dest", id.Int64()), logx.Int("count", len(r.ids)))
	emit(r.events, eventbus.TypeRegistryRemoved, id.Int64())
	return true
}

// Clear removes every destination and returns what was removed.
func (r *Registry) Clear(ctx context.Context) []DestinationID {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := r.sortedLocked()
	r.ids = map[DestinationID]struct{}{}
	r.persistLocked(ctx)
	r.log.Info("destinations cleared", logx.Int("removed", len(removed)))
	emit(r.events, eventbus.TypeRegistryCleared, len(removed))
	return removed
}

func (r *Registry) Contains(id DestinationID) bool {
	r.mu.RLock()
	_, ok := r.ids[Normalize(int64(id))]
	r.mu.RUnlock()
	return ok
}

// List returns a sorted snapshot.
func (r *Registry) List() []DestinationID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

func (r *Registry) sortedLocked() []DestinationID {
	out := make([]DestinationID, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// persistLocked writes the whole set. A failed write is logged and the
// in-memory change stands.
func (r *Registry) persistLocked(ctx context.Context) {
	ids := make([]int64, 0, len(r.ids))
	for _, id := range r.sortedLocked() {
		ids = append(ids, id.Int64())
	}
	if err := r.store.SaveDestinations(context.WithoutCancel(ctx), ids); err != nil {
		r.log.Error("saving destinations failed", logx.Err(err), logx.Int("count", len(ids)))
	}
}
