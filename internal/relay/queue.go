package relay

import (
	"slices"
	"sync"
	"time"
)

// PendingDelivery is one failed (destination, message) pair awaiting retry.
type PendingDelivery struct {
	Destination DestinationID
	Message     *Message
	Retries     uint
	BroadcastID string
	EnqueuedAt  time.Time

	// epoch is the purge epoch observed when the entry was drained.
	epoch uint64
}

// FailureQueue is a FIFO of pending deliveries.
//
// Purge bumps an epoch and remembers it per destination. Writers that took
// their view of the registry before a purge pass the epoch they saw, and are
// refused if the destination was purged since. This keeps a removal from
// being undone by a send that was already in flight.
//
// Purge marks are dropped on DrainSnapshot once no holder (see Hold) and no
// earlier drained batch can still carry an epoch below them. A drained batch
// must be requeued before the next drain.
type FailureQueue struct {
	mu        sync.Mutex
	items     []PendingDelivery
	epoch     uint64
	purgedAt  map[DestinationID]uint64
	holds     map[uint64]int
	lastDrain uint64
}

func NewFailureQueue() *FailureQueue {
	return &FailureQueue{purgedAt: map[DestinationID]uint64{}, holds: map[uint64]int{}}
}

// Hold returns the current epoch and keeps purge marks newer than it alive
// until release is called. Broadcasts hold the epoch they snapshot the
// registry under.
func (q *FailureQueue) Hold() (epoch uint64, release func()) {
	q.mu.Lock()
	epoch = q.epoch
	q.holds[epoch]++
	q.mu.Unlock()

	var once sync.Once
	return epoch, func() {
		once.Do(func() {
			q.mu.Lock()
			if q.holds[epoch]--; q.holds[epoch] <= 0 {
				delete(q.holds, epoch)
			}
			q.mu.Unlock()
		})
	}
}

// Epoch returns the current purge epoch.
func (q *FailureQueue) Epoch() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.epoch
}

// Enqueue appends an entry with zero retries.
func (q *FailureQueue) Enqueue(dest DestinationID, msg *Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.appendLocked(PendingDelivery{Destination: Normalize(int64(dest)), Message: msg})
}

// EnqueueSince appends an entry with zero retries unless dest was purged
// after epoch.
func (q *FailureQueue) EnqueueSince(epoch uint64, dest DestinationID, msg *Message, broadcastID string) bool {
	dest = Normalize(int64(dest))
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.purgedAfterLocked(dest, epoch) {
		return false
	}
	q.appendLocked(PendingDelivery{Destination: dest, Message: msg, BroadcastID: broadcastID})
	return true
}

// DrainSnapshot removes and returns every entry in FIFO order.
func (q *FailureQueue) DrainSnapshot() []PendingDelivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	for i := range out {
		out[i].epoch = q.epoch
	}
	q.pruneLocked()
	q.lastDrain = q.epoch
	return out
}

// pruneLocked drops purge marks that no pending writer can be refused by.
func (q *FailureQueue) pruneLocked() {
	floor := q.lastDrain
	for e := range q.holds {
		floor = min(floor, e)
	}
	for dest, at := range q.purgedAt {
		if at <= floor {
			delete(q.purgedAt, dest)
		}
	}
}

// Requeue appends p with one more retry. It refuses entries whose
// destination was purged after they were drained.
func (q *FailureQueue) Requeue(p PendingDelivery) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.purgedAfterLocked(p.Destination, p.epoch) {
		return false
	}
	p.Retries++
	q.appendLocked(p)
	return true
}

// Purge removes every entry for dest and returns how many were removed.
func (q *FailureQueue) Purge(dest DestinationID) int {
	dest = Normalize(int64(dest))
	q.mu.Lock()
	defer q.mu.Unlock()
	q.epoch++
	q.purgedAt[dest] = q.epoch
	before := len(q.items)
	q.items = slices.DeleteFunc(q.items, func(p PendingDelivery) bool { return p.Destination == dest })
	return before - len(q.items)
}

func (q *FailureQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queue without draining it.
func (q *FailureQueue) Snapshot() []PendingDelivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

func (q *FailureQueue) appendLocked(p PendingDelivery) {
	if p.EnqueuedAt.IsZero() {
		p.EnqueuedAt = time.Now()
	}
	q.items = append(q.items, p)
}

func (q *FailureQueue) purgedAfterLocked(dest DestinationID, epoch uint64) bool {
	at, ok := q.purgedAt[dest]
	return ok && at > epoch
}
