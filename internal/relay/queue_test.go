package relay

import "testing"

func TestQueueFIFOAndDrain(t *testing.T) {
	t.Parallel()

	q := NewFailureQueue()
	m := &Message{Text: "hi"}
	q.Enqueue(-1, m)
	q.Enqueue(2, m)
	q.Enqueue(1, m)

	batch := q.DrainSnapshot()
	if len(batch) != 3 || q.Len() != 0 {
		t.Fatalf("drained %d, left %d", len(batch), q.Len())
	}
	want := []DestinationID{1, 2, 1}
	for i, p := range batch {
		if p.Destination != want[i] || p.Retries != 0 || p.Message != m {
			t.Fatalf("entry %d = %+v", i, p)
		}
	}
}

func TestQueueRequeueIncrementsRetries(t *testing.T) {
	t.Parallel()

	q := NewFailureQueue()
	q.Enqueue(9, &Message{})
	var last uint
	for i := 0; i < 3; i++ {
		batch := q.DrainSnapshot()
		if len(batch) != 1 {
			t.Fatalf("pass %d drained %d", i, len(batch))
		}
		if batch[0].Retries < last {
			t.Fatalf("retries decreased: %d -> %d", last, batch[0].Retries)
		}
		last = batch[0].Retries
		if !q.Requeue(batch[0]) {
			t.Fatalf("Requeue refused")
		}
	}
	if got := q.Snapshot()[0].Retries; got != 3 {
		t.Fatalf("retries=%d want 3", got)
	}
}

func TestQueuePurge(t *testing.T) {
	t.Parallel()

	q := NewFailureQueue()
	q.Enqueue(1, &Message{})
	q.Enqueue(2, &Message{})
	q.Enqueue(1, &Message{})

	if n := q.Purge(-1); n != 2 {
		t.Fatalf("Purge removed %d want 2", n)
	}
	for _, p := range q.Snapshot() {
		if p.Destination == 1 {
			t.Fatalf("entry for purged destination survived")
		}
	}
	if q.Len() != 1 {
		t.Fatalf("Len()=%d", q.Len())
	}
}

func TestQueueRejectsWritesAfterPurge(t *testing.T) {
	t.Parallel()

	q := NewFailureQueue()
	m := &Message{}

	before := q.Epoch()
	q.Purge(5)
	if q.EnqueueSince(before, 5, m, "b1") {
		t.Fatalf("enqueue with pre-purge epoch should be refused")
	}
	if !q.EnqueueSince(q.Epoch(), 5, m, "b2") {
		t.Fatalf("enqueue after re-snapshot should be accepted")
	}

	batch := q.DrainSnapshot()
	q.Purge(5)
	if q.Requeue(batch[0]) {
		t.Fatalf("requeue of drained entry purged mid-pass should be refused")
	}
	if q.Len() != 0 {
		t.Fatalf("Len()=%d", q.Len())
	}

	// Other destinations are unaffected.
	q.Enqueue(6, m)
	batch = q.DrainSnapshot()
	q.Purge(5)
	if !q.Requeue(batch[0]) {
		t.Fatalf("requeue for unrelated destination refused")
	}
}

func TestQueuePrunesPurgeMarks(t *testing.T) {
	t.Parallel()

	q := NewFailureQueue()
	for _, d := range []DestinationID{1, 2, 3} {
		q.Purge(d)
	}
	q.DrainSnapshot()
	q.DrainSnapshot()
	if n := len(q.purgedAt); n != 0 {
		t.Fatalf("purge marks after idle drains=%d want 0", n)
	}
}

func TestQueueKeepsMarksWhileHeld(t *testing.T) {
	t.Parallel()

	q := NewFailureQueue()
	m := &Message{}
	epoch, release := q.Hold()
	q.Purge(9)
	q.DrainSnapshot()
	q.DrainSnapshot()
	if q.EnqueueSince(epoch, 9, m, "b1") {
		t.Fatalf("held broadcast could re-add a purged destination")
	}

	release()
	release()
	q.DrainSnapshot()
	if n := len(q.purgedAt); n != 0 {
		t.Fatalf("purge marks after release=%d want 0", n)
	}
	if n := len(q.holds); n != 0 {
		t.Fatalf("holds after release=%d want 0", n)
	}
}
