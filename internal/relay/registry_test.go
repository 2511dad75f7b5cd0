package relay

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"relaybot/internal/storage"
	"relaybot/pkg/logx"
)

func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()

	for _, id := range []int64{0, 1, -1, 1001234567890, -1001234567890, math.MaxInt64, math.MinInt64, math.MinInt64 + 1} {
		once := Normalize(id)
		if once < 0 {
			t.Fatalf("Normalize(%d)=%d is negative", id, once)
		}
		if twice := Normalize(int64(once)); twice != once {
			t.Fatalf("Normalize not idempotent for %d: %d vs %d", id, once, twice)
		}
	}
	if got := Normalize(math.MinInt64); got != math.MaxInt64 {
		t.Fatalf("Normalize(MinInt64)=%d", got)
	}

	f := newFixture()
	f.reg.Add(context.Background(), math.MinInt64)
	for _, id := range f.reg.List() {
		if id < 0 {
			t.Fatalf("registry stored negative id %d", id)
		}
	}
}

func TestRegistryLoadNormalizesAndDedups(t *testing.T) {
	t.Parallel()

	f := newFixture(-100, 100, 200, -300)
	if got := f.reg.List(); !slices.Equal(got, []DestinationID{100, 200, 300}) {
		t.Fatalf("List()=%v", got)
	}
	if !f.reg.Contains(-200) {
		t.Fatalf("Contains should normalize its argument")
	}
}

func TestRegistryAddRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()
	saves := f.store.Saves()

	if !f.reg.Add(ctx, -42) {
		t.Fatalf("first Add should report new")
	}
	if f.reg.Add(ctx, 42) {
		t.Fatalf("Add of sign-flipped id should be a no-op")
	}
	if got := f.store.Saves() - saves; got != 1 {
		t.Fatalf("saves after adds=%d want 1", got)
	}
	if f.reg.Remove(ctx, 7) {
		t.Fatalf("Remove of absent id should report false")
	}
	if !f.reg.Remove(ctx, -42) {
		t.Fatalf("Remove should report present")
	}
	if f.reg.Len() != 0 {
		t.Fatalf("Len()=%d", f.reg.Len())
	}
	if got := len(f.bus.ofType("registry.added")); got != 1 {
		t.Fatalf("added events=%d", got)
	}
}

func TestRegistryRoundTripThroughFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bot_groups.json")
	open := func() *Registry {
		st, err := storage.Open(ctx, storage.Config{Driver: "file", Path: path}, logx.Nop())
		if err != nil {
			t.Fatal(err)
		}
		r := NewRegistry(st, logx.Nop())
		if err := r.Load(ctx); err != nil {
			t.Fatalf("Load: %v", err)
		}
		return r
	}

	r1 := open()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("missing store should be created: %v", err)
	}
	r1.Add(ctx, 100)
	r1.Add(ctx, -200)
	r1.Add(ctx, 300)
	r1.Remove(ctx, 300)

	r2 := open()
	if !slices.Equal(r2.List(), r1.List()) {
		t.Fatalf("reloaded=%v want %v", r2.List(), r1.List())
	}
}

func TestRegistryCorruptPolicy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	write := func(t *testing.T) (string, storage.Store) {
		dir := t.TempDir()
		path := filepath.Join(dir, "bot_groups.json")
		if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
			t.Fatal(err)
		}
		st, err := storage.Open(ctx, storage.Config{Path: path}, logx.Nop())
		if err != nil {
			t.Fatal(err)
		}
		return dir, st
	}

	t.Run("fail", func(t *testing.T) {
		t.Parallel()
		_, st := write(t)
		err := NewRegistry(st, logx.Nop()).Load(ctx)
		if !errors.Is(err, ErrStoreUnreadable) || !errors.Is(err, storage.ErrCorrupt) {
			t.Fatalf("Load()=%v", err)
		}
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		dir, st := write(t)
		r := NewRegistry(st, logx.Nop(), WithCorruptPolicy(CorruptEmpty))
		if err := r.Load(ctx); err != nil {
			t.Fatalf("Load()=%v", err)
		}
		if r.Len() != 0 {
			t.Fatalf("Len()=%d", r.Len())
		}
		entries, _ := os.ReadDir(dir)
		found := false
		for _, e := range entries {
			if strings.Contains(e.Name(), ".corrupt-") {
				found = true
			}
		}
		if !found {
			t.Fatalf("corrupt file should be kept aside, dir=%v", entries)
		}
	})
}

func TestRegistrySaveFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := storage.NewMemory()
	_ = mem.SaveDestinations(ctx, []int64{1})
	r := NewRegistry(failingStore{Store: mem}, logx.Nop())
	if err := r.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if !r.Add(ctx, 2) {
		t.Fatalf("Add should succeed in memory despite save failure")
	}
	if !r.Contains(2) {
		t.Fatalf("in-memory mutation should stand")
	}
}

func TestRegistryClear(t *testing.T) {
	t.Parallel()

	f := newFixture(5, 6)
	removed := f.reg.Clear(context.Background())
	if !slices.Equal(removed, []DestinationID{5, 6}) {
		t.Fatalf("Clear()=%v", removed)
	}
	got, err := f.store.LoadDestinations(context.Background())
	if err != nil || len(got) != 0 {
		t.Fatalf("store after clear=%v err=%v", got, err)
	}
}
