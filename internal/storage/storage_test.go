package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"relaybot/pkg/logx"
)

func TestStoresRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		driver string
		file   string
	}{
		{name: "file", driver: "file", file: "groups.json"},
		{name: "sqlite", driver: "sqlite", file: "relay.db"},
		{name: "memory", driver: "memory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			cfg := Config{Driver: tt.driver}
			if tt.file != "" {
				cfg.Path = filepath.Join(t.TempDir(), "nested", tt.file)
			}
			st, err := Open(ctx, cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer st.Close()

			if _, err := st.LoadDestinations(ctx); !errors.Is(err, ErrNotFound) {
				t.Fatalf("first load err=%v want ErrNotFound", err)
			}

			if err := st.SaveDestinations(ctx, []int64{200, 100}); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, err := st.LoadDestinations(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			slices.Sort(got)
			if !slices.Equal(got, []int64{100, 200}) {
				t.Fatalf("load=%v", got)
			}

			// Saving an empty set keeps the store "found".
			if err := st.SaveDestinations(ctx, nil); err != nil {
				t.Fatalf("save empty: %v", err)
			}
			got, err = st.LoadDestinations(ctx)
			if err != nil || len(got) != 0 {
				t.Fatalf("load after empty save=%v err=%v", got, err)
			}
		})
	}
}

func TestFileStoreWritesPlainJSONArray(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bot_groups.json")
	st, err := Open(context.Background(), Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SaveDestinations(context.Background(), []int64{1001, 42}); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "[1001,42]" {
		t.Fatalf("file content=%q", b)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestFileStoreCorruptAndQuarantine(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "bot_groups.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := Open(ctx, Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.LoadDestinations(ctx); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err=%v want ErrCorrupt", err)
	}

	q, ok := st.(Quarantiner)
	if !ok {
		t.Fatalf("file store should implement Quarantiner")
	}
	moved, err := q.Quarantine(ctx)
	if err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(moved), "bot_groups.json.corrupt-") {
		t.Fatalf("moved to %q", moved)
	}
	if b, err := os.ReadFile(moved); err != nil || string(b) != "{not json" {
		t.Fatalf("quarantined content=%q err=%v", b, err)
	}
	if _, err := st.LoadDestinations(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after quarantine err=%v want ErrNotFound", err)
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if _, err := Open(ctx, Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver should fail")
	}
	if _, err := Open(ctx, Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatalf("file without path should fail")
	}
	if _, err := Open(ctx, Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatalf("postgres without dsn should fail")
	}
}

func TestClosedFileStore(t *testing.T) {
	t.Parallel()

	st, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "g.json")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	_ = st.Close()
	if err := st.SaveDestinations(context.Background(), []int64{1}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("save after close err=%v", err)
	}
}
