package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"relaybot/internal/relay"
	"relaybot/internal/storage"
	"relaybot/pkg/logx"
)

type fixedCounts map[string]uint64

func (f fixedCounts) Counts() map[string]uint64 { return f }

func newSource(t *testing.T) Source {
	t.Helper()
	reg := relay.NewRegistry(storage.NewMemory(), logx.Nop())
	ctx := context.Background()
	reg.Add(ctx, 300)
	reg.Add(ctx, 100)
	q := relay.NewFailureQueue()
	q.Enqueue(300, &relay.Message{Text: "pending post"})
	return Source{
		Version:   "v1",
		StartedAt: time.Now().Add(-time.Minute),
		Registry:  reg,
		Queue:     q,
		Events:    fixedCounts{"relay.broadcast": 2},
		Breaker:   func() string { return "closed" },
	}
}

func get(t *testing.T, h http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzIsOpen(t *testing.T) {
	t.Parallel()
	h := Handler(Config{Token: "secret"}, newSource(t), logx.Nop())
	rec := get(t, h, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz=%d %q", rec.Code, rec.Body.String())
	}
}

func TestTokenRequired(t *testing.T) {
	t.Parallel()
	h := Handler(Config{Token: "secret"}, newSource(t), logx.Nop())

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"missing", "/v1/destinations", "", http.StatusUnauthorized},
		{"wrong", "/v1/destinations", "nope", http.StatusUnauthorized},
		{"bearer", "/v1/destinations", "secret", http.StatusOK},
		{"query", "/v1/destinations?token=secret", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := get(t, h, tt.path, tt.token); rec.Code != tt.want {
				t.Fatalf("status=%d want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestDestinationsAndPending(t *testing.T) {
	t.Parallel()
	h := Handler(Config{}, newSource(t), logx.Nop())

	var dests struct {
		Count        int     `json:"count"`
		Destinations []int64 `json:"destinations"`
	}
	rec := get(t, h, "/v1/destinations", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &dests); err != nil {
		t.Fatalf("decode: %v body=%s", err, rec.Body.String())
	}
	if dests.Count != 2 || dests.Destinations[0] != 100 || dests.Destinations[1] != 300 {
		t.Fatalf("destinations=%+v", dests)
	}

	var pending struct {
		Count   int           `json:"count"`
		Pending []pendingItem `json:"pending"`
	}
	rec = get(t, h, "/v1/pending", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &pending); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pending.Count != 1 || pending.Pending[0].Destination != 300 || pending.Pending[0].Preview != "pending post" {
		t.Fatalf("pending=%+v", pending)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	h := Handler(Config{}, newSource(t), logx.Nop())

	var st stats
	rec := get(t, h, "/v1/stats", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Version != "v1" || st.Destinations != 2 || st.Pending != 1 || st.Breaker != "closed" || st.Events["relay.broadcast"] != 2 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestRetryWithoutScheduler(t *testing.T) {
	t.Parallel()
	h := Handler(Config{}, newSource(t), logx.Nop())
	req := httptest.NewRequest(http.MethodPost, "/v1/retry", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestPprofOnlyWhenEnabled(t *testing.T) {
	t.Parallel()
	off := Handler(Config{}, newSource(t), logx.Nop())
	if rec := get(t, off, "/debug/pprof/", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled status=%d", rec.Code)
	}
	on := Handler(Config{Pprof: true}, newSource(t), logx.Nop())
	if rec := get(t, on, "/debug/pprof/", ""); rec.Code != http.StatusOK {
		t.Fatalf("pprof enabled status=%d", rec.Code)
	}
}

func TestServiceLifecycle(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, newSource(t), logx.Nop())
	ctx := context.Background()
	s.Start(ctx)

	var addr string
	deadline := time.Now().Add(3 * time.Second)
	for addr == "" {
		if time.Now().After(deadline) {
			t.Fatalf("server did not start")
		}
		time.Sleep(10 * time.Millisecond)
		addr = s.Addr()
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	s.Stop(stopCtx)
	if s.Supervisor() != nil || s.Addr() != "" {
		t.Fatalf("service still running after Stop")
	}
}

func TestLoopbackCheck(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:6061": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		"0.0.0.0:6061":   false,
		":6061":          false,
		"bogus":          false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q)=%v", addr, got)
		}
	}
	if !strings.Contains(defaultAddr, "127.0.0.1") {
		t.Fatalf("default addr must be loopback")
	}
}
