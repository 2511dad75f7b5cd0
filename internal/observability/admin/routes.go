package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"relaybot/internal/relay"
	"relaybot/internal/runtime/supervisor"
	"relaybot/pkg/logx"
)

// Source is what the admin API reads. Nil fields are reported as empty.
type Source struct {
	Version     string
	StartedAt   time.Time
	Registry    *relay.Registry
	Queue       *relay.FailureQueue
	Retry       *relay.RetryScheduler
	Events      interface{ Counts() map[string]uint64 }
	Supervisors *supervisor.Registry
	// Breaker reports the transport's send breaker state.
	Breaker func() string
}

type pendingItem struct {
	Destination int64     `json:"destination"`
	Retries     uint      `json:"retries"`
	BroadcastID string    `json:"broadcast_id,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	Preview     string    `json:"preview,omitempty"`
}

type stats struct {
	Version      string                         `json:"version"`
	Uptime       string                         `json:"uptime"`
	Destinations int                            `json:"destinations"`
	Pending      int                            `json:"pending"`
	Breaker      string                         `json:"breaker,omitempty"`
	Events       map[string]uint64              `json:"events"`
	Supervisors  map[string]supervisor.Counters `json:"supervisors"`
}

// Handler builds the admin router. It is exported for tests and for
// embedding.
func Handler(cfg Config, src Source, log logx.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLog(log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(requireToken(cfg.Token))
		r.Use(middleware.Timeout(30 * time.Second))

		r.Route("/v1", func(r chi.Router) {
			r.Get("/destinations", func(w http.ResponseWriter, _ *http.Request) {
				ids := []relay.DestinationID{}
				if src.Registry != nil {
					ids = src.Registry.List()
				}
				writeJSON(w, http.StatusOK, map[string]any{"count": len(ids), "destinations": ids})
			})
			r.Get("/pending", func(w http.ResponseWriter, _ *http.Request) {
				items := []pendingItem{}
				if src.Queue != nil {
					for _, p := range src.Queue.Snapshot() {
						items = append(items, pendingItem{
							Destination: p.Destination.Int64(),
							Retries:     p.Retries,
							BroadcastID: p.BroadcastID,
							EnqueuedAt:  p.EnqueuedAt,
							Preview:     p.Message.Preview(50),
						})
					}
				}
				writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "pending": items})
			})
			r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, collectStats(src))
			})
			r.Post("/retry", func(w http.ResponseWriter, req *http.Request) {
				if src.Retry == nil {
					http.Error(w, "retry scheduler not available", http.StatusServiceUnavailable)
					return
				}
				rep := src.Retry.RunOnce(context.WithoutCancel(req.Context()))
				writeJSON(w, http.StatusOK, rep)
			})
		})

		if cfg.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

func collectStats(src Source) stats {
	st := stats{
		Version:     src.Version,
		Events:      map[string]uint64{},
		Supervisors: map[string]supervisor.Counters{},
	}
	if !src.StartedAt.IsZero() {
		st.Uptime = time.Since(src.StartedAt).Round(time.Second).String()
	}
	if src.Registry != nil {
		st.Destinations = src.Registry.Len()
	}
	if src.Queue != nil {
		st.Pending = src.Queue.Len()
	}
	if src.Breaker != nil {
		st.Breaker = src.Breaker()
	}
	if src.Events != nil {
		st.Events = src.Events.Counts()
	}
	if c := src.Supervisors.Counters(); c != nil {
		st.Supervisors = c
	}
	return st
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		http.Error(w, `{"error":"failed to marshal response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func requestLog(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("admin request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("dur", time.Since(start)),
				logx.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
