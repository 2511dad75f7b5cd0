package relay

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"relaybot/internal/eventbus"
	"relaybot/pkg/logx"
)

const tracerName = "relaybot/internal/relay"

type EngineConfig struct {
	// CommandPrefix marks posts that are never relayed. Default "/".
	CommandPrefix string
	// Concurrency bounds in-flight sends per broadcast. Default 4.
	Concurrency int
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.CommandPrefix == "" {
		c.CommandPrefix = "/"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// BroadcastReport summarizes one fan-out.
type BroadcastReport struct {
	ID           string        `json:"id"`
	Skipped      bool          `json:"skipped,omitempty"`
	Destinations int           `json:"destinations"`
	Delivered    int           `json:"delivered"`
	Failed       int           `json:"failed"`
	Enqueued     int           `json:"enqueued"`
	Took         time.Duration `json:"took"`
}

// DeliveryFailure is published for every failed first attempt.
type DeliveryFailure struct {
	BroadcastID string `json:"broadcast_id"`
	Destination int64  `json:"destination"`
	Error       string `json:"error"`
}

// Engine relays source posts to every registered destination.
type Engine struct {
	registry *Registry
	queue    *FailureQueue
	sender   Sender
	log      logx.Logger
	events   Publisher
	tracer   trace.Tracer

	mu  sync.RWMutex
	cfg EngineConfig
}

func NewEngine(registry *Registry, queue *FailureQueue, sender Sender, cfg EngineConfig, log logx.Logger, events Publisher) *Engine {
	return &Engine{
		registry: registry,
		queue:    queue,
		sender:   sender,
		log:      log.With(logx.String("comp", "relay.broadcast")),
		events:   events,
		tracer:   otel.Tracer(tracerName),
		cfg:      cfg.withDefaults(),
	}
}

func (e *Engine) Apply(cfg EngineConfig) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.mu.Unlock()
}

func (e *Engine) config() EngineConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Broadcast sends msg to a snapshot of the registry. A failed send is queued
// for retry and never affects the other destinations.
func (e *Engine) Broadcast(ctx context.Context, msg *Message) BroadcastReport {
	cfg := e.config()
	rep := BroadcastReport{ID: uuid.NewString()}
	log := e.log.With(logx.String("broadcast_id", rep.ID))

	if msg == nil {
		rep.Skipped = true
		return rep
	}
	if strings.HasPrefix(msg.Text, cfg.CommandPrefix) {
		rep.Skipped = true
		log.Debug("ignoring command post", logx.String("text", msg.Preview(50)))
		return rep
	}

	// The epoch must be read before the snapshot; see FailureQueue.
	epoch, release := e.queue.Hold()
	defer release()
	dests := e.registry.List()
	rep.Destinations = len(dests)

	ctx, span := e.tracer.Start(ctx, "relay.broadcast", trace.WithAttributes(
		attribute.String("relay.broadcast_id", rep.ID),
		attribute.Int("relay.destinations", len(dests)),
		attribute.Bool("relay.media", msg.HasMedia()),
	))
	defer span.End()

	log.Info("broadcasting", logx.String("text", msg.Preview(50)), logx.Int("destinations", len(dests)))
	start := time.Now()

	var delivered, failed, enqueued atomic.Int64
	var g errgroup.Group
	g.SetLimit(cfg.Concurrency)
	for _, dest := range dests {
		g.Go(func() error {
			err := e.sender.Deliver(ctx, dest, msg)
			if err == nil {
				delivered.Add(1)
				log.Debug("delivered", logx.Int64("dest", dest.Int64()))
				return nil
			}
			failed.Add(1)
			queued := e.queue.EnqueueSince(epoch, dest, msg, rep.ID)
			if queued {
				enqueued.Add(1)
			}
			log.Warn("delivery failed", logx.Int64("dest", dest.Int64()), logx.Bool("queued", queued), logx.Err(err))
			emit(e.events, eventbus.TypeDeliveryFailed, DeliveryFailure{BroadcastID: rep.ID, Destination: dest.Int64(), Error: err.Error()})
			return nil
		})
	}
	_ = g.Wait()

	rep.Delivered = int(delivered.Load())
	rep.Failed = int(failed.Load())
	rep.Enqueued = int(enqueued.Load())
	rep.Took = time.Since(start)
	span.SetAttributes(attribute.Int("relay.delivered", rep.Delivered), attribute.Int("relay.failed", rep.Failed))

	log.Info("broadcast done",
		logx.Int("delivered", rep.Delivered),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", rep.Took),
	)
	emit(e.events, eventbus.TypeBroadcast, rep)
	return rep
}
