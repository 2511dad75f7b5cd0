package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"relaybot/internal/eventbus"
	"relaybot/pkg/logx"
)

type RetryConfig struct {
	// Interval between passes. Cron rounds it to whole seconds. Default 30s.
	Interval time.Duration
	// MaxRetries is the retry budget per pending delivery. Default 3.
	MaxRetries uint
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	return c
}

// RetryReport summarizes one pass.
type RetryReport struct {
	Drained   int           `json:"drained"`
	Delivered int           `json:"delivered"`
	Requeued  int           `json:"requeued"`
	Dropped   int           `json:"dropped"`
	Abandoned int           `json:"abandoned"`
	Took      time.Duration `json:"took"`
}

// Abandonment is published when a delivery runs out of retries.
type Abandonment struct {
	BroadcastID string `json:"broadcast_id,omitempty"`
	Destination int64  `json:"destination"`
	Retries     uint   `json:"retries"`
}

// RetryScheduler periodically drains the FailureQueue and resends.
type RetryScheduler struct {
	registry *Registry
	queue    *FailureQueue
	sender   Sender
	log      logx.Logger
	events   Publisher
	tracer   trace.Tracer

	passMu sync.Mutex

	mu      sync.Mutex
	cfg     RetryConfig
	cron    *cron.Cron
	entry   cron.EntryID
	runCtx  context.Context
	cancel  context.CancelFunc
	running bool
}

func NewRetryScheduler(registry *Registry, queue *FailureQueue, sender Sender, cfg RetryConfig, log logx.Logger, events Publisher) *RetryScheduler {
	return &RetryScheduler{
		registry: registry,
		queue:    queue,
		sender:   sender,
		log:      log.With(logx.String("comp", "relay.retry")),
		events:   events,
		tracer:   otel.Tracer(tracerName),
		cfg:      cfg.withDefaults(),
	}
}

func (s *RetryScheduler) Config() RetryConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Start schedules passes until Stop. ctx bounds the sends of every pass.
func (s *RetryScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("retry scheduler already running")
	}
	clog := logx.CronLogger{L: s.log}
	s.cron = cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.scheduleLocked()
	s.cron.Start()
	s.running = true
	s.log.Info("retry scheduler started", logx.Duration("interval", s.cfg.Interval), logx.Uint("max_retries", s.cfg.MaxRetries))
	return nil
}

// Stop halts the schedule and abandons an in-flight pass. Entries still in
// the queue are dropped with the process.
func (s *RetryScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	cancel := s.cancel
	s.running = false
	s.cron = nil
	s.mu.Unlock()

	cancel()
	done := c.Stop()
	select {
	case <-done.Done():
		s.log.Info("retry scheduler stopped", logx.Int("pending", s.queue.Len()))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply updates the interval and retry budget. A running schedule is moved
// to the new interval.
func (s *RetryScheduler) Apply(cfg RetryConfig) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := cfg.Interval != s.cfg.Interval
	s.cfg = cfg
	if s.running && changed {
		s.cron.Remove(s.entry)
		s.scheduleLocked()
		s.log.Info("retry interval changed", logx.Duration("interval", cfg.Interval))
	}
}

func (s *RetryScheduler) scheduleLocked() {
	ctx := s.runCtx
	s.entry = s.cron.Schedule(cron.Every(s.cfg.Interval), cron.FuncJob(func() { s.RunOnce(ctx) }))
}

// RunOnce drains the queue and retries each entry once. Passes never overlap.
func (s *RetryScheduler) RunOnce(ctx context.Context) RetryReport {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	maxRetries := s.Config().MaxRetries
	batch := s.queue.DrainSnapshot()
	rep := RetryReport{Drained: len(batch)}
	if len(batch) == 0 {
		return rep
	}

	ctx, span := s.tracer.Start(ctx, "relay.retry_pass", trace.WithAttributes(attribute.Int("relay.drained", len(batch))))
	defer span.End()
	start := time.Now()

	for _, p := range batch {
		log := s.log.With(logx.Int64("dest", p.Destination.Int64()), logx.Uint("retries", p.Retries))
		if p.BroadcastID != "" {
			log = log.With(logx.String("broadcast_id", p.BroadcastID))
		}

		if !s.registry.Contains(p.Destination) {
			rep.Dropped++
			log.Info("skipping retry for removed destination")
			continue
		}
		if p.Retries >= maxRetries {
			rep.Abandoned++
			s.abandon(log, p)
			continue
		}

		log.Info("retrying delivery", logx.Uint("attempt", p.Retries+1))
		err := s.sender.Deliver(ctx, p.Destination, p.Message)
		if err == nil {
			rep.Delivered++
			continue
		}
		if p.Retries+1 >= maxRetries {
			rep.Abandoned++
			p.Retries++
			s.abandon(log.With(logx.Err(err)), p)
			continue
		}
		if s.queue.Requeue(p) {
			rep.Requeued++
			log.Warn("retry failed, requeued", logx.Err(err))
		} else {
			rep.Dropped++
			log.Info("retry failed for purged destination, dropped", logx.Err(err))
		}
	}

	rep.Took = time.Since(start)
	span.SetAttributes(
		attribute.Int("relay.delivered", rep.Delivered),
		attribute.Int("relay.requeued", rep.Requeued),
		attribute.Int("relay.abandoned", rep.Abandoned),
	)
	s.log.Debug("retry pass done",
		logx.Int("drained", rep.Drained),
		logx.Int("delivered", rep.Delivered),
		logx.Int("requeued", rep.Requeued),
		logx.Int("abandoned", rep.Abandoned),
		logx.Duration("took", rep.Took),
	)
	emit(s.events, eventbus.TypeRetryPass, rep)
	return rep
}

func (s *RetryScheduler) abandon(log logx.Logger, p PendingDelivery) {
	log.Warn("max retries reached, abandoning delivery")
	emit(s.events, eventbus.TypeAbandoned, Abandonment{
		BroadcastID: p.BroadcastID,
		Destination: p.Destination.Int64(),
		Retries:     p.Retries,
	})
}
