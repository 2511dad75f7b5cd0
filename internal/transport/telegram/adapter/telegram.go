package adapter

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"relaybot/internal/relay"
	rtsup "relaybot/internal/runtime/supervisor"
	kit "relaybot/internal/transport"
	"relaybot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// RatePerSec caps all outbound API calls. Default 25.
	RatePerSec int
	// BreakerFailures consecutive transient failures open the breaker.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	// APIURL overrides the Bot API endpoint (self-hosted server).
	APIURL string
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	droppedUpdates atomic.Uint64
	// done is the run context's Done channel while started.
	done atomic.Value // <-chan struct{}

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*tele.Message]

	// chats maps a destination to the signed id that last worked or was
	// seen on an update.
	chatsMu sync.RWMutex
	chats   map[relay.DestinationID]int64

	menuMu   sync.Mutex
	menuHash uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		URL:   cfg.APIURL,
		Token: cfg.Token,
		Poller: &tele.LongPoller{
			Timeout:        cfg.PollTimeout,
			AllowedUpdates: []string{"message", "channel_post", "my_chat_member"},
		},
		OnError: func(err error, c tele.Context) {
			log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	a := newAdapter(cfg, log, b)
	a.registerHandlers()
	return a, nil
}

func newAdapter(cfg Config, log logx.Logger, b *tele.Bot) *Adapter {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 25
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 20
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "telegram.adapter")),
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		chats:   map[relay.DestinationID]int64{},
	}
	a.breaker = gobreaker.NewCircuitBreaker[*tele.Message](gobreaker.Settings{
		Name:        "telegram.send",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.log.Warn("send breaker state changed",
				logx.String("breaker", name),
				logx.String("from", from.String()),
				logx.String("to", to.String()),
			)
		},
	})
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.done.Store(closedDone)
	return a
}

var closedDone = func() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Supervisor returns the adapter's internal supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) SelfID() int64 {
	if a.bot == nil || a.bot.Me == nil {
		return 0
	}
	return a.bot.Me.ID
}

// BreakerState reports the send breaker state, for the admin API.
func (a *Adapter) BreakerState() string { return a.breaker.State().String() }

func (a *Adapter) registerHandlers() {
	onMessage := func(c tele.Context) error {
		if m := c.Message(); m != nil && m.Chat != nil {
			a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: convertMessage(m)})
		}
		return nil
	}
	a.bot.Handle(tele.OnText, onMessage)
	a.bot.Handle(tele.OnMedia, onMessage)

	a.bot.Handle(tele.OnChannelPost, func(c tele.Context) error {
		m := c.Update().ChannelPost
		if m == nil || m.Chat == nil {
			return nil
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateChannelPost, Message: convertMessage(m)})
		return nil
	})

	a.bot.Handle(tele.OnMyChatMember, func(c tele.Context) error {
		if mc := convertMembership(c.ChatMember()); mc != nil {
			a.sendUpdate(kit.Update{Kind: kit.UpdateMembership, Membership: mc})
		}
		return nil
	})
}

func (a *Adapter) sendUpdate(up kit.Update) {
	switch {
	case up.Message != nil:
		a.learn(up.Message.Chat.ID)
	case up.Membership != nil && up.Membership.Joined:
		a.learn(up.Membership.Chat.ID)
	}
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
		return
	default:
	}
	if !mustDeliver(up) {
		a.droppedUpdates.Add(1)
		return
	}
	// Membership changes and channel posts have no second chance, so they
	// wait for the dispatcher instead of being dropped.
	done, _ := a.done.Load().(<-chan struct{})
	select {
	case out <- up:
	case <-done:
		a.droppedUpdates.Add(1)
		a.log.Warn("update lost on shutdown", logx.String("kind", string(up.Kind)))
	}
}

func mustDeliver(up kit.Update) bool {
	return up.Kind == kit.UpdateMembership || up.Kind == kit.UpdateChannelPost
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.done.Store(sup.Context().Done())
	a.out.Store(out)
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := a.droppedUpdates.Swap(0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// Start blocks until Stop. Restart it if it returns while still running.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started", logx.Int64("bot_id", a.SelfID()))
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Int64("dropped_updates_pending", int64(a.droppedUpdates.Load())))
	sup.Cancel()
	go a.bot.Stop()

	// getUpdates may still be parked in a long poll; do not wait for it.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	for _, chunk := range splitText(text, textLimit) {
		sendOpt := &tele.SendOptions{
			ParseMode:             tele.ParseMode(opt.ParseMode),
			DisableWebPagePreview: opt.DisablePreview,
		}
		if opt.ReplyTo > 0 {
			sendOpt.ReplyTo = &tele.Message{ID: opt.ReplyTo, Chat: &tele.Chat{ID: chatID}}
		}
		if _, err := a.send(ctx, func() (*tele.Message, error) {
			return a.bot.Send(tele.ChatID(chatID), chunk, sendOpt)
		}); err != nil {
			return err
		}
	}
	return nil
}

// Deliver sends msg to dest. Destinations are stored without sign, so the
// signed chat id is resolved from what was seen on updates, then tried as a
// group id and finally as a user id.
func (a *Adapter) Deliver(ctx context.Context, dest relay.DestinationID, msg *relay.Message) error {
	if msg == nil {
		return errors.New("telegram: nil message")
	}
	var lastErr error
	for _, chatID := range a.candidates(dest) {
		_, err := a.send(ctx, func() (*tele.Message, error) {
			return a.deliverTo(tele.ChatID(chatID), msg)
		})
		if err == nil {
			a.remember(dest, chatID)
			return nil
		}
		lastErr = err
		if !isChatNotFound(err) {
			break
		}
	}
	return fmt.Errorf("deliver to %d: %w", dest.Int64(), lastErr)
}

func (a *Adapter) deliverTo(to tele.Recipient, msg *relay.Message) (*tele.Message, error) {
	if !msg.HasMedia() {
		return a.bot.Send(to, msg.Text)
	}
	md := msg.Media
	switch md.Kind {
	case relay.MediaPhoto:
		return a.bot.Send(to, &tele.Photo{File: tele.File{FileID: md.FileID}, Caption: msg.Text})
	case relay.MediaDocument:
		return a.bot.Send(to, &tele.Document{
			File:     tele.File{FileID: md.FileID},
			Caption:  msg.Text,
			FileName: md.FileName,
			MIME:     md.MIME,
		})
	default:
		src := tele.StoredMessage{
			MessageID: strconv.Itoa(msg.SourceMessageID),
			ChatID:    msg.SourceChatID,
		}
		return a.bot.Copy(to, src)
	}
}

// send runs fn behind the rate limiter and the breaker.
func (a *Adapter) send(ctx context.Context, fn func() (*tele.Message, error)) (*tele.Message, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return a.breaker.Execute(fn)
}

func (a *Adapter) candidates(dest relay.DestinationID) []int64 {
	a.chatsMu.RLock()
	known, ok := a.chats[dest]
	a.chatsMu.RUnlock()
	return resolveOrder(dest, known, ok)
}

func resolveOrder(dest relay.DestinationID, known int64, ok bool) []int64 {
	id := dest.Int64()
	if ok {
		out := []int64{known}
		for _, c := range []int64{-id, id} {
			if c != known {
				out = append(out, c)
			}
		}
		return out
	}
	if id == 0 {
		return []int64{0}
	}
	return []int64{-id, id}
}

func (a *Adapter) learn(chatID int64) {
	if chatID == 0 {
		return
	}
	a.remember(relay.Normalize(chatID), chatID)
}

func (a *Adapter) remember(dest relay.DestinationID, chatID int64) {
	a.chatsMu.Lock()
	a.chats[dest] = chatID
	a.chatsMu.Unlock()
}

// UpdateMenuCommands publishes the command menu. It only calls the API when
// the list changed.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		out = append(out, tele.Command{Text: c.Command, Description: d})
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(d))
		h.Write([]byte{0})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := a.bot.SetCommands(out); err != nil {
		return fmt.Errorf("telegram setMyCommands: %w", err)
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(out)))
	return nil
}
