package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"relaybot/internal/relay"
	"relaybot/internal/runtime/supervisor"
	kit "relaybot/internal/transport"
	"relaybot/pkg/logx"
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Message *kit.Message
	Chat    kit.Chat
	FromID  int64
	Command string
	Args    []string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Origin is the gate's view of the request.
func (r *Request) Origin() relay.Origin {
	return relay.Origin{ChatID: r.Chat.ID, Class: r.Chat.Class(), UserID: r.FromID}
}

// Reply sends text to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	opt := &kit.SendOptions{DisablePreview: true}
	if r.Message != nil {
		opt.ReplyTo = r.Message.ID
	}
	return r.Adapter.SendText(ctx, r.Chat.ID, text, opt)
}

// Deps are the relay components the router drives.
type Deps struct {
	Registry *relay.Registry
	Queue    *relay.FailureQueue
	Engine   *relay.Engine
	Tracker  *relay.Tracker
	Gate     *relay.Gate

	// Sources are the chats whose posts are broadcast.
	Sources []int64
	Prefix  string
	Version string
}

type CommandManager struct {
	mu    sync.RWMutex
	cmds  map[string]*Command
	names []string

	log     logx.Logger
	adapter kit.Adapter
	deps    Deps
	sources map[relay.DestinationID]struct{}

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor
	parent  *supervisor.Supervisor

	jobs chan func()
}

type Option func(*CommandManager)

// WithParentSupervisor runs background work such as the menu update under
// the app supervisor.
func WithParentSupervisor(s *supervisor.Supervisor) Option {
	return func(m *CommandManager) { m.parent = s }
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, deps Deps, opts ...Option) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Prefix == "" {
		deps.Prefix = "/"
	}
	deps.Sources = slices.Clone(deps.Sources)
	src := make(map[relay.DestinationID]struct{}, len(deps.Sources))
	for _, id := range deps.Sources {
		src[relay.Normalize(id)] = struct{}{}
	}
	m := &CommandManager{
		cmds:    map[string]*Command{},
		log:     log.With(logx.String("comp", "telegram.router")),
		adapter: adapter,
		deps:    deps,
		sources: src,
		jobs:    make(chan func(), 256),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Supervisor returns the worker pool supervisor (nil if not running).
func (m *CommandManager) Supervisor() *supervisor.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *supervisor.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue does not block and survives a closed jobs channel.
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetCommands installs cmds plus the built-in help and pushes the menu to
// the adapter when it supports it.
func (m *CommandManager) SetCommands(cmds []Command) {
	cmds = append(slices.Clone(cmds), Command{
		Name:        "help",
		Description: "List available commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Adapter.SendText(ctx, req.Chat.ID, m.helpText(req.Args), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
		},
	})

	table := map[string]*Command{}
	names := make([]string, 0, len(cmds))
	for i := range cmds {
		c := cmds[i]
		name := normalizeName(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		table[name] = &c
		names = append(names, name)
		for _, a := range c.Aliases {
			if a = normalizeName(a); a != "" {
				if _, taken := table[a]; !taken {
					table[a] = &c
				}
			}
		}
	}
	slices.Sort(names)

	m.mu.Lock()
	m.cmds = table
	m.names = names
	m.mu.Unlock()

	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := buildMenu(m.commandList())
	run := func(parent context.Context) error {
		ctx, cancel := context.WithTimeout(parent, 10*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(ctx, menu); err != nil {
			m.log.Warn("menu update failed", logx.Err(err))
		}
		return nil
	}
	if m.parent != nil {
		m.parent.Go("telegram.menu.update", run)
		return
	}
	go func() { _ = run(context.Background()) }()
}

// commandList returns the installed commands sorted by name, aliases
// excluded.
func (m *CommandManager) commandList() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Command, 0, len(m.names))
	for _, n := range m.names {
		out = append(out, *m.cmds[n])
	}
	return out
}

func (m *CommandManager) lookup(name string) (Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cmds[name]
	if !ok {
		return Command{}, false
	}
	return *c, true
}

func (m *CommandManager) isSource(chatID int64) bool {
	_, ok := m.sources[relay.Normalize(chatID)]
	return ok
}

// DispatchLoop reads updates until ctx is done or updates is closed.
// Membership changes and source posts are handled inline, in arrival order.
// Commands run on a bounded worker pool.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(runtime.NumCPU(), 2)
	sup := supervisor.New(ctx,
		supervisor.WithLogger(m.log),
		supervisor.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("dispatcher started",
		logx.Int("workers", workers),
		logx.Int("job_queue_cap", cap(m.jobs)),
		logx.Int("sources", len(m.deps.Sources)),
	)
	if len(m.deps.Sources) == 0 {
		m.log.Warn("no source chats configured; posts will not be broadcast")
	}

	for i := range workers {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					m.runJob(i, job)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		m.setSupervisor(sup, false)
		close(m.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) routeUpdate(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMembership:
		m.routeMembership(ctx, up.Membership)
	case kit.UpdateMessage, kit.UpdateChannelPost:
		if up.Message == nil {
			return
		}
		if name, args, ok := parseCommand(up.Message.Text, m.deps.Prefix); ok {
			m.routeCommand(ctx, up, name, args)
			return
		}
		if up.Kind == kit.UpdateChannelPost {
			m.routePost(ctx, up.Message)
		}
	}
}

func (m *CommandManager) routeMembership(ctx context.Context, mc *kit.MembershipChange) {
	if mc == nil || m.deps.Tracker == nil {
		return
	}
	self := m.adapter.SelfID()
	m.deps.Tracker.Handle(ctx, relay.MembershipChange{
		ActorIsBot:      self != 0 && mc.MemberID == self,
		Joined:          mc.Joined,
		Destination:     relay.Normalize(mc.Chat.ID),
		OriginIsChannel: mc.Chat.IsChannel(),
	})
}

func (m *CommandManager) routePost(ctx context.Context, msg *kit.Message) {
	if len(m.deps.Sources) == 0 {
		m.log.Warn("no source chats configured; skipping broadcast", logx.Int64("chat_id", msg.Chat.ID))
		return
	}
	if !m.isSource(msg.Chat.ID) {
		m.log.Debug("post from non-source channel ignored", logx.Int64("chat_id", msg.Chat.ID))
		return
	}
	if m.deps.Engine == nil {
		return
	}
	m.deps.Engine.Broadcast(ctx, msg.ToRelayMessage())
}

func (m *CommandManager) routeCommand(ctx context.Context, up kit.Update, name string, args []string) {
	msg := up.Message
	cmd, ok := m.lookup(name)
	if !ok {
		m.log.Debug("unknown command ignored", logx.String("cmd", name), logx.Int64("chat_id", msg.Chat.ID))
		return
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Message: msg,
		Chat:    msg.Chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.Chat.ID),
			logx.String("chat_kind", string(msg.Chat.Kind)),
			logx.String("cmd", cmd.Name),
		),
	}

	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWGate(m.deps.Gate),
		MWTimeout(cmd.Timeout),
	)
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		m.log.Warn("command dropped (workers busy)", logx.String("cmd", cmd.Name))
		_ = req.Reply(ctx, "Busy, try again in a moment.")
	}
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
