package router

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	kit "joingate/internal/transport"
	logx "joingate/pkg/logx"
)

// Access controls who may trigger a command or a message route.
type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
)

type Command struct {
	// Route is a single command word without the slash, e.g. "start".
	Route       string
	Aliases     []string
	Description string
	Access      Access

	Plugin  string
	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

// CallbackAccess controls who can press an inline button.
//
// The zero value is admin-only; public buttons set CallbackAccessEveryone.
type CallbackAccess int

const (
	CallbackAccessAdmin CallbackAccess = iota
	CallbackAccessEveryone
)

// CallbackRoute handles callback data "plugin:action[:payload]". The
// payload reaches the handler as Request.Payload.
type CallbackRoute struct {
	Plugin      string
	Action      string
	Description string
	Access      CallbackAccess
	Timeout     time.Duration
	Handle      HandlerFunc
}

// MessageRoute handles non-command messages. Routes are tried in
// registration order and the first whose Match returns true wins. Match runs
// on the dispatch worker and may do I/O (for example, look up a session).
type MessageRoute struct {
	Name    string
	Plugin  string
	Access  Access
	Match   func(ctx context.Context, req *Request) bool
	Timeout time.Duration
	Handle  HandlerFunc
}

// EventRoute handles chat events: join requests and membership changes.
// Every route registered for a kind runs.
type EventRoute struct {
	Name    string
	Plugin  string
	Kind    kit.UpdateKind
	Timeout time.Duration
	Handle  HandlerFunc
}

// Registry is the full set of routes contributed by plugins.
type Registry struct {
	Commands  []Command
	Callbacks []CallbackRoute
	Messages  []MessageRoute
	Events    []EventRoute
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string // route name, "cb:plugin:action", "msg:name" or "ev:name"
	Args    []string
	Payload string // callback payload

	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	// Admin reports whether FromID is on the admin allow-list.
	Admin bool

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, text, opt)
}

// Message returns the message of a message update, or nil.
func (r *Request) Message() *kit.Message { return r.Update.Message }

// Router dispatches updates to plugin routes on a pool of workers. Updates
// from one sender always land on the same worker, so a user's inputs are
// handled in the order they arrived.
type Router struct {
	mu        sync.RWMutex
	commands  map[string]*Command
	alias     map[string]*Command
	callbacks map[string]map[string]CallbackRoute // plugin -> action -> route
	messages  []MessageRoute
	events    map[kit.UpdateKind][]EventRoute
	admins    []int64

	log     logx.Logger
	adapter kit.Adapter
	workers int
	queue   int
	onDrop  func()
	onError func(route string)
	runner  Runner

	runMu  sync.Mutex
	shards []chan func()
}

// Runner runs short background work such as the menu update. The app
// supervisor satisfies it.
type Runner interface {
	Go0(name string, fn func(ctx context.Context))
}

type Option func(*Router)

// WithWorkers sets the number of dispatch workers (default 4).
func WithWorkers(n int) Option { return func(r *Router) { r.workers = n } }

// WithQueueSize sets the per-worker queue length (default 64).
func WithQueueSize(n int) Option { return func(r *Router) { r.queue = n } }

// WithDropHook is called for every update dropped because its worker queue
// was full.
func WithDropHook(fn func()) Option { return func(r *Router) { r.onDrop = fn } }

// WithErrorHook is called with the route name of every failed handler.
func WithErrorHook(fn func(route string)) Option { return func(r *Router) { r.onError = fn } }

func WithRunner(run Runner) Option { return func(r *Router) { r.runner = run } }

func New(log logx.Logger, adapter kit.Adapter, admins []int64, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		commands:  map[string]*Command{},
		alias:     map[string]*Command{},
		callbacks: map[string]map[string]CallbackRoute{},
		events:    map[kit.UpdateKind][]EventRoute{},
		admins:    append([]int64(nil), admins...),
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   adapter,
		workers:   4,
		queue:     64,
	}
	for _, o := range opts {
		o(r)
	}
	if r.workers < 1 {
		r.workers = 1
	}
	if r.queue < 1 {
		r.queue = 1
	}
	return r
}

// SetAdmins replaces the admin allow-list. Safe to call during hot reload.
func (r *Router) SetAdmins(ids []int64) {
	cp := append([]int64(nil), ids...)
	r.mu.Lock()
	r.admins = cp
	r.mu.Unlock()
}

// IsAdmin reports whether id is on the allow-list.
func (r *Router) IsAdmin(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return id != 0 && slices.Contains(r.admins, id)
}

// Admins returns a copy of the allow-list.
func (r *Router) Admins() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]int64(nil), r.admins...)
}

// SetRegistry replaces every route at once.
func (r *Router) SetRegistry(reg Registry) {
	reg.Commands = append(slices.Clip(reg.Commands), r.helpCommand())
	cmds := map[string]*Command{}
	alias := map[string]*Command{}
	var menuCandidates []Command
	for _, c := range reg.Commands {
		route := strings.ToLower(strings.TrimSpace(c.Route))
		if route == "" || strings.Contains(route, " ") || c.Handle == nil {
			continue
		}
		cc := c
		cc.Route = route
		cmds[route] = &cc
		menuCandidates = append(menuCandidates, cc)
		if sa := sanitizeTelegramCommand(route); sa != "" && sa != route {
			alias[sa] = &cc
		}
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = &cc
		}
	}

	cbs := map[string]map[string]CallbackRoute{}
	for _, cb := range reg.Callbacks {
		p := strings.TrimSpace(cb.Plugin)
		a := strings.TrimSpace(cb.Action)
		if p == "" || a == "" || cb.Handle == nil {
			continue
		}
		if cbs[p] == nil {
			cbs[p] = map[string]CallbackRoute{}
		}
		cbs[p][a] = cb
	}

	var msgs []MessageRoute
	for _, m := range reg.Messages {
		if m.Match == nil || m.Handle == nil {
			continue
		}
		msgs = append(msgs, m)
	}

	evs := map[kit.UpdateKind][]EventRoute{}
	for _, e := range reg.Events {
		if e.Handle == nil {
			continue
		}
		evs[e.Kind] = append(evs[e.Kind], e)
	}

	r.mu.Lock()
	r.commands = cmds
	r.alias = alias
	r.callbacks = cbs
	r.messages = msgs
	r.events = evs
	r.mu.Unlock()

	r.publishMenu(menuCandidates)
}

// publishMenu updates the Telegram command menu in the background.
func (r *Router) publishMenu(cmds []Command) {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := buildTelegramMenuCommands(cmds)
	run := func(parent context.Context) {
		ctx, cancel := context.WithTimeout(parent, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(ctx, menu); err != nil {
			r.log.Warn("command menu update failed", logx.Err(err))
		}
	}
	if r.runner != nil {
		r.runner.Go0("telegram.menu.update", run)
		return
	}
	go run(context.Background())
}

func (r *Router) lookupCommand(word string) *Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.commands[word]; ok {
		return c
	}
	return r.alias[word]
}

func (r *Router) lookupCallback(plugin, action string) (CallbackRoute, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.callbacks[plugin][action]
	return cb, ok
}

func (r *Router) messageRoutes() []MessageRoute {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.messages
}

func (r *Router) eventRoutes(kind kit.UpdateKind) []EventRoute {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.events[kind]
}
