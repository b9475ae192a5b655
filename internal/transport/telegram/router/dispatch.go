package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"joingate/internal/runtime/supervisor"
	kit "joingate/internal/transport"
	logx "joingate/pkg/logx"
	"joingate/pkg/tgui"
)

// DispatchLoop consumes updates until ctx is done or updates is closed.
// Workers run on an internal supervisor and are restarted if they die.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(r.log),
		supervisor.WithCancelOnError(false),
	)

	shards := make([]chan func(), r.workers)
	for i := range shards {
		shards[i] = make(chan func(), r.queue)
	}
	r.runMu.Lock()
	r.shards = shards
	r.runMu.Unlock()

	r.log.Info("dispatcher started", logx.Int("workers", r.workers), logx.Int("queue_cap", r.queue))

	for idx, jobs := range shards {
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in dispatch job", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		r.runMu.Lock()
		r.shards = nil
		r.runMu.Unlock()
		for _, ch := range shards {
			close(ch)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.dispatch(ctx, up)
		}
	}
}

// dispatch queues the update on its sender's worker. A full queue drops the
// update.
func (r *Router) dispatch(ctx context.Context, up kit.Update) {
	job := func() { r.Route(ctx, up) }

	r.runMu.Lock()
	shards := r.shards
	r.runMu.Unlock()
	if len(shards) == 0 {
		return
	}
	id := up.SenderID()
	if id < 0 {
		id = -id
	}
	select {
	case shards[id%int64(len(shards))] <- job:
	default:
		r.log.Warn("update dropped: worker queue full", logx.String("kind", string(up.Kind)), logx.Int64("from_id", up.SenderID()))
		if r.onDrop != nil {
			r.onDrop()
		}
	}
}

// Route handles one update synchronously. DispatchLoop calls it from the
// workers; tests call it directly.
func (r *Router) Route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(ctx, up)
	case kit.UpdateCallback:
		r.routeCallback(ctx, up)
	case kit.UpdateJoinRequest, kit.UpdateMemberStatus:
		r.routeEvent(ctx, up)
	}
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, from int64, name string) *Request {
	rid := newReqID()
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Command: name,
		ReqID:   rid,
		Admin:   r.IsAdmin(from),
		Adapter: r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
			logx.String("cmd", name),
		),
	}
}

func (r *Router) run(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration) error {
	final := Chain(h,
		MWErrorHook(r.onError),
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
	return final(ctx, req)
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID}
	text := strings.TrimSpace(msg.Text)

	if strings.HasPrefix(text, "/") {
		parts := tokenizeCommandLine(text)
		if len(parts) == 0 {
			return
		}
		word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
		if i := strings.IndexByte(word, '@'); i >= 0 {
			word = word[:i]
		}
		cmd := r.lookupCommand(word)
		if cmd == nil {
			// Unknown commands get no reply.
			return
		}
		req := r.newRequest(up, chat, msg.FromID, cmd.Route)
		if cmd.Access == AccessAdmin && !req.Admin {
			return
		}
		raw := parts[1:]
		req.RawArgs = raw
		req.Args, req.Flags, req.BoolFlags = parseFlags(raw)
		_ = r.run(ctx, req, cmd.Handle, cmd.Timeout)
		return
	}

	admin := r.IsAdmin(msg.FromID)
	for _, route := range r.messageRoutes() {
		if route.Access == AccessAdmin && !admin {
			continue
		}
		req := r.newRequest(up, chat, msg.FromID, "msg:"+route.Name)
		if !route.Match(ctx, req) {
			continue
		}
		_ = r.run(ctx, req, route.Handle, route.Timeout)
		return
	}
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	plugin, action, payload, ok := tgui.ParseData(cb.Data)
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	route, ok := r.lookupCallback(plugin, action)
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	req := r.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID}, cb.FromID, "cb:"+plugin+":"+action)
	req.Payload = payload
	if route.Access == CallbackAccessAdmin && !req.Admin {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	_ = r.run(ctx, req, route.Handle, route.Timeout)
	// stop the client's loading indicator
	_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
}

func (r *Router) routeEvent(ctx context.Context, up kit.Update) {
	var chat kit.ChatTarget
	switch {
	case up.JoinRequest != nil:
		chat = kit.ChatTarget{ChatID: up.JoinRequest.ChatID}
	case up.MemberStatus != nil:
		chat = kit.ChatTarget{ChatID: up.MemberStatus.ChatID}
	default:
		return
	}
	for _, route := range r.eventRoutes(up.Kind) {
		req := r.newRequest(up, chat, up.SenderID(), "ev:"+route.Name)
		_ = r.run(ctx, req, route.Handle, route.Timeout)
	}
}
