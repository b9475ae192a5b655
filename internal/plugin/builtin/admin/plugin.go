// Package admin is the administrator surface: the menu, the broadcast
// composer, the channel-link editor, the xlsx export and run statistics.
// Every route is admin-only; the router drops everything else silently.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"joingate/internal/broadcast"
	"joingate/internal/config"
	"joingate/internal/eventbus"
	"joingate/internal/export"
	"joingate/internal/plugin"
	kit "joingate/internal/transport"
	"joingate/internal/transport/telegram/router"
	logx "joingate/pkg/logx"
)

const (
	handlerTimeout = 30 * time.Second
	exportTimeout  = 2 * time.Minute
	auditLimit     = 5
)

type Plugin struct {
	plugin.Base

	engine   *broadcast.Engine
	composer *broadcast.Composer

	mu          sync.Mutex
	linkPending map[int64]bool
	schedule    string
	loc         *time.Location
}

// New returns the admin plugin. engine runs confirmed broadcasts.
func New(engine *broadcast.Engine) *Plugin {
	return &Plugin{engine: engine, linkPending: map[int64]bool{}, loc: time.UTC}
}

func (p *Plugin) Name() string { return pluginName }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	switch {
	case deps.Store == nil:
		return fmt.Errorf("storage not available")
	case deps.Sessions == nil:
		return fmt.Errorf("session store not available")
	case p.engine == nil:
		return fmt.Errorf("broadcast engine not available")
	}
	pr := &presenter{adapter: deps.Adapter, gateway: broadcast.NewAdapterGateway(deps.Adapter)}
	p.composer = broadcast.NewComposer(deps.Sessions, pr, p.engine,
		broadcast.WithDispatcher(p.dispatch),
		broadcast.WithComposerLogger(p.Log),
	)
	if deps.Config != nil {
		if cfg := deps.Config.Get(); cfg != nil {
			return p.OnConfigChange(ctx, cfg)
		}
	}
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	p.Unschedule(actExport)
	p.mu.Lock()
	p.schedule = ""
	p.mu.Unlock()
	return p.StopBase(ctx)
}

// dispatch runs a confirmed broadcast outside the request: the handler
// timeout must not cut a fan-out short.
func (p *Plugin) dispatch(name string, run func(ctx context.Context)) {
	switch {
	case p.Deps.Runner != nil:
		p.Deps.Runner.Go0(name, run)
	case p.Runner != nil:
		p.Runner.Go0(name, run)
	default:
		run(context.WithoutCancel(p.Context()))
	}
}

func (p *Plugin) OnConfigChange(ctx context.Context, cfg *config.Config) error {
	loc := time.UTC
	if tz := strings.TrimSpace(cfg.Export.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("export.timezone: %w", err)
		}
		loc = l
	}
	spec := strings.TrimSpace(cfg.Export.Schedule)

	p.mu.Lock()
	p.loc = loc
	changed := spec != p.schedule
	p.schedule = spec
	p.mu.Unlock()

	if !changed {
		return nil
	}
	if spec == "" {
		p.Unschedule(actExport)
		return nil
	}
	return p.Schedule(actExport, spec, exportTimeout, p.scheduledExport)
}

func (p *Plugin) location() *time.Location {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loc
}

func (p *Plugin) setLinkPending(adminID int64, on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if on {
		p.linkPending[adminID] = true
	} else {
		delete(p.linkPending, adminID)
	}
}

func (p *Plugin) isLinkPending(adminID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.linkPending[adminID]
}

func (p *Plugin) Commands() []router.Command {
	return []router.Command{
		{Route: "start", Aliases: []string{"menu"}, Description: "меню администратора", Access: router.AccessAdmin, Timeout: handlerTimeout, Handle: p.cmdStart},
		{Route: "cancel", Description: "отменить текущее действие", Access: router.AccessAdmin, Timeout: handlerTimeout, Handle: p.cmdCancel},
		{Route: "export", Description: "выгрузить юзеров", Access: router.AccessAdmin, Timeout: exportTimeout, Handle: p.cmdExport},
		{Route: "stats", Description: "статистика", Access: router.AccessAdmin, Timeout: handlerTimeout, Handle: p.cmdStats},
	}
}

func (p *Plugin) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Action: actMailing, Description: "new broadcast", Timeout: handlerTimeout, Handle: p.cbMailing},
		{Action: actChoice, Description: "yes/no answer", Timeout: handlerTimeout, Handle: p.cbChoice},
		{Action: actExport, Description: "xlsx export", Timeout: exportTimeout, Handle: p.cmdExport},
		{Action: actLink, Description: "edit channel link", Timeout: handlerTimeout, Handle: p.cbLink},
		{Action: actBack, Description: "back to menu", Timeout: handlerTimeout, Handle: p.cbBack},
		{Action: actStats, Description: "statistics", Timeout: handlerTimeout, Handle: p.cmdStats},
	}
}

// Messages claims free-form admin input only while something waits for it:
// the link editor or a composer draft.
func (p *Plugin) Messages() []router.MessageRoute {
	return []router.MessageRoute{{
		Name:    "input",
		Access:  router.AccessAdmin,
		Timeout: handlerTimeout,
		Match: func(ctx context.Context, req *router.Request) bool {
			if p.isLinkPending(req.FromID) {
				return true
			}
			_, ok, err := p.composer.Current(ctx, req.FromID)
			return ok || err != nil
		},
		Handle: p.onInput,
	}}
}

func (p *Plugin) cmdStart(ctx context.Context, req *router.Request) error {
	_, err := req.Reply(ctx, menuText, menuOptions())
	return err
}

func (p *Plugin) cmdCancel(ctx context.Context, req *router.Request) error {
	hadLink := p.isLinkPending(req.FromID)
	p.setLinkPending(req.FromID, false)
	hadDraft, err := p.composer.Cancel(ctx, req.FromID)
	if err != nil {
		return fmt.Errorf("cancel draft: %w", err)
	}
	text := nothingText
	if hadLink || hadDraft {
		text = cancelledText
	}
	_, err = req.Reply(ctx, text, menuOptions())
	return err
}

func (p *Plugin) cbMailing(ctx context.Context, req *router.Request) error {
	p.setLinkPending(req.FromID, false)
	return p.composer.Start(ctx, req.FromID)
}

func (p *Plugin) cbChoice(ctx context.Context, req *router.Request) error {
	var yes bool
	switch req.Payload {
	case "yes":
		yes = true
	case "no":
	default:
		return nil
	}
	return p.feed(ctx, req, broadcast.Choice(yes))
}

func (p *Plugin) onInput(ctx context.Context, req *router.Request) error {
	if p.isLinkPending(req.FromID) {
		return p.editLink(ctx, req)
	}
	in, ok := broadcast.InputFromMessage(req.Message())
	if !ok {
		return nil
	}
	return p.feed(ctx, req, in)
}

func (p *Plugin) feed(ctx context.Context, req *router.Request, in broadcast.Input) error {
	st, err := p.composer.Handle(ctx, req.FromID, in)
	if errors.Is(err, broadcast.ErrIgnored) {
		return nil
	}
	if err != nil {
		return err
	}
	req.Logger.Debug("composer step", logx.String("state", string(st)))
	return nil
}

func (p *Plugin) cbLink(ctx context.Context, req *router.Request) error {
	link, err := p.Deps.Store.GetLink(ctx)
	if err != nil {
		return fmt.Errorf("load link: %w", err)
	}
	if _, err := p.composer.Cancel(ctx, req.FromID); err != nil {
		return fmt.Errorf("cancel draft: %w", err)
	}
	if err := p.editOrSend(ctx, req, fmt.Sprintf(linkPrompt, link), backOptions()); err != nil {
		return err
	}
	p.setLinkPending(req.FromID, true)
	return nil
}

func (p *Plugin) cbBack(ctx context.Context, req *router.Request) error {
	p.setLinkPending(req.FromID, false)
	return p.editOrSend(ctx, req, menuText, menuOptions())
}

// editOrSend rewrites the message the pressed button belongs to, falling
// back to a new message when there is none.
func (p *Plugin) editOrSend(ctx context.Context, req *router.Request, text string, opt *kit.SendOptions) error {
	if cq := req.Update.Callback; cq != nil && cq.MessageID != 0 {
		return req.Adapter.EditText(ctx, kit.MessageRef{ChatID: cq.ChatID, MessageID: cq.MessageID}, text, opt)
	}
	_, err := req.Reply(ctx, text, opt)
	return err
}

func (p *Plugin) editLink(ctx context.Context, req *router.Request) error {
	var raw string
	if m := req.Message(); m != nil && m.Media == nil {
		raw = m.Text
	}
	link, ok := NormalizeLink(raw)
	if !ok {
		_, err := req.Reply(ctx, linkInvalidText, backOptions())
		return err
	}
	if err := p.Deps.Store.SetLink(ctx, link); err != nil {
		return fmt.Errorf("store link: %w", err)
	}
	p.setLinkPending(req.FromID, false)
	req.Logger.Info("channel link changed", logx.String("link", link))
	p.PublishEvent(eventbus.LinkChanged, link)
	_, err := req.Reply(ctx, linkChangedText, menuOptions())
	return err
}

// NormalizeLink accepts http(s) links and bare "t.me/" links, which are
// stored with an https scheme.
func NormalizeLink(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.ContainsAny(s, " \t\n") {
		return "", false
	}
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "http://"):
		if strings.HasSuffix(lower, "://") {
			return "", false
		}
		return s, true
	case strings.HasPrefix(lower, "t.me/"):
		if len(s) == len("t.me/") {
			return "", false
		}
		return "https://" + s, true
	}
	return "", false
}

func (p *Plugin) cmdExport(ctx context.Context, req *router.Request) error {
	if err := p.sendExport(ctx, req.Chat.ChatID); err != nil {
		return err
	}
	_, err := req.Reply(ctx, menuText, menuOptions())
	return err
}

func (p *Plugin) sendExport(ctx context.Context, chatID int64) error {
	rows, err := p.Deps.Store.ExportAll(ctx)
	if err != nil {
		return fmt.Errorf("export rows: %w", err)
	}
	data, err := export.Workbook(rows, export.InLocation(p.location()))
	if err != nil {
		return fmt.Errorf("build workbook: %w", err)
	}
	doc := kit.Document{Name: export.FileName, Data: data}
	if _, err := p.Deps.Adapter.SendDocument(ctx, kit.ChatTarget{ChatID: chatID}, doc, exportCaption, nil); err != nil {
		return fmt.Errorf("send workbook: %w", err)
	}
	return nil
}

// scheduledExport sends the workbook to every admin.
func (p *Plugin) scheduledExport(ctx context.Context) error {
	var errs []error
	for _, id := range p.Admins() {
		if err := p.sendExport(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("admin %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
