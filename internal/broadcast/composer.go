package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"joingate/internal/session"
	logx "joingate/pkg/logx"
)

// State is a composer session state.
type State string

const (
	StateAwaitingPayload      State = "awaiting_payload"
	StateAwaitingButtonChoice State = "awaiting_button_choice"
	StateAwaitingButtonText   State = "awaiting_button_text"
	StateAwaitingButtonURL    State = "awaiting_button_url"
	StateAwaitingConfirmation State = "awaiting_confirmation"

	// Terminal outcomes. They are returned by Handle but never stored.
	StateSent      State = "sent"
	StateCancelled State = "cancelled"
)

// ErrIgnored means the input did not match what the current state expects
// (or there is no session). Nothing was sent and nothing changed.
var ErrIgnored = errors.New("input ignored")

// Session is the stored draft of one administrator.
type Session struct {
	State       State    `json:"state"`
	Template    Template `json:"template"`
	ButtonLabel string   `json:"button_label,omitempty"` // pending until the URL is accepted
}

// Presenter renders composer prompts to the administrator. Preview must show
// the template exactly as recipients will get it and return an error if it
// cannot be rendered (for example, Telegram rejected the button URL).
type Presenter interface {
	PromptPayload(ctx context.Context, adminID int64) error
	PromptButtonChoice(ctx context.Context, adminID int64) error
	PromptButtonText(ctx context.Context, adminID int64) error
	PromptButtonURL(ctx context.Context, adminID int64) error
	InvalidURL(ctx context.Context, adminID int64) error
	Preview(ctx context.Context, adminID int64, tpl Template) error
	PromptConfirm(ctx context.Context, adminID int64) error
	Cancelled(ctx context.Context, adminID int64) error
	Sent(ctx context.Context, adminID int64, rep Report) error
	Failed(ctx context.Context, adminID int64, err error) error
}

// Dispatcher starts a confirmed run. The default runs it inline with the
// caller's context.
type Dispatcher func(name string, run func(ctx context.Context))

// Composer drives each administrator through one broadcast draft: payload,
// optional link button, preview and confirmation. Inputs for one
// administrator are serialized; different administrators never share state.
//
// A transition is stored only after its prompt was shown, so a failed send
// leaves the session where it was and the same input can be repeated.
type Composer struct {
	sessions  session.Store
	presenter Presenter
	engine    *Engine
	dispatch  Dispatcher
	log       logx.Logger

	locks sync.Map // int64 -> *sync.Mutex
}

type ComposerOption func(*Composer)

func WithDispatcher(d Dispatcher) ComposerOption { return func(c *Composer) { c.dispatch = d } }
func WithComposerLogger(l logx.Logger) ComposerOption {
	return func(c *Composer) { c.log = l }
}

func NewComposer(sessions session.Store, presenter Presenter, engine *Engine, opts ...ComposerOption) *Composer {
	c := &Composer{sessions: sessions, presenter: presenter, engine: engine}
	for _, o := range opts {
		o(c)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	c.log = c.log.With(logx.String("comp", "broadcast.composer"))
	return c
}

func (c *Composer) lock(adminID int64) func() {
	v, _ := c.locks.LoadOrStore(adminID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Start opens a fresh draft, discarding any previous one.
func (c *Composer) Start(ctx context.Context, adminID int64) error {
	defer c.lock(adminID)()
	if err := c.presenter.PromptPayload(ctx, adminID); err != nil {
		return err
	}
	return c.sessions.Put(ctx, adminID, Session{State: StateAwaitingPayload})
}

// Cancel drops the draft. It reports whether one existed.
func (c *Composer) Cancel(ctx context.Context, adminID int64) (bool, error) {
	defer c.lock(adminID)()
	var s Session
	if err := c.sessions.Get(ctx, adminID, &s); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return false, nil
		}
		return false, err
	}
	return true, c.sessions.Delete(ctx, adminID)
}

// Current returns the stored draft.
func (c *Composer) Current(ctx context.Context, adminID int64) (Session, bool, error) {
	var s Session
	err := c.sessions.Get(ctx, adminID, &s)
	if errors.Is(err, session.ErrNoSession) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return s, true, nil
}

// Handle feeds one input to the administrator's draft and returns the
// resulting state. Inputs the current state does not expect return
// ErrIgnored.
func (c *Composer) Handle(ctx context.Context, adminID int64, in Input) (State, error) {
	defer c.lock(adminID)()

	var s Session
	if err := c.sessions.Get(ctx, adminID, &s); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return "", ErrIgnored
		}
		return "", fmt.Errorf("load session: %w", err)
	}

	switch s.State {
	case StateAwaitingPayload:
		return c.onPayload(ctx, adminID, s, in)
	case StateAwaitingButtonChoice:
		return c.onButtonChoice(ctx, adminID, s, in)
	case StateAwaitingButtonText:
		return c.onButtonText(ctx, adminID, s, in)
	case StateAwaitingButtonURL:
		return c.onButtonURL(ctx, adminID, s, in)
	case StateAwaitingConfirmation:
		return c.onConfirm(ctx, adminID, s, in)
	default:
		return s.State, fmt.Errorf("unknown composer state %q", s.State)
	}
}

func (c *Composer) save(ctx context.Context, adminID int64, s Session) (State, error) {
	if err := c.sessions.Put(ctx, adminID, s); err != nil {
		return s.State, fmt.Errorf("save session: %w", err)
	}
	return s.State, nil
}

func (c *Composer) onPayload(ctx context.Context, adminID int64, s Session, in Input) (State, error) {
	kind, ok := in.payloadKind()
	if !ok {
		return s.State, ErrIgnored
	}
	s.Template = Template{Kind: kind, Text: in.Text, FileID: in.FileID}
	if kind == KindVideoNote {
		s.Template.Text = ""
	}
	if kind.SupportsButton() {
		if err := c.presenter.PromptButtonChoice(ctx, adminID); err != nil {
			return s.State, err
		}
		s.State = StateAwaitingButtonChoice
		return c.save(ctx, adminID, s)
	}
	return c.toConfirmation(ctx, adminID, s)
}

func (c *Composer) onButtonChoice(ctx context.Context, adminID int64, s Session, in Input) (State, error) {
	if in.Kind != InputChoice {
		return s.State, ErrIgnored
	}
	if !in.Yes {
		return c.toConfirmation(ctx, adminID, s)
	}
	if err := c.presenter.PromptButtonText(ctx, adminID); err != nil {
		return s.State, err
	}
	s.State = StateAwaitingButtonText
	return c.save(ctx, adminID, s)
}

func (c *Composer) onButtonText(ctx context.Context, adminID int64, s Session, in Input) (State, error) {
	label := strings.TrimSpace(in.Text)
	if in.Kind != InputText || label == "" {
		return s.State, ErrIgnored
	}
	if err := c.presenter.PromptButtonURL(ctx, adminID); err != nil {
		return s.State, err
	}
	s.ButtonLabel = label
	s.State = StateAwaitingButtonURL
	return c.save(ctx, adminID, s)
}

// onButtonURL is the only self-loop: a URL that fails local validation or
// cannot be rendered in the preview re-prompts and leaves the draft as is.
func (c *Composer) onButtonURL(ctx context.Context, adminID int64, s Session, in Input) (State, error) {
	if in.Kind != InputText {
		return s.State, ErrIgnored
	}
	link := strings.TrimSpace(in.Text)
	candidate := s.Template.WithButton(Button{Label: s.ButtonLabel, URL: link})

	err := ValidateButtonURL(link)
	if err == nil {
		err = c.presenter.Preview(ctx, adminID, candidate)
	}
	if err != nil {
		c.log.Warn("button url rejected", logx.Int64("admin_id", adminID), logx.String("url", link), logx.Err(err))
		if perr := c.presenter.InvalidURL(ctx, adminID); perr != nil {
			return s.State, perr
		}
		return s.State, nil
	}

	if err := c.presenter.PromptConfirm(ctx, adminID); err != nil {
		return s.State, err
	}
	s.Template = candidate
	s.ButtonLabel = ""
	s.State = StateAwaitingConfirmation
	return c.save(ctx, adminID, s)
}

func (c *Composer) toConfirmation(ctx context.Context, adminID int64, s Session) (State, error) {
	if err := c.presenter.Preview(ctx, adminID, s.Template); err != nil {
		return s.State, fmt.Errorf("preview: %w", err)
	}
	if err := c.presenter.PromptConfirm(ctx, adminID); err != nil {
		return s.State, err
	}
	s.State = StateAwaitingConfirmation
	return c.save(ctx, adminID, s)
}

func (c *Composer) onConfirm(ctx context.Context, adminID int64, s Session, in Input) (State, error) {
	if in.Kind != InputChoice {
		return s.State, ErrIgnored
	}
	// The draft is gone before anything is sent: a second "yes" cannot
	// start a second run.
	if err := c.sessions.Delete(ctx, adminID); err != nil {
		return s.State, fmt.Errorf("clear session: %w", err)
	}
	if !in.Yes {
		return StateCancelled, c.presenter.Cancelled(ctx, adminID)
	}

	tpl := s.Template
	run := func(ctx context.Context) {
		rep, err := c.engine.Run(ctx, tpl, adminID)
		if err != nil {
			c.log.Error("broadcast failed", logx.Int64("admin_id", adminID), logx.Err(err))
			if perr := c.presenter.Failed(context.WithoutCancel(ctx), adminID, err); perr != nil {
				c.log.Warn("broadcast failure notice not sent", logx.Err(perr))
			}
			return
		}
		if perr := c.presenter.Sent(context.WithoutCancel(ctx), adminID, rep); perr != nil {
			c.log.Warn("broadcast report not sent", logx.Int64("admin_id", adminID), logx.Err(perr))
		}
	}
	if c.dispatch == nil {
		run(ctx)
	} else {
		c.dispatch("broadcast.run", run)
	}
	return StateSent, nil
}
