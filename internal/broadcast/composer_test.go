package broadcast

import (
	"context"
	"errors"
	"slices"
	"testing"

	"joingate/internal/session"
)

const admin int64 = 100

type harness struct {
	composer   *Composer
	presenter  *fakePresenter
	gateway    *fakeGateway
	sink       *fakeSink
	recipients *staticRecipients
	sessions   *session.Memory
}

func newHarness(t *testing.T, opts ...ComposerOption) *harness {
	t.Helper()
	h := &harness{
		presenter:  newFakePresenter(),
		gateway:    newFakeGateway(),
		sink:       &fakeSink{},
		recipients: &staticRecipients{},
		sessions:   session.NewMemory(),
	}
	engine := NewEngine(h.recipients, h.gateway, h.sink)
	h.composer = NewComposer(h.sessions, h.presenter, engine, opts...)
	return h
}

func (h *harness) step(t *testing.T, in Input, want State) {
	t.Helper()
	got, err := h.composer.Handle(context.Background(), admin, in)
	if err != nil {
		t.Fatalf("Handle(%+v) error = %v", in, err)
	}
	if got != want {
		t.Fatalf("Handle(%+v) state = %q, want %q", in, got, want)
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.composer.Start(context.Background(), admin); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

func (h *harness) session(t *testing.T) (Session, bool) {
	t.Helper()
	s, ok, err := h.composer.Current(context.Background(), admin)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	return s, ok
}

func text(s string) Input { return Input{Kind: InputText, Text: s} }

func TestTextBroadcastWithoutButton(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.recipients.set(1, 2, 3)
	h.gateway.fail[2] = errBlocked

	h.start(t)
	h.step(t, text("Hello"), StateAwaitingButtonChoice)
	h.step(t, Choice(false), StateAwaitingConfirmation)
	h.step(t, Choice(true), StateSent)

	calls := h.gateway.Calls()
	var ids []int64
	for _, c := range calls {
		ids = append(ids, c.To)
		if c.Tpl != (Template{Kind: KindText, Text: "Hello"}) {
			t.Fatalf("delivered template = %+v, want plain text Hello", c.Tpl)
		}
	}
	if !slices.Equal(ids, []int64{1, 2, 3}) {
		t.Fatalf("delivered to %v, want [1 2 3]", ids)
	}

	reports := h.presenter.Reports()
	if len(reports) != 1 || reports[0].Delivered != 2 || reports[0].Failed != 1 {
		t.Fatalf("reports = %+v, want one report with 2 delivered, 1 failed", reports)
	}
	if len(h.sink.calls) != 1 || h.sink.calls[0].ID != 2 || h.sink.calls[0].Err != errBlocked.Error() {
		t.Fatalf("sink calls = %+v, want recipient 2 with the delivery error", h.sink.calls)
	}
	if _, ok := h.session(t); ok {
		t.Fatal("session still stored after sending")
	}
}

func TestPhotoBroadcastWithButton(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.recipients.set(10, 20)

	h.start(t)
	h.step(t, Input{Kind: InputPhoto, FileID: "photo-1", Text: "Sale!"}, StateAwaitingButtonChoice)
	h.step(t, Choice(true), StateAwaitingButtonText)
	h.step(t, text("Shop now"), StateAwaitingButtonURL)
	h.step(t, text("https://example.com"), StateAwaitingConfirmation)
	h.step(t, Choice(true), StateSent)

	want := Template{Kind: KindPhoto, FileID: "photo-1", Text: "Sale!", Button: &Button{Label: "Shop now", URL: "https://example.com"}}
	calls := h.gateway.Calls()
	if len(calls) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(calls))
	}
	for _, c := range calls {
		if c.Tpl.Kind != want.Kind || c.Tpl.FileID != want.FileID || c.Tpl.Text != want.Text ||
			c.Tpl.Button == nil || *c.Tpl.Button != *want.Button {
			t.Fatalf("delivered template = %+v, want %+v", c.Tpl, want)
		}
	}
	if got := h.presenter.Reports()[0].Delivered; got != 2 {
		t.Fatalf("Delivered = %d, want 2", got)
	}
}

func TestInvalidURLStaysAndKeepsDraft(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.start(t)
	h.step(t, text("Body"), StateAwaitingButtonChoice)
	h.step(t, Choice(true), StateAwaitingButtonText)
	h.step(t, text("Go"), StateAwaitingButtonURL)
	before, _ := h.session(t)

	// Fails local validation.
	h.step(t, text("not a url"), StateAwaitingButtonURL)
	// Passes local validation but the platform refuses to render it.
	h.presenter.previewFn = func(tpl Template) error {
		if tpl.Button != nil && tpl.Button.URL == "https://bad.example" {
			return errors.New("Bad Request: BUTTON_URL_INVALID")
		}
		return nil
	}
	h.step(t, text("https://bad.example"), StateAwaitingButtonURL)

	after, ok := h.session(t)
	if !ok {
		t.Fatal("session lost after invalid url")
	}
	if after.State != before.State || after.Template != before.Template || after.ButtonLabel != "Go" {
		t.Fatalf("session changed: before %+v, after %+v", before, after)
	}
	if got := h.presenter.count("invalid_url"); got != 2 {
		t.Fatalf("invalid_url prompts = %d, want 2", got)
	}

	h.step(t, text("https://example.com/ok"), StateAwaitingConfirmation)
	s, _ := h.session(t)
	if s.Template.Button == nil || s.Template.Button.URL != "https://example.com/ok" || s.Template.Text != "Body" {
		t.Fatalf("template = %+v, want Body with button", s.Template)
	}
}

func TestZeroRecipients(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.start(t)
	h.step(t, text("Hi"), StateAwaitingButtonChoice)
	h.step(t, Choice(false), StateAwaitingConfirmation)
	h.step(t, Choice(true), StateSent)

	if n := len(h.gateway.Calls()); n != 0 {
		t.Fatalf("deliveries = %d, want 0", n)
	}
	reports := h.presenter.Reports()
	if len(reports) != 1 || reports[0].Delivered != 0 || reports[0].Attempted != 0 {
		t.Fatalf("reports = %+v, want one empty report", reports)
	}
}

func TestVideoNoteSkipsButtonStates(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.recipients.set(5)
	h.start(t)
	h.step(t, Input{Kind: InputVideoNote, FileID: "note-1", Text: "ignored"}, StateAwaitingConfirmation)

	if h.presenter.count("button_choice") != 0 {
		t.Fatal("video note reached the button choice prompt")
	}
	// Choice at confirmation is the only accepted input; it sends.
	h.step(t, Choice(true), StateSent)
	calls := h.gateway.Calls()
	if len(calls) != 1 || calls[0].Tpl != (Template{Kind: KindVideoNote, FileID: "note-1"}) {
		t.Fatalf("deliveries = %+v, want one bare video note", calls)
	}
}

func TestVideoWithoutCaption(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.recipients.set(5)
	h.start(t)
	h.step(t, Input{Kind: InputVideo, FileID: "vid"}, StateAwaitingButtonChoice)
	h.step(t, Choice(false), StateAwaitingConfirmation)
	if p := h.presenter.previews; len(p) != 1 || p[0] != (Template{Kind: KindVideo, FileID: "vid"}) {
		t.Fatalf("previews = %+v, want the bare video", p)
	}
}

func TestDecliningConfirmationCancels(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.recipients.set(1)
	h.start(t)
	h.step(t, text("x"), StateAwaitingButtonChoice)
	h.step(t, Choice(false), StateAwaitingConfirmation)
	h.step(t, Choice(false), StateCancelled)

	if n := len(h.gateway.Calls()); n != 0 {
		t.Fatalf("deliveries = %d, want 0", n)
	}
	if h.presenter.count("cancelled") != 1 {
		t.Fatal("cancel notice not shown")
	}
	if _, ok := h.session(t); ok {
		t.Fatal("session still stored after cancel")
	}
}

func TestUnexpectedInputsAreIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.composer.Handle(ctx, admin, text("hi")); !errors.Is(err, ErrIgnored) {
		t.Fatalf("Handle without session = %v, want ErrIgnored", err)
	}

	h.start(t)
	tests := []struct {
		name  string
		setup []Input
		in    Input
	}{
		{name: "choice at payload", in: Choice(true)},
		{name: "empty text at payload", in: text("  ")},
		{name: "text at button choice", setup: []Input{text("a")}, in: text("yes")},
		{name: "photo at button text", setup: []Input{Choice(true)}, in: Input{Kind: InputPhoto, FileID: "p"}},
		{name: "empty label", in: text("")},
		{name: "choice at button url", setup: []Input{text("label")}, in: Choice(true)},
		{name: "text at confirmation", setup: []Input{text("https://example.com")}, in: text("yes")},
	}
	for _, tt := range tests {
		for _, in := range tt.setup {
			if _, err := h.composer.Handle(ctx, admin, in); err != nil {
				t.Fatalf("%s: setup Handle(%+v) error = %v", tt.name, in, err)
			}
		}
		before, _ := h.session(t)
		events := len(h.presenter.Events())
		state, err := h.composer.Handle(ctx, admin, tt.in)
		if !errors.Is(err, ErrIgnored) {
			t.Fatalf("%s: Handle error = %v, want ErrIgnored", tt.name, err)
		}
		after, _ := h.session(t)
		if state != before.State || after.State != before.State {
			t.Fatalf("%s: state moved from %q to %q", tt.name, before.State, after.State)
		}
		if len(h.presenter.Events()) != events {
			t.Fatalf("%s: ignored input produced output", tt.name)
		}
	}
}

func TestFailedPromptDoesNotAdvance(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.start(t)
	h.presenter.failOn["button_choice"] = errors.New("network down")

	if _, err := h.composer.Handle(context.Background(), admin, text("Hello")); err == nil {
		t.Fatal("Handle error = nil, want prompt error")
	}
	s, _ := h.session(t)
	if s.State != StateAwaitingPayload {
		t.Fatalf("state = %q, want %q", s.State, StateAwaitingPayload)
	}

	delete(h.presenter.failOn, "button_choice")
	h.step(t, text("Hello"), StateAwaitingButtonChoice)
}

func TestStartResetsDraft(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.start(t)
	h.step(t, text("old"), StateAwaitingButtonChoice)
	h.start(t)

	s, ok := h.session(t)
	if !ok || s.State != StateAwaitingPayload || s.Template != (Template{}) {
		t.Fatalf("session after restart = %+v, want empty payload state", s)
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	if had, err := h.composer.Cancel(ctx, admin); err != nil || had {
		t.Fatalf("Cancel() without session = %v, %v, want false, nil", had, err)
	}
	h.start(t)
	if had, err := h.composer.Cancel(ctx, admin); err != nil || !had {
		t.Fatalf("Cancel() = %v, %v, want true, nil", had, err)
	}
	if _, err := h.composer.Handle(ctx, admin, text("x")); !errors.Is(err, ErrIgnored) {
		t.Fatalf("Handle after Cancel = %v, want ErrIgnored", err)
	}
}

func TestDispatcherRunsAfterSessionCleared(t *testing.T) {
	t.Parallel()
	var pending []func(ctx context.Context)
	h := newHarness(t, WithDispatcher(func(name string, run func(ctx context.Context)) {
		pending = append(pending, run)
	}))
	h.recipients.set(1, 2)
	h.start(t)
	h.step(t, text("x"), StateAwaitingButtonChoice)
	h.step(t, Choice(false), StateAwaitingConfirmation)
	h.step(t, Choice(true), StateSent)

	if len(pending) != 1 {
		t.Fatalf("dispatched runs = %d, want 1", len(pending))
	}
	if n := len(h.gateway.Calls()); n != 0 {
		t.Fatalf("deliveries before run = %d, want 0", n)
	}
	// A repeated "yes" has no session to act on.
	if _, err := h.composer.Handle(context.Background(), admin, Choice(true)); !errors.Is(err, ErrIgnored) {
		t.Fatalf("second confirm = %v, want ErrIgnored", err)
	}

	pending[0](context.Background())
	if n := len(h.gateway.Calls()); n != 2 {
		t.Fatalf("deliveries = %d, want 2", n)
	}
}

func TestListFailureIsReported(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.recipients.err = errors.New("db down")
	h.start(t)
	h.step(t, text("x"), StateAwaitingButtonChoice)
	h.step(t, Choice(false), StateAwaitingConfirmation)
	h.step(t, Choice(true), StateSent)

	if h.presenter.count("failed") != 1 || h.presenter.count("sent") != 0 {
		t.Fatalf("events = %v, want one failure notice", h.presenter.Events())
	}
}

func TestAdminsHaveSeparateDrafts(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	const other int64 = 200
	h.start(t)
	if err := h.composer.Start(ctx, other); err != nil {
		t.Fatalf("Start(other) error = %v", err)
	}
	h.step(t, text("mine"), StateAwaitingButtonChoice)

	s, _, _ := h.composer.Current(ctx, other)
	if s.State != StateAwaitingPayload {
		t.Fatalf("other admin state = %q, want %q", s.State, StateAwaitingPayload)
	}
}
