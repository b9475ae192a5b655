package gate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"joingate/internal/config"
	"joingate/internal/eventbus"
	"joingate/internal/plugin"
	"joingate/internal/storage"
	"joingate/internal/task/scheduler"
	kit "joingate/internal/transport"
	"joingate/internal/transport/telegram/router"
	"joingate/internal/transport/transporttest"
	logx "joingate/pkg/logx"
)

const (
	admin int64 = 100
	user  int64 = 7
)

type harness struct {
	p      *Plugin
	a      *transporttest.Adapter
	store  storage.Store
	router *router.Router
	events <-chan eventbus.Event
}

func newHarness(t *testing.T, delay string) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	a := transporttest.New()
	st := storage.NewMemory(storage.Config{})
	cm := config.NewConfigManager("")
	cm.Commit(&config.Config{Gate: config.GateConfig{FollowupDelay: delay}})
	sch := scheduler.New(scheduler.Config{}, logx.Nop())
	sch.Start(ctx)
	bus := eventbus.New()
	events, unsubscribe := bus.Subscribe(16)

	r := router.New(logx.Nop(), a, []int64{admin})
	pm := plugin.NewManager(logx.Nop(), plugin.Deps{
		Adapter:   a,
		Config:    cm,
		Store:     st,
		Bus:       bus,
		Scheduler: sch,
		Admins:    r.Admins,
	}, r)
	p := New()
	if err := pm.Register(p); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := pm.StartAll(ctx); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	t.Cleanup(func() {
		_ = pm.StopAll(context.Background())
		sch.Stop(context.Background())
		unsubscribe()
		cancel()
	})
	return &harness{p: p, a: a, store: st, router: r, events: events}
}

func (h *harness) route(up kit.Update) { h.router.Route(context.Background(), up) }

// nextEvent returns the next domain event, skipping plugin lifecycle ones.
func (h *harness) nextEvent(t *testing.T) eventbus.Event {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-h.events:
			if strings.HasPrefix(ev.Type, "plugin.") {
				continue
			}
			return ev
		case <-timeout:
			t.Fatal("no event published")
			return eventbus.Event{}
		}
	}
}

func joinUpdate(uid int64) kit.Update {
	return kit.Update{Kind: kit.UpdateJoinRequest, JoinRequest: &kit.JoinRequest{
		ChatID: -1001, ChatTitle: "News", UserID: uid, Username: "neo", FirstName: "Thomas", LastName: "Anderson",
		At: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}}
}

func humanUpdate(uid int64) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: uid, FromID: uid, Text: HumanButton, IsPrivate: true}}
}

func statusUpdate(chat, uid int64, status string) kit.Update {
	return kit.Update{Kind: kit.UpdateMemberStatus, MemberStatus: &kit.MemberStatus{ChatID: chat, UserID: uid, NewStatus: status}}
}

func countText(sent []transporttest.Sent, text string) int {
	n := 0
	for _, s := range sent {
		if s.Text == text {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestJoinRequestRecordsAndGreets(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "1h")
	h.route(joinUpdate(user))

	rows, err := h.store.ExportAll(context.Background())
	if err != nil {
		t.Fatalf("ExportAll() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	r := rows[0]
	if r.UserID != user || r.Username != "neo" || r.ChannelID != -1001 || r.ChannelName != "News" || r.Blocked {
		t.Fatalf("row = %+v", r)
	}

	sent := h.a.SentTo(user)
	if len(sent) != 1 || sent[0].Text != greetingText {
		t.Fatalf("sent = %+v, want greeting", sent)
	}
	if kb := sent[0].Options.ReplyKeyboard; len(kb) != 1 || kb[0][0] != HumanButton {
		t.Fatalf("reply keyboard = %v, want [[%s]]", kb, HumanButton)
	}
	if ev := h.nextEvent(t); ev.Type != eventbus.JoinRecorded {
		t.Fatalf("event = %q, want %q", ev.Type, eventbus.JoinRecorded)
	}
}

func TestJoinRequestRecordedEvenIfGreetingFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "1h")
	h.a.Fail(user, errors.New("Forbidden: bot can't initiate conversation with a user"))
	h.route(joinUpdate(user))

	ids, err := h.store.ListNonBlocked(context.Background())
	if err != nil || !slices.Equal(ids, []int64{user}) {
		t.Fatalf("ListNonBlocked() = %v, %v, want [7]", ids, err)
	}
}

func TestHumanButtonSendsLinkAndThanks(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "20ms")
	h.route(humanUpdate(user))

	sent := h.a.SentTo(user)
	if len(sent) == 0 || sent[0].Text != subscribeText {
		t.Fatalf("first message = %+v, want subscribe prompt", sent)
	}
	btn := sent[0].Options.Keyboard[0][0]
	if btn.Text != subscribeButton || btn.URL != storage.DefaultLink {
		t.Fatalf("button = %+v, want %q -> %q", btn, subscribeButton, storage.DefaultLink)
	}
	waitFor(t, func() bool { return countText(h.a.SentTo(user), thanksText) == 1 })
}

func TestHumanButtonUsesStoredLink(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "1h")
	if err := h.store.SetLink(context.Background(), "https://t.me/joinchat/abc"); err != nil {
		t.Fatalf("SetLink() error = %v", err)
	}
	h.route(humanUpdate(user))
	if got := h.a.SentTo(user)[0].Options.Keyboard[0][0].URL; got != "https://t.me/joinchat/abc" {
		t.Fatalf("button url = %q", got)
	}
}

func TestRepeatedPressSchedulesOneThanks(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "200ms")
	h.route(humanUpdate(user))
	h.route(humanUpdate(user))

	waitFor(t, func() bool { return countText(h.a.SentTo(user), thanksText) >= 1 })
	time.Sleep(300 * time.Millisecond)
	if n := countText(h.a.SentTo(user), thanksText); n != 1 {
		t.Fatalf("thank-you messages = %d, want 1", n)
	}
	if n := countText(h.a.SentTo(user), subscribeText); n != 2 {
		t.Fatalf("subscribe prompts = %d, want 2", n)
	}
}

func TestHumanButtonFailureNotifiesAdmins(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "1h")
	sendErr := errors.New("Bad Request: wrong HTTP URL")
	h.a.Fail(user, sendErr)
	h.route(humanUpdate(user))

	got := h.a.SentTo(admin)
	want := fmt.Sprintf(failureText, sendErr)
	if len(got) != 1 || got[0].Text != want {
		t.Fatalf("admin notices = %+v, want %q", got, want)
	}
}

func TestMemberStatusTogglesBlock(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "1h")
	ctx := context.Background()
	h.route(joinUpdate(user))
	h.nextEvent(t)

	h.route(statusUpdate(user, user, kit.MemberKicked))
	if ids, _ := h.store.ListNonBlocked(ctx); len(ids) != 0 {
		t.Fatalf("after kick ListNonBlocked() = %v, want empty", ids)
	}
	ev := h.nextEvent(t)
	if ev.Type != eventbus.RecipientBlocked || ev.Data.(BlockChange) != (BlockChange{UserID: user, Rows: 1}) {
		t.Fatalf("event = %+v", ev)
	}

	// Group membership changes are not about blocking.
	h.route(statusUpdate(-500, user, kit.MemberJoined))
	if ids, _ := h.store.ListNonBlocked(ctx); len(ids) != 0 {
		t.Fatalf("group status changed block flag: %v", ids)
	}

	h.route(statusUpdate(user, user, kit.MemberJoined))
	if ids, _ := h.store.ListNonBlocked(ctx); !slices.Equal(ids, []int64{user}) {
		t.Fatalf("after unblock ListNonBlocked() = %v, want [7]", ids)
	}
	if ev := h.nextEvent(t); ev.Type != eventbus.RecipientUnblocked {
		t.Fatalf("event = %q, want %q", ev.Type, eventbus.RecipientUnblocked)
	}
}

func TestOnConfigChange(t *testing.T) {
	t.Parallel()
	p := New()
	if err := p.OnConfigChange(context.Background(), &config.Config{Gate: config.GateConfig{FollowupDelay: "5s"}}); err != nil {
		t.Fatalf("OnConfigChange() error = %v", err)
	}
	if d := p.followupDelay(); d != 5*time.Second {
		t.Fatalf("delay = %v, want 5s", d)
	}
	if err := p.OnConfigChange(context.Background(), &config.Config{Gate: config.GateConfig{FollowupDelay: "soon"}}); err == nil {
		t.Fatal("OnConfigChange(soon) error = nil")
	}
	if err := p.OnConfigChange(context.Background(), &config.Config{}); err != nil || p.followupDelay() != DefaultFollowupDelay {
		t.Fatalf("empty delay = %v, %v, want default", p.followupDelay(), err)
	}
}
