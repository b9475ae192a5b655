package broadcast

import (
	"context"
	"errors"
	"testing"

	kit "joingate/internal/transport"
	"joingate/internal/transport/transporttest"
	logx "joingate/pkg/logx"
)

func TestValidateButtonURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in string
		ok bool
	}{
		{"https://example.com", true},
		{"http://example.com/path?q=1", true},
		{"  https://t.me/channel  ", true},
		{"http://localhost:8080", true},
		{"tg://resolve?domain=telegram", true},
		{"HTTPS://EXAMPLE.COM", true},
		{"", false},
		{"not a url", false},
		{"example.com", false},
		{"t.me/channel", false},
		{"ftp://example.com", false},
		{"https://", false},
		{"https://intranet", false},
		{"javascript:alert(1)", false},
		{"https://exa mple.com", false},
	}
	for _, tt := range tests {
		err := ValidateButtonURL(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("ValidateButtonURL(%q) = %v, want ok=%v", tt.in, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrInvalidURL) {
			t.Fatalf("ValidateButtonURL(%q) error = %v, want ErrInvalidURL", tt.in, err)
		}
	}
}

func TestInputFromMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		msg  *kit.Message
		want Input
		ok   bool
	}{
		{name: "nil", msg: nil},
		{name: "text", msg: &kit.Message{Text: "hi"}, want: Input{Kind: InputText, Text: "hi"}, ok: true},
		{name: "blank", msg: &kit.Message{Text: "   "}},
		{name: "photo with caption",
			msg:  &kit.Message{Caption: "c", Media: &kit.Media{Kind: kit.MediaPhoto, FileID: "p"}},
			want: Input{Kind: InputPhoto, Text: "c", FileID: "p"}, ok: true},
		{name: "video",
			msg:  &kit.Message{Media: &kit.Media{Kind: kit.MediaVideo, FileID: "v"}},
			want: Input{Kind: InputVideo, FileID: "v"}, ok: true},
		{name: "video note drops caption",
			msg:  &kit.Message{Caption: "x", Media: &kit.Media{Kind: kit.MediaVideoNote, FileID: "n"}},
			want: Input{Kind: InputVideoNote, FileID: "n"}, ok: true},
		{name: "unknown media", msg: &kit.Message{Media: &kit.Media{Kind: "sticker", FileID: "s"}}},
	}
	for _, tt := range tests {
		got, ok := InputFromMessage(tt.msg)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("%s: InputFromMessage() = %+v, %v, want %+v, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestAdapterGatewayDelivers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := transporttest.New()
	gw := NewAdapterGateway(a)
	btn := Button{Label: "Open", URL: "https://example.com"}

	if err := gw.Deliver(ctx, 1, Template{Kind: KindText, Text: "hello"}.WithButton(btn)); err != nil {
		t.Fatalf("Deliver(text) error = %v", err)
	}
	if err := gw.Deliver(ctx, 2, Template{Kind: KindVideo, FileID: "v", Text: "cap"}); err != nil {
		t.Fatalf("Deliver(video) error = %v", err)
	}
	if err := gw.Deliver(ctx, 3, Template{Kind: KindVideoNote, FileID: "n"}.WithButton(btn)); err != nil {
		t.Fatalf("Deliver(video note) error = %v", err)
	}

	sent := a.Sent()
	if len(sent) != 3 {
		t.Fatalf("sent = %d calls, want 3", len(sent))
	}
	text := sent[0]
	if text.Op != "text" || text.Text != "hello" || text.Options == nil ||
		text.Options.Keyboard[0][0] != (kit.Button{Text: "Open", URL: "https://example.com"}) {
		t.Fatalf("text delivery = %+v, want hello with url button", text)
	}
	video := sent[1]
	if video.Op != "media" || video.Media.Kind != kit.MediaVideo || video.Text != "cap" || video.Options != nil {
		t.Fatalf("video delivery = %+v, want captioned video without keyboard", video)
	}
	note := sent[2]
	if note.Op != "media" || note.Media.Kind != kit.MediaVideoNote || note.Text != "" || note.Options != nil {
		t.Fatalf("video note delivery = %+v, want bare note", note)
	}
}

func TestAdapterGatewayPassesErrors(t *testing.T) {
	t.Parallel()
	a := transporttest.New()
	a.Fail(9, errBlocked)
	err := NewAdapterGateway(a).Deliver(context.Background(), 9, Template{Kind: KindText, Text: "x"})
	if !errors.Is(err, errBlocked) {
		t.Fatalf("Deliver() error = %v, want %v", err, errBlocked)
	}
	if err := NewAdapterGateway(a).Deliver(context.Background(), 1, Template{Kind: "audio"}); err == nil {
		t.Fatal("Deliver(audio) error = nil, want unsupported kind")
	}
}

func TestOperatorSinkMessage(t *testing.T) {
	t.Parallel()
	a := transporttest.New()
	a.Fail(-200, errors.New("chat not found"))
	sink := NewOperatorSink(a, func() []int64 { return []int64{-100, -200} })

	err := sink.DeliveryFailed(context.Background(), 42, errBlocked)
	if err == nil {
		t.Fatal("DeliveryFailed() error = nil, want error for unreachable chat")
	}
	got := a.SentTo(-100)
	if len(got) != 1 || got[0].Text != errBlocked.Error()+"\n42" {
		t.Fatalf("operator message = %+v, want %q", got, errBlocked.Error()+"\n42")
	}
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	t.Parallel()
	first := &fakeSink{err: errors.New("first")}
	second := &fakeSink{}
	m := MultiSink{first, nil, NewLogSink(logx.Nop()), second}
	if err := m.DeliveryFailed(context.Background(), 1, errBlocked); err == nil || err.Error() != "first" {
		t.Fatalf("DeliveryFailed() = %v, want first", err)
	}
	if len(second.calls) != 1 {
		t.Fatal("later sink skipped after an earlier failure")
	}
}
