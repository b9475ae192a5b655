package tgui

import (
	"strings"
	"testing"

	kit "joingate/internal/transport"
)

func TestDataRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		plugin, action, payload string
		want                    string
	}{
		{"admin", "menu", "", "admin:menu"},
		{"admin", "confirm", "yes", "admin:confirm:yes"},
		{" gate ", " ok ", "a:b", "gate:ok:a:b"},
	}
	for _, tt := range tests {
		got := Data(tt.plugin, tt.action, tt.payload)
		if got != tt.want {
			t.Fatalf("Data() = %q, want %q", got, tt.want)
		}
		p, a, pl, ok := ParseData(got)
		if !ok || p != strings.TrimSpace(tt.plugin) || a != strings.TrimSpace(tt.action) || pl != tt.payload {
			t.Fatalf("ParseData(%q) = %q %q %q %v", got, p, a, pl, ok)
		}
	}
}

func TestParseDataRejectsMalformed(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "admin", ":menu", "admin:", "yes"} {
		if _, _, _, ok := ParseData(in); ok {
			t.Fatalf("ParseData(%q) ok = true, want false", in)
		}
	}
}

func TestCheckData(t *testing.T) {
	t.Parallel()
	long := make([]byte, MaxCallbackDataLen+1)
	for i := range long {
		long[i] = 'x'
	}
	if err := CheckData(string(long)); err != ErrCallbackDataTooLong {
		t.Fatalf("CheckData(long) = %v, want ErrCallbackDataTooLong", err)
	}
	if err := CheckData(string(long[:MaxCallbackDataLen])); err != nil {
		t.Fatalf("CheckData(max) = %v, want nil", err)
	}
}

func TestGrid(t *testing.T) {
	t.Parallel()
	btns := []kit.Button{Btn("a", "p:a"), Btn("b", "p:b"), Btn("c", "p:c")}
	rows := Grid(2, btns)
	if len(rows) != 2 || len(rows[0]) != 2 || len(rows[1]) != 1 || rows[1][0].Text != "c" {
		t.Fatalf("Grid(2) = %+v, want [[a b] [c]]", rows)
	}
	if got := NewInline().Row().Row(URLBtn("x", "https://example.com")).Rows(); len(got) != 1 {
		t.Fatalf("Inline rows = %d, want 1", len(got))
	}
}

func TestHTML(t *testing.T) {
	t.Parallel()
	if got := B("<x>"); got != "<b>&lt;x&gt;</b>" {
		t.Fatalf("B() = %q", got)
	}
	if got := Link("a&b", `https://e.com/?q="1"`); got != `<a href="https://e.com/?q=&#34;1&#34;">a&amp;b</a>` {
		t.Fatalf("Link() = %q", got)
	}
	if got := JoinH("\n", B("a"), "", Code("b")); got != "<b>a</b>\n<code>b</code>" {
		t.Fatalf("JoinH() = %q", got)
	}
}
