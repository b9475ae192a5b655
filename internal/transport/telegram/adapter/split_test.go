package adapter

import (
	"strings"
	"testing"
)

func TestSplitTelegramTextShort(t *testing.T) {
	t.Parallel()
	got := splitTelegramText("hello", 10, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("split = %q, want [hello]", got)
	}
	if got := splitTelegramText("", 10, ""); len(got) != 1 {
		t.Fatalf("split(empty) len = %d, want 1", len(got))
	}
}

func TestSplitTelegramTextPrefersNewline(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitTelegramText(s, 12, "")
	if len(got) != 2 {
		t.Fatalf("chunks = %d, want 2 (%q)", len(got), got)
	}
	if got[0] != strings.Repeat("a", 8) || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("split = %q", got)
	}
}

func TestSplitTelegramTextAvoidsOpenTag(t *testing.T) {
	t.Parallel()
	s := "abcdefgh<b>bold</b>"
	got := splitTelegramText(s, 10, "HTML")
	if got[0] != "abcdefgh" {
		t.Fatalf("first chunk = %q, want %q", got[0], "abcdefgh")
	}
	if strings.Join(got, "") != s {
		t.Fatalf("joined = %q, want %q", strings.Join(got, ""), s)
	}
}

func TestSplitTelegramTextRuneSafe(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("ж", 25)
	got := splitTelegramText(s, 10, "")
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	for _, c := range got {
		if n := len([]rune(c)); n > 10 {
			t.Fatalf("chunk has %d runes, want <= 10", n)
		}
	}
}
