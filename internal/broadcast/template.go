// Package broadcast composes administrator broadcasts and fans them out to
// every non-blocked subscriber.
package broadcast

import (
	"errors"
	"net/url"
	"strings"

	kit "joingate/internal/transport"
)

// Kind is the payload type of a broadcast.
type Kind string

const (
	KindText      Kind = "text"
	KindPhoto     Kind = "photo"
	KindVideo     Kind = "video"
	KindVideoNote Kind = "video_note"
)

func (k Kind) Valid() bool {
	switch k {
	case KindText, KindPhoto, KindVideo, KindVideoNote:
		return true
	}
	return false
}

// SupportsButton reports whether messages of this kind can carry an inline
// link button. Telegram video notes cannot.
func (k Kind) SupportsButton() bool { return k.Valid() && k != KindVideoNote }

// HasMedia reports whether the kind references an uploaded file.
func (k Kind) HasMedia() bool { return k.Valid() && k != KindText }

// Button is an inline link button attached to a broadcast.
type Button struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Template is the message being composed. Text is the body for text
// broadcasts and the optional caption for photos and videos.
type Template struct {
	Kind   Kind    `json:"kind"`
	Text   string  `json:"text,omitempty"`
	FileID string  `json:"file_id,omitempty"`
	Button *Button `json:"button,omitempty"`
}

// WithButton returns a copy of t carrying b.
func (t Template) WithButton(b Button) Template {
	t.Button = &b
	return t
}

func (t Template) media() kit.Media {
	switch t.Kind {
	case KindPhoto:
		return kit.Media{Kind: kit.MediaPhoto, FileID: t.FileID}
	case KindVideo:
		return kit.Media{Kind: kit.MediaVideo, FileID: t.FileID}
	case KindVideoNote:
		return kit.Media{Kind: kit.MediaVideoNote, FileID: t.FileID}
	}
	return kit.Media{}
}

var ErrInvalidURL = errors.New("invalid button url")

// ValidateButtonURL rejects values Telegram would refuse for a URL button:
// it needs an absolute http, https or tg URL.
func ValidateButtonURL(raw string) error {
	s := strings.TrimSpace(raw)
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return ErrInvalidURL
	}
	u, err := url.Parse(s)
	if err != nil {
		return ErrInvalidURL
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" || (!strings.Contains(u.Host, ".") && u.Hostname() != "localhost") {
			return ErrInvalidURL
		}
	case "tg":
		if u.Host == "" && u.Opaque == "" {
			return ErrInvalidURL
		}
	default:
		return ErrInvalidURL
	}
	return nil
}
